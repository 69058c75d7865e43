package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Aman-CERP/kbfusion/internal/fusion"
)

// DefaultCeiling is used when no positive ceiling is configured.
const DefaultCeiling = 30

// Reasons reported when reranking was requested but not applied.
const (
	ReasonNotRequested   = "not_requested"
	ReasonNoReranker     = "no_reranker"
	ReasonUnavailable    = "unavailable"
	ReasonNoCandidates   = "no_candidates"
	ReasonTimeout        = "timeout"
	ReasonError          = "error"
	ReasonBudgetExceeded = "budget_exceeded"
)

// Outcome describes what the rerank stage did.
type Outcome struct {
	Requested bool   `json:"requested"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
	// Count is the number of candidates rescored.
	Count int `json:"count,omitempty"`
	// Error is the reranker failure behind an error or timeout fallback.
	Error string `json:"error,omitempty"`
}

// Skipped returns the outcome for a stage that did not run.
func Skipped(requested bool, reason string) Outcome {
	if !requested {
		return Outcome{Reason: ReasonNotRequested}
	}
	return Outcome{Requested: true, Reason: reason}
}

// Apply rescores the first ceiling candidates with r. The rescored prefix is
// sorted by new score, ties by fused rank; the rest keeps fused order and
// follows unchanged. Ranks are renumbered. On any failure the input order is
// returned untouched with Applied=false and the failure in the outcome; the
// caller logs it. The input slice is never modified.
func Apply(ctx context.Context, r Reranker, query string, cands []*fusion.Candidate, docs map[string]Document, ceiling int) ([]*fusion.Candidate, Outcome) {
	if r == nil {
		return cands, Skipped(true, ReasonNoReranker)
	}
	if len(cands) == 0 {
		return cands, Skipped(true, ReasonNoCandidates)
	}
	if !r.Available(ctx) {
		return cands, Skipped(true, ReasonUnavailable)
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	n := min(ceiling, len(cands))

	batch := make([]Document, n)
	for i := 0; i < n; i++ {
		id := cands[i].ResourceID
		if d, ok := docs[id]; ok {
			batch[i] = d
		} else {
			batch[i] = Document{ID: id}
		}
	}

	scores, err := r.Rerank(ctx, query, batch)
	if err == nil && len(scores) != n {
		err = fmt.Errorf("reranker returned %d scores for %d documents", len(scores), n)
	}
	if err != nil {
		reason := ReasonError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		outcome := Skipped(true, reason)
		outcome.Error = err.Error()
		return cands, outcome
	}

	out := fusion.Clone(cands)
	head := out[:n]
	for i, c := range head {
		c.Score = scores[i]
		c.Reranked = true
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		return head[i].Rank < head[j].Rank
	})
	fusion.Renumber(out)

	return out, Outcome{Requested: true, Applied: true, Count: n}
}

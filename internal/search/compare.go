package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
)

// Combinations are the multi-method subsets reported by CompareMethods.
var Combinations = [][]fusion.Method{
	{fusion.Lexical, fusion.Dense},
	{fusion.Lexical, fusion.Sparse},
	{fusion.Dense, fusion.Sparse},
	{fusion.Lexical, fusion.Dense, fusion.Sparse},
}

// CombinationName joins method names with "+", e.g. "lexical+dense".
func CombinationName(methods []fusion.Method) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, "+")
}

// CompareMethods runs every method once and reports each alone and every
// combination in Combinations, fused with the default weights restricted to
// the combination. Result sets are truncated to limit.
func (e *Engine) CompareMethods(ctx context.Context, text string, limit int) (*Comparison, error) {
	start := time.Now()
	s := e.current.Load()

	q, err := validateQuery(Query{Text: text, Limit: limit}, s.cfg)
	if err != nil {
		return nil, err
	}

	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestBudget)
	defer cancel()

	outcomes := e.retrieve(budgetCtx, s, q.Text, fusion.AllMethods, s.cfg.RetrievalDepth())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmp := &Comparison{
		RequestID: uuid.NewString(),
		Query:     q.Text,
		Limit:     q.Limit,
		Methods:   make([]MethodSet, 0, len(fusion.AllMethods)),
	}
	for _, m := range fusion.AllMethods {
		o := outcomes[m]
		set := MethodSet{
			Method:     m,
			Status:     o.Status,
			LatencyMS:  ms(o.Latency),
			Candidates: truncate(o.Candidates, q.Limit),
		}
		if o.Err != nil {
			set.Error = o.Err.Error()
		}
		cmp.Methods = append(cmp.Methods, set)
	}

	lists := listsFrom(outcomes)
	weights := s.characterizer.Defaults()
	cmp.Combinations = make([]CombinationSet, len(Combinations))

	var g errgroup.Group
	for i, combo := range Combinations {
		g.Go(func() error {
			var slowest time.Duration
			for _, m := range combo {
				slowest = max(slowest, outcomes[m].Latency)
			}

			fusionStart := time.Now()
			res := s.fuser.Fuse(fusion.Restrict(lists, combo...), weights.Only(combo...))
			fusionTime := time.Since(fusionStart)

			cands := res.Candidates
			if len(cands) > q.Limit {
				cands = cands[:q.Limit]
			}
			cmp.Combinations[i] = CombinationSet{
				Name:            CombinationName(combo),
				Methods:         combo,
				LatencyMS:       ms(slowest + fusionTime),
				FusionLatencyMS: ms(fusionTime),
				WeightsUsed:     res.WeightsUsed,
				Candidates:      cands,
			}
			return nil
		})
	}
	_ = g.Wait()

	cmp.LatencyMS = ms(time.Since(start))
	e.logger.Info("compare_complete",
		slog.String("request_id", cmp.RequestID),
		slog.Int("limit", cmp.Limit),
		slog.Float64("latency_ms", cmp.LatencyMS))
	return cmp, nil
}

func truncate(cands []retrieval.Candidate, limit int) []retrieval.Candidate {
	if len(cands) > limit {
		return cands[:limit]
	}
	return cands
}

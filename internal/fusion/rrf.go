// Package fusion merges per-method rankings into one ranking using weighted
// Reciprocal Rank Fusion.
package fusion

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 makes rank differences among the top results matter more than in the tail.
const DefaultRRFConstant = 60

// Ranked is one entry of a method's best-first list. Its rank is its
// 1-based position in that list.
type Ranked struct {
	ResourceID string
	Score      float64
}

// Contribution records what one method added to a fused candidate.
type Contribution struct {
	Rank     int     `json:"rank"`      // 1-based rank in the method's list
	RawScore float64 `json:"raw_score"` // method-local score, not comparable across methods
	Weight   float64 `json:"weight"`    // weight actually applied (after renormalisation)
	Score    float64 `json:"score"`     // weight / (k + rank)
}

// Candidate is one resource in the fused ranking.
type Candidate struct {
	ResourceID string `json:"resource_id"`

	// Score orders the ranking. It equals FusedScore unless a reranker replaced it.
	Score      float64 `json:"score"`
	FusedScore float64 `json:"fused_score"`
	Rank       int     `json:"rank"`

	Contributions map[Method]Contribution `json:"method_contributions"`
	Reranked      bool                    `json:"reranked"`
}

// Methods returns the contributing methods in canonical order.
func (c *Candidate) Methods() []Method {
	out := make([]Method, 0, len(c.Contributions))
	for _, m := range AllMethods {
		if _, ok := c.Contributions[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Result is the output of one fusion.
type Result struct {
	Candidates []*Candidate `json:"candidates"`

	// WeightsUsed are the weights after renormalisation over non-empty lists.
	WeightsUsed Weights `json:"weights_used"`
	// Requested are the weights passed in.
	Requested Weights `json:"weights_requested"`
}

// RRF fuses ranked lists.
//
// Algorithm: score(d) = Σ w_m / (k + rank_m(d))
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_m(d) = 1-based position of d in method m's list
//   - w_m = weight of method m, renormalised over the methods that returned results
//
// A resource absent from a list gets nothing from that method.
type RRF struct {
	K int
}

// New creates an RRF fuser. If k <= 0, defaults to 60.
func New(k int) *RRF {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRF{K: k}
}

// Fuse combines lists using weights. It holds no state between calls.
//
// Results are sorted by: Score (desc) → contributing methods (desc) → ResourceID (asc)
func (f *RRF) Fuse(lists map[Method][]Ranked, weights Weights) *Result {
	used := Renormalize(weights, lists)
	res := &Result{
		Candidates:  []*Candidate{},
		WeightsUsed: used,
		Requested:   weights,
	}

	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*Candidate)
	for _, m := range AllMethods {
		w := used.Get(m)
		for i, r := range lists[m] {
			c, ok := byID[r.ResourceID]
			if !ok {
				c = &Candidate{ResourceID: r.ResourceID, Contributions: make(map[Method]Contribution, 3)}
				byID[r.ResourceID] = c
				res.Candidates = append(res.Candidates, c)
			}
			if _, dup := c.Contributions[m]; dup {
				// keep the first (best) rank of a repeated id
				continue
			}
			rank := i + 1
			score := w / float64(k+rank)
			c.Contributions[m] = Contribution{Rank: rank, RawScore: r.Score, Weight: w, Score: score}
			c.FusedScore += score
		}
	}

	for _, c := range res.Candidates {
		c.Score = c.FusedScore
	}
	Sort(res.Candidates)
	return res
}

// Renormalize rescales weights over the methods whose lists are non-empty,
// so they sum to 1. Methods with empty lists get 0. If every non-empty
// method has weight 0 the result is all zeros.
func Renormalize(weights Weights, lists map[Method][]Ranked) Weights {
	var live Weights
	for _, m := range AllMethods {
		if len(lists[m]) > 0 {
			live = live.With(m, weights.Get(m))
		}
	}
	return live.Normalized()
}

// Sort orders candidates by Score desc, then number of contributing methods
// desc, then ResourceID asc, and renumbers ranks from 1.
func Sort(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return Less(cands[i], cands[j])
	})
	Renumber(cands)
}

// Less reports whether a ranks before b.
func Less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Contributions) != len(b.Contributions) {
		return len(a.Contributions) > len(b.Contributions)
	}
	return a.ResourceID < b.ResourceID
}

// Renumber assigns 1-based ranks in slice order.
func Renumber(cands []*Candidate) {
	for i, c := range cands {
		c.Rank = i + 1
	}
}

// Restrict returns the subset of lists for methods. Missing methods map to nil.
func Restrict(lists map[Method][]Ranked, methods ...Method) map[Method][]Ranked {
	out := make(map[Method][]Ranked, len(methods))
	for _, m := range methods {
		out[m] = lists[m]
	}
	return out
}

// Clone deep-copies candidates so a later stage can rescore them without
// touching the original fusion output.
func Clone(cands []*Candidate) []*Candidate {
	out := make([]*Candidate, len(cands))
	for i, c := range cands {
		cp := *c
		cp.Contributions = make(map[Method]Contribution, len(c.Contributions))
		for m, v := range c.Contributions {
			cp.Contributions[m] = v
		}
		out[i] = &cp
	}
	return out
}

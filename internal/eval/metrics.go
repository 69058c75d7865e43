// Package eval scores rankings against graded relevance judgments with
// Precision@K, Recall@K, nDCG@K and MRR, and compares the fused ranking with
// a baseline that fuses fewer methods.
package eval

import (
	"math"
	"sort"
)

// Judgments maps a resource ID to its relevance grade (0..3). Resources
// without a judgment are grade 0.
type Judgments map[string]int

// Relevant returns the number of judged resources with grade > 0.
func (j Judgments) Relevant() int {
	n := 0
	for _, g := range j {
		if g > 0 {
			n++
		}
	}
	return n
}

// PrecisionAtK is relevant-in-top-K / K. A ranking shorter than K still
// divides by K.
func PrecisionAtK(ranking []string, j Judgments, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(relevantInTop(ranking, j, k)) / float64(k)
}

// RecallAtK is relevant-in-top-K / total relevant.
func RecallAtK(ranking []string, j Judgments, k int) float64 {
	total := j.Relevant()
	if total == 0 || k <= 0 {
		return 0
	}
	return float64(relevantInTop(ranking, j, k)) / float64(total)
}

// NDCGAtK is DCG@K normalised by the DCG of the judgments sorted by grade
// desc. Gain is (2^grade - 1) / log2(rank + 1) with 1-based rank.
func NDCGAtK(ranking []string, j Judgments, k int) float64 {
	if k <= 0 {
		return 0
	}

	dcg := 0.0
	for i, id := range top(ranking, k) {
		dcg += gain(j[id], i+1)
	}

	grades := make([]int, 0, len(j))
	for _, g := range j {
		if g > 0 {
			grades = append(grades, g)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(grades)))

	idcg := 0.0
	for i, g := range top(grades, k) {
		idcg += gain(g, i+1)
	}
	if idcg == 0 {
		return 0
	}
	return math.Min(dcg/idcg, 1)
}

// MRR is 1 / rank of the first relevant resource anywhere in the ranking,
// or 0 when none is relevant.
func MRR(ranking []string, j Judgments) float64 {
	for i, id := range ranking {
		if j[id] > 0 {
			return 1 / float64(i+1)
		}
	}
	return 0
}

func gain(grade, rank int) float64 {
	if grade <= 0 {
		return 0
	}
	return (math.Pow(2, float64(grade)) - 1) / math.Log2(float64(rank)+1)
}

func relevantInTop(ranking []string, j Judgments, k int) int {
	n := 0
	seen := make(map[string]bool, k)
	for _, id := range top(ranking, k) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if j[id] > 0 {
			n++
		}
	}
	return n
}

func top[T any](s []T, k int) []T {
	if len(s) > k {
		return s[:k]
	}
	return s
}

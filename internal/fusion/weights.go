package fusion

import (
	"fmt"
	"math"
	"strings"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
)

// Method names one of the three retrieval signals.
type Method string

const (
	Lexical Method = "lexical"
	Dense   Method = "dense"
	Sparse  Method = "sparse"
)

// AllMethods lists the methods in their canonical order. Scores are always
// accumulated in this order so float sums are reproducible.
var AllMethods = []Method{Lexical, Dense, Sparse}

// ParseMethod converts a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case Lexical:
		return Lexical, nil
	case Dense:
		return Dense, nil
	case Sparse:
		return Sparse, nil
	default:
		return "", kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown retrieval method %q", s), nil).
			WithSuggestion("use one of lexical, dense, sparse")
	}
}

// ParseMethods converts a list of method names, dropping duplicates.
func ParseMethods(names []string) ([]Method, error) {
	seen := make(map[Method]bool, len(names))
	out := make([]Method, 0, len(names))
	for _, n := range names {
		m, err := ParseMethod(n)
		if err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// Weights is a per-method weight triple. Values need not sum to 1.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Dense   float64 `json:"dense"`
	Sparse  float64 `json:"sparse"`
}

// Get returns the weight for m.
func (w Weights) Get(m Method) float64 {
	switch m {
	case Lexical:
		return w.Lexical
	case Dense:
		return w.Dense
	case Sparse:
		return w.Sparse
	}
	return 0
}

// With returns a copy of w with m set to v.
func (w Weights) With(m Method, v float64) Weights {
	switch m {
	case Lexical:
		w.Lexical = v
	case Dense:
		w.Dense = v
	case Sparse:
		w.Sparse = v
	}
	return w
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Lexical + w.Dense + w.Sparse
}

// Normalized scales w to sum to 1. A zero triple stays zero.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return Weights{}
	}
	return Weights{Lexical: w.Lexical / sum, Dense: w.Dense / sum, Sparse: w.Sparse / sum}
}

// Only returns w with every method outside methods set to zero.
func (w Weights) Only(methods ...Method) Weights {
	var out Weights
	for _, m := range methods {
		out = out.With(m, w.Get(m))
	}
	return out
}

// Validate rejects non-finite and negative weights and an all-zero triple.
func (w Weights) Validate() error {
	for _, m := range AllMethods {
		if v := w.Get(m); math.IsNaN(v) || math.IsInf(v, 0) {
			return kberrors.New(kberrors.ErrCodeInvalidWeights,
				fmt.Sprintf("weight for %s must be a finite number, got %g", m, v), nil)
		}
		if w.Get(m) < 0 {
			return kberrors.New(kberrors.ErrCodeInvalidWeights,
				fmt.Sprintf("weight for %s must be non-negative, got %g", m, w.Get(m)), nil)
		}
	}
	if w.Sum() <= 0 {
		return kberrors.New(kberrors.ErrCodeInvalidWeights, "at least one weight must be positive", nil).
			WithSuggestion("omit weights to use the configured defaults")
	}
	return nil
}

func (w Weights) String() string {
	return fmt.Sprintf("lexical=%.3f dense=%.3f sparse=%.3f", w.Lexical, w.Dense, w.Sparse)
}

package embed

import (
	"context"
	"math"

	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Sparse encoder defaults.
const (
	DefaultMaxExpansions   = 3
	DefaultExpansionWeight = 0.3
)

// TermEncoder implements SparseEncoder. Each distinct token weighs
// 1 + ln(tf); synonyms of a present token are added at ExpansionWeight times
// its weight unless the synonym itself occurs. The vector is L2-normalised.
type TermEncoder struct {
	stopWords       map[string]struct{}
	synonyms        map[string][]string
	maxExpansions   int
	expansionWeight float64
}

// TermEncoderOption configures the encoder.
type TermEncoderOption func(*TermEncoder)

// WithMaxExpansions sets the maximum synonyms added per term. Zero disables
// expansion.
func WithMaxExpansions(n int) TermEncoderOption {
	return func(e *TermEncoder) {
		if n >= 0 {
			e.maxExpansions = n
		}
	}
}

// WithExpansionWeight sets the weight factor applied to synonyms.
func WithExpansionWeight(w float64) TermEncoderOption {
	return func(e *TermEncoder) {
		if w > 0 && w <= 1 {
			e.expansionWeight = w
		}
	}
}

// WithSynonyms adds custom synonym mappings on top of Synonyms.
func WithSynonyms(synonyms map[string][]string) TermEncoderOption {
	return func(e *TermEncoder) {
		for k, v := range synonyms {
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewTermEncoder creates an encoder with the default synonym dictionary.
func NewTermEncoder(opts ...TermEncoderOption) *TermEncoder {
	e := &TermEncoder{
		stopWords:       store.StopWordSet(store.DefaultStopWords),
		synonyms:        make(map[string][]string, len(Synonyms)),
		maxExpansions:   DefaultMaxExpansions,
		expansionWeight: DefaultExpansionWeight,
	}
	for k, v := range Synonyms {
		e.synonyms[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode returns the sparse vector of text. Text without indexable tokens
// yields an empty, non-nil vector.
func (e *TermEncoder) Encode(ctx context.Context, text string) (store.SparseVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := store.RemoveStopWords(store.Tokenize(text), e.stopWords)
	vec := make(store.SparseVector, len(tokens))
	if len(tokens) == 0 {
		return vec, nil
	}

	tf := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if tf[t] == 0 {
			order = append(order, t)
		}
		tf[t]++
	}
	for t, n := range tf {
		vec[t] = 1 + math.Log(float64(n))
	}

	// first-occurrence order keeps expansion deterministic
	for _, t := range order {
		added := 0
		for _, syn := range e.synonyms[t] {
			if added >= e.maxExpansions {
				break
			}
			if _, direct := tf[syn]; direct {
				continue
			}
			w := vec[t] * e.expansionWeight
			if w > vec[syn] {
				vec[syn] = w
			}
			added++
		}
	}

	normalizeSparse(vec)
	return vec, nil
}

func normalizeSparse(v store.SparseVector) {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for t := range v {
		v[t] *= inv
	}
}

var _ SparseEncoder = (*TermEncoder)(nil)

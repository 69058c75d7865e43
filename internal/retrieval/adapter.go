// Package retrieval wraps each retrieval backend behind one Adapter
// interface and runs adapters with per-method timeouts, failure absorption
// and circuit breaking.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/kbfusion/internal/embed"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/query"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Candidate is one resource returned by a single method.
type Candidate struct {
	ResourceID string        `json:"resource_id"`
	Method     fusion.Method `json:"method"`
	// Rank is 1-based within the method's list.
	Rank int `json:"rank"`
	// Score is on the method's own scale and not comparable across methods.
	Score float64 `json:"score"`
}

// Adapter is a retrieval method. Implementations return candidates ordered
// best first.
type Adapter interface {
	Method() fusion.Method
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

func fromHits(m fusion.Method, hits []store.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ResourceID: h.ID, Method: m, Rank: i + 1, Score: h.Score}
	}
	return out
}

// LexicalAdapter runs BM25 search. Quoted segments of the query become
// required phrases.
type LexicalAdapter struct {
	index store.LexicalIndex
}

// NewLexicalAdapter creates a lexical adapter over index.
func NewLexicalAdapter(index store.LexicalIndex) *LexicalAdapter {
	return &LexicalAdapter{index: index}
}

func (a *LexicalAdapter) Method() fusion.Method { return fusion.Lexical }

func (a *LexicalAdapter) Search(ctx context.Context, text string, limit int) ([]Candidate, error) {
	phrases, rest := query.SplitPhrases(text)
	hits, err := a.index.Search(ctx, store.LexicalQuery{Terms: rest, Phrases: phrases}, limit)
	if err != nil {
		return nil, err
	}
	return fromHits(fusion.Lexical, hits), nil
}

// DenseAdapter embeds the query and searches the vector store.
type DenseAdapter struct {
	embedder embed.Embedder
	vectors  store.VectorStore
}

// NewDenseAdapter creates a dense adapter.
func NewDenseAdapter(embedder embed.Embedder, vectors store.VectorStore) *DenseAdapter {
	return &DenseAdapter{embedder: embedder, vectors: vectors}
}

func (a *DenseAdapter) Method() fusion.Method { return fusion.Dense }

func (a *DenseAdapter) Search(ctx context.Context, text string, limit int) ([]Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return []Candidate{}, nil
	}
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := a.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	return fromHits(fusion.Dense, hits), nil
}

// SparseAdapter encodes the query as a sparse vector and searches the
// postings index.
type SparseAdapter struct {
	encoder embed.SparseEncoder
	index   store.SparseIndex
}

// NewSparseAdapter creates a sparse adapter.
func NewSparseAdapter(encoder embed.SparseEncoder, index store.SparseIndex) *SparseAdapter {
	return &SparseAdapter{encoder: encoder, index: index}
}

func (a *SparseAdapter) Method() fusion.Method { return fusion.Sparse }

func (a *SparseAdapter) Search(ctx context.Context, text string, limit int) ([]Candidate, error) {
	vec, err := a.encoder.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if len(vec) == 0 {
		return []Candidate{}, nil
	}
	hits, err := a.index.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	return fromHits(fusion.Sparse, hits), nil
}

var (
	_ Adapter = (*LexicalAdapter)(nil)
	_ Adapter = (*DenseAdapter)(nil)
	_ Adapter = (*SparseAdapter)(nil)
)

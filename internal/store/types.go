// Package store provides the reference retrieval backends: a bleve lexical
// index, a coder/hnsw vector index, and a SQLite database holding sparse
// postings and resource metadata.
package store

import (
	"context"
	"fmt"
)

// Resource is one knowledge-base entry as the search core sees it.
type Resource struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Text           string  `json:"text,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Type           string  `json:"type,omitempty"`
	Language       string  `json:"language,omitempty"`
	QualityScore   float64 `json:"quality_score,omitempty"`
}

// Hit is one scored search hit. Higher Score is better within one backend.
type Hit struct {
	ID    string
	Score float64
}

// LexicalQuery is a full-text query. Phrases must match exactly; Terms are
// ranked by BM25.
type LexicalQuery struct {
	Terms   string
	Phrases []string
}

// IsEmpty reports whether the query has nothing to match.
func (q LexicalQuery) IsEmpty() bool {
	return q.Terms == "" && len(q.Phrases) == 0
}

// LexicalIndex provides BM25 keyword search.
type LexicalIndex interface {
	Index(ctx context.Context, resources []*Resource) error
	Search(ctx context.Context, q LexicalQuery, limit int) ([]Hit, error)
	Count() (int, error)
	Close() error
}

// VectorStore provides approximate nearest-neighbour search over dense vectors.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k nearest IDs, scored by cosine similarity in [0,1].
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// SparseVector maps a term to its weight.
type SparseVector map[string]float64

// SparseIndex scores resources by the dot product of sparse vectors.
type SparseIndex interface {
	Upsert(ctx context.Context, vectors map[string]SparseVector) error
	Search(ctx context.Context, query SparseVector, limit int) ([]Hit, error)
}

// MetadataStore persists resource metadata.
type MetadataStore interface {
	Save(ctx context.Context, resources []*Resource) error
	// Get returns the resources found among ids. Unknown ids are absent from the map.
	Get(ctx context.Context, ids []string) (map[string]*Resource, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// State keys recorded alongside an index.
const (
	StateKeyDimensions = "embedding_dimensions"
	StateKeyEmbedder   = "embedding_model"
	StateKeyIndexedAt  = "indexed_at"
	StateKeyIndexedBy  = "indexed_by"
)

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'kbfusion index --force')", e.Expected, e.Got)
}

// Package embed turns query and resource text into the vectors the dense and
// sparse methods search with.
package embed

import (
	"context"
	"math"

	"github.com/Aman-CERP/kbfusion/internal/store"
)

// DefaultDimensions is the vector size of the hash embedder.
const DefaultDimensions = 256

// Embedder generates dense vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier recorded alongside an index.
	ModelName() string

	Close() error
}

// SparseEncoder turns text into a weighted term vector.
type SparseEncoder interface {
	Encode(ctx context.Context, text string) (store.SparseVector, error)
}

// normalizeVector returns v scaled to unit length. A zero vector is returned as is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Aman-CERP/kbfusion/internal/embed"
	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/store"
	"github.com/Aman-CERP/kbfusion/pkg/version"
)

// DefaultBatchSize is the number of resources embedded per call.
const DefaultBatchSize = 64

// StateStore records index-level facts next to the data.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Dependencies are the backends and encoders an Indexer writes through.
type Dependencies struct {
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore
	Sparse   store.SparseIndex
	Metadata store.MetadataStore
	State    StateStore

	Embedder embed.Embedder
	Encoder  embed.SparseEncoder

	// VectorsPath, when set, is where the vector graph is saved after indexing.
	VectorsPath string
	// LockDir, when set, is locked exclusively for the duration of a run.
	LockDir string

	// OnProgress is called after each batch with resources done and total.
	OnProgress func(done, total int)
}

// Result is the outcome of an indexing run.
type Result struct {
	Resources int           `json:"resources"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
	// Warnings are non-fatal problems, such as resources with no indexable text.
	Warnings []string `json:"warnings,omitempty"`
}

// Indexer fills all three retrieval backends and the metadata store from
// one resource list.
type Indexer struct {
	deps      Dependencies
	batchSize int
	logger    *slog.Logger
}

// NewIndexer validates deps and creates an Indexer.
func NewIndexer(deps Dependencies, batchSize int) (*Indexer, error) {
	switch {
	case deps.Lexical == nil:
		return nil, errors.New("lexical index is required")
	case deps.Vectors == nil:
		return nil, errors.New("vector store is required")
	case deps.Sparse == nil:
		return nil, errors.New("sparse index is required")
	case deps.Metadata == nil:
		return nil, errors.New("metadata store is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedder is required")
	case deps.Encoder == nil:
		return nil, errors.New("sparse encoder is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{deps: deps, batchSize: batchSize, logger: slog.Default()}, nil
}

// Run indexes resources. Resources whose ID already exists are replaced.
func (ix *Indexer) Run(ctx context.Context, resources []*store.Resource) (*Result, error) {
	start := time.Now()
	res := &Result{}

	if ix.deps.LockDir != "" {
		lock := NewDataLock(ix.deps.LockDir)
		if err := lock.Acquire(); err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				ix.logger.Warn("index_unlock_failed", slog.String("error", err.Error()))
			}
		}()
	}

	if err := ix.checkEmbedder(ctx); err != nil {
		return nil, err
	}

	for _, r := range resources {
		if indexText(r) == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("resource %s has no indexable text", r.ID))
		}
	}

	if err := ix.deps.Metadata.Save(ctx, resources); err != nil {
		return nil, kberrors.StoreError("failed to save resource metadata", err)
	}
	if err := ix.deps.Lexical.Index(ctx, resources); err != nil {
		return nil, kberrors.StoreError("failed to build lexical index", err)
	}

	for lo := 0; lo < len(resources); lo += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := resources[lo:min(lo+ix.batchSize, len(resources))]
		if err := ix.indexBatch(ctx, batch); err != nil {
			return nil, err
		}
		res.Batches++
		res.Resources += len(batch)
		if ix.deps.OnProgress != nil {
			ix.deps.OnProgress(res.Resources, len(resources))
		}
	}

	if ix.deps.VectorsPath != "" {
		if err := ix.deps.Vectors.Save(ix.deps.VectorsPath); err != nil {
			return nil, kberrors.StoreError("failed to save vector index", err)
		}
	}
	if err := ix.recordState(ctx); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	ix.logger.Info("index_complete",
		slog.Int("resources", res.Resources),
		slog.Int("batches", res.Batches),
		slog.Int("warnings", len(res.Warnings)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []*store.Resource) error {
	ids := make([]string, len(batch))
	texts := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
		texts[i] = indexText(r)
	}

	vectors, err := ix.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeEmbeddingFailed, "failed to embed resources", err)
	}
	if err := ix.deps.Vectors.Add(ctx, ids, vectors); err != nil {
		return kberrors.StoreError("failed to add vectors", err)
	}

	postings := make(map[string]store.SparseVector, len(batch))
	for i, text := range texts {
		v, err := ix.deps.Encoder.Encode(ctx, text)
		if err != nil {
			return kberrors.New(kberrors.ErrCodeEmbeddingFailed, "failed to encode resource "+ids[i], err)
		}
		postings[ids[i]] = v
	}
	if err := ix.deps.Sparse.Upsert(ctx, postings); err != nil {
		return kberrors.StoreError("failed to write sparse postings", err)
	}
	return nil
}

// checkEmbedder refuses to mix vectors from a different model into an
// existing index.
func (ix *Indexer) checkEmbedder(ctx context.Context) error {
	if ix.deps.State == nil {
		return nil
	}
	model, err := ix.deps.State.GetState(ctx, store.StateKeyEmbedder)
	if err != nil {
		return kberrors.StoreError("failed to read index state", err)
	}
	if model != "" && model != ix.deps.Embedder.ModelName() {
		return kberrors.New(kberrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index was built with embedder %q, not %q", model, ix.deps.Embedder.ModelName()), nil).
			WithSuggestion("run 'kbfusion index --force' to rebuild")
	}
	return nil
}

func (ix *Indexer) recordState(ctx context.Context) error {
	if ix.deps.State == nil {
		return nil
	}
	for key, value := range map[string]string{
		store.StateKeyDimensions: strconv.Itoa(ix.deps.Embedder.Dimensions()),
		store.StateKeyEmbedder:   ix.deps.Embedder.ModelName(),
		store.StateKeyIndexedAt:  time.Now().UTC().Format(time.RFC3339),
		store.StateKeyIndexedBy:  version.Short(),
	} {
		if err := ix.deps.State.SetState(ctx, key, value); err != nil {
			return kberrors.StoreError("failed to record index state", err)
		}
	}
	return nil
}

package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Aman-CERP/kbfusion/internal/embed"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

// File names inside a data directory.
const (
	LexicalDir   = "lexical.bleve"
	VectorsFile  = "vectors.hnsw"
	DatabaseFile = "kbfusion.db"
)

// Stores are the reference backends of one data directory.
type Stores struct {
	Lexical *store.BleveIndex
	Vectors *store.HNSWStore
	DB      *store.SQLiteStore

	// VectorsPath is where the vector graph is saved. Empty for in-memory stores.
	VectorsPath string
}

// OpenStores opens or creates the backends under dataDir for vectors of
// dims dimensions. A saved vector graph is loaded. An index built with a
// different dimension fails with store.ErrDimensionMismatch.
func OpenStores(ctx context.Context, dataDir string, dims int) (*Stores, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.NewSQLiteStore(filepath.Join(dataDir, DatabaseFile))
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(ctx, db, dims); err != nil {
		_ = db.Close()
		return nil, err
	}

	lex, err := store.NewBleveIndex(filepath.Join(dataDir, LexicalDir))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	vec, err := store.NewHNSWStore(store.HNSWConfig{Dimensions: dims})
	if err != nil {
		_ = lex.Close()
		_ = db.Close()
		return nil, err
	}
	vpath := filepath.Join(dataDir, VectorsFile)
	if _, statErr := os.Stat(vpath); statErr == nil {
		if err := vec.Load(vpath); err != nil {
			slog.Warn("vector_index_unreadable", slog.String("path", vpath), slog.String("error", err.Error()))
		}
	}

	return &Stores{Lexical: lex, Vectors: vec, DB: db, VectorsPath: vpath}, nil
}

// NewMemoryStores creates empty in-memory backends.
func NewMemoryStores(dims int) (*Stores, error) {
	db, err := store.NewSQLiteStore("")
	if err != nil {
		return nil, err
	}
	lex, err := store.NewBleveIndex("")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	vec, err := store.NewHNSWStore(store.HNSWConfig{Dimensions: dims})
	if err != nil {
		_ = lex.Close()
		_ = db.Close()
		return nil, err
	}
	return &Stores{Lexical: lex, Vectors: vec, DB: db}, nil
}

func checkDimensions(ctx context.Context, db *store.SQLiteStore, dims int) error {
	v, err := db.GetState(ctx, store.StateKeyDimensions)
	if err != nil || v == "" {
		return err
	}
	stored, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid stored %s %q: %w", store.StateKeyDimensions, v, err)
	}
	if stored != dims {
		return store.ErrDimensionMismatch{Expected: stored, Got: dims}
	}
	return nil
}

// Adapters returns the three method adapters over s.
func (s *Stores) Adapters(embedder embed.Embedder, encoder embed.SparseEncoder) []retrieval.Adapter {
	return []retrieval.Adapter{
		retrieval.NewLexicalAdapter(s.Lexical),
		retrieval.NewDenseAdapter(embedder, s.Vectors),
		retrieval.NewSparseAdapter(encoder, s.DB),
	}
}

// Dependencies returns indexer dependencies writing to s.
func (s *Stores) Dependencies(embedder embed.Embedder, encoder embed.SparseEncoder) Dependencies {
	return Dependencies{
		Lexical:     s.Lexical,
		Vectors:     s.Vectors,
		Sparse:      s.DB,
		Metadata:    s.DB,
		State:       s.DB,
		Embedder:    embedder,
		Encoder:     encoder,
		VectorsPath: s.VectorsPath,
	}
}

// Close closes every backend and returns the first error.
func (s *Stores) Close() error {
	return errors.Join(s.Lexical.Close(), s.Vectors.Close(), s.DB.Close())
}

// Reset removes the backends under dataDir so the next index run starts empty.
func Reset(dataDir string) error {
	var errs []error
	for _, name := range []string{LexicalDir, VectorsFile, VectorsFile + ".meta", DatabaseFile, DatabaseFile + "-wal", DatabaseFile + "-shm"} {
		if err := os.RemoveAll(filepath.Join(dataDir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

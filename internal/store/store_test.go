package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResources() []*Resource {
	return []*Resource{
		{
			ID: "r1", Title: "Reciprocal rank fusion",
			Description:    "Combining ranked lists from several retrievers",
			Text:           "RRF sums weight over k plus rank for each list.",
			Classification: "004", Type: "article", Language: "en", QualityScore: 0.9,
		},
		{
			ID: "r2", Title: "Dense retrieval with HNSW",
			Description:    "Approximate nearest neighbour graphs",
			Text:           "Hierarchical navigable small world graphs index embeddings.",
			Classification: "004", Type: "paper", Language: "en", QualityScore: 0.7,
		},
		{
			ID: "r3", Title: "Sparse vectors",
			Description:    "Keyword aware semantic expansion",
			Text:           "Sparse encoders keep exact term signal while adding rank fusion friendly weights.",
			Classification: "006", Type: "article", Language: "de",
		},
	}
}

func hitIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

// =============================================================================
// Bleve lexical index
// =============================================================================

func newTestBleve(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.Index(context.Background(), sampleResources()))
	return idx
}

func TestBleveIndex_TermSearch(t *testing.T) {
	idx := newTestBleve(t)

	hits, err := idx.Search(context.Background(), LexicalQuery{Terms: "nearest neighbour graphs"}, 10)

	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "r2", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBleveIndex_TitleMatchesRankHigher(t *testing.T) {
	idx := newTestBleve(t)

	// "fusion" appears in r1's title and in r3's body
	hits, err := idx.Search(context.Background(), LexicalQuery{Terms: "fusion"}, 10)

	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, hitIDs(hits))
}

func TestBleveIndex_PhraseRequired(t *testing.T) {
	idx := newTestBleve(t)

	hits, err := idx.Search(context.Background(), LexicalQuery{Phrases: []string{"small world"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, hitIDs(hits))

	// the words exist but not as a phrase
	hits, err = idx.Search(context.Background(), LexicalQuery{Phrases: []string{"world small"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_EmptyQueryAndLimit(t *testing.T) {
	idx := newTestBleve(t)

	hits, err := idx.Search(context.Background(), LexicalQuery{Terms: "   "}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(context.Background(), LexicalQuery{Terms: "rank"}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBleveIndex_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")

	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), sampleResources()))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveIndex(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBleveIndex_Closed(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), LexicalQuery{Terms: "x"}, 1)
	assert.ErrorIs(t, err, errIndexClosed)
}

// =============================================================================
// HNSW vector store
// =============================================================================

func TestHNSWStore_NearestFirst(t *testing.T) {
	s, err := NewHNSWStore(HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx,
		[]string{"x", "y", "z"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "z", hits[1].ID)
}

func TestHNSWStore_ReplaceAndDimensions(t *testing.T) {
	s, err := NewHNSWStore(HNSWConfig{Dimensions: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))
	assert.Equal(t, 2, s.Count())

	hits, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "orphaned node is not returned")

	err = s.Add(ctx, []string{"c"}, [][]float32{{1, 2, 3}})
	var dm ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)

	_, err = s.Search(ctx, []float32{1}, 1)
	assert.Error(t, err)
}

func TestHNSWStore_ZeroQueryAndEmpty(t *testing.T) {
	s, err := NewHNSWStore(HNSWConfig{Dimensions: 2})
	require.NoError(t, err)
	ctx := context.Background()

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	hits, err = s.Search(ctx, []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	s, err := NewHNSWStore(HNSWConfig{Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(HNSWConfig{Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	hits, err := loaded.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestNewHNSWStore_RejectsZeroDimensions(t *testing.T) {
	_, err := NewHNSWStore(HNSWConfig{})
	assert.Error(t, err)
}

// =============================================================================
// SQLite metadata + sparse postings
// =============================================================================

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleResources()))

	got, err := s.Get(ctx, []string{"r3", "r1", "missing"})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Reciprocal rank fusion", got["r1"].Title)
	assert.Equal(t, 0.9, got["r1"].QualityScore)
	assert.Equal(t, "de", got["r3"].Language)
	assert.NotContains(t, got, "missing")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleResources()))

	require.NoError(t, s.Save(ctx, []*Resource{{ID: "r1", Title: "Renamed"}}))

	got, err := s.Get(ctx, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got["r1"].Title)
	assert.Empty(t, got["r1"].Classification)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "r1", all[0].ID)
}

func TestSQLiteStore_GetManyIDs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	// more ids than one IN batch holds
	var resources []*Resource
	var ids []string
	for i := 0; i < maxSQLVars+20; i++ {
		id := fmt.Sprintf("bulk-%04d", i)
		resources = append(resources, &Resource{ID: id})
		ids = append(ids, id)
	}
	require.NoError(t, s.Save(ctx, resources))

	got, err := s.Get(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, len(ids))
}

func TestSQLiteStore_SparseDotProduct(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, map[string]SparseVector{
		"r1": {"rank": 1.0, "fusion": 2.0},
		"r2": {"graph": 1.5, "rank": 0.5},
		"r3": {"fusion": 1.0, "sparse": 3.0},
	}))

	hits, err := s.Search(ctx, SparseVector{"fusion": 1.0, "rank": 1.0}, 10)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"r1", "r3", "r2"}, hitIDs(hits))
	assert.InDelta(t, 3.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 1.0, hits[1].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[2].Score, 1e-9)
}

func TestSQLiteStore_SparseTiesByID(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, map[string]SparseVector{
		"b": {"x": 1},
		"a": {"x": 1},
	}))

	hits, err := s.Search(ctx, SparseVector{"x": 2}, 10)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hitIDs(hits))
}

func TestSQLiteStore_UpsertReplacesPostings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, map[string]SparseVector{"r1": {"old": 1}}))
	require.NoError(t, s.Upsert(ctx, map[string]SparseVector{"r1": {"new": 1}}))

	hits, err := s.Search(ctx, SparseVector{"old": 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, SparseVector{"new": 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, hitIDs(hits))
}

func TestSQLiteStore_SparseEmptyQuery(t *testing.T) {
	s := newTestSQLite(t)

	hits, err := s.Search(context.Background(), SparseVector{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyDimensions)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyDimensions, "256"))
	require.NoError(t, s.SetState(ctx, StateKeyDimensions, "128"))

	v, err = s.GetState(ctx, StateKeyDimensions)
	require.NoError(t, err)
	assert.Equal(t, "128", v)
}

func TestSQLiteStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleResources()))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbfusion/internal/config"
	"github.com/Aman-CERP/kbfusion/internal/corpus"
	"github.com/Aman-CERP/kbfusion/internal/embed"
	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

// Integration tests: corpus file -> on-disk index -> reopen -> search and
// evaluation through the real backends.

const dims = 64

const corpusJSONL = `{"id": "r1", "title": "Reciprocal rank fusion", "description": "Combining ranked lists", "text": "RRF sums method weight over k plus rank for every list a resource appears in.", "classification": "004", "type": "article", "language": "en", "quality_score": 0.9}
{"id": "r2", "title": "HNSW graphs", "text": "Hierarchical navigable small world graphs index dense embeddings for approximate nearest neighbour search.", "classification": "004", "type": "paper", "language": "en"}
{"id": "r3", "title": "Sparse lexical expansion", "text": "Sparse encoders expand query terms and keep exact term signal.", "classification": "006", "type": "article", "language": "de"}
{"id": "r4", "title": "Cross-encoder reranking", "text": "A reranker rescored the fused top candidates with a joint query document model.", "classification": "006", "type": "thesis", "language": "en"}
`

// buildIndex writes the corpus to disk and indexes it into dataDir, closing
// every store afterwards so tests read only what was persisted.
func buildIndex(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(corpusJSONL), 0o644))

	resources, err := corpus.Load(corpusPath)
	require.NoError(t, err)

	dataDir := filepath.Join(dir, "data")
	stores, err := corpus.OpenStores(ctx, dataDir, dims)
	require.NoError(t, err)

	deps := stores.Dependencies(embed.NewHashEmbedder(dims), embed.NewTermEncoder())
	deps.LockDir = dataDir
	ix, err := corpus.NewIndexer(deps, 2)
	require.NoError(t, err)

	result, err := ix.Run(ctx, resources)
	require.NoError(t, err)
	require.Equal(t, 4, result.Resources)
	require.NoError(t, stores.Close())

	return dataDir
}

// openEngine reopens dataDir and wires an engine over it.
func openEngine(t *testing.T, dataDir string, cfg search.Config, opts ...search.Option) *search.Engine {
	t.Helper()
	stores, err := corpus.OpenStores(context.Background(), dataDir, dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	engine, err := search.New(stores.Adapters(embed.NewHashEmbedder(dims), embed.NewTermEncoder()), stores.DB, cfg, opts...)
	require.NoError(t, err)
	return engine
}

func TestIntegration_IndexReopenSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an index persisted and reopened
	dataDir := buildIndex(t)
	engine := openEngine(t, dataDir, search.DefaultConfig())

	// When: searching for a term in one title
	resp, err := engine.Search(context.Background(), search.Query{Text: "HNSW graphs"})
	require.NoError(t, err)

	// Then: every method answered from disk and r2 leads
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r2", resp.Results[0].ResourceID)
	for _, m := range fusion.AllMethods {
		assert.Equal(t, retrieval.StatusOK, resp.Methods[m].Status, m)
	}
	require.NotNil(t, resp.Results[0].Metadata)
	assert.Equal(t, "paper", resp.Results[0].Metadata.Type)

	// and facets count only the returned page
	total := 0
	for _, b := range resp.Facets["type"] {
		total += b.Count
	}
	assert.Equal(t, len(resp.Results), total)
}

func TestIntegration_DisabledMethodFromConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dataDir := buildIndex(t)
	off := false
	c := config.NewConfig()
	c.Methods.Sparse.Enabled = &off
	engine := openEngine(t, dataDir, search.FromConfig(c))

	resp, err := engine.Search(context.Background(), search.Query{Text: "rank fusion"})
	require.NoError(t, err)

	assert.Equal(t, retrieval.StatusDisabled, resp.Methods[fusion.Sparse].Status)
	assert.Zero(t, resp.WeightsUsed.Sparse)
	assert.InDelta(t, 1.0, resp.WeightsUsed.Sum(), 1e-9)
	assert.Equal(t, "r1", resp.Results[0].ResourceID)
}

func TestIntegration_RerankAndReconfigure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dataDir := buildIndex(t)
	engine := openEngine(t, dataDir, search.DefaultConfig(), search.WithReranker(rerank.NewOverlapReranker(0)))

	resp, err := engine.Search(context.Background(), search.Query{Text: "reranker fused candidates", EnableReranking: true})
	require.NoError(t, err)
	assert.True(t, resp.Rerank.Applied)
	assert.Equal(t, "r4", resp.Results[0].ResourceID)

	// swapping settings takes effect on the next request
	cfg := engine.Config()
	cfg.Characterizer.DefaultWeights = fusion.Weights{Dense: 1}
	engine.Reconfigure(cfg)

	resp, err = engine.Search(context.Background(), search.Query{Text: "reranker fused candidates"})
	require.NoError(t, err)
	assert.Equal(t, fusion.Weights{Dense: 1}, resp.WeightsUsed)
}

func TestIntegration_EvaluateSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dataDir := buildIndex(t)
	engine := openEngine(t, dataDir, search.DefaultConfig())
	evaluator, err := eval.New(engine, eval.DefaultConfig())
	require.NoError(t, err)

	report, err := evaluator.EvaluateSuite(context.Background(), &eval.Suite{
		Name: "integration",
		K:    3,
		Queries: []eval.Request{
			{ID: "fusion", Query: "reciprocal rank fusion", Judgments: map[string]int{"r1": 3, "r4": 1}},
			{ID: "dense", Query: "navigable small world", Judgments: map[string]int{"r2": 3}},
			{ID: "bad", Query: "anything", Judgments: map[string]int{"r1": 9}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Evaluated)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].ID)
	assert.GreaterOrEqual(t, report.Mean.NDCG, 0.0)
	assert.LessOrEqual(t, report.Mean.NDCG, 1.0)
	assert.InDelta(t, 1.0, report.Reports[0].MRR, 1e-12)
}

func TestIntegration_ConcurrentIndexIsLocked(t *testing.T) {
	dataDir := buildIndex(t)

	lock := corpus.NewDataLock(dataDir)
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	require.NoError(t, corpus.Reset(dataDir))

	stores, err := corpus.OpenStores(context.Background(), dataDir, dims)
	require.NoError(t, err)
	defer func() { _ = stores.Close() }()

	deps := stores.Dependencies(embed.NewHashEmbedder(dims), embed.NewTermEncoder())
	deps.LockDir = dataDir
	ix, err := corpus.NewIndexer(deps, 0)
	require.NoError(t, err)

	_, err = ix.Run(context.Background(), nil)
	assert.Equal(t, kberrors.ErrCodeIndexLocked, kberrors.GetCode(err))
}

package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
)

// fixedReranker returns canned scores or an error.
type fixedReranker struct {
	scores      []float64
	err         error
	unavailable bool
	seen        []Document
}

func (f *fixedReranker) Rerank(_ context.Context, _ string, docs []Document) ([]float64, error) {
	f.seen = docs
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func (f *fixedReranker) Available(context.Context) bool { return !f.unavailable }
func (f *fixedReranker) Close() error                   { return nil }

func fused(ids ...string) []*fusion.Candidate {
	out := make([]*fusion.Candidate, len(ids))
	for i, id := range ids {
		s := 1 / float64(60+i+1)
		out[i] = &fusion.Candidate{
			ResourceID:    id,
			Score:         s,
			FusedScore:    s,
			Rank:          i + 1,
			Contributions: map[fusion.Method]fusion.Contribution{fusion.Lexical: {Rank: i + 1, Weight: 1, Score: s}},
		}
	}
	return out
}

func order(cands []*fusion.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ResourceID
	}
	return out
}

// =============================================================================
// Apply
// =============================================================================

func TestApply_RescoresOnlyTheCeiling(t *testing.T) {
	// Given: five fused candidates and a ceiling of three
	in := fused("a", "b", "c", "d", "e")
	r := &fixedReranker{scores: []float64{0.1, 0.9, 0.5}}

	// When: I apply the reranker
	out, outcome := Apply(context.Background(), r, "q", in, nil, 3)

	// Then: the head is re-sorted and the tail keeps fused order
	assert.Equal(t, Outcome{Requested: true, Applied: true, Count: 3}, outcome)
	assert.Equal(t, []string{"b", "c", "a", "d", "e"}, order(out))
	for i, c := range out {
		assert.Equal(t, i+1, c.Rank)
	}
	assert.True(t, out[0].Reranked)
	assert.InDelta(t, 0.9, out[0].Score, 1e-12)
	assert.Equal(t, in[1].FusedScore, out[0].FusedScore)
	assert.False(t, out[3].Reranked)
	assert.Equal(t, in[3].Score, out[3].Score)
	assert.Len(t, r.seen, 3)

	// the input is untouched
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order(in))
	assert.False(t, in[1].Reranked)
}

func TestApply_TiesKeepFusedRank(t *testing.T) {
	in := fused("a", "b", "c")
	r := &fixedReranker{scores: []float64{0.5, 0.5, 0.7}}

	out, _ := Apply(context.Background(), r, "q", in, nil, 10)

	assert.Equal(t, []string{"c", "a", "b"}, order(out))
}

func TestApply_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		r      Reranker
		cands  []*fusion.Candidate
		reason string
	}{
		{"nil reranker", nil, fused("a"), ReasonNoReranker},
		{"unavailable", &fixedReranker{unavailable: true}, fused("a"), ReasonUnavailable},
		{"no candidates", &fixedReranker{}, fused(), ReasonNoCandidates},
		{"error", &fixedReranker{err: errors.New("boom")}, fused("a", "b"), ReasonError},
		{"timeout", &fixedReranker{err: context.DeadlineExceeded}, fused("a", "b"), ReasonTimeout},
		{"short scores", &fixedReranker{scores: []float64{1}}, fused("a", "b"), ReasonError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, outcome := Apply(context.Background(), tt.r, "q", tt.cands, nil, 5)

			assert.True(t, outcome.Requested)
			assert.False(t, outcome.Applied)
			assert.Equal(t, tt.reason, outcome.Reason)
			assert.Equal(t, order(tt.cands), order(out))
			assert.Zero(t, outcome.Count)
			if tt.reason == ReasonError || tt.reason == ReasonTimeout {
				assert.NotEmpty(t, outcome.Error)
			} else {
				assert.Empty(t, outcome.Error)
			}
		})
	}
}

func TestApply_PassesDocuments(t *testing.T) {
	r := &fixedReranker{scores: []float64{1, 0}}
	docs := map[string]Document{"a": {ID: "a", Title: "Alpha"}}

	_, _ = Apply(context.Background(), r, "q", fused("a", "b"), docs, 5)

	require.Len(t, r.seen, 2)
	assert.Equal(t, "Alpha", r.seen[0].Title)
	assert.Equal(t, Document{ID: "b"}, r.seen[1])
}

func TestSkipped_NotRequested(t *testing.T) {
	o := Skipped(false, ReasonBudgetExceeded)

	assert.False(t, o.Requested)
	assert.Equal(t, ReasonNotRequested, o.Reason)
	assert.Equal(t, ReasonBudgetExceeded, Skipped(true, ReasonBudgetExceeded).Reason)
}

// =============================================================================
// NoOp and Overlap rerankers
// =============================================================================

func TestNoOpReranker_KeepsOrder(t *testing.T) {
	in := fused("a", "b", "c", "d")

	out, outcome := Apply(context.Background(), NoOpReranker{}, "q", in, nil, 10)

	assert.True(t, outcome.Applied)
	assert.Equal(t, order(in), order(out))
}

func TestOverlapReranker_TitleBoost(t *testing.T) {
	// Given: one document matching in the title, one in the body
	r := NewOverlapReranker(0)
	docs := []Document{
		{ID: "body", Text: "notes about rank fusion"},
		{ID: "title", Title: "Rank fusion"},
		{ID: "none", Title: "Sourdough"},
	}

	// When: I score "rank fusion"
	scores, err := r.Rerank(context.Background(), "rank fusion", docs)

	// Then: the title match wins and scores stay in [0,1]
	require.NoError(t, err)
	assert.Greater(t, scores[1], scores[0])
	assert.Zero(t, scores[2])
	assert.InDelta(t, 2.0/3.0, scores[1], 1e-12)
	assert.InDelta(t, 1.0/3.0, scores[0], 1e-12)
}

func TestOverlapReranker_EmptyQuery(t *testing.T) {
	r := NewOverlapReranker(3)

	scores, err := r.Rerank(context.Background(), "the of", []Document{{Title: "anything"}})

	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}

func TestNew_Providers(t *testing.T) {
	r, err := New(ProviderNone, HTTPConfig{})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(ProviderOverlap, HTTPConfig{})
	require.NoError(t, err)
	assert.IsType(t, &OverlapReranker{}, r)

	_, err = New(ProviderHTTP, HTTPConfig{})
	assert.Error(t, err)

	_, err = New("llm", HTTPConfig{})
	assert.Error(t, err)
}

// =============================================================================
// HTTPReranker
// =============================================================================

func rerankServer(t *testing.T, handler func(w http.ResponseWriter, req rerankRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() kberrors.RetryConfig {
	cfg := kberrors.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestHTTPReranker_ScoresByIndex(t *testing.T) {
	// Given: a service returning results out of order
	srv := rerankServer(t, func(w http.ResponseWriter, req rerankRequest) {
		assert.Equal(t, "rank fusion", req.Query)
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, []string{"Alpha\nfirst", "Beta"}, req.Documents)
		_, _ = w.Write([]byte(`{"results":[{"index":1,"score":0.8},{"index":0,"score":0.2}]}`))
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL + "/", Model: "test-model", Retry: fastRetry()})
	require.NoError(t, err)
	defer r.Close()

	// When: I rerank two documents
	scores, err := r.Rerank(context.Background(), "rank fusion", []Document{
		{Title: "Alpha", Text: "first"},
		{Title: "Beta"},
	})

	// Then: scores come back in input order
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, scores)
	assert.True(t, r.Available(context.Background()))
}

func TestHTTPReranker_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":1}]}`))
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "q", []Document{{Title: "x"}})

	require.NoError(t, err)
	assert.Equal(t, []float64{1}, scores)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPReranker_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []Document{{Title: "x"}})

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeRerankFailed, kberrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPReranker_IncompleteResponse(t *testing.T) {
	srv := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":1}]}`))
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []Document{{}, {}})
	assert.Error(t, err)

	srvBad := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		_, _ = w.Write([]byte(`{"results":[{"index":5,"score":1}]}`))
	})
	r2, err := NewHTTPReranker(HTTPConfig{Endpoint: srvBad.URL, Retry: fastRetry()})
	require.NoError(t, err)
	_, err = r2.Rerank(context.Background(), "q", []Document{{}})
	assert.Error(t, err)
}

func TestHTTPReranker_TimeoutFallsBack(t *testing.T) {
	// Given: a slow service and a short timeout
	srv := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":1}]}`))
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL, Timeout: 20 * time.Millisecond, Retry: fastRetry()})
	require.NoError(t, err)

	// When: the engine applies it
	in := fused("a", "b")
	out, outcome := Apply(context.Background(), r, "q", in, nil, 5)

	// Then: fused order survives and the reason is timeout
	assert.False(t, outcome.Applied)
	assert.Equal(t, ReasonTimeout, outcome.Reason)
	assert.Equal(t, order(in), order(out))
}

func TestHTTPReranker_BreakerMakesUnavailable(t *testing.T) {
	srv := rerankServer(t, func(w http.ResponseWriter, _ rerankRequest) {
		http.Error(w, "nope", http.StatusBadRequest)
	})
	breakers := kberrors.NewBreakers(kberrors.BreakerConfig{
		Enabled: true, FailureRatio: 0.5, MinRequests: 1, OpenTimeout: time.Minute,
	})
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: srv.URL, Retry: fastRetry(), Breakers: breakers})
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []Document{{}})
	require.Error(t, err)

	assert.False(t, r.Available(context.Background()))
	_, outcome := Apply(context.Background(), r, "q", fused("a"), nil, 5)
	assert.Equal(t, ReasonUnavailable, outcome.Reason)
}

func TestHTTPReranker_Closed(t *testing.T) {
	r, err := NewHTTPReranker(HTTPConfig{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.False(t, r.Available(context.Background()))
	_, err = r.Rerank(context.Background(), "q", []Document{{}})
	assert.Error(t, err)
}

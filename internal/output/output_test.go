package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbfusion/internal/corpus"
	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/facet"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

func plain(buf *bytes.Buffer) *Writer {
	return NewWithOptions(buf, FormatText, false)
}

// =============================================================================
// Status lines
// =============================================================================

func TestWriter_StatusLines(t *testing.T) {
	// Given: a plain writer with a buffer
	buf := &bytes.Buffer{}
	w := plain(buf)

	// When: printing each kind of status
	w.Status("", "indented")
	w.Successf("Indexed %d", 3)
	w.Warning("Embedder not available")
	w.Error("Failed to connect")

	// Then: each line carries its icon and message
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "   indented", lines[0])
	assert.Equal(t, "✓ Indexed 3", lines[1])
	assert.Equal(t, "! Embedder not available", lines[2])
	assert.Equal(t, "✗ Failed to connect", lines[3])
}

func TestNew_NonTerminalHasNoColor(t *testing.T) {
	w := New(&bytes.Buffer{})
	assert.False(t, w.useColor)
	assert.Equal(t, FormatText, w.Format())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, " JSON ": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := plain(buf)

	w.Progress(1, 2, "embedding")
	w.Progress(2, 2, "embedding")
	w.Progress(1, 0, "ignored")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "50% embedding")
	assert.Contains(t, lines[1], "100% embedding")
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		current, total int
		want           string
	}{
		{0, 4, "░░░░"},
		{2, 4, "██░░"},
		{4, 4, "████"},
		{9, 4, "████"},
		{1, 0, "░░░░"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, renderProgressBar(tt.current, tt.total, 4))
	}
}

// =============================================================================
// Reports
// =============================================================================

func sampleResponse() *search.Response {
	cand := fusion.Candidate{
		ResourceID: "B", Score: 0.5/62 + 0.5/61, FusedScore: 0.5/62 + 0.5/61, Rank: 1,
		Contributions: map[fusion.Method]fusion.Contribution{
			fusion.Lexical: {Rank: 2, Weight: 0.5},
			fusion.Dense:   {Rank: 1, Weight: 0.5},
		},
	}
	return &search.Response{
		Query:   "rank fusion",
		Results: []search.Result{{Candidate: cand, Metadata: &search.Metadata{Title: "Fusion primer"}}},
		Total:   3,
		LatencyMS: map[string]float64{
			search.StageTotal: 4.2,
		},
		Methods: map[fusion.Method]search.MethodReport{
			fusion.Lexical: {Status: retrieval.StatusOK, Count: 2, LatencyMS: 1},
			fusion.Dense:   {Status: retrieval.StatusTimeout},
		},
		WeightsUsed: fusion.Weights{Lexical: 0.5, Dense: 0.5},
		Rerank:      rerank.Skipped(true, rerank.ReasonBudgetExceeded),
		Facets:      facet.Facets{facet.Type: {{Key: "article", Count: 1}}},
		Warnings:    []string{"metadata unavailable: closed"},
	}
}

func TestWriter_SearchText(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Search(sampleResponse()))

	out := buf.String()
	assert.Contains(t, out, `"rank fusion"`)
	assert.Contains(t, out, "1 of 3 results in 4.2ms")
	assert.Contains(t, out, "Fusion primer")
	assert.Contains(t, out, "lexical#2 dense#1")
	assert.Contains(t, out, "lexical ok 2 in 1.0ms, dense timeout")
	assert.Contains(t, out, "skipped ("+rerank.ReasonBudgetExceeded+")")
	assert.Contains(t, out, "type=article(1)")
	assert.Contains(t, out, "! metadata unavailable: closed")
}

func TestWriter_SearchJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithOptions(buf, FormatJSON, false)
	require.NoError(t, w.Search(sampleResponse()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "rank fusion", decoded["query"])
	assert.EqualValues(t, 3, decoded["total"])
}

func TestWriter_Comparison(t *testing.T) {
	cmp := &search.Comparison{
		Query: "q", Limit: 2, LatencyMS: 3,
		Methods: []search.MethodSet{
			{Method: fusion.Lexical, Status: retrieval.StatusOK, Candidates: []retrieval.Candidate{{ResourceID: "A"}, {ResourceID: "B"}}},
			{Method: fusion.Dense, Status: retrieval.StatusError, Error: "offline"},
		},
		Combinations: []search.CombinationSet{
			{Name: "lexical+dense", Candidates: []*fusion.Candidate{{ResourceID: "A"}}},
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Comparison(cmp))

	out := buf.String()
	assert.Contains(t, out, "A B")
	assert.Contains(t, out, "lexical+dense")
	assert.Contains(t, out, "! dense: offline")
}

func TestWriter_Evaluation(t *testing.T) {
	r := &eval.Report{
		Query: "q", K: 3, NDCG: 0.9, Recall: 1, Precision: 2.0 / 3, MRR: 1, Judged: 3, Relevant: 2,
		Ranking:  []eval.RankedItem{{ResourceID: "X", Rank: 1, Grade: 3}},
		Baseline: &eval.Baseline{Methods: []fusion.Method{fusion.Lexical, fusion.Dense}, NDCG: 0.8, Delta: 0.1},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Evaluation(r))

	out := buf.String()
	assert.Contains(t, out, "k=3, 3 judged, 2 relevant")
	assert.Contains(t, out, "0.6667")
	assert.Contains(t, out, "lexical+dense ndcg=0.8000 delta=+0.1000")
}

func TestWriter_EvaluationNoJudgments(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Evaluation(&eval.Report{Query: "q", NoJudgments: true}))
	assert.Contains(t, buf.String(), "no judgments")
}

func TestWriter_Suite(t *testing.T) {
	s := &eval.SuiteReport{
		Name:      "smoke",
		Reports:   []*eval.Report{{ID: "q1", NDCG: 1}, {ID: "q2", NoJudgments: true}},
		Failures:  []eval.Failure{{Index: 2, Error: "[ERR_407_INVALID_GRADE] bad"}},
		Evaluated: 1,
		Mean:      eval.Means{NDCG: 1},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Suite(s))

	out := buf.String()
	assert.Contains(t, out, "1 evaluated, 1 failed")
	assert.Contains(t, out, "mean")
	assert.Contains(t, out, "✗ #2: [ERR_407_INVALID_GRADE] bad")
}

func TestWriter_Index(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, plain(buf).Index(&corpus.Result{Resources: 3, Batches: 1, Duration: 1500 * time.Microsecond, Warnings: []string{"resource x has no indexable text"}}))

	assert.Contains(t, buf.String(), "Indexed 3 resources in 1 batches (2ms)")
	assert.Contains(t, buf.String(), "no indexable text")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
}

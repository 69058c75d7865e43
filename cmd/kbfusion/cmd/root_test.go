package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbfusion/internal/config"
	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/pkg/version"
)

const sampleCorpus = `{"id": "r1", "title": "Reciprocal rank fusion", "text": "RRF sums weight over k plus rank.", "classification": "004", "type": "article", "language": "en", "quality_score": 0.9}
{"id": "r2", "title": "Dense retrieval with HNSW", "text": "Navigable small world graphs index embeddings.", "classification": "004", "type": "paper", "language": "en"}
{"id": "r3", "title": "Sparse vectors", "text": "Sparse encoders keep exact term signal.", "classification": "006", "type": "article", "language": "de"}
`

// newProject isolates HOME (logs, user config) and returns a project
// directory holding corpus.jsonl.
func newProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.jsonl"), []byte(sampleCorpus), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func indexProject(t *testing.T, dir string) {
	t.Helper()
	out, err := execute(t, "index", filepath.Join(dir, "corpus.jsonl"), "--dir", dir)
	require.NoError(t, err, out)
}

// =============================================================================
// Root
// =============================================================================

func TestRootCmd_ShowsHelp(t *testing.T) {
	newProject(t)

	out, err := execute(t, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"search", "compare", "evaluate", "index", "serve", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_RejectsUnknownFormat(t *testing.T) {
	newProject(t)

	_, err := execute(t, "version", "--format", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestVersionCmd(t *testing.T) {
	newProject(t)

	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

// =============================================================================
// index + search
// =============================================================================

type searchJSON struct {
	Total   int `json:"total"`
	Results []struct {
		ResourceID string `json:"resource_id"`
		Rank       int    `json:"rank"`
		Metadata   *struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"results"`
	WeightsUsed fusion.Weights `json:"weights_used"`
}

func TestIndexThenSearch(t *testing.T) {
	// Given: an indexed project
	dir := newProject(t)

	out, err := execute(t, "index", filepath.Join(dir, "corpus.jsonl"), "--dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Indexed 3 resources")
	assert.DirExists(t, filepath.Join(dir, ".kbfusion", "lexical.bleve"))

	// When: I search for a term only r1 contains
	out, err = execute(t, "search", "fusion", "--dir", dir, "--format", "json")
	require.NoError(t, err, out)

	// Then: r1 is first, with its metadata
	var resp searchJSON
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ResourceID)
	require.NotNil(t, resp.Results[0].Metadata)
	assert.Equal(t, "Reciprocal rank fusion", resp.Results[0].Metadata.Title)
}

func TestSearch_TextOutput(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	out, err := execute(t, "search", "sparse", "vectors", "--dir", dir, "--limit", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "r3")
}

func TestSearch_ExplicitWeights(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	out, err := execute(t, "search", "fusion", "--dir", dir, "--format", "json", "--weights", "lexical=1")
	require.NoError(t, err, out)

	var resp searchJSON
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.InDelta(t, 1.0, resp.WeightsUsed.Lexical, 1e-12)
}

func TestSearch_NoIndex(t *testing.T) {
	dir := newProject(t)

	_, err := execute(t, "search", "fusion", "--dir", dir)

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeIndexNotFound, kberrors.GetCode(err))
}

func TestSearch_InvalidWeights(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	_, err := execute(t, "search", "fusion", "--dir", dir, "--weights", "lexical=-1")
	assert.Equal(t, kberrors.ErrCodeInvalidWeights, kberrors.GetCode(err))
}

func TestIndex_DimensionChangeNeedsForce(t *testing.T) {
	// Given: an index built with the default dimensions
	dir := newProject(t)
	indexProject(t, dir)

	// When: the project config changes embeddings.dimensions
	cfg := "embeddings:\n  dimensions: 64\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigName), []byte(cfg), 0o644))

	// Then: search refuses the old index
	_, err := execute(t, "search", "fusion", "--dir", dir)
	assert.Equal(t, kberrors.ErrCodeCorruptIndex, kberrors.GetCode(err))

	// and a forced rebuild fixes it
	out, err := execute(t, "index", filepath.Join(dir, "corpus.jsonl"), "--dir", dir, "--force")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Cleared existing index data")

	_, err = execute(t, "search", "fusion", "--dir", dir)
	assert.NoError(t, err)
}

func TestIndex_MalformedCorpus(t *testing.T) {
	dir := newProject(t)
	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": "a", "text": "x"}`+"\n{not json\n"), 0o644))

	_, err := execute(t, "index", bad, "--dir", dir)
	assert.Equal(t, kberrors.ErrCodeCorpusMalformed, kberrors.GetCode(err))
}

func TestIndex_JSONOutput(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "index", filepath.Join(dir, "corpus.jsonl"), "--dir", dir, "--format", "json")
	require.NoError(t, err)

	// no progress lines mixed into the JSON
	var result struct {
		Resources int `json:"resources"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Resources)
}

// =============================================================================
// compare + evaluate
// =============================================================================

func TestCompareCmd(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	out, err := execute(t, "compare", "fusion", "--dir", dir, "--format", "json", "--limit", "2")
	require.NoError(t, err, out)

	var cmp struct {
		Methods      []map[string]any `json:"methods"`
		Combinations []struct {
			Name string `json:"name"`
		} `json:"combinations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Len(t, cmp.Methods, 3)
	require.Len(t, cmp.Combinations, 4)
	assert.Equal(t, "lexical+dense", cmp.Combinations[0].Name)
}

func TestEvaluateCmd_InlineJudgments(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	out, err := execute(t, "evaluate", "--dir", dir, "--format", "json",
		"--query", "fusion", "--judge", "r1=3", "--judge", "r2=0", "--k", "3")
	require.NoError(t, err, out)

	var report struct {
		NDCG float64 `json:"ndcg"`
		MRR  float64 `json:"mrr"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDelta(t, 1.0, report.NDCG, 1e-12)
	assert.InDelta(t, 1.0, report.MRR, 1e-12)
}

func TestEvaluateCmd_Suite(t *testing.T) {
	dir := newProject(t)
	indexProject(t, dir)

	suite := `name: smoke
k: 3
queries:
  - id: q1
    query: fusion
    judgments: {r1: 3}
  - id: q2
    query: sparse vectors
    judgments: {r3: 2, r1: 0}
`
	path := filepath.Join(dir, "judgments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o644))

	out, err := execute(t, "evaluate", "--dir", dir, "--judgments", path, "--format", "json")
	require.NoError(t, err, out)

	var report struct {
		Name      string `json:"name"`
		Evaluated int    `json:"evaluated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "smoke", report.Name)
	assert.Equal(t, 2, report.Evaluated)
}

func TestEvaluateCmd_RequiresInput(t *testing.T) {
	dir := newProject(t)

	_, err := execute(t, "evaluate", "--dir", dir)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))

	_, err = execute(t, "evaluate", "--dir", dir, "--query", "q", "--judge", "r1=x")
	assert.Equal(t, kberrors.ErrCodeInvalidGrade, kberrors.GetCode(err))
}

// =============================================================================
// Flag parsing
// =============================================================================

func TestParseWeights(t *testing.T) {
	tests := []struct {
		in      string
		want    fusion.Weights
		wantErr bool
	}{
		{"lexical=0.5,dense=0.5", fusion.Weights{Lexical: 0.5, Dense: 0.5}, false},
		{" Sparse = 1 ", fusion.Weights{Sparse: 1}, false},
		{"lexical=1,", fusion.Weights{Lexical: 1}, false},
		{"lexical", fusion.Weights{}, true},
		{"bm25=1", fusion.Weights{}, true},
		{"dense=lots", fusion.Weights{}, true},
		{"lexical=NaN,dense=1", fusion.Weights{}, true},
		{"dense=Inf", fusion.Weights{}, true},
		{"sparse=-Inf", fusion.Weights{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWeights(tt.in)
			if tt.wantErr {
				assert.Equal(t, kberrors.ErrCodeInvalidWeights, kberrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJudgments(t *testing.T) {
	got, err := parseJudgments([]string{"r1=3", " r2 = 0", "r1=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 2, "r2": 0}, got)

	_, err = parseJudgments([]string{"=3"})
	assert.Error(t, err)
}

// =============================================================================
// config
// =============================================================================

func TestConfigInit_WritesLoadableTemplate(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "config", "init", "--dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created project configuration")

	path := filepath.Join(dir, config.ProjectConfigName)
	require.FileExists(t, path)

	// the template parses and validates, and matches the defaults
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Search, cfg.Search)

	// a second init leaves the file alone
	out, err = execute(t, "config", "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigInit_ForceKeepsBackup(t *testing.T) {
	dir := newProject(t)
	path := filepath.Join(dir, config.ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("search:\n  rrf_constant: 30\n"), 0o644))

	_, err := execute(t, "config", "init", "--dir", dir, "--force", "--resolved")
	require.NoError(t, err)

	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	// --resolved kept the effective value
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
}

func TestConfigShow(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "config", "show", "--dir", dir, "--source", "defaults")
	require.NoError(t, err)
	assert.Contains(t, out, "rrf_constant: 60")

	out, err = execute(t, "config", "show", "--dir", dir, "--format", "json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 60, cfg.Search.RRFConstant)

	_, err = execute(t, "config", "show", "--dir", dir, "--source", "nope")
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "config", "path", "--dir", dir)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "(not created)"), out)
}

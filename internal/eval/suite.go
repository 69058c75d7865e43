package eval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
)

// Suite is a named set of evaluation requests, loaded from a judgment file.
type Suite struct {
	Name string `json:"name" yaml:"name"`
	// K and EnableReranking apply to queries that do not set their own.
	K               int       `json:"k,omitempty" yaml:"k,omitempty"`
	EnableReranking bool      `json:"enable_reranking,omitempty" yaml:"enable_reranking,omitempty"`
	Queries         []Request `json:"queries" yaml:"queries"`
}

// Means are macro averages over the evaluated queries.
type Means struct {
	NDCG         float64 `json:"ndcg"`
	Recall       float64 `json:"recall"`
	Precision    float64 `json:"precision"`
	MRR          float64 `json:"mrr"`
	BaselineNDCG float64 `json:"baseline_ndcg"`
	Delta        float64 `json:"delta"`
}

// Failure records a query that could not be evaluated.
type Failure struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// SuiteReport holds per-query reports and their means. Queries flagged
// NoJudgments are reported but left out of the means.
type SuiteReport struct {
	Name     string    `json:"name"`
	Reports  []*Report `json:"reports"`
	Failures []Failure `json:"failures,omitempty"`

	Evaluated int   `json:"evaluated"`
	Mean      Means `json:"mean"`
}

// LoadSuite reads a judgment file. ".jsonl" files hold one Request per
// line; ".yaml", ".yml" and ".json" files hold a Suite. The suite name
// defaults to the file name.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "judgment file not found: "+path, err)
		}
		return nil, kberrors.StoreError("failed to read judgment file", err)
	}

	var suite Suite
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		suite.Queries, err = parseJSONL(data)
	case ".yaml", ".yml", ".json":
		// yaml.v3 also accepts JSON documents.
		err = yaml.Unmarshal(data, &suite)
	default:
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported judgment file %q", filepath.Base(path)), nil).
			WithSuggestion("use .yaml, .yml, .json or .jsonl")
	}
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput, "failed to parse judgment file "+filepath.Base(path), err)
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &suite, nil
}

func parseJSONL(data []byte) ([]Request, error) {
	var out []Request
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var req Request
		if err := json.Unmarshal(text, &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	return out, sc.Err()
}

// EvaluateSuite evaluates every query of suite in order. A query that fails
// validation or ranking is recorded in Failures and does not stop the run;
// a cancelled ctx does.
func (e *Evaluator) EvaluateSuite(ctx context.Context, suite *Suite) (*SuiteReport, error) {
	out := &SuiteReport{Name: suite.Name, Reports: make([]*Report, 0, len(suite.Queries))}

	for i, req := range suite.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.K == 0 {
			req.K = suite.K
		}
		req.EnableReranking = req.EnableReranking || suite.EnableReranking

		r, err := e.Evaluate(ctx, req)
		if err != nil {
			out.Failures = append(out.Failures, Failure{
				Index: i,
				ID:    req.ID,
				Query: req.Query,
				Code:  kberrors.GetCode(err),
				Error: err.Error(),
			})
			continue
		}
		out.Reports = append(out.Reports, r)
		if r.NoJudgments {
			continue
		}

		out.Evaluated++
		out.Mean.NDCG += r.NDCG
		out.Mean.Recall += r.Recall
		out.Mean.Precision += r.Precision
		out.Mean.MRR += r.MRR
		if r.Baseline != nil {
			out.Mean.BaselineNDCG += r.Baseline.NDCG
			out.Mean.Delta += r.Baseline.Delta
		}
	}

	if n := float64(out.Evaluated); n > 0 {
		out.Mean.NDCG /= n
		out.Mean.Recall /= n
		out.Mean.Precision /= n
		out.Mean.MRR /= n
		out.Mean.BaselineNDCG /= n
		out.Mean.Delta /= n
	}
	return out, nil
}

package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Aman-CERP/kbfusion/internal/config"
	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/search"
	"github.com/Aman-CERP/kbfusion/internal/telemetry"
)

// DefaultK is the metric cutoff when neither request nor config sets one.
const DefaultK = 10

// DefaultBaselineMethods is the two-method baseline.
var DefaultBaselineMethods = []fusion.Method{fusion.Lexical, fusion.Dense}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request asks for one query to be ranked and scored.
type Request struct {
	// ID labels the query in suite reports.
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Query string `json:"query" yaml:"query" validate:"required"`

	Judgments map[string]int `json:"judgments" yaml:"judgments" validate:"dive,keys,required,endkeys,min=0,max=3"`

	// K overrides the configured cutoff when positive.
	K               int  `json:"k,omitempty" yaml:"k,omitempty" validate:"gte=0"`
	EnableReranking bool `json:"enable_reranking,omitempty" yaml:"enable_reranking,omitempty"`
}

// Baseline reports the nDCG of the reduced-method fusion.
type Baseline struct {
	Methods []fusion.Method `json:"methods"`
	NDCG    float64         `json:"ndcg"`
	// Delta is the fused nDCG minus the baseline nDCG.
	Delta float64 `json:"delta"`
}

// RankedItem is one position of the evaluated ranking.
type RankedItem struct {
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
	Grade      int     `json:"grade"`
}

// Report holds the metrics for one query. All metrics are in [0,1].
type Report struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
	K     int    `json:"k"`

	NDCG      float64 `json:"ndcg"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	MRR       float64 `json:"mrr"`

	// NoJudgments marks an empty judgment set: the zero metrics carry no
	// information. NoRelevant marks judgments with no grade above 0.
	NoJudgments bool `json:"no_judgments,omitempty"`
	NoRelevant  bool `json:"no_relevant,omitempty"`

	Judged   int `json:"judged"`
	Relevant int `json:"relevant"`

	// Ranking is the top K of the evaluated ranking.
	Ranking  []RankedItem   `json:"ranking"`
	Baseline *Baseline      `json:"baseline,omitempty"`
	Rerank   rerank.Outcome `json:"rerank"`

	WeightsUsed fusion.Weights     `json:"weights_used"`
	LatencyMS   map[string]float64 `json:"latency_ms,omitempty"`
}

// Ranker produces rankings and baselines. *search.Engine implements it.
type Ranker interface {
	Rank(ctx context.Context, text string, opts search.RankOptions) (*search.Ranking, error)
	Baseline(r *search.Ranking, methods []fusion.Method) *fusion.Result
}

// Config configures an Evaluator.
type Config struct {
	K                    int
	BaselineMethods      []fusion.Method
	RejectEmptyJudgments bool
}

// DefaultConfig returns the stock evaluator configuration.
func DefaultConfig() Config {
	return Config{K: DefaultK, BaselineMethods: DefaultBaselineMethods}
}

// FromConfig maps the application configuration onto evaluator settings.
func FromConfig(c *config.Config) (Config, error) {
	out := DefaultConfig()
	if c == nil {
		return out, nil
	}
	if c.Evaluation.K > 0 {
		out.K = c.Evaluation.K
	}
	if len(c.Evaluation.BaselineMethods) > 0 {
		methods, err := fusion.ParseMethods(c.Evaluation.BaselineMethods)
		if err != nil {
			return out, err
		}
		out.BaselineMethods = methods
	}
	out.RejectEmptyJudgments = c.Evaluation.RejectEmptyJudgments
	return out, nil
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMetrics counts completed evaluations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// WithLogger sets the evaluator logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// Evaluator scores live rankings. Safe for concurrent use.
type Evaluator struct {
	ranker  Ranker
	cfg     Config
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New creates an evaluator over ranker.
func New(ranker Ranker, cfg Config, opts ...Option) (*Evaluator, error) {
	if ranker == nil {
		return nil, fmt.Errorf("%w: ranker is required", search.ErrNilDependency)
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if len(cfg.BaselineMethods) == 0 {
		cfg.BaselineMethods = DefaultBaselineMethods
	}
	e := &Evaluator{ranker: ranker, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate ranks req.Query through the engine's live path (fusion and,
// when enabled, reranking) and scores the result. It also scores the
// baseline fusion of the same method outputs.
//
// An empty judgment set returns zero metrics with NoJudgments set, or a
// validation error when empty judgments are rejected by configuration.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	k := e.k(req)

	if len(req.Judgments) == 0 {
		if e.cfg.RejectEmptyJudgments {
			return nil, kberrors.New(kberrors.ErrCodeNoJudgments, "judgment set is empty", nil).
				WithSuggestion("grade at least one resource from 0 to 3")
		}
		return &Report{ID: req.ID, Query: req.Query, K: k, NoJudgments: true, Ranking: []RankedItem{}}, nil
	}

	ranking, err := e.ranker.Rank(ctx, req.Query, search.RankOptions{
		EnableReranking: req.EnableReranking,
	})
	if err != nil {
		return nil, err
	}

	report, err := score(ranking.Candidates, req.Judgments, k)
	if err != nil {
		return nil, err
	}
	report.ID = req.ID
	report.Query = req.Query
	report.Rerank = ranking.Rerank
	report.WeightsUsed = ranking.WeightsUsed
	report.LatencyMS = ranking.LatencyMS

	base := e.ranker.Baseline(ranking, e.cfg.BaselineMethods)
	if base == nil {
		return nil, kberrors.New(kberrors.ErrCodeEvalFailed, "baseline fusion returned no result", nil)
	}
	baseNDCG := NDCGAtK(candidateIDs(base.Candidates), req.Judgments, k)
	report.Baseline = &Baseline{
		Methods: e.cfg.BaselineMethods,
		NDCG:    baseNDCG,
		Delta:   report.NDCG - baseNDCG,
	}
	if err := report.checkBounds(); err != nil {
		return nil, err
	}

	e.metrics.ObserveEvaluation()
	e.logger.Info("evaluation_complete",
		slog.String("query", req.Query),
		slog.Int("k", k),
		slog.Float64("ndcg", report.NDCG),
		slog.Float64("baseline_ndcg", baseNDCG),
		slog.Duration("latency", time.Since(start)))
	return report, nil
}

// EvaluateRanking scores a stored ranking (resource IDs, best first)
// without running a search. No baseline is computed.
func EvaluateRanking(ranking []string, judgments map[string]int, k int) (*Report, error) {
	if err := validateJudgments(judgments); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultK
	}
	if len(judgments) == 0 {
		return &Report{K: k, NoJudgments: true, Ranking: []RankedItem{}}, nil
	}

	cands := make([]*fusion.Candidate, len(ranking))
	for i, id := range ranking {
		cands[i] = &fusion.Candidate{ResourceID: id, Rank: i + 1}
	}
	return score(cands, judgments, k)
}

func (e *Evaluator) k(req Request) int {
	if req.K > 0 {
		return req.K
	}
	return e.cfg.K
}

func score(cands []*fusion.Candidate, judgments map[string]int, k int) (*Report, error) {
	j := Judgments(judgments)
	ids := candidateIDs(cands)

	r := &Report{
		K:         k,
		NDCG:      NDCGAtK(ids, j, k),
		Recall:    RecallAtK(ids, j, k),
		Precision: PrecisionAtK(ids, j, k),
		MRR:       MRR(ids, j),
		Judged:    len(j),
		Relevant:  j.Relevant(),
	}
	r.NoRelevant = r.Relevant == 0

	head := top(cands, k)
	r.Ranking = make([]RankedItem, len(head))
	for i, c := range head {
		r.Ranking[i] = RankedItem{ResourceID: c.ResourceID, Rank: i + 1, Score: c.Score, Grade: j[c.ResourceID]}
	}

	if err := r.checkBounds(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkBounds guards against metric defects.
func (r *Report) checkBounds() error {
	for name, v := range map[string]float64{
		"ndcg": r.NDCG, "recall": r.Recall, "precision": r.Precision, "mrr": r.MRR,
	} {
		if v < 0 || v > 1 {
			return kberrors.InternalError(fmt.Sprintf("%s=%g is outside [0,1]", name, v), nil)
		}
	}
	if r.Baseline != nil && (r.Baseline.NDCG < 0 || r.Baseline.NDCG > 1) {
		return kberrors.InternalError(fmt.Sprintf("baseline ndcg=%g is outside [0,1]", r.Baseline.NDCG), nil)
	}
	return nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return kberrors.New(kberrors.ErrCodeQueryEmpty, "evaluation query text is required", nil)
	}
	if err := validate.Struct(req); err != nil {
		return describe(err)
	}
	return nil
}

func validateJudgments(judgments map[string]int) error {
	return validateRequest(Request{Query: "-", Judgments: judgments})
}

// describe turns validator errors into a validation KBError. Grade range
// failures get their own code.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return kberrors.ValidationError("evaluation request could not be validated", err)
	}

	fe := verrs[0]
	switch {
	case strings.HasPrefix(fe.Field(), "Judgments[") && (fe.Tag() == "min" || fe.Tag() == "max"):
		return kberrors.New(kberrors.ErrCodeInvalidGrade,
			fmt.Sprintf("judgment %s has grade %v; grades must be 0..3", strings.TrimPrefix(fe.Field(), "Judgments"), fe.Value()), verrs).
			WithSuggestion("use 0 (not relevant) to 3 (highly relevant)")
	case fe.Field() == "Query":
		return kberrors.New(kberrors.ErrCodeQueryEmpty, "evaluation query text is required", verrs)
	default:
		return kberrors.ValidationError(
			fmt.Sprintf("invalid %s (%s %s)", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()), verrs)
	}
}

func candidateIDs(cands []*fusion.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ResourceID
	}
	return ids
}

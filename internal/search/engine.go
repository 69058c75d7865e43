// Package search orchestrates fused retrieval: it characterizes the query,
// fans out to the retrieval adapters, fuses their lists with weighted RRF,
// optionally reranks the head of the ranking, and attaches metadata and
// facets to the returned page.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/facet"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/query"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/store"
	"github.com/Aman-CERP/kbfusion/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Option configures the engine.
type Option func(*Engine)

// WithReranker sets the reranker used when a request enables reranking.
func WithReranker(r rerank.Reranker) Option {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithBreakers guards every adapter call with a per-method circuit breaker.
func WithBreakers(b *kberrors.Breakers) Option {
	return func(e *Engine) {
		e.breakers = b
	}
}

// WithMetrics records request, stage and method outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// settings is the swappable part of the engine. A request loads it once
// and uses that snapshot throughout.
type settings struct {
	cfg           Config
	characterizer *query.Characterizer
	fuser         *fusion.RRF
}

func newSettings(cfg Config) *settings {
	cfg = cfg.normalize()
	return &settings{
		cfg:           cfg,
		characterizer: query.New(cfg.Characterizer),
		fuser:         fusion.New(cfg.RRFConstant),
	}
}

// Engine runs fused searches. Safe for concurrent use.
type Engine struct {
	adapters map[fusion.Method]retrieval.Adapter
	metadata store.MetadataStore
	reranker rerank.Reranker
	breakers *kberrors.Breakers
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	current atomic.Pointer[settings]
}

// New creates an engine over adapters (at most one per method) and the
// metadata store used to decorate results.
func New(adapters []retrieval.Adapter, metadata store.MetadataStore, cfg Config, opts ...Option) (*Engine, error) {
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: at least one retrieval adapter is required", ErrNilDependency)
	}

	e := &Engine{
		adapters: make(map[fusion.Method]retrieval.Adapter, len(adapters)),
		metadata: metadata,
		logger:   slog.Default(),
	}
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("%w: retrieval adapter is nil", ErrNilDependency)
		}
		m := a.Method()
		if _, dup := e.adapters[m]; dup {
			return nil, fmt.Errorf("duplicate adapter for method %s", m)
		}
		e.adapters[m] = a
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(newSettings(cfg))
	return e, nil
}

// Reconfigure atomically replaces the engine settings. Requests in flight
// finish with the settings they started with.
func (e *Engine) Reconfigure(cfg Config) {
	e.current.Store(newSettings(cfg))
	e.logger.Info("engine_reconfigured",
		slog.String("default_weights", e.current.Load().characterizer.Defaults().String()))
}

// Config returns the active settings.
func (e *Engine) Config() Config {
	return e.current.Load().cfg
}

// Methods returns the methods that have an adapter and are not disabled,
// in canonical order.
func (e *Engine) Methods() []fusion.Method {
	s := e.current.Load()
	out := make([]fusion.Method, 0, len(e.adapters))
	for _, m := range fusion.AllMethods {
		if _, ok := e.adapters[m]; ok && !s.cfg.Disabled[m] {
			out = append(out, m)
		}
	}
	return out
}

// Search runs a fused search and returns one page of results.
//
// Method failures never fail the request: a method that errors, times out
// or is short-circuited contributes nothing and is reported in
// Response.Methods. When every method fails the response is empty.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	s := e.current.Load()

	q, err := validateQuery(q, s.cfg)
	if err != nil {
		e.metrics.ObserveSearch(telemetry.OutcomeInvalid, nil)
		return nil, err
	}

	ranking, err := e.rank(ctx, s, q.Text, RankOptions{
		EnableReranking: q.EnableReranking,
		Weights:         q.Weights,
		Adaptive:        q.AdaptiveWeighting,
	})
	if err != nil {
		e.metrics.ObserveSearch(telemetry.OutcomeError, nil)
		return nil, err
	}

	resp := &Response{
		RequestID:           uuid.NewString(),
		Query:               q.Text,
		Total:               len(ranking.Candidates),
		LatencyMS:           ranking.LatencyMS,
		MethodContributions: make(map[string]map[fusion.Method]fusion.Contribution),
		Methods:             make(map[fusion.Method]MethodReport, len(ranking.Outcomes)),
		WeightsUsed:         ranking.WeightsUsed,
		WeightsRequested:    ranking.Requested,
		Adaptive:            ranking.Profile,
		Rerank:              ranking.Rerank,
		Warnings:            ranking.Warnings,
	}
	for m, o := range ranking.Outcomes {
		resp.Methods[m] = reportFor(o)
	}

	page := paginate(ranking.Candidates, q.Offset, q.Limit)

	metaStart := time.Now()
	resources, err := e.lookup(ctx, page)
	if err != nil {
		e.logger.Warn("metadata_degraded",
			slog.Int("results", len(page)),
			slog.String("error", err.Error()))
		resp.Warnings = append(resp.Warnings, "metadata unavailable: "+err.Error())
		resources = nil
	}
	resp.LatencyMS[StageMetadata] = ms(time.Since(metaStart))

	resp.Results = make([]Result, len(page))
	found := make([]*store.Resource, 0, len(page))
	for i, c := range page {
		r := resources[c.ResourceID]
		resp.Results[i] = Result{Candidate: *c, Metadata: metadataFrom(r)}
		resp.MethodContributions[c.ResourceID] = c.Contributions
		if r != nil {
			found = append(found, r)
		}
	}

	facetStart := time.Now()
	resp.Facets = facet.Aggregate(found)
	resp.LatencyMS[StageFacets] = ms(time.Since(facetStart))
	resp.LatencyMS[StageTotal] = ms(time.Since(start))

	outcome := telemetry.OutcomeOK
	if resp.Total == 0 {
		outcome = telemetry.OutcomeEmpty
	}
	e.metrics.ObserveSearch(outcome, resp.LatencyMS)

	e.logger.Info("search_complete",
		slog.String("request_id", resp.RequestID),
		slog.Int("results", len(resp.Results)),
		slog.Int("total", resp.Total),
		slog.Bool("reranked", resp.Rerank.Applied),
		slog.Float64("latency_ms", resp.LatencyMS[StageTotal]))

	return resp, nil
}

// Rank returns the full fused ranking for text without paging or metadata.
// The evaluator uses it so that it scores exactly what Search would rank.
func (e *Engine) Rank(ctx context.Context, text string, opts RankOptions) (*Ranking, error) {
	s := e.current.Load()

	q, err := validateQuery(Query{Text: text, Weights: opts.Weights}, s.cfg)
	if err != nil {
		return nil, err
	}
	return e.rank(ctx, s, q.Text, opts)
}

// Baseline re-fuses the per-method lists of r restricted to methods, using
// the weights r was requested with. No adapter is called again.
func (e *Engine) Baseline(r *Ranking, methods []fusion.Method) *fusion.Result {
	s := e.current.Load()
	return s.fuser.Fuse(fusion.Restrict(r.Lists, methods...), r.Requested.Only(methods...))
}

// rank is the pipeline shared by Search, Rank and evaluation: weights,
// parallel retrieval, fusion and the optional rerank stage, all within the
// request budget. Every method is asked for the same configured depth, so
// the ranking does not depend on the page a caller asks for.
func (e *Engine) rank(ctx context.Context, s *settings, text string, opts RankOptions) (*Ranking, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestBudget)
	defer cancel()

	latency := make(map[string]float64, 10)

	charStart := time.Now()
	requested, profile := s.resolveWeights(text, opts.Weights, opts.Adaptive || s.cfg.AdaptiveByDefault)
	latency[StageCharacterize] = ms(time.Since(charStart))

	methods := opts.Methods
	if len(methods) == 0 {
		methods = fusion.AllMethods
	}

	retrievalStart := time.Now()
	outcomes := e.retrieve(budgetCtx, s, text, methods, s.cfg.RetrievalDepth())
	latency[StageRetrieval] = ms(time.Since(retrievalStart))
	for m, o := range outcomes {
		latency[string(m)] = ms(o.Latency)
	}

	// A cancelled caller gets an error, not a ranking built from whatever
	// the adapters managed before the cancel.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lists := listsFrom(outcomes)
	fusionStart := time.Now()
	fused := s.fuser.Fuse(lists, requested)
	latency[StageFusion] = ms(time.Since(fusionStart))

	r := &Ranking{
		Query:       text,
		Candidates:  fused.Candidates,
		Outcomes:    outcomes,
		Lists:       lists,
		Requested:   fused.Requested,
		WeightsUsed: fused.WeightsUsed,
		Profile:     profile,
		LatencyMS:   latency,
	}

	rerankStart := time.Now()
	r.Candidates, r.Rerank, r.Warnings = e.rerank(budgetCtx, s, text, fused.Candidates, opts.EnableReranking)
	latency[StageRerank] = ms(time.Since(rerankStart))

	if r.Rerank.Applied {
		e.metrics.ObserveRerank("applied")
	} else if r.Rerank.Requested {
		e.metrics.ObserveRerank(r.Rerank.Reason)
	}
	return r, nil
}

// resolveWeights picks the request weights: explicit weights win, then the
// adaptive profile, then the configured defaults.
func (s *settings) resolveWeights(text string, explicit *fusion.Weights, adaptive bool) (fusion.Weights, *query.Profile) {
	if explicit != nil {
		return *explicit, nil
	}
	if adaptive {
		p := s.characterizer.Characterize(text)
		return p.Weights, &p
	}
	return s.characterizer.Defaults(), nil
}

// retrieve runs the adapters for methods in parallel. Each goroutine
// records its outcome and never fails the group, so this returns once the
// slowest method finishes or hits its timeout.
func (e *Engine) retrieve(ctx context.Context, s *settings, text string, methods []fusion.Method, depth int) map[fusion.Method]retrieval.Outcome {
	results := make([]retrieval.Outcome, len(methods))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range methods {
		a, ok := e.adapters[m]
		if !ok || s.cfg.Disabled[m] {
			results[i] = retrieval.Disabled(m)
			continue
		}
		timeout := s.cfg.MethodTimeouts[m]
		g.Go(func() error {
			results[i] = retrieval.Run(gctx, a, text, depth, timeout,
				retrieval.WithBreakers(e.breakers),
				retrieval.WithLogger(e.logger))
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[fusion.Method]retrieval.Outcome, len(results))
	for _, o := range results {
		out[o.Method] = o
		e.metrics.ObserveMethod(string(o.Method), string(o.Status))
	}
	return out
}

// rerank runs the rerank stage. It is skipped when not requested and when
// the request budget is already spent; otherwise the reranker's context is
// bounded by what remains of the budget.
func (e *Engine) rerank(ctx context.Context, s *settings, text string, cands []*fusion.Candidate, requested bool) ([]*fusion.Candidate, rerank.Outcome, []string) {
	if !requested {
		return cands, rerank.Skipped(false, ""), nil
	}
	if ctx.Err() != nil {
		e.logger.Warn("rerank_fallback",
			slog.String("reason", rerank.ReasonBudgetExceeded),
			slog.Int("candidates", len(cands)))
		return cands, rerank.Skipped(true, rerank.ReasonBudgetExceeded), nil
	}
	if e.reranker == nil || len(cands) == 0 {
		out, outcome := rerank.Apply(ctx, e.reranker, text, cands, nil, s.cfg.RerankCeiling)
		return out, outcome, nil
	}

	var warnings []string
	head := cands[:min(s.cfg.RerankCeiling, len(cands))]
	resources, err := e.lookup(ctx, head)
	if err != nil {
		// Rerank on IDs alone rather than give up the stage.
		e.logger.Warn("rerank_documents_unavailable", slog.String("error", err.Error()))
		warnings = append(warnings, "rerank documents unavailable: "+err.Error())
	}
	docs := make(map[string]rerank.Document, len(resources))
	for id, r := range resources {
		docs[id] = rerank.DocumentFrom(id, r)
	}

	out, outcome := rerank.Apply(ctx, e.reranker, text, cands, docs, s.cfg.RerankCeiling)
	if !outcome.Applied {
		attrs := []any{slog.String("reason", outcome.Reason), slog.Int("candidates", len(head))}
		if outcome.Error != "" {
			attrs = append(attrs, slog.String("error", outcome.Error))
		}
		e.logger.Warn("rerank_fallback", attrs...)
	}
	return out, outcome, warnings
}

func (e *Engine) lookup(ctx context.Context, cands []*fusion.Candidate) (map[string]*store.Resource, error) {
	if len(cands) == 0 {
		return map[string]*store.Resource{}, nil
	}
	return e.metadata.Get(ctx, candidateIDs(cands))
}

// validateQuery normalises q against cfg: trims the text, applies the
// default limit and clamps to the maximum.
func validateQuery(q Query, cfg Config) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, kberrors.New(kberrors.ErrCodeQueryEmpty, "query text is required", nil)
	}
	if n := utf8.RuneCountInString(q.Text); n > cfg.MaxQueryLength {
		return q, kberrors.New(kberrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, limit is %d", n, cfg.MaxQueryLength), nil).
			WithSuggestion("shorten the query")
	}
	if q.Limit < 0 {
		return q, kberrors.New(kberrors.ErrCodeInvalidQuery,
			fmt.Sprintf("limit must be non-negative, got %d", q.Limit), nil)
	}
	if q.Offset < 0 {
		return q, kberrors.New(kberrors.ErrCodeInvalidQuery,
			fmt.Sprintf("offset must be non-negative, got %d", q.Offset), nil)
	}
	if q.Limit == 0 {
		q.Limit = cfg.DefaultLimit
	}
	if q.Limit > cfg.MaxLimit {
		q.Limit = cfg.MaxLimit
	}
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return q, err
		}
	}
	return q, nil
}

func listsFrom(outcomes map[fusion.Method]retrieval.Outcome) map[fusion.Method][]fusion.Ranked {
	lists := make(map[fusion.Method][]fusion.Ranked, len(outcomes))
	for m, o := range outcomes {
		lists[m] = o.Ranked()
	}
	return lists
}

func reportFor(o retrieval.Outcome) MethodReport {
	r := MethodReport{
		Status:    o.Status,
		Count:     len(o.Candidates),
		LatencyMS: ms(o.Latency),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

func paginate(cands []*fusion.Candidate, offset, limit int) []*fusion.Candidate {
	if offset >= len(cands) {
		return []*fusion.Candidate{}
	}
	end := min(offset+limit, len(cands))
	return cands[offset:end]
}

func candidateIDs(cands []*fusion.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ResourceID
	}
	return ids
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

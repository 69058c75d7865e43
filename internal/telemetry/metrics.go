// Package telemetry exposes Prometheus metrics for search, reranking and
// evaluation. All collectors live on a private registry.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbfusion"

// Search outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// stageBuckets covers sub-millisecond fusion up to multi-second reranks.
var stageBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searches    *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	methods     *prometheus.CounterVec
	reranks     *prometheus.CounterVec
	evaluations prometheus.Counter
}

// New creates metrics on a fresh registry, with Go runtime and process
// collectors included.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "requests_total",
				Help:      "Search requests by outcome.",
			},
			[]string{"outcome"},
		),
		stages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each search stage.",
				Buckets:   stageBuckets,
			},
			[]string{"stage"},
		),
		methods: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "method",
				Name:      "outcomes_total",
				Help:      "Retrieval method runs by method and status.",
			},
			[]string{"method", "status"},
		),
		reranks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rerank",
				Name:      "outcomes_total",
				Help:      "Rerank stage outcomes (applied, or the fallback reason).",
			},
			[]string{"outcome"},
		),
		evaluations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Completed evaluations.",
			},
		),
	}

	registry.MustRegister(
		m.searches, m.stages, m.methods, m.reranks, m.evaluations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSearch records one search with its per-stage latencies in
// milliseconds.
func (m *Metrics) ObserveSearch(outcome string, latencyMS map[string]float64) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	for stage, ms := range latencyMS {
		m.stages.WithLabelValues(stage).Observe(ms / 1000)
	}
}

// ObserveMethod records one method run.
func (m *Metrics) ObserveMethod(method, status string) {
	if m == nil {
		return
	}
	m.methods.WithLabelValues(method, status).Inc()
}

// ObserveRerank records a rerank outcome.
func (m *Metrics) ObserveRerank(outcome string) {
	if m == nil {
		return
	}
	m.reranks.WithLabelValues(outcome).Inc()
}

// ObserveEvaluation counts a completed evaluation.
func (m *Metrics) ObserveEvaluation() {
	if m == nil {
		return
	}
	m.evaluations.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics_listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

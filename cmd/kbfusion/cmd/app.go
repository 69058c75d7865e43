package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/kbfusion/internal/config"
	"github.com/Aman-CERP/kbfusion/internal/corpus"
	"github.com/Aman-CERP/kbfusion/internal/embed"
	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/search"
	"github.com/Aman-CERP/kbfusion/internal/store"
	"github.com/Aman-CERP/kbfusion/internal/telemetry"
)

// app is the wired engine for one project: config, stores, encoders,
// search engine and evaluator.
type app struct {
	cfg     *config.Config
	root    string
	dataDir string

	stores    *corpus.Stores
	embedder  embed.Embedder
	encoder   embed.SparseEncoder
	reranker  rerank.Reranker
	metrics   *telemetry.Metrics
	engine    *search.Engine
	evaluator *eval.Evaluator
	logger    *slog.Logger
}

// loadConfig resolves the project root from --dir and loads its layered
// configuration. --data-dir overrides paths.data_dir.
func (g *globalOptions) loadConfig() (*config.Config, string, error) {
	root, err := config.FindProjectRoot(g.dir)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", kberrors.ConfigError("failed to load configuration", err).
			WithSuggestion("run 'kbfusion config show' to inspect the merged settings")
	}
	if g.dataDir != "" {
		cfg.Paths.DataDir = g.dataDir
	}
	return cfg, root, nil
}

// openApp builds the engine over an existing index.
func (g *globalOptions) openApp(ctx context.Context) (*app, error) {
	cfg, root, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	dataDir := cfg.ResolveDataDir(root)
	if _, err := os.Stat(filepath.Join(dataDir, corpus.DatabaseFile)); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeIndexNotFound, fmt.Sprintf("no index found in %s", dataDir), err).
			WithSuggestion("run 'kbfusion index <corpus.jsonl>' first")
	}
	return g.buildApp(ctx, cfg, root)
}

func (g *globalOptions) buildApp(ctx context.Context, cfg *config.Config, root string) (*app, error) {
	logger := g.logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, root: root, dataDir: cfg.ResolveDataDir(root), logger: logger}

	dims := cfg.Embeddings.Dimensions
	stores, err := corpus.OpenStores(ctx, a.dataDir, dims)
	if err != nil {
		var dimErr store.ErrDimensionMismatch
		if errors.As(err, &dimErr) {
			return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, err.Error(), err).
				WithSuggestion("set embeddings.dimensions to match the index, or run 'kbfusion index --force'")
		}
		return nil, err
	}
	a.stores = stores
	a.embedder = embed.NewCachedEmbedder(embed.NewHashEmbedder(dims), cfg.Embeddings.CacheSize)
	a.encoder = embed.NewTermEncoder()
	a.metrics = telemetry.New()

	breakers := kberrors.NewBreakers(kberrors.BreakerConfig{
		Enabled:      cfg.Resilience.IsBreakerEnabled(),
		FailureRatio: cfg.Resilience.BreakerFailureRatio,
		MinRequests:  cfg.Resilience.BreakerMinRequests,
		OpenTimeout:  cfg.Resilience.BreakerOpenTimeout,
	})

	retry := kberrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Resilience.RetryMaxAttempts
	if cfg.Resilience.RetryInitialBackoff > 0 {
		retry.InitialDelay = cfg.Resilience.RetryInitialBackoff
	}
	if cfg.Resilience.RetryMaxBackoff > 0 {
		retry.MaxDelay = cfg.Resilience.RetryMaxBackoff
	}

	a.reranker, err = rerank.New(cfg.Rerank.Provider, rerank.HTTPConfig{
		Endpoint:          cfg.Rerank.Endpoint,
		Model:             cfg.Rerank.Model,
		Timeout:           cfg.Rerank.Timeout,
		RequestsPerSecond: cfg.Rerank.RequestsPerSecond,
		Burst:             cfg.Rerank.Burst,
		Retry:             retry,
		Breakers:          breakers,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := []search.Option{
		search.WithBreakers(breakers),
		search.WithMetrics(a.metrics),
		search.WithLogger(logger),
	}
	if a.reranker != nil {
		opts = append(opts, search.WithReranker(a.reranker))
	}
	a.engine, err = search.New(stores.Adapters(a.embedder, a.encoder), stores.DB, search.FromConfig(cfg), opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	ecfg, err := eval.FromConfig(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.evaluator, err = eval.New(a.engine, ecfg, eval.WithMetrics(a.metrics), eval.WithLogger(logger))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Debug("app_ready",
		slog.String("data_dir", a.dataDir),
		slog.String("embedder", a.embedder.ModelName()),
		slog.String("rerank_provider", cfg.Rerank.Provider))
	return a, nil
}

// Close releases the reranker, embedder and stores.
func (a *app) Close() error {
	var errs []error
	if a.reranker != nil {
		errs = append(errs, a.reranker.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	return errors.Join(errs...)
}

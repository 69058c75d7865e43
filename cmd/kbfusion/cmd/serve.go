package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbfusion/internal/config"
	"github.com/Aman-CERP/kbfusion/internal/logging"
	"github.com/Aman-CERP/kbfusion/internal/mcp"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

var errServerStopped = errors.New("mcp server stopped")

type serveOptions struct {
	transport   string
	metricsAddr string
	noWatch     bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search, compare_methods and evaluate as MCP tools",
		Long: `Start the MCP server over stdio.

stdout carries JSON-RPC only; logs go to ~/.kbfusion/logs/server.log.
Changes to the project config file are picked up without a restart.
Prometheus metrics are served on server.metrics_addr when set.

Example MCP client entry:
  {"command": "kbfusion", "args": ["serve", "--dir", "/path/to/project"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (default server.transport)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default server.metrics_addr)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload configuration on change")

	return cmd
}

func runServe(ctx context.Context, g *globalOptions, opts serveOptions) error {
	a, err := g.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !g.debug {
		g.stopLogging()
		logger, cleanup, err := logging.Setup(logging.StdioConfig(a.cfg.Server.LogLevel))
		if err != nil {
			return err
		}
		g.logger, g.loggingCleanup = logger, cleanup
		slog.SetDefault(logger)
	}

	transport := firstNonEmpty(opts.transport, a.cfg.Server.Transport)
	metricsAddr := firstNonEmpty(opts.metricsAddr, a.cfg.Server.MetricsAddr)

	srv, err := mcp.NewServer(a.engine, a.evaluator,
		mcp.WithIndexInfo(a.stores.DB),
		mcp.WithLogger(g.logger))
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	if !opts.noWatch {
		w, err := config.NewWatcher(a.root, func(c *config.Config) {
			if g.dataDir != "" {
				c.Paths.DataDir = g.dataDir
			}
			if c.ResolveDataDir(a.root) != a.dataDir || c.Embeddings.Dimensions != a.cfg.Embeddings.Dimensions {
				slog.Warn("config_reload_partial",
					slog.String("reason", "data_dir and embeddings.dimensions need a restart"))
			}
			a.engine.Reconfigure(search.FromConfig(c))
			slog.Info("config_reloaded", slog.String("root", a.root))
		}, func(err error) {
			slog.Warn("config_reload_failed", slog.String("error", err.Error()))
		})
		if err != nil {
			slog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = w.Close() }()
			grp.Go(func() error {
				w.Run(gctx)
				return nil
			})
		}
	}

	if metricsAddr != "" {
		grp.Go(func() error {
			return a.metrics.Serve(gctx, metricsAddr)
		})
	}

	grp.Go(func() error {
		if err := srv.Serve(gctx, transport); err != nil {
			return err
		}
		// The client went away; stop the watcher and metrics server too.
		return errServerStopped
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, errServerStopped) {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

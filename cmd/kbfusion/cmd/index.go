package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbfusion/internal/corpus"
	"github.com/Aman-CERP/kbfusion/internal/embed"
	"github.com/Aman-CERP/kbfusion/internal/output"
)

type indexOptions struct {
	force     bool
	batchSize int
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <corpus.jsonl>",
		Short: "Build the lexical, dense and sparse indexes from a corpus file",
		Long: `Index a JSONL corpus, one resource per line:

  {"id": "r1", "title": "...", "description": "...", "text": "...",
   "classification": "004", "type": "article", "language": "en",
   "quality_score": 0.8}

Every resource is written to the metadata store, the BM25 index, the
vector graph and the sparse postings. Resources that already exist are
replaced. The data directory is locked while indexing.

Use --force to delete the existing index first, e.g. after changing
embeddings.dimensions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, g, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete the existing index and rebuild from scratch")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", corpus.DefaultBatchSize, "Resources embedded per batch")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, path string, opts indexOptions) error {
	cfg, root, err := g.loadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.ResolveDataDir(root)
	out := g.writer(cmd)

	resources, err := corpus.Load(path)
	if err != nil {
		return err
	}

	if opts.force {
		if err := resetIndex(dataDir); err != nil {
			return err
		}
		slog.Info("index_force_clear", slog.String("data_dir", dataDir))
		if out.Format() == output.FormatText {
			out.Status("", "Cleared existing index data, starting fresh...")
		}
	}

	dims := cfg.Embeddings.Dimensions
	stores, err := corpus.OpenStores(ctx, dataDir, dims)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	embedder := embed.NewCachedEmbedder(embed.NewHashEmbedder(dims), cfg.Embeddings.CacheSize)
	defer func() { _ = embedder.Close() }()

	deps := stores.Dependencies(embedder, embed.NewTermEncoder())
	deps.LockDir = dataDir
	if out.Format() == output.FormatText {
		deps.OnProgress = func(done, total int) {
			out.Progress(done, total, "Indexing")
		}
	}

	ix, err := corpus.NewIndexer(deps, opts.batchSize)
	if err != nil {
		return err
	}
	if out.Format() == output.FormatText {
		out.Statusf("", "Indexing %d resources from %s into %s", len(resources), path, dataDir)
	}
	result, err := ix.Run(ctx, resources)
	if err != nil {
		return err
	}
	return out.Index(result)
}

// resetIndex removes the index under dataDir while holding its lock, so a
// concurrent index run is not wiped mid-write.
func resetIndex(dataDir string) error {
	lock := corpus.NewDataLock(dataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if err := corpus.Reset(dataDir); err != nil {
		return fmt.Errorf("failed to clear index data: %w", err)
	}
	return nil
}

// Package cmd provides the CLI commands for kbfusion.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/logging"
	"github.com/Aman-CERP/kbfusion/internal/output"
	"github.com/Aman-CERP/kbfusion/pkg/version"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	debug   bool
	format  string
	dir     string
	dataDir string

	logger         *slog.Logger
	loggingCleanup func()
}

// NewRootCmd creates the root command for the kbfusion CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "kbfusion",
		Short: "Multi-method retrieval fusion over a knowledge base",
		Long: `kbfusion runs lexical (BM25), dense (embedding) and sparse (expanded term)
retrieval in parallel over an indexed knowledge base, fuses the ranked lists
with weighted Reciprocal Rank Fusion and optionally reranks the top results.

Build an index first:
  kbfusion index corpus.jsonl

Then search, compare methods, or score rankings against judgments:
  kbfusion search "reciprocal rank fusion"
  kbfusion compare "hnsw graphs"
  kbfusion evaluate --judgments judgments.yaml`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("kbfusion version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.kbfusion/logs/")
	cmd.PersistentFlags().StringVarP(&g.format, "format", "f", "text", "Output format: text, json")
	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory (config lookup starts here)")
	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Index directory (overrides paths.data_dir)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if _, err := output.ParseFormat(g.format); err != nil {
			return err
		}
		return g.startLogging()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		g.stopLogging()
		return nil
	}

	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newCompareCmd(g))
	cmd.AddCommand(newEvaluateCmd(g))
	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd(g))

	return cmd
}

// startLogging installs a file logger. Nothing is logged to stdout: serve
// speaks JSON-RPC there and the other commands print results.
func (g *globalOptions) startLogging() error {
	cfg := logging.StdioConfig("info")
	if g.debug {
		cfg = logging.DebugConfig()
		cfg.WriteToStderr = false
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.logger = logger
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if g.debug {
		slog.Debug("debug_logging_enabled", slog.String("log_file", cfg.FilePath))
	}
	return nil
}

func (g *globalOptions) stopLogging() {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

func (g *globalOptions) writer(cmd *cobra.Command) *output.Writer {
	out := output.New(cmd.OutOrStdout())
	format, _ := output.ParseFormat(g.format)
	if format == output.FormatJSON {
		out = output.NewWithOptions(cmd.OutOrStdout(), format, false)
	}
	return out
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, kberrors.FormatForCLI(err))
	}
	return err
}

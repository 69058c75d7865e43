package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	offset   int
	rerank   bool
	adaptive bool
	weights  string // "lexical=0.5,dense=0.3,sparse=0.2"
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed knowledge base",
		Long: `Search the knowledge base with lexical, dense and sparse retrieval fused
by weighted Reciprocal Rank Fusion.

Weights default to search.default_weights. --adaptive derives them from the
query text instead; --weights sets them explicitly and wins over both.

Examples:
  kbfusion search "reciprocal rank fusion"
  kbfusion search "ERR_404" --adaptive
  kbfusion search "hnsw recall" --weights lexical=0.2,dense=0.8 --rerank
  kbfusion search "sparse encoders" --limit 5 --offset 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default search.default_limit)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of fused results to skip")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rescore the top fused candidates with the configured reranker")
	cmd.Flags().BoolVar(&opts.adaptive, "adaptive", false, "Derive method weights from the query text")
	cmd.Flags().StringVarP(&opts.weights, "weights", "w", "", "Explicit method weights, e.g. lexical=0.5,dense=0.5")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, text string, opts searchOptions) error {
	q := search.Query{
		Text:              text,
		Limit:             opts.limit,
		Offset:            opts.offset,
		EnableReranking:   opts.rerank,
		AdaptiveWeighting: opts.adaptive,
	}
	if opts.weights != "" {
		w, err := parseWeights(opts.weights)
		if err != nil {
			return err
		}
		q.Weights = &w
	}

	a, err := g.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	slog.Info("search_started", slog.String("query", text), slog.Int("limit", opts.limit))
	resp, err := a.engine.Search(ctx, q)
	if err != nil {
		return err
	}
	return g.writer(cmd).Search(resp)
}

// parseWeights parses "method=weight" pairs separated by commas. Methods not
// named get weight 0.
func parseWeights(s string) (fusion.Weights, error) {
	var w fusion.Weights
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return w, invalidWeights(fmt.Sprintf("expected method=weight, got %q", pair), nil)
		}
		m, err := fusion.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return w, invalidWeights(err.Error(), err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return w, invalidWeights(fmt.Sprintf("weight for %s is not a number: %q", m, value), err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return w, invalidWeights(fmt.Sprintf("weight for %s must be a finite number, got %q", m, value), nil)
		}
		w = w.With(m, v)
	}
	return w, nil
}

func invalidWeights(msg string, cause error) error {
	return kberrors.New(kberrors.ErrCodeInvalidWeights, msg, cause).
		WithSuggestion("use --weights lexical=0.4,dense=0.4,sparse=0.2")
}

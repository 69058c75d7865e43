package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func newCompareCmd(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "compare <query>",
		Short: "Compare retrieval methods and their fused combinations",
		Long: `Run one query through each retrieval method alone and through every fused
combination (lexical+dense, lexical+sparse, dense+sparse, lexical+dense+sparse),
reporting the top results and latency of each set.

Examples:
  kbfusion compare "reciprocal rank fusion"
  kbfusion compare "ERR_404 parseConfig" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			cmp, err := a.engine.CompareMethods(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return g.writer(cmd).Comparison(cmp)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Results per set (default search.default_limit)")

	return cmd
}

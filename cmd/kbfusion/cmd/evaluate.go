package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/eval"
)

type evaluateOptions struct {
	judgmentsFile string
	query         string
	judge         []string // "resource_id=grade"
	k             int
	rerank        bool
}

func newEvaluateCmd(g *globalOptions) *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score live rankings against graded relevance judgments",
		Long: `Rank queries with the live engine and score them against relevance grades
from 0 (not relevant) to 3 (highly relevant). Reports nDCG@K, Recall@K,
Precision@K and MRR, plus the nDCG delta over the baseline methods
(evaluation.baseline_methods, lexical+dense by default).

A judgment file (.yaml, .yml, .json or .jsonl) evaluates a whole suite and
reports macro averages. A single query can be judged inline with --judge.

Examples:
  kbfusion evaluate --judgments judgments.yaml
  kbfusion evaluate --query "rank fusion" --judge r1=3 --judge r7=1 --k 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.judgmentsFile == "" && opts.query == "" {
				return kberrors.New(kberrors.ErrCodeInvalidInput, "either --judgments or --query is required", nil)
			}
			if opts.judgmentsFile != "" && opts.query != "" {
				return kberrors.New(kberrors.ErrCodeInvalidInput, "--judgments and --query are mutually exclusive", nil)
			}

			var suite *eval.Suite
			var req eval.Request
			if opts.judgmentsFile != "" {
				s, err := eval.LoadSuite(opts.judgmentsFile)
				if err != nil {
					return err
				}
				if opts.k > 0 {
					s.K = opts.k
				}
				s.EnableReranking = s.EnableReranking || opts.rerank
				suite = s
			} else {
				judgments, err := parseJudgments(opts.judge)
				if err != nil {
					return err
				}
				req = eval.Request{Query: opts.query, Judgments: judgments, K: opts.k, EnableReranking: opts.rerank}
			}

			a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := g.writer(cmd)
			if suite != nil {
				report, err := a.evaluator.EvaluateSuite(cmd.Context(), suite)
				if err != nil {
					return err
				}
				return out.Suite(report)
			}
			report, err := a.evaluator.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return out.Evaluation(report)
		},
	}

	cmd.Flags().StringVarP(&opts.judgmentsFile, "judgments", "j", "", "Judgment file to evaluate as a suite")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Single query to evaluate")
	cmd.Flags().StringArrayVar(&opts.judge, "judge", nil, "Relevance grade for --query as id=grade (repeatable)")
	cmd.Flags().IntVar(&opts.k, "k", 0, "Metric cutoff (default evaluation.k)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank before scoring")

	return cmd
}

// parseJudgments parses id=grade pairs. A repeated id keeps the last grade.
// Grade range is checked by the evaluator.
func parseJudgments(pairs []string) (map[string]int, error) {
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		id, grade, ok := strings.Cut(p, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, kberrors.New(kberrors.ErrCodeInvalidInput, fmt.Sprintf("expected id=grade, got %q", p), nil)
		}
		g, err := strconv.Atoi(strings.TrimSpace(grade))
		if err != nil {
			return nil, kberrors.New(kberrors.ErrCodeInvalidGrade, fmt.Sprintf("grade for %s is not an integer: %q", id, grade), err)
		}
		out[id] = g
	}
	return out, nil
}

package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/kbfusion/internal/corpus"
	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/facet"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

// Search writes a search response.
func (w *Writer) Search(resp *search.Response) error {
	if w.format == FormatJSON {
		return w.JSON(resp)
	}

	w.header(fmt.Sprintf("%q", resp.Query),
		fmt.Sprintf("%d of %d results in %s", len(resp.Results), resp.Total, latency(resp.LatencyMS[search.StageTotal])))

	if len(resp.Results) == 0 {
		w.Status("", "no results")
	} else {
		rows := make([][]string, len(resp.Results))
		for i, r := range resp.Results {
			title := ""
			if r.Metadata != nil {
				title = truncate(r.Metadata.Title, 40)
			}
			rows[i] = []string{
				fmt.Sprint(r.Rank), r.ResourceID, title,
				fmt.Sprintf("%.4f", r.Score), contributions(&r.Candidate),
			}
		}
		w.table([]string{"#", "ID", "TITLE", "SCORE", "METHODS"}, rows)
	}

	w.kv("weights", resp.WeightsUsed.String())
	if resp.Adaptive != nil && resp.Adaptive.Adaptive {
		w.kv("adaptive", fmt.Sprintf("tokens=%d technical=%.2f quoted=%t",
			resp.Adaptive.Features.Tokens, resp.Adaptive.Features.TechnicalFraction, resp.Adaptive.Features.Quoted))
	}
	w.kv("methods", methodSummary(resp.Methods))
	w.kv("rerank", rerankSummary(resp.Rerank))
	if f := facetSummary(resp.Facets); f != "" {
		w.kv("facets", f)
	}
	for _, warn := range resp.Warnings {
		w.Warning(warn)
	}
	return nil
}

// Comparison writes a method comparison.
func (w *Writer) Comparison(cmp *search.Comparison) error {
	if w.format == FormatJSON {
		return w.JSON(cmp)
	}

	w.header(fmt.Sprintf("%q", cmp.Query), fmt.Sprintf("top %d per set in %s", cmp.Limit, latency(cmp.LatencyMS)))

	rows := make([][]string, 0, len(cmp.Methods)+len(cmp.Combinations))
	for _, m := range cmp.Methods {
		ids := make([]string, len(m.Candidates))
		for i, c := range m.Candidates {
			ids[i] = c.ResourceID
		}
		rows = append(rows, []string{string(m.Method), string(m.Status), latency(m.LatencyMS), joinIDs(ids)})
	}
	for _, c := range cmp.Combinations {
		ids := make([]string, len(c.Candidates))
		for i, cand := range c.Candidates {
			ids[i] = cand.ResourceID
		}
		rows = append(rows, []string{c.Name, "fused", latency(c.LatencyMS), joinIDs(ids)})
	}
	w.table([]string{"SET", "STATUS", "LATENCY", "RESULTS"}, rows)

	for _, m := range cmp.Methods {
		if m.Error != "" {
			w.Warningf("%s: %s", m.Method, m.Error)
		}
	}
	return nil
}

// Evaluation writes one evaluation report.
func (w *Writer) Evaluation(r *eval.Report) error {
	if w.format == FormatJSON {
		return w.JSON(r)
	}

	w.header(fmt.Sprintf("%q", r.Query), fmt.Sprintf("k=%d, %d judged, %d relevant", r.K, r.Judged, r.Relevant))
	if r.NoJudgments {
		w.Warning("no judgments: metrics are not informative")
		return nil
	}

	w.table([]string{"METRIC", "VALUE"}, metricRows(r.NDCG, r.Recall, r.Precision, r.MRR))
	if r.Baseline != nil {
		w.kv("baseline", fmt.Sprintf("%s ndcg=%.4f delta=%+.4f",
			search.CombinationName(r.Baseline.Methods), r.Baseline.NDCG, r.Baseline.Delta))
	}
	w.kv("rerank", rerankSummary(r.Rerank))

	if len(r.Ranking) > 0 {
		rows := make([][]string, len(r.Ranking))
		for i, item := range r.Ranking {
			rows[i] = []string{fmt.Sprint(item.Rank), item.ResourceID, fmt.Sprintf("%.4f", item.Score), fmt.Sprint(item.Grade)}
		}
		w.table([]string{"#", "ID", "SCORE", "GRADE"}, rows)
	}
	if r.NoRelevant {
		w.Warning("no judgment has a grade above 0")
	}
	return nil
}

// Suite writes a suite report.
func (w *Writer) Suite(s *eval.SuiteReport) error {
	if w.format == FormatJSON {
		return w.JSON(s)
	}

	w.header(s.Name, fmt.Sprintf("%d evaluated, %d failed", s.Evaluated, len(s.Failures)))

	rows := make([][]string, 0, len(s.Reports))
	for _, r := range s.Reports {
		label := r.ID
		if label == "" {
			label = truncate(r.Query, 32)
		}
		if r.NoJudgments {
			rows = append(rows, []string{label, "-", "-", "-", "-", "-"})
			continue
		}
		delta := "-"
		if r.Baseline != nil {
			delta = fmt.Sprintf("%+.4f", r.Baseline.Delta)
		}
		rows = append(rows, []string{label,
			fmt.Sprintf("%.4f", r.NDCG), fmt.Sprintf("%.4f", r.Recall),
			fmt.Sprintf("%.4f", r.Precision), fmt.Sprintf("%.4f", r.MRR), delta})
	}
	rows = append(rows, []string{"mean",
		fmt.Sprintf("%.4f", s.Mean.NDCG), fmt.Sprintf("%.4f", s.Mean.Recall),
		fmt.Sprintf("%.4f", s.Mean.Precision), fmt.Sprintf("%.4f", s.Mean.MRR),
		fmt.Sprintf("%+.4f", s.Mean.Delta)})
	w.table([]string{"QUERY", "NDCG", "RECALL", "PRECISION", "MRR", "DELTA"}, rows)

	for _, f := range s.Failures {
		label := f.ID
		if label == "" {
			label = fmt.Sprintf("#%d", f.Index)
		}
		w.Errorf("%s: %s", label, f.Error)
	}
	return nil
}

// Index writes an indexing result.
func (w *Writer) Index(r *corpus.Result) error {
	if w.format == FormatJSON {
		return w.JSON(r)
	}
	w.Successf("Indexed %d resources in %d batches (%s)", r.Resources, r.Batches, r.Duration.Round(time.Millisecond))
	for _, warn := range r.Warnings {
		w.Warning(warn)
	}
	return nil
}

func (w *Writer) header(title, sub string) {
	_, _ = fmt.Fprintf(w.out, "%s  %s\n", w.styles.Header.Render(title), w.styles.Label.Render(sub))
}

func (w *Writer) kv(key, value string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Label.Render(fmt.Sprintf("%-9s", key+":")), value)
}

func (w *Writer) table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(w.styles.Dim).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return w.styles.Label.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	_, _ = fmt.Fprintln(w.out, t.Render())
}

func contributions(c *fusion.Candidate) string {
	parts := make([]string, 0, len(c.Contributions))
	for _, m := range c.Methods() {
		parts = append(parts, fmt.Sprintf("%s#%d", m, c.Contributions[m].Rank))
	}
	s := strings.Join(parts, " ")
	if c.Reranked {
		s += " (reranked)"
	}
	return s
}

func methodSummary(methods map[fusion.Method]search.MethodReport) string {
	parts := make([]string, 0, len(methods))
	for _, m := range fusion.AllMethods {
		rep, ok := methods[m]
		if !ok {
			continue
		}
		s := fmt.Sprintf("%s %s", m, rep.Status)
		if rep.Status == retrieval.StatusOK || rep.Status == retrieval.StatusEmpty {
			s += fmt.Sprintf(" %d in %s", rep.Count, latency(rep.LatencyMS))
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func rerankSummary(o rerank.Outcome) string {
	switch {
	case o.Applied:
		return fmt.Sprintf("applied to %d", o.Count)
	case o.Reason != "":
		return "skipped (" + o.Reason + ")"
	default:
		return "skipped"
	}
}

func facetSummary(f facet.Facets) string {
	parts := make([]string, 0, len(facet.Fields))
	for _, field := range facet.Fields {
		buckets := f[field]
		if len(buckets) == 0 {
			continue
		}
		vals := make([]string, len(buckets))
		for i, b := range buckets {
			vals[i] = fmt.Sprintf("%s(%d)", b.Key, b.Count)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", field, strings.Join(vals, " ")))
	}
	return strings.Join(parts, "; ")
}

func metricRows(ndcg, recall, precision, mrr float64) [][]string {
	return [][]string{
		{"ndcg", fmt.Sprintf("%.4f", ndcg)},
		{"recall", fmt.Sprintf("%.4f", recall)},
		{"precision", fmt.Sprintf("%.4f", precision)},
		{"mrr", fmt.Sprintf("%.4f", mrr)},
	}
}

func latency(ms float64) string {
	return fmt.Sprintf("%.1fms", ms)
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

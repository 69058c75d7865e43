package mcp

import (
	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/facet"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query             string          `json:"query" jsonschema:"the natural-language or keyword query"`
	Limit             int             `json:"limit,omitempty" jsonschema:"page size, default 10"`
	Offset            int             `json:"offset,omitempty" jsonschema:"number of fused results to skip"`
	EnableReranking   bool            `json:"enable_reranking,omitempty" jsonschema:"rescore the top fused candidates with the reranker"`
	AdaptiveWeighting bool            `json:"adaptive_weighting,omitempty" jsonschema:"derive method weights from the query text"`
	Weights           *fusion.Weights `json:"weights,omitempty" jsonschema:"explicit non-negative method weights, normalized internally"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	RequestID string               `json:"request_id"`
	Query     string               `json:"query"`
	Total     int                  `json:"total" jsonschema:"number of fused candidates before paging"`
	Results   []SearchResultOutput `json:"results"`

	WeightsUsed      fusion.Weights          `json:"weights_used"`
	WeightsRequested fusion.Weights          `json:"weights_requested"`
	Methods          map[string]MethodOutput `json:"methods" jsonschema:"per-method status, count and latency"`
	Rerank           RerankOutput            `json:"rerank"`
	Facets           map[string][]FacetValue `json:"facets"`
	LatencyMS        map[string]float64      `json:"latency_ms"`
	Warnings         []string                `json:"warnings,omitempty"`
}

// SearchResultOutput is one fused result with its metadata and per-method
// provenance.
type SearchResultOutput struct {
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score" jsonschema:"final score: the reranker score when reranked, else the fused score"`
	FusedScore float64 `json:"fused_score"`
	Reranked   bool    `json:"reranked,omitempty"`

	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Type           string  `json:"type,omitempty"`
	Language       string  `json:"language,omitempty"`
	QualityScore   float64 `json:"quality_score,omitempty"`

	MethodContributions map[string]ContributionOutput `json:"method_contributions"`
}

// ContributionOutput is what one method added to a result.
type ContributionOutput struct {
	Rank     int     `json:"rank"`
	RawScore float64 `json:"raw_score"`
	Weight   float64 `json:"weight"`
	Score    float64 `json:"score"`
}

// MethodOutput reports one method's run.
type MethodOutput struct {
	Status    string  `json:"status"`
	Count     int     `json:"count"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// RerankOutput reports the rerank stage.
type RerankOutput struct {
	Requested bool   `json:"requested"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FacetValue is one facet bucket.
type FacetValue struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// CompareInput defines the input schema for the compare_methods tool.
type CompareInput struct {
	Query string `json:"query" jsonschema:"the query to run through every method"`
	Limit int    `json:"limit,omitempty" jsonschema:"results per set, default 10"`
}

// CompareOutput defines the output schema for the compare_methods tool.
type CompareOutput struct {
	RequestID    string              `json:"request_id"`
	Query        string              `json:"query"`
	Limit        int                 `json:"limit"`
	Methods      []MethodSetOutput   `json:"methods"`
	Combinations []CombinationOutput `json:"combinations"`
	LatencyMS    float64             `json:"latency_ms"`
}

// RankedOutput is one entry of a compared result set.
type RankedOutput struct {
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
}

// MethodSetOutput is one method's own result set.
type MethodSetOutput struct {
	Method    string         `json:"method"`
	Status    string         `json:"status"`
	LatencyMS float64        `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
	Results   []RankedOutput `json:"results"`
}

// CombinationOutput is the fused result set of a method combination.
type CombinationOutput struct {
	Name        string         `json:"name" jsonschema:"methods joined by +, e.g. lexical+dense"`
	LatencyMS   float64        `json:"latency_ms" jsonschema:"slowest member retrieval plus fusion time"`
	WeightsUsed fusion.Weights `json:"weights_used"`
	Results     []RankedOutput `json:"results"`
}

// EvaluateInput defines the input schema for the evaluate tool.
type EvaluateInput struct {
	Query           string         `json:"query" jsonschema:"the query to rank and score"`
	Judgments       map[string]int `json:"judgments" jsonschema:"resource id to relevance grade, 0 (not relevant) to 3 (highly relevant)"`
	K               int            `json:"k,omitempty" jsonschema:"metric cutoff, default 10"`
	EnableReranking bool           `json:"enable_reranking,omitempty"`
}

// EvaluateOutput defines the output schema for the evaluate tool.
type EvaluateOutput struct {
	Query string `json:"query"`
	K     int    `json:"k"`

	NDCG      float64 `json:"ndcg"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	MRR       float64 `json:"mrr"`

	NoJudgments bool `json:"no_judgments,omitempty" jsonschema:"the judgment set was empty, metrics carry no information"`
	NoRelevant  bool `json:"no_relevant,omitempty" jsonschema:"no judged resource has a grade above 0"`
	Judged      int  `json:"judged"`
	Relevant    int  `json:"relevant"`

	Ranking  []GradedOutput  `json:"ranking" jsonschema:"top k of the evaluated ranking with the grade of each entry"`
	Baseline *BaselineOutput `json:"baseline,omitempty"`
	Rerank   RerankOutput    `json:"rerank"`

	WeightsUsed fusion.Weights     `json:"weights_used"`
	LatencyMS   map[string]float64 `json:"latency_ms,omitempty"`
}

// GradedOutput is one evaluated ranking position.
type GradedOutput struct {
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
	Grade      int     `json:"grade"`
}

// BaselineOutput compares the fusion against the reduced-method baseline.
type BaselineOutput struct {
	Methods []string `json:"methods"`
	NDCG    float64  `json:"ndcg"`
	Delta   float64  `json:"delta" jsonschema:"fused nDCG minus baseline nDCG"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Resources      int      `json:"resources"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Dimensions     string   `json:"dimensions,omitempty"`
	IndexedAt      string   `json:"indexed_at,omitempty"`
	IndexedBy      string   `json:"indexed_by,omitempty"`
	Methods        []string `json:"methods" jsonschema:"methods that are wired and enabled"`

	DefaultWeights fusion.Weights `json:"default_weights"`
	RRFConstant    int            `json:"rrf_constant"`
	RerankCeiling  int            `json:"rerank_ceiling"`
}

func toSearchOutput(resp *search.Response) SearchOutput {
	out := SearchOutput{
		RequestID:        resp.RequestID,
		Query:            resp.Query,
		Total:            resp.Total,
		Results:          make([]SearchResultOutput, 0, len(resp.Results)),
		WeightsUsed:      resp.WeightsUsed,
		WeightsRequested: resp.WeightsRequested,
		Methods:          make(map[string]MethodOutput, len(resp.Methods)),
		Rerank: RerankOutput{
			Requested: resp.Rerank.Requested,
			Applied:   resp.Rerank.Applied,
			Reason:    resp.Rerank.Reason,
			Count:     resp.Rerank.Count,
			Error:     resp.Rerank.Error,
		},
		Facets:    toFacets(resp.Facets),
		LatencyMS: resp.LatencyMS,
		Warnings:  resp.Warnings,
	}

	for m, rep := range resp.Methods {
		out.Methods[string(m)] = MethodOutput{
			Status: string(rep.Status), Count: rep.Count, LatencyMS: rep.LatencyMS, Error: rep.Error,
		}
	}

	for _, r := range resp.Results {
		item := SearchResultOutput{
			ResourceID:          r.ResourceID,
			Rank:                r.Rank,
			Score:               r.Score,
			FusedScore:          r.FusedScore,
			Reranked:            r.Reranked,
			MethodContributions: make(map[string]ContributionOutput, len(r.Contributions)),
		}
		for m, c := range r.Contributions {
			item.MethodContributions[string(m)] = ContributionOutput{
				Rank: c.Rank, RawScore: c.RawScore, Weight: c.Weight, Score: c.Score,
			}
		}
		if md := r.Metadata; md != nil {
			item.Title = md.Title
			item.Description = md.Description
			item.Classification = md.Classification
			item.Type = md.Type
			item.Language = md.Language
			item.QualityScore = md.QualityScore
		}
		out.Results = append(out.Results, item)
	}
	return out
}

func toFacets(f facet.Facets) map[string][]FacetValue {
	out := make(map[string][]FacetValue, len(f))
	for field, buckets := range f {
		vals := make([]FacetValue, len(buckets))
		for i, b := range buckets {
			vals[i] = FacetValue{Key: b.Key, Count: b.Count}
		}
		out[string(field)] = vals
	}
	return out
}

func toCompareOutput(cmp *search.Comparison) CompareOutput {
	out := CompareOutput{
		RequestID:    cmp.RequestID,
		Query:        cmp.Query,
		Limit:        cmp.Limit,
		Methods:      make([]MethodSetOutput, 0, len(cmp.Methods)),
		Combinations: make([]CombinationOutput, 0, len(cmp.Combinations)),
		LatencyMS:    cmp.LatencyMS,
	}
	for _, m := range cmp.Methods {
		set := MethodSetOutput{
			Method:    string(m.Method),
			Status:    string(m.Status),
			LatencyMS: m.LatencyMS,
			Error:     m.Error,
			Results:   make([]RankedOutput, len(m.Candidates)),
		}
		for i, c := range m.Candidates {
			set.Results[i] = RankedOutput{ResourceID: c.ResourceID, Rank: c.Rank, Score: c.Score}
		}
		out.Methods = append(out.Methods, set)
	}
	for _, c := range cmp.Combinations {
		combo := CombinationOutput{
			Name:        c.Name,
			LatencyMS:   c.LatencyMS,
			WeightsUsed: c.WeightsUsed,
			Results:     make([]RankedOutput, len(c.Candidates)),
		}
		for i, cand := range c.Candidates {
			combo.Results[i] = RankedOutput{ResourceID: cand.ResourceID, Rank: cand.Rank, Score: cand.Score}
		}
		out.Combinations = append(out.Combinations, combo)
	}
	return out
}

func toEvaluateOutput(r *eval.Report) *EvaluateOutput {
	out := &EvaluateOutput{
		Query:       r.Query,
		K:           r.K,
		NDCG:        r.NDCG,
		Recall:      r.Recall,
		Precision:   r.Precision,
		MRR:         r.MRR,
		NoJudgments: r.NoJudgments,
		NoRelevant:  r.NoRelevant,
		Judged:      r.Judged,
		Relevant:    r.Relevant,
		Ranking:     make([]GradedOutput, len(r.Ranking)),
		Rerank: RerankOutput{
			Requested: r.Rerank.Requested,
			Applied:   r.Rerank.Applied,
			Reason:    r.Rerank.Reason,
			Count:     r.Rerank.Count,
			Error:     r.Rerank.Error,
		},
		WeightsUsed: r.WeightsUsed,
		LatencyMS:   r.LatencyMS,
	}
	for i, item := range r.Ranking {
		out.Ranking[i] = GradedOutput{ResourceID: item.ResourceID, Rank: item.Rank, Score: item.Score, Grade: item.Grade}
	}
	if b := r.Baseline; b != nil {
		out.Baseline = &BaselineOutput{Methods: make([]string, len(b.Methods)), NDCG: b.NDCG, Delta: b.Delta}
		for i, m := range b.Methods {
			out.Baseline.Methods[i] = string(m)
		}
	}
	return out
}

package search

import (
	"github.com/Aman-CERP/kbfusion/internal/facet"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/query"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
	"github.com/Aman-CERP/kbfusion/internal/retrieval"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Latency keys reported in Response.LatencyMS.
const (
	StageCharacterize = "characterize"
	StageRetrieval    = "retrieval"
	StageFusion       = "fusion"
	StageRerank       = "rerank"
	StageMetadata     = "metadata"
	StageFacets       = "facets"
	StageTotal        = "total"
)

// Query is a search request.
type Query struct {
	Text   string `json:"query"`
	Limit  int    `json:"limit,omitempty"`  // 0 selects the configured default
	Offset int    `json:"offset,omitempty"` // results to skip

	EnableReranking bool `json:"enable_reranking,omitempty"`

	// AdaptiveWeighting derives weights from the query text. Ignored when
	// Weights is set.
	AdaptiveWeighting bool `json:"adaptive_weighting,omitempty"`

	// Weights overrides the configured defaults. Values must be
	// non-negative with a positive sum; they are normalised internally.
	Weights *fusion.Weights `json:"weights,omitempty"`
}

// Metadata is the resource information attached to a result.
type Metadata struct {
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Type           string  `json:"type,omitempty"`
	Language       string  `json:"language,omitempty"`
	QualityScore   float64 `json:"quality_score,omitempty"`
}

func metadataFrom(r *store.Resource) *Metadata {
	if r == nil {
		return nil
	}
	return &Metadata{
		Title:          r.Title,
		Description:    r.Description,
		Classification: r.Classification,
		Type:           r.Type,
		Language:       r.Language,
		QualityScore:   r.QualityScore,
	}
}

// Result is one ranked resource. Metadata is nil when the metadata store
// has no record for it or could not be reached.
type Result struct {
	fusion.Candidate
	Metadata *Metadata `json:"metadata,omitempty"`
}

// MethodReport summarises one method's part in a request.
type MethodReport struct {
	Status    retrieval.Status `json:"status"`
	Count     int              `json:"count"`
	LatencyMS float64          `json:"latency_ms"`
	Error     string           `json:"error,omitempty"`
}

// Response is the result of a search.
type Response struct {
	RequestID string   `json:"request_id"`
	Query     string   `json:"query"`
	Results   []Result `json:"results"`

	// Total is the number of fused candidates before paging.
	Total int `json:"total"`

	LatencyMS map[string]float64 `json:"latency_ms"`

	// MethodContributions covers the returned page only.
	MethodContributions map[string]map[fusion.Method]fusion.Contribution `json:"method_contributions"`
	Methods             map[fusion.Method]MethodReport                   `json:"methods"`

	WeightsUsed      fusion.Weights `json:"weights_used"`
	WeightsRequested fusion.Weights `json:"weights_requested"`

	// Adaptive is set when adaptive weighting was requested.
	Adaptive *query.Profile `json:"adaptive,omitempty"`

	Rerank   rerank.Outcome `json:"rerank"`
	Facets   facet.Facets   `json:"facets"`
	Warnings []string       `json:"warnings,omitempty"`
}

// RankOptions configures Rank.
type RankOptions struct {
	// Methods restricts retrieval. Empty means every enabled method.
	Methods []fusion.Method

	EnableReranking bool

	Weights *fusion.Weights
	// Adaptive asks for adaptive weights. Config.AdaptiveByDefault turns
	// them on for every request without explicit weights.
	Adaptive bool
}

// Ranking is the full fused (and possibly reranked) ranking for one query,
// along with the per-method lists it was built from.
type Ranking struct {
	Query      string              `json:"query"`
	Candidates []*fusion.Candidate `json:"candidates"`

	Outcomes map[fusion.Method]retrieval.Outcome `json:"-"`
	Lists    map[fusion.Method][]fusion.Ranked   `json:"-"`

	Requested   fusion.Weights `json:"weights_requested"`
	WeightsUsed fusion.Weights `json:"weights_used"`
	Profile     *query.Profile `json:"adaptive,omitempty"`

	Rerank    rerank.Outcome     `json:"rerank"`
	LatencyMS map[string]float64 `json:"latency_ms"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// IDs returns the ranked resource IDs, best first.
func (r *Ranking) IDs() []string {
	out := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		out[i] = c.ResourceID
	}
	return out
}

// MethodSet is one method's stand-alone result set in a comparison.
type MethodSet struct {
	Method     fusion.Method         `json:"method"`
	Status     retrieval.Status      `json:"status"`
	LatencyMS  float64               `json:"latency_ms"`
	Candidates []retrieval.Candidate `json:"candidates"`
	Error      string                `json:"error,omitempty"`
}

// CombinationSet is the fusion of a subset of methods in a comparison.
type CombinationSet struct {
	Name    string          `json:"name"`
	Methods []fusion.Method `json:"methods"`

	// LatencyMS is the slowest member's retrieval latency plus the fusion time.
	LatencyMS       float64 `json:"latency_ms"`
	FusionLatencyMS float64 `json:"fusion_latency_ms"`

	WeightsUsed fusion.Weights      `json:"weights_used"`
	Candidates  []*fusion.Candidate `json:"candidates"`
}

// Comparison reports each method alone and each multi-method combination
// for one query.
type Comparison struct {
	RequestID    string           `json:"request_id"`
	Query        string           `json:"query"`
	Limit        int              `json:"limit"`
	Methods      []MethodSet      `json:"methods"`
	Combinations []CombinationSet `json:"combinations"`
	LatencyMS    float64          `json:"latency_ms"`
}

package search

import (
	"time"

	"github.com/Aman-CERP/kbfusion/internal/config"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/query"
	"github.com/Aman-CERP/kbfusion/internal/rerank"
)

// Default engine settings.
const (
	DefaultLimit          = 10
	DefaultMaxLimit       = 100
	DefaultCandidateDepth = 50
	DefaultMaxQueryLength = 1000
	DefaultRequestBudget  = 2 * time.Second
)

// DefaultMethodTimeouts are the per-method deadlines used when none are
// configured.
var DefaultMethodTimeouts = map[fusion.Method]time.Duration{
	fusion.Lexical: 250 * time.Millisecond,
	fusion.Dense:   500 * time.Millisecond,
	fusion.Sparse:  750 * time.Millisecond,
}

// Config holds the engine's tunables. It can be replaced at runtime with
// Engine.Reconfigure.
type Config struct {
	Characterizer query.Config

	RRFConstant    int
	DefaultLimit   int
	MaxLimit       int
	CandidateDepth int
	MaxQueryLength int

	// RequestBudget bounds a whole search, measured from request start.
	RequestBudget time.Duration

	MethodTimeouts map[fusion.Method]time.Duration
	Disabled       map[fusion.Method]bool

	// RerankCeiling caps how many fused candidates are rescored.
	RerankCeiling int

	// AdaptiveByDefault turns on adaptive weighting for searches that do not
	// ask for it. Explicit weights still win.
	AdaptiveByDefault bool
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	timeouts := make(map[fusion.Method]time.Duration, len(DefaultMethodTimeouts))
	for m, d := range DefaultMethodTimeouts {
		timeouts[m] = d
	}
	return Config{
		Characterizer:  query.DefaultConfig(),
		RRFConstant:    fusion.DefaultRRFConstant,
		DefaultLimit:   DefaultLimit,
		MaxLimit:       DefaultMaxLimit,
		CandidateDepth: DefaultCandidateDepth,
		MaxQueryLength: DefaultMaxQueryLength,
		RequestBudget:  DefaultRequestBudget,
		MethodTimeouts: timeouts,
		Disabled:       map[fusion.Method]bool{},
		RerankCeiling:  rerank.DefaultCeiling,
	}
}

// FromConfig maps the application configuration onto engine settings.
func FromConfig(c *config.Config) Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}

	out.Characterizer = query.Config{
		DefaultWeights: fusion.Weights{
			Lexical: c.Search.DefaultWeights.Lexical,
			Dense:   c.Search.DefaultWeights.Dense,
			Sparse:  c.Search.DefaultWeights.Sparse,
		},
		MinLexical: c.Adaptive.MinLexical,
		MaxLexical: c.Adaptive.MaxLexical,
		CacheSize:  c.Adaptive.CacheSize,
	}
	out.RRFConstant = c.Search.RRFConstant
	out.DefaultLimit = c.Search.DefaultLimit
	out.MaxLimit = c.Search.MaxLimit
	out.CandidateDepth = c.Search.CandidateDepth
	out.MaxQueryLength = c.Search.MaxQueryLength
	out.RequestBudget = c.Search.RequestBudget
	out.RerankCeiling = c.Rerank.Ceiling
	out.AdaptiveByDefault = c.Search.AdaptiveByDefault

	methods := map[fusion.Method]config.MethodConfig{
		fusion.Lexical: c.Methods.Lexical,
		fusion.Dense:   c.Methods.Dense,
		fusion.Sparse:  c.Methods.Sparse,
	}
	for m, mc := range methods {
		if mc.Timeout > 0 {
			out.MethodTimeouts[m] = mc.Timeout
		}
		if !mc.IsEnabled() {
			out.Disabled[m] = true
		}
	}
	return out.normalize()
}

// RetrievalDepth is the number of candidates asked of each method. It
// covers the largest page and the rerank window, and is the same for every
// request under one configuration.
func (c Config) RetrievalDepth() int {
	return max(c.CandidateDepth, c.MaxLimit, c.RerankCeiling)
}

// normalize replaces unset values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.MaxLimit < c.DefaultLimit {
		c.MaxLimit = c.DefaultLimit
	}
	if c.CandidateDepth <= 0 {
		c.CandidateDepth = d.CandidateDepth
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = d.MaxQueryLength
	}
	if c.RequestBudget <= 0 {
		c.RequestBudget = d.RequestBudget
	}
	if c.RerankCeiling <= 0 {
		c.RerankCeiling = d.RerankCeiling
	}
	if c.MethodTimeouts == nil {
		c.MethodTimeouts = d.MethodTimeouts
	}
	if c.Disabled == nil {
		c.Disabled = d.Disabled
	}
	return c
}

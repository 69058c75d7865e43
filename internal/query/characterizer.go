// Package query derives per-query fusion weights from lightweight text
// features. The heuristic is best-effort and tunable; the fixed default
// weights are the fully specified behaviour.
package query

import (
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/kbfusion/internal/fusion"
)

// Default characterizer configuration values.
const (
	DefaultMinLexical = 0.2
	DefaultMaxLexical = 0.7
	DefaultCacheSize  = 1000

	// Queries at or above this many tokens get no shortness credit.
	longQueryTokens = 12
)

// Feature weights of the specificity score. They sum to 1.
const (
	shortnessWeight = 0.35
	technicalWeight = 0.40
	quotedWeight    = 0.25
)

// Config configures a Characterizer.
type Config struct {
	// DefaultWeights are used when adaptive weighting is off, and anchor the
	// adaptive curve at specificity 0.5.
	DefaultWeights fusion.Weights

	// MinLexical is the lexical share at specificity 0.
	MinLexical float64
	// MaxLexical is the lexical share at specificity 1.
	MaxLexical float64

	CacheSize int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultWeights: fusion.Weights{Lexical: 0.4, Dense: 0.4, Sparse: 0.2},
		MinLexical:     DefaultMinLexical,
		MaxLexical:     DefaultMaxLexical,
		CacheSize:      DefaultCacheSize,
	}
}

// Features are the signals extracted from a query.
type Features struct {
	Tokens            int     `json:"tokens"`
	TechnicalTokens   int     `json:"technical_tokens"`
	TechnicalFraction float64 `json:"technical_fraction"`
	Quoted            bool    `json:"quoted"`
	Specificity       float64 `json:"specificity"`
}

// Profile is the characterizer's verdict for one query.
type Profile struct {
	Weights  fusion.Weights `json:"weights"`
	Features Features       `json:"features"`
	// Adaptive is false when the defaults were returned unchanged.
	Adaptive bool `json:"adaptive"`
}

// Characterizer maps query text to a weight triple summing to 1.
// Safe for concurrent use.
type Characterizer struct {
	defaults   fusion.Weights
	minLexical float64
	maxLexical float64
	cache      *lru.Cache[string, Profile]
}

// New creates a Characterizer. Zero or invalid default weights fall back to
// the stock defaults; the lexical bounds are widened to include the
// default lexical share so the curve stays monotonic.
func New(cfg Config) *Characterizer {
	defaults := cfg.DefaultWeights.Normalized()
	if defaults.Sum() == 0 || cfg.DefaultWeights.Validate() != nil {
		defaults = DefaultConfig().DefaultWeights.Normalized()
	}

	minL := clamp01(cfg.MinLexical)
	maxL := clamp01(cfg.MaxLexical)
	if maxL == 0 {
		maxL = DefaultMaxLexical
	}
	minL = math.Min(minL, defaults.Lexical)
	maxL = math.Max(maxL, defaults.Lexical)

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, Profile](size)

	return &Characterizer{
		defaults:   defaults,
		minLexical: minL,
		maxLexical: maxL,
		cache:      cache,
	}
}

// Defaults returns the normalised default weights.
func (c *Characterizer) Defaults() fusion.Weights {
	return c.defaults
}

// Default returns the non-adaptive profile for text. Features are still
// reported for diagnostics.
func (c *Characterizer) Default(text string) Profile {
	return Profile{Weights: c.defaults, Features: Extract(text)}
}

// Characterize returns adaptive weights for text. It never fails: a query
// with no tokens gets the defaults with Adaptive=false.
func (c *Characterizer) Characterize(text string) Profile {
	key := normalizeQuery(text)
	if key == "" {
		return Profile{Weights: c.defaults}
	}
	if p, ok := c.cache.Get(key); ok {
		return p
	}

	f := Extract(key)
	if f.Tokens == 0 {
		p := Profile{Weights: c.defaults, Features: f}
		c.cache.Add(key, p)
		return p
	}

	p := Profile{Weights: c.weightsFor(f.Specificity), Features: f, Adaptive: true}
	c.cache.Add(key, p)
	return p
}

// weightsFor interpolates the lexical share through
// (0, min) → (0.5, default) → (1, max) and splits the remainder between
// dense and sparse in the default ratio.
func (c *Characterizer) weightsFor(s float64) fusion.Weights {
	s = clamp01(s)
	d := c.defaults.Lexical

	var lex float64
	if s <= 0.5 {
		lex = c.minLexical + (d-c.minLexical)*(s/0.5)
	} else {
		lex = d + (c.maxLexical-d)*((s-0.5)/0.5)
	}

	rest := 1 - lex
	dense, sparse := rest/2, rest/2
	if semantic := c.defaults.Dense + c.defaults.Sparse; semantic > 0 {
		dense = rest * c.defaults.Dense / semantic
		sparse = rest - dense
	}
	return fusion.Weights{Lexical: lex, Dense: dense, Sparse: sparse}
}

// Extract computes query features.
//
// Specificity = 0.35*shortness + 0.40*technical_fraction + 0.25*quoted,
// where shortness = clamp((12 - tokens) / 10, 0, 1).
func Extract(text string) Features {
	phrases, _ := SplitPhrases(text)
	tokens := Tokenize(text)

	f := Features{Tokens: len(tokens), Quoted: len(phrases) > 0}
	if f.Tokens == 0 {
		return f
	}

	for _, tok := range tokens {
		if isIdentifier(tok) || !isCommon(tok) {
			f.TechnicalTokens++
		}
	}
	f.TechnicalFraction = float64(f.TechnicalTokens) / float64(f.Tokens)

	shortness := clamp01(float64(longQueryTokens-f.Tokens) / 10)
	quoted := 0.0
	if f.Quoted {
		quoted = 1
	}
	f.Specificity = clamp01(shortnessWeight*shortness + technicalWeight*f.TechnicalFraction + quotedWeight*quoted)
	return f
}

// normalizeQuery trims and collapses whitespace. Case is kept because
// identifier shapes depend on it.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

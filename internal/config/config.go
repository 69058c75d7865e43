package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-project configuration file.
const ProjectConfigName = ".kbfusion.yaml"

// Config is the complete kbfusion configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Methods    MethodsConfig    `yaml:"methods" json:"methods"`
	Adaptive   AdaptiveConfig   `yaml:"adaptive" json:"adaptive"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Evaluation EvaluationConfig `yaml:"evaluation" json:"evaluation"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Resilience ResilienceConfig `yaml:"resilience" json:"resilience"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// DataDir holds the reference indexes. Relative paths resolve against the project root.
	DataDir string `yaml:"data_dir" json:"data_dir" validate:"required"`
}

// WeightsConfig is a per-method weight triple. It need not sum to 1.
type WeightsConfig struct {
	Lexical float64 `yaml:"lexical" json:"lexical" validate:"gte=0"`
	Dense   float64 `yaml:"dense" json:"dense" validate:"gte=0"`
	Sparse  float64 `yaml:"sparse" json:"sparse" validate:"gte=0"`
}

// Sum returns the total weight.
func (w WeightsConfig) Sum() float64 {
	return w.Lexical + w.Dense + w.Sparse
}

func (w WeightsConfig) isZero() bool {
	return w.Lexical == 0 && w.Dense == 0 && w.Sparse == 0
}

// SearchConfig configures fusion and request handling.
type SearchConfig struct {
	DefaultWeights WeightsConfig `yaml:"default_weights" json:"default_weights"`

	// RRFConstant is the RRF smoothing parameter k. Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant" validate:"gte=1"`

	DefaultLimit int `yaml:"default_limit" json:"default_limit" validate:"gte=1"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit" validate:"gtefield=DefaultLimit"`

	// CandidateDepth is the minimum number of candidates requested from each method.
	CandidateDepth int `yaml:"candidate_depth" json:"candidate_depth" validate:"gte=1"`

	// RequestBudget bounds a whole search. Reranking is skipped once it is spent.
	RequestBudget time.Duration `yaml:"request_budget" json:"request_budget" validate:"gt=0"`

	// AdaptiveByDefault enables adaptive weighting when a caller does not choose.
	AdaptiveByDefault bool `yaml:"adaptive_by_default" json:"adaptive_by_default"`

	MaxQueryLength int `yaml:"max_query_length" json:"max_query_length" validate:"gte=1"`
}

// MethodConfig configures one retrieval method.
type MethodConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// IsEnabled reports whether the method participates in retrieval.
func (m MethodConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// MethodsConfig groups the three retrieval methods.
type MethodsConfig struct {
	Lexical MethodConfig `yaml:"lexical" json:"lexical"`
	Dense   MethodConfig `yaml:"dense" json:"dense"`
	Sparse  MethodConfig `yaml:"sparse" json:"sparse"`
}

// AdaptiveConfig tunes the query characterizer.
type AdaptiveConfig struct {
	// MinLexical is the lexical share for the least specific queries.
	MinLexical float64 `yaml:"min_lexical" json:"min_lexical" validate:"gte=0,lte=1"`
	// MaxLexical is the lexical share for the most specific queries.
	MaxLexical float64 `yaml:"max_lexical" json:"max_lexical" validate:"gte=0,lte=1,gtefield=MinLexical"`
	CacheSize  int     `yaml:"cache_size" json:"cache_size" validate:"gte=1"`
}

// RerankConfig configures the optional reranking stage.
type RerankConfig struct {
	// Provider is one of none, overlap, http.
	Provider string `yaml:"provider" json:"provider" validate:"oneof=none overlap http"`
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Model    string `yaml:"model" json:"model"`

	// Ceiling caps how many fused candidates are reranked, regardless of page size.
	Ceiling int           `yaml:"ceiling" json:"ceiling" validate:"gte=1"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// EvaluationConfig configures the evaluator.
type EvaluationConfig struct {
	K                    int      `yaml:"k" json:"k" validate:"gte=1"`
	BaselineMethods      []string `yaml:"baseline_methods" json:"baseline_methods" validate:"min=1,dive,oneof=lexical dense sparse"`
	RejectEmptyJudgments bool     `yaml:"reject_empty_judgments" json:"reject_empty_judgments"`
}

// EmbeddingsConfig configures the reference encoders.
type EmbeddingsConfig struct {
	Dimensions int `yaml:"dimensions" json:"dimensions" validate:"gte=8"`
	CacheSize  int `yaml:"cache_size" json:"cache_size" validate:"gte=1"`
}

// ResilienceConfig configures circuit breakers and retries for downstream calls.
type ResilienceConfig struct {
	BreakerEnabled      *bool         `yaml:"breaker_enabled,omitempty" json:"breaker_enabled,omitempty"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio" json:"breaker_failure_ratio" validate:"gt=0,lte=1"`
	BreakerMinRequests  uint32        `yaml:"breaker_min_requests" json:"breaker_min_requests" validate:"gte=1"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout" json:"breaker_open_timeout" validate:"gt=0"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts" json:"retry_max_attempts" validate:"gte=0"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" json:"retry_initial_backoff" validate:"gte=0"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" json:"retry_max_backoff" validate:"gte=0"`
}

// IsBreakerEnabled reports whether breakers are on (default true).
func (r ResilienceConfig) IsBreakerEnabled() bool {
	return r.BreakerEnabled == nil || *r.BreakerEnabled
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport" validate:"oneof=stdio"`
	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// MetricsAddr serves Prometheus metrics when non-empty (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: ".kbfusion",
		},
		Search: SearchConfig{
			DefaultWeights: WeightsConfig{Lexical: 0.4, Dense: 0.4, Sparse: 0.2},
			RRFConstant:    60,
			DefaultLimit:   10,
			MaxLimit:       100,
			CandidateDepth: 50,
			RequestBudget:  2 * time.Second,
			MaxQueryLength: 1000,
		},
		Methods: MethodsConfig{
			// lexical is the fastest backend, sparse the slowest
			Lexical: MethodConfig{Timeout: 250 * time.Millisecond},
			Dense:   MethodConfig{Timeout: 500 * time.Millisecond},
			Sparse:  MethodConfig{Timeout: 750 * time.Millisecond},
		},
		Adaptive: AdaptiveConfig{
			MinLexical: 0.2,
			MaxLexical: 0.7,
			CacheSize:  1000,
		},
		Rerank: RerankConfig{
			Provider:          "overlap",
			Ceiling:           30,
			Timeout:           1500 * time.Millisecond,
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Evaluation: EvaluationConfig{
			K:               10,
			BaselineMethods: []string{"lexical", "dense"},
		},
		Embeddings: EmbeddingsConfig{
			Dimensions: 256,
			CacheSize:  1000,
		},
		Resilience: ResilienceConfig{
			BreakerFailureRatio: 0.6,
			BreakerMinRequests:  5,
			BreakerOpenTimeout:  30 * time.Second,
			RetryMaxAttempts:    2,
			RetryInitialBackoff: 50 * time.Millisecond,
			RetryMaxBackoff:     500 * time.Millisecond,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/kbfusion/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbfusion/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbfusion", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbfusion", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbfusion", "config.yaml")
}

// Load loads configuration for the project in dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/kbfusion/config.yaml)
//  3. Project config (.kbfusion.yaml or .kbfusion.yml in dir)
//  4. Environment variables (KBFUSION_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := ProjectConfigPath(dir); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" if none exists.
// .yaml takes precedence over .yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigName, ".kbfusion.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}

	// A weight triple is replaced as a whole: a file that sets only
	// "lexical: 1" means dense and sparse are zero, not their defaults.
	if !other.Search.DefaultWeights.isZero() {
		c.Search.DefaultWeights = other.Search.DefaultWeights
	}
	setInt(&c.Search.RRFConstant, other.Search.RRFConstant)
	setInt(&c.Search.DefaultLimit, other.Search.DefaultLimit)
	setInt(&c.Search.MaxLimit, other.Search.MaxLimit)
	setInt(&c.Search.CandidateDepth, other.Search.CandidateDepth)
	setDuration(&c.Search.RequestBudget, other.Search.RequestBudget)
	setInt(&c.Search.MaxQueryLength, other.Search.MaxQueryLength)
	if other.Search.AdaptiveByDefault {
		c.Search.AdaptiveByDefault = true
	}

	mergeMethod(&c.Methods.Lexical, other.Methods.Lexical)
	mergeMethod(&c.Methods.Dense, other.Methods.Dense)
	mergeMethod(&c.Methods.Sparse, other.Methods.Sparse)

	setFloat(&c.Adaptive.MinLexical, other.Adaptive.MinLexical)
	setFloat(&c.Adaptive.MaxLexical, other.Adaptive.MaxLexical)
	setInt(&c.Adaptive.CacheSize, other.Adaptive.CacheSize)

	setString(&c.Rerank.Provider, other.Rerank.Provider)
	setString(&c.Rerank.Endpoint, other.Rerank.Endpoint)
	setString(&c.Rerank.Model, other.Rerank.Model)
	setInt(&c.Rerank.Ceiling, other.Rerank.Ceiling)
	setDuration(&c.Rerank.Timeout, other.Rerank.Timeout)
	setFloat(&c.Rerank.RequestsPerSecond, other.Rerank.RequestsPerSecond)
	setInt(&c.Rerank.Burst, other.Rerank.Burst)

	setInt(&c.Evaluation.K, other.Evaluation.K)
	if len(other.Evaluation.BaselineMethods) > 0 {
		c.Evaluation.BaselineMethods = other.Evaluation.BaselineMethods
	}
	if other.Evaluation.RejectEmptyJudgments {
		c.Evaluation.RejectEmptyJudgments = true
	}

	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	if other.Resilience.BreakerEnabled != nil {
		c.Resilience.BreakerEnabled = other.Resilience.BreakerEnabled
	}
	setFloat(&c.Resilience.BreakerFailureRatio, other.Resilience.BreakerFailureRatio)
	if other.Resilience.BreakerMinRequests != 0 {
		c.Resilience.BreakerMinRequests = other.Resilience.BreakerMinRequests
	}
	setDuration(&c.Resilience.BreakerOpenTimeout, other.Resilience.BreakerOpenTimeout)
	setInt(&c.Resilience.RetryMaxAttempts, other.Resilience.RetryMaxAttempts)
	setDuration(&c.Resilience.RetryInitialBackoff, other.Resilience.RetryInitialBackoff)
	setDuration(&c.Resilience.RetryMaxBackoff, other.Resilience.RetryMaxBackoff)

	setString(&c.Server.Transport, other.Server.Transport)
	setString(&c.Server.LogLevel, other.Server.LogLevel)
	setString(&c.Server.MetricsAddr, other.Server.MetricsAddr)
}

func mergeMethod(dst *MethodConfig, src MethodConfig) {
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	setDuration(&dst.Timeout, src.Timeout)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies KBFUSION_* environment variables.
// Malformed values are ignored.
func (c *Config) applyEnvOverrides() {
	envFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
				*dst = f
			}
		}
	}
	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
				*dst = d
			}
		}
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	envFloat("KBFUSION_LEXICAL_WEIGHT", &c.Search.DefaultWeights.Lexical)
	envFloat("KBFUSION_DENSE_WEIGHT", &c.Search.DefaultWeights.Dense)
	envFloat("KBFUSION_SPARSE_WEIGHT", &c.Search.DefaultWeights.Sparse)
	envInt("KBFUSION_RRF_CONSTANT", &c.Search.RRFConstant)
	envDuration("KBFUSION_REQUEST_BUDGET", &c.Search.RequestBudget)
	if v := os.Getenv("KBFUSION_ADAPTIVE"); v != "" {
		c.Search.AdaptiveByDefault = parseBool(v)
	}

	envDuration("KBFUSION_LEXICAL_TIMEOUT", &c.Methods.Lexical.Timeout)
	envDuration("KBFUSION_DENSE_TIMEOUT", &c.Methods.Dense.Timeout)
	envDuration("KBFUSION_SPARSE_TIMEOUT", &c.Methods.Sparse.Timeout)

	envString("KBFUSION_RERANK_PROVIDER", &c.Rerank.Provider)
	envString("KBFUSION_RERANK_ENDPOINT", &c.Rerank.Endpoint)
	envString("KBFUSION_RERANK_MODEL", &c.Rerank.Model)
	envInt("KBFUSION_RERANK_CEILING", &c.Rerank.Ceiling)

	envString("KBFUSION_DATA_DIR", &c.Paths.DataDir)
	envString("KBFUSION_LOG_LEVEL", &c.Server.LogLevel)
	envString("KBFUSION_METRICS_ADDR", &c.Server.MetricsAddr)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// ResolveDataDir returns the absolute data directory for a project root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.Paths.DataDir) {
		return c.Paths.DataDir
	}
	return filepath.Join(root, c.Paths.DataDir)
}

// WriteYAML writes the configuration to a YAML file, backing up any file it replaces.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if fileExists(path) {
		if _, err := BackupFile(path); err != nil {
			return err
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for .git or a kbfusion
// config file. It returns startDir (absolute) when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) || ProjectConfigPath(current) != "" {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

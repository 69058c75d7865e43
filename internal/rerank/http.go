package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
)

// HTTP reranker defaults
const (
	DefaultHTTPModel   = "cross-encoder"
	DefaultHTTPTimeout = 1500 * time.Millisecond

	// BreakerOperation names the breaker guarding the HTTP reranker.
	BreakerOperation = "rerank.http"

	maxErrorBody = 512
)

// HTTPConfig configures the cross-encoder client.
type HTTPConfig struct {
	// Endpoint is the service base URL; requests go to {Endpoint}/rerank.
	Endpoint string
	Model    string
	Timeout  time.Duration

	// RequestsPerSecond limits outgoing calls. 0 disables limiting.
	RequestsPerSecond float64
	Burst             int

	Retry    kberrors.RetryConfig
	Breakers *kberrors.Breakers

	// Client overrides the pooled HTTP client (tests).
	Client *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// HTTPReranker calls a cross-encoder service. Calls are rate limited,
// retried on retryable failures, and guarded by a circuit breaker.
type HTTPReranker struct {
	client   *http.Client
	cfg      HTTPConfig
	limiter  *rate.Limiter
	endpoint string

	mu     sync.RWMutex
	closed bool
}

// NewHTTPReranker creates a client. It does not contact the service.
func NewHTTPReranker(cfg HTTPConfig) (*HTTPReranker, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, kberrors.ConfigError("http reranker requires rerank.endpoint", nil).
			WithSuggestion("Set rerank.endpoint or choose rerank.provider: overlap")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Float64("rps", cfg.RequestsPerSecond))

	return &HTTPReranker{
		client:   client,
		cfg:      cfg,
		limiter:  limiter,
		endpoint: endpoint,
	}, nil
}

// Rerank posts the documents and returns their scores in input order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errors.New("reranker is closed")
	}
	if len(docs) == 0 {
		return []float64{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content()
	}
	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts, Model: r.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var scores []float64
	err = r.cfg.Breakers.Execute(ctx, BreakerOperation, func(ctx context.Context) error {
		var err error
		scores, err = kberrors.RetryWithResult(ctx, r.cfg.Retry, func() ([]float64, error) {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return r.post(ctx, body, len(docs))
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *HTTPReranker) post(ctx context.Context, body []byte, n int) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable, "rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, kberrors.NetworkError(detail, nil)
		}
		return nil, kberrors.New(kberrors.ErrCodeRerankFailed, detail, nil)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankFailed, "failed to decode rerank response", err)
	}

	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= n {
			return nil, kberrors.New(kberrors.ErrCodeRerankFailed,
				fmt.Sprintf("rerank response index %d out of range [0,%d)", res.Index, n), nil)
		}
		scores[res.Index] = res.Score
		seen[res.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, kberrors.New(kberrors.ErrCodeRerankFailed,
				fmt.Sprintf("rerank response missing document %d", i), nil)
		}
	}
	return scores, nil
}

// Available reports false once closed or while the breaker is open.
func (r *HTTPReranker) Available(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	return r.cfg.Breakers.State(BreakerOperation) != "open"
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}

var _ Reranker = (*HTTPReranker)(nil)

package errors

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = New(ErrCodeCircuitOpen, "circuit breaker is open", nil)

// BreakerConfig configures the per-operation circuit breakers.
type BreakerConfig struct {
	// Enabled turns breakers on. When false, Execute calls fn directly.
	Enabled bool

	// FailureRatio trips the breaker once this share of requests has failed.
	FailureRatio float64

	// MinRequests is the number of requests observed before the ratio applies.
	MinRequests uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	// HalfOpenMaxCalls is the number of probe calls allowed while half-open.
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig returns the breaker policy used for adapters and the reranker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		FailureRatio:     0.6,
		MinRequests:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c BreakerConfig) normalize() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = d.FailureRatio
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Breakers keeps one gobreaker circuit per named operation
// ("adapter.lexical", "rerank.http", ...).
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewBreakers creates an empty breaker registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn through the breaker for operation.
// Cancellation by the caller is not recorded as a failure; deadline
// expiry is.
func (b *Breakers) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if b == nil || !b.cfg.Enabled {
		return fn(ctx)
	}

	_, err := b.breaker(operation).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if IsCircuitOpen(err) {
		return New(ErrCodeCircuitOpen, "circuit breaker is open for "+operation, err)
	}
	return err
}

// State returns the current state name for operation ("closed" when unknown).
func (b *Breakers) State(operation string) string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	b.mu.Lock()
	cb, ok := b.breakers[operation]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func (b *Breakers) breaker(operation string) *gobreaker.CircuitBreaker[any] {
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[op]; ok {
		return cb
	}

	cfg := b.cfg
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        op,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("breaker_state_change",
				slog.String("operation", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	b.breakers[op] = cb
	return cb
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return GetCode(err) == ErrCodeCircuitOpen
}

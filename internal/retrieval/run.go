package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
)

// Status is the outcome class of one method run.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusCircuitOpen Status = "circuit_open"
	StatusDisabled    Status = "disabled"
)

// Degraded reports whether the method failed to contribute for a reason
// other than having no matches.
func (s Status) Degraded() bool {
	return s != StatusOK && s != StatusEmpty
}

// Outcome is the result of running one adapter. Candidates is never nil.
type Outcome struct {
	Method     fusion.Method
	Status     Status
	Err        error
	Latency    time.Duration
	Candidates []Candidate
}

// Ranked converts the candidates to fusion input.
func (o Outcome) Ranked() []fusion.Ranked {
	out := make([]fusion.Ranked, len(o.Candidates))
	for i, c := range o.Candidates {
		out[i] = fusion.Ranked{ResourceID: c.ResourceID, Score: c.Score}
	}
	return out
}

// Disabled returns the outcome of a method switched off by configuration.
func Disabled(m fusion.Method) Outcome {
	return Outcome{Method: m, Status: StatusDisabled, Candidates: []Candidate{}}
}

type runOptions struct {
	breakers *kberrors.Breakers
	logger   *slog.Logger
}

// RunOption configures Run.
type RunOption func(*runOptions)

// WithBreakers guards the adapter call with the breaker named
// "adapter.<method>".
func WithBreakers(b *kberrors.Breakers) RunOption {
	return func(o *runOptions) { o.breakers = b }
}

// WithLogger sets the logger used for degradation events.
func WithLogger(l *slog.Logger) RunOption {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// BreakerName returns the breaker operation name for a method.
func BreakerName(m fusion.Method) string {
	return "adapter." + string(m)
}

type searchResult struct {
	cands []Candidate
	err   error
}

// Run executes adapter a under timeout and never fails: errors, timeouts,
// panics and open breakers become an empty candidate list with the matching
// Status. Successful lists are truncated to limit and ranks renumbered 1..n.
// timeout <= 0 means no per-method deadline beyond ctx.
func Run(ctx context.Context, a Adapter, text string, limit int, timeout time.Duration, opts ...RunOption) Outcome {
	o := runOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	m := a.Method()
	start := time.Now()
	out := Outcome{Method: m, Candidates: []Candidate{}}
	if limit <= 0 {
		out.Status = StatusEmpty
		return out
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cands []Candidate
	err := o.breakers.Execute(callCtx, BreakerName(m), func(c context.Context) error {
		res, err := invoke(c, a, text, limit)
		cands = res
		return err
	})
	out.Latency = time.Since(start)

	if err != nil {
		out.Err = err
		out.Status = classify(err)
		o.logger.Warn("method_degraded",
			slog.String("method", string(m)),
			slog.String("status", string(out.Status)),
			slog.Duration("latency", out.Latency),
			slog.String("error", err.Error()))
		return out
	}

	if len(cands) > limit {
		cands = cands[:limit]
	}
	for i := range cands {
		c := cands[i]
		c.Rank = i + 1
		c.Method = m
		out.Candidates = append(out.Candidates, c)
	}
	out.Status = StatusOK
	if len(out.Candidates) == 0 {
		out.Status = StatusEmpty
	}
	return out
}

// invoke runs the adapter in its own goroutine so an adapter that ignores
// its context cannot hold the caller past the deadline.
func invoke(ctx context.Context, a Adapter, text string, limit int) ([]Candidate, error) {
	done := make(chan searchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- searchResult{err: kberrors.InternalError(
					fmt.Sprintf("%s adapter panicked: %v", a.Method(), r), nil)}
			}
		}()
		cands, err := a.Search(ctx, text, limit)
		done <- searchResult{cands: cands, err: err}
	}()

	select {
	case r := <-done:
		return r.cands, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func classify(err error) Status {
	switch {
	case kberrors.IsCircuitOpen(err):
		return StatusCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}

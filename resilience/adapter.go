package resilience

import (
	"context"
	"fmt"

	"github.com/lesleslie/mahavishnu/engine"
	"github.com/lesleslie/mahavishnu/errs"
	"github.com/lesleslie/mahavishnu/health"
)

// ResilientAdapter wraps an engine.EngineAdapter, composing a per-target
// Registry of circuit breakers with a Retry and a DLQ — the same
// "decorator returns the same interface" shape as Executor composing
// CircuitBreaker/Retry/RateLimiter/Bulkhead/Timeout, specialized to the
// fixed per-call ordering the contract requires: breaker check, then a
// retry-wrapped invoke, then breaker/DLQ notification.
type ResilientAdapter struct {
	wrapped  engine.EngineAdapter
	breakers *Registry
	retry    *Retry
	dlq      *DLQ
}

var _ engine.EngineAdapter = (*ResilientAdapter)(nil)

// NewResilientAdapter constructs a ResilientAdapter. retry and dlq may
// be nil; breakers must not be.
func NewResilientAdapter(wrapped engine.EngineAdapter, breakers *Registry, retry *Retry, dlq *DLQ) *ResilientAdapter {
	if retry == nil {
		retry = NewRetry(RetryConfig{RetryIf: errs.IsRetryable})
	}
	return &ResilientAdapter{wrapped: wrapped, breakers: breakers, retry: retry, dlq: dlq}
}

// Name delegates to the wrapped adapter.
func (r *ResilientAdapter) Name() string { return r.wrapped.Name() }

// Validate delegates to the wrapped adapter without resilience applied;
// validation failures are not retried regardless of wrapping.
func (r *ResilientAdapter) Validate(ctx context.Context, task engine.Task, repos []string) error {
	return r.wrapped.Validate(ctx, task, repos)
}

// Health delegates to the wrapped adapter.
func (r *ResilientAdapter) Health(ctx context.Context) health.Result {
	return r.wrapped.Health(ctx)
}

// Execute runs the wrapped adapter's Execute for a single target
// ("<Name>:<repo>", one repo per call per the Execution Engine's
// fan-out contract) through the breaker-then-retry pipeline, enqueuing
// a DLQ entry on terminal failure.
func (r *ResilientAdapter) Execute(ctx context.Context, task engine.Task, repos []string) (engine.AdapterResult, error) {
	target := r.target(repos)
	breaker := r.breakers.GetOrCreate(target)

	var result engine.AdapterResult
	execErr := breaker.Execute(ctx, func(ctx context.Context) error {
		return r.retry.Execute(ctx, func(ctx context.Context) error {
			res, err := r.wrapped.Execute(ctx, task, repos)
			result = res
			return err
		})
	})

	if execErr != nil {
		if r.dlq != nil {
			entry := DLQEntry{
				Target:   target,
				Task:     task,
				Cause:    execErr.Error(),
				Attempts: 0,
			}
			if _, err := r.dlq.Enqueue(ctx, entry); err != nil {
				return result, fmt.Errorf("resilience: enqueue dlq entry for %s: %w (original: %w)", target, err, execErr)
			}
		}
		return result, execErr
	}

	return result, nil
}

// target derives the breaker/DLQ key "<engine>:<repo>" for a
// single-repo Execute call. Multi-repo calls use the first repo; the
// Execution Engine's fan-out always calls one repo per Execute, so this
// is the common case.
func (r *ResilientAdapter) target(repos []string) string {
	if len(repos) == 0 {
		return r.wrapped.Name() + ":*"
	}
	return r.wrapped.Name() + ":" + repos[0]
}

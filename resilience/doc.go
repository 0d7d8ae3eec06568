// Package resilience provides the Resilience Layer: per-target circuit
// breakers, retry with backoff and jitter, a dead-letter queue, and a
// decorator that composes all three around an engine.EngineAdapter.
//
// # Ecosystem Position
//
// resilience sits between the Execution Engine's fan-out and the
// adapters that speak to external engines:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                     Per-Repo Execution Flow                     │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│   engine            resilience                 EngineAdapter    │
//	│   ┌──────┐         ┌────────────────┐           ┌─────────┐     │
//	│   │ fan  │────────▶│ResilientAdapter│──────────▶│ adapter │     │
//	│   │ out  │         │                │           │ (sweep, │     │
//	│   └──────┘         │  ┌──────────┐  │           │  CI...) │     │
//	│                    │  │ Registry │  │           └─────────┘     │
//	│                    │  │(breaker  │  │                           │
//	│                    │  │per target)│ │                           │
//	│                    │  ├──────────┤  │                           │
//	│                    │  │  Retry   │  │                           │
//	│                    │  ├──────────┤  │                           │
//	│                    │  │   DLQ    │  │                           │
//	│                    │  └──────────┘  │                           │
//	│                    └────────────────┘                           │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Resilience Patterns
//
//   - [CircuitBreaker] / [Registry]: prevents cascading failures by
//     stopping calls to a failing target after a threshold is reached.
//     [Registry] lazily creates one breaker per "<engine>:<repo>" target,
//     so one hot repo tripping its breaker never starves its siblings.
//     Transitions through Closed → Open → HalfOpen states.
//
//   - [Retry]: automatically retries failed operations with configurable
//     backoff strategies (exponential, linear, constant) and jitter,
//     classifying retryability through the shared errs taxonomy.
//
//   - [DLQ]: durable record of failures that exhausted retries or hit an
//     open breaker, with List/Get/Replay/Purge. [MemoryStore] backs
//     tests; [FileStore] persists one JSON file per entry so entries
//     survive a process restart.
//
//   - [ResilientAdapter]: wraps any engine.EngineAdapter with a fixed
//     composition of Registry + Retry + DLQ: breaker check, then a
//     retry-wrapped invoke, then breaker/DLQ notification.
//
//   - [RateLimiter], [Bulkhead], [Timeout]: general-purpose primitives
//     composable via [Executor], available for callers that need rate
//     shaping or concurrency isolation outside the adapter path.
//
// # Quick Start
//
//	registry := resilience.NewRegistry(resilience.RegistryConfig{
//	    Breaker: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute},
//	    Bus:     bus,
//	})
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts: 3,
//	    RetryIf:     errs.IsRetryable,
//	})
//	dlq := resilience.NewDLQ(resilience.NewMemoryStore(), bus)
//
//	adapter := resilience.NewResilientAdapter(rawAdapter, registry, retry, dlq)
//	result, err := adapter.Execute(ctx, task, []string{repo})
//
// # Execution Order
//
// When composing patterns directly with [Executor], they apply in this
// order (outermost first): Rate Limiter, Bulkhead, Circuit Breaker,
// Retry, Timeout. [ResilientAdapter] is a narrower, fixed composition of
// Registry + Retry + DLQ specialized for the adapter contract, applied
// in the order: breaker check, retry-wrapped invoke, DLQ notify.
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction:
//
//   - [CircuitBreaker] / [Registry]: mutex-protected state and
//     per-target map
//   - [Retry]: stateless, safe for concurrent use
//   - [DLQ] / [MemoryStore] / [FileStore]: mutex-protected
//   - [RateLimiter], [Bulkhead]: mutex/channel-protected
//   - [ResilientAdapter]: safe; delegates to the above
//
// # Error Handling
//
// Each pattern returns specific sentinel errors (use errors.Is for
// checking):
//
//   - [ErrCircuitOpen]: circuit breaker is open, rejecting calls
//   - [ErrMaxRetriesExceeded]: names exhausted retry attempts; [Retry]
//     itself returns the last attempt's error instead
//   - [ErrRateLimitExceeded]: rate limit exceeded and no wait configured
//   - [ErrBulkheadFull]: bulkhead at maximum concurrency
//   - [ErrTimeout]: operation exceeded its configured timeout
//   - [ErrDLQEntryNotFound]: Get/Remove called with an unknown entry id
//
// Example:
//
//	_, err := adapter.Execute(ctx, task, repos)
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    log.Warn(ctx, "breaker open, skipping repo this cycle")
//	    return
//	}
//
// # Callbacks and Observability
//
//   - CircuitBreakerConfig.OnStateChange / RegistryConfig.Bus: breaker
//     transitions are both callback-driven and published as
//     breaker.opened / breaker.closed / breaker.half_open events
//   - RetryConfig.OnRetry: called before each retry attempt
//   - DLQ's Bus: dlq.enqueued / dlq.replayed / dlq.purged events
//
// # Integration
//
//   - engine: [ResilientAdapter] implements engine.EngineAdapter and is
//     what the Execution Engine's fan-out actually calls
//   - eventbus: [Registry] and [DLQ] publish breaker.* and dlq.* events
//     for subscribers such as dashboards
//   - workerpool: each Pool runs its worker health probes through an
//     [Executor] built from [RateLimiter], [Bulkhead] and [Timeout]
package resilience

// Package saga executes ordered step sequences as distributed
// transactions with crash recovery, retry, idempotency, and backward
// compensation, per the Saga Coordinator contract.
//
// # Components
//
//   - [Step]: the execute/compensate/IdempotencyKey contract a caller
//     implements per saga participant.
//   - [Coordinator]: runs steps via [Coordinator.Run], resumes
//     in-flight sagas via [Coordinator.Recover] after a restart, and
//     flags long-stuck sagas via [Coordinator.SweepOrphans].
//   - [Store]: persists saga rows and their idempotency records.
//     [MemoryStore] is the in-process implementation; a SQL-backed
//     Store would make CommitStep's atomicity a database transaction.
//
// # Resilience composition
//
// Rather than reimplementing backoff and breaker bookkeeping, Run
// composes this module's own resilience.Registry and resilience.Retry:
// a per-(saga_id, step_name) circuit breaker wraps the retry loop, so a
// step that exhausts its retries counts as one breaker failure, and an
// already-open breaker short-circuits the step before any attempt.
//
// # Concurrency
//
// Run serializes on a per-saga-id advisory lock: a second Run call for
// the same saga id blocks until the first returns. Steps within one
// saga never execute concurrently with each other.
//
// # Integration
//
//   - resilience: per-step circuit breaking and retry
//   - eventbus: saga.* lifecycle events
//   - errs: terminal step failure is reported as errs.SagaStepFailed;
//     an open breaker is reported as errs.CircuitOpen
package saga

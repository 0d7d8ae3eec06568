// Package workerpool supervises fleets of external worker processes and
// routes tasks to them: lifecycle management, health supervision,
// autoscaling, and least-loaded dispatch.
//
// # Components
//
//   - [Pool]: owns a set of Workers for one pool_type. Transitions
//     through starting → active (or degraded) → draining → stopped.
//   - [WorkerTransport] / [WorkerHandle]: abstracts how a worker is
//     spawned and spoken to, so the spawn/handshake/dispatch mechanics
//     are swappable without touching pool lifecycle logic.
//     [ExecTransport] spawns workers as OS processes via os/exec and
//     speaks newline-delimited JSON over stdin/stdout.
//
// # Concurrency
//
// Pool membership and status are guarded by the pool's own mutex. The
// health supervision loop and the autoscaling loop mutate pool state
// only while holding that mutex, and release it before any I/O (spawn,
// ping, dispatch) — the same "never hold a lock across a suspension
// point" discipline the Execution Engine applies to workflow
// cancellation.
//
// # Integration
//
//   - resilience: each Pool runs its health probes through a
//     resilience.Executor (rate limiter, bulkhead, per-probe timeout);
//     dispatch applies only the fixed execution-timeout rule, with no
//     Retry or CircuitBreaker
//   - eventbus: pool.* and worker.* lifecycle events are published for
//     subscribers such as dashboards
//   - errs: ExecuteOnPool classifies failures as PoolUnavailable or
//     WorkerLost so the Resilient Adapter can decide whether to retry
package workerpool

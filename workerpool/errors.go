package workerpool

import "errors"

var (
	// ErrPoolNotActive is returned by ExecuteOnPool when the pool is not
	// active and not degraded-with-policy-allowed.
	ErrPoolNotActive = errors.New("workerpool: pool is not active")

	// ErrNoReadyWorker is returned when a pool has no ready worker to
	// dispatch to, distinct from PoolDegraded (the pool itself may be
	// healthy but momentarily saturated).
	ErrNoReadyWorker = errors.New("workerpool: no ready worker available")

	// ErrPoolAlreadyStarted guards against calling Start twice.
	ErrPoolAlreadyStarted = errors.New("workerpool: pool already started")

	// ErrUnknownWorker is returned by operations addressing a worker ID
	// the pool does not own.
	ErrUnknownWorker = errors.New("workerpool: unknown worker")
)

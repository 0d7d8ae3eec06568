package workerpool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lesleslie/mahavishnu/errs"
	"github.com/lesleslie/mahavishnu/health"
	"github.com/lesleslie/mahavishnu/workerpool"
)

// fakeHandle is an in-process WorkerHandle double: no subprocess, no
// wire framing, just configurable behavior for tests.
type fakeHandle struct {
	id string

	mu       sync.Mutex
	pingErr  error
	dispatch func(ctx context.Context, task workerpool.Task) (workerpool.Result, error)
	stopped  bool
	killed   bool
}

func (h *fakeHandle) ID() string                         { return h.id }
func (h *fakeHandle) Handshake(ctx context.Context) error { return nil }

func (h *fakeHandle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pingErr
}

func (h *fakeHandle) Dispatch(ctx context.Context, task workerpool.Task) (workerpool.Result, error) {
	return h.dispatch(ctx, task)
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *fakeHandle) setPingErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingErr = err
}

// fakeTransport spawns fakeHandles with sequential ids.
type fakeTransport struct {
	counter  int64
	dispatch func(ctx context.Context, task workerpool.Task) (workerpool.Result, error)

	mu      sync.Mutex
	spawned []*fakeHandle
}

func (t *fakeTransport) Spawn(ctx context.Context, poolType string) (workerpool.WorkerHandle, error) {
	n := atomic.AddInt64(&t.counter, 1)
	dispatch := t.dispatch
	if dispatch == nil {
		dispatch = func(ctx context.Context, task workerpool.Task) (workerpool.Result, error) {
			return workerpool.Result{TaskID: task.ID, Output: map[string]any{"ok": true}}, nil
		}
	}
	h := &fakeHandle{id: fmt.Sprintf("worker-%d", n), dispatch: dispatch}

	t.mu.Lock()
	t.spawned = append(t.spawned, h)
	t.mu.Unlock()

	return h, nil
}

func newTestPool(t *testing.T, transport *fakeTransport, cfg workerpool.Config) *workerpool.Pool {
	t.Helper()
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 50 * time.Millisecond
	}
	pool := workerpool.NewPool("p1", cfg, transport, nil, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = pool.Drain(context.Background())
	})
	return pool
}

func TestPool_StartReachesActive(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 2, MaxWorkers: 4})

	if pool.Status() != workerpool.PoolActive {
		t.Fatalf("Status() = %v, want active", pool.Status())
	}
	if pool.WorkerCount() != 2 {
		t.Fatalf("WorkerCount() = %d, want 2", pool.WorkerCount())
	}
}

func TestPool_ExecuteOnPoolDispatchesAndReturnsResult(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 1, MaxWorkers: 1})

	result, err := pool.ExecuteOnPool(context.Background(), workerpool.Task{ID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteOnPool() error = %v", err)
	}
	if result.TaskID != "t1" {
		t.Fatalf("TaskID = %q, want t1", result.TaskID)
	}
}

func TestPool_ExecuteOnPoolWorkerDeathReturnsWorkerLost(t *testing.T) {
	transport := &fakeTransport{
		dispatch: func(ctx context.Context, task workerpool.Task) (workerpool.Result, error) {
			return workerpool.Result{}, errors.New("connection reset")
		},
	}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 1, MaxWorkers: 1})

	_, err := pool.ExecuteOnPool(context.Background(), workerpool.Task{ID: "t1"})
	if err == nil {
		t.Fatal("ExecuteOnPool() error = nil, want WorkerLost")
	}
	if errs.Classify(err) != errs.WorkerLost {
		t.Fatalf("Classify(err) = %v, want WorkerLost", errs.Classify(err))
	}
}

func TestPool_ExecuteOnPoolRejectsWhenNotActive(t *testing.T) {
	transport := &fakeTransport{}
	pool := workerpool.NewPool("p1", workerpool.Config{MinWorkers: 1, MaxWorkers: 1}, transport, nil, nil, nil)

	_, err := pool.ExecuteOnPool(context.Background(), workerpool.Task{ID: "t1"})
	if errs.Classify(err) != errs.PoolUnavailable {
		t.Fatalf("Classify(err) = %v, want PoolUnavailable", errs.Classify(err))
	}
}

func TestPool_HealthLoopReplacesUnhealthyWorker(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{
		MinWorkers:                1,
		MaxWorkers:                2,
		HealthInterval:            10 * time.Millisecond,
		ConsecutiveHealthFailures: 2,
	})

	transport.mu.Lock()
	original := transport.spawned[0]
	transport.mu.Unlock()
	original.setPingErr(errors.New("no pong"))

	deadline := time.After(2 * time.Second)
	for {
		transport.mu.Lock()
		replaced := len(transport.spawned) > 1
		transport.mu.Unlock()
		if replaced {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker was never replaced after health failures")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPool_DrainStopsAllWorkers(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 2, MaxWorkers: 2})

	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if pool.Status() != workerpool.PoolStopped {
		t.Fatalf("Status() = %v, want stopped", pool.Status())
	}
	if pool.WorkerCount() != 0 {
		t.Fatalf("WorkerCount() = %d, want 0 after drain", pool.WorkerCount())
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	for _, h := range transport.spawned {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			t.Fatalf("worker %s was never stopped", h.id)
		}
	}
}

func TestPool_DoubleStartReturnsError(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 1, MaxWorkers: 1})

	if err := pool.Start(context.Background()); !errors.Is(err, workerpool.ErrPoolAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrPoolAlreadyStarted", err)
	}
}

func TestPool_HealthReflectsWorkerPings(t *testing.T) {
	transport := &fakeTransport{}
	pool := newTestPool(t, transport, workerpool.Config{MinWorkers: 2, MaxWorkers: 2})

	if got := pool.Health(context.Background()).Status; got != health.StatusHealthy {
		t.Fatalf("Health().Status = %v, want healthy", got)
	}

	transport.mu.Lock()
	transport.spawned[0].setPingErr(errors.New("no pong"))
	transport.mu.Unlock()

	if got := pool.Health(context.Background()).Status; got != health.StatusUnhealthy {
		t.Fatalf("Health().Status = %v, want unhealthy", got)
	}
}

func TestPool_StatusStringsAreStable(t *testing.T) {
	cases := map[workerpool.PoolStatus]string{
		workerpool.PoolStarting: "starting",
		workerpool.PoolActive:   "active",
		workerpool.PoolDraining: "draining",
		workerpool.PoolStopped:  "stopped",
		workerpool.PoolDegraded: "degraded",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

package workerpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lesleslie/mahavishnu/errs"
	"github.com/lesleslie/mahavishnu/eventbus"
	"github.com/lesleslie/mahavishnu/health"
	"github.com/lesleslie/mahavishnu/observe"
	"github.com/lesleslie/mahavishnu/resilience"
)

// Pool supervises a fleet of external worker processes of one pool_type
// and routes tasks to them, per spec.md §4.7. Pool membership and status
// are guarded by mu; the health and autoscale loops never hold mu across
// I/O (spawn, ping, dispatch all happen with mu released).
//
// Grounded on the mutex-guarded workers map + semaphore shape of
// RevCBH-choo's internal/worker/pool.go and the explicit PoolStatus enum
// of maumercado-task-queue-go's internal/worker/pool.go.
type Pool struct {
	id         string
	cfg        Config
	transport  WorkerTransport
	bus        *eventbus.Bus
	logger     observe.Logger
	loadSignal LoadSignal

	dispatchSem   *semaphore.Weighted
	probeExecutor *resilience.Executor

	mu              sync.Mutex
	status          PoolStatus
	workers         map[string]*worker
	rrIndex         int
	lastScaleAction time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a Pool. loadSignal may be nil, in which case the
// autoscaling loop never fires.
func NewPool(id string, cfg Config, transport WorkerTransport, bus *eventbus.Bus, logger observe.Logger, loadSignal LoadSignal) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		id:          id,
		cfg:         cfg,
		transport:   transport,
		bus:         bus,
		logger:      logger,
		loadSignal:  loadSignal,
		dispatchSem: semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		probeExecutor: resilience.NewExecutor(
			resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: cfg.MaxWorkers})),
			resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
				Rate:        float64(cfg.MaxWorkers) / cfg.HealthInterval.Seconds(),
				Burst:       cfg.MaxWorkers,
				WaitOnLimit: true,
				MaxWait:     cfg.HealthInterval,
			})),
			resilience.WithTimeout(cfg.HealthInterval),
		),
		status:  PoolStopped,
		workers: make(map[string]*worker),
		stopCh:  make(chan struct{}),
	}
}

func (p *Pool) publish(typ eventbus.Type, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Source: p.id, Data: data})
}

func (p *Pool) log(ctx context.Context, msg string, fields ...observe.Field) {
	if p.logger == nil {
		return
	}
	p.logger.Info(ctx, msg, fields...)
}

// Start spawns min_workers concurrently and transitions the pool to
// active once all reach ready, or to degraded if spawn_timeout elapses
// first with fewer than min_workers ready. It then starts the health
// supervision and autoscaling loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.status != PoolStopped {
		p.mu.Unlock()
		return ErrPoolAlreadyStarted
	}
	p.status = PoolStarting
	p.mu.Unlock()

	spawnCtx, cancel := context.WithTimeout(ctx, p.cfg.SpawnTimeout)
	defer cancel()

	var wg sync.WaitGroup
	ready := make(chan struct{}, p.cfg.MinWorkers)
	for i := 0; i < p.cfg.MinWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.spawnWorker(spawnCtx); err == nil {
				ready <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(ready)

	readyCount := 0
	for range ready {
		readyCount++
	}

	p.mu.Lock()
	if readyCount >= p.cfg.MinWorkers {
		p.status = PoolActive
	} else {
		p.status = PoolDegraded
	}
	status := p.status
	p.mu.Unlock()

	if status == PoolDegraded {
		p.publish(eventbus.PoolDegraded, nil)
	}
	p.log(ctx, "pool started",
		observe.Field{Key: "pool_id", Value: p.id},
		observe.Field{Key: "status", Value: status.String()},
		observe.Field{Key: "ready_workers", Value: readyCount},
	)

	p.wg.Add(2)
	go p.healthLoop(ctx)
	go p.autoscaleLoop(ctx)

	return nil
}

// spawnWorker spawns and handshakes one worker, registering it under mu
// on success. Returns the worker's id.
func (p *Pool) spawnWorker(ctx context.Context) (string, error) {
	handle, err := p.transport.Spawn(ctx, p.cfg.PoolType)
	if err != nil {
		return "", fmt.Errorf("workerpool: spawn: %w", err)
	}
	if err := handle.Handshake(ctx); err != nil {
		_ = handle.Kill()
		return "", fmt.Errorf("workerpool: handshake: %w", err)
	}

	id := handle.ID()
	p.mu.Lock()
	p.workers[id] = &worker{id: id, status: WorkerReady, handle: handle}
	p.mu.Unlock()

	p.publish(eventbus.WorkerSpawned, id)
	p.publish(eventbus.WorkerReady, id)
	return id, nil
}

// healthLoop probes every worker every health_interval and transitions
// workers past consecutive_health_failures to unhealthy, replacing them
// if the pool has room.
func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Pool) probeAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.workers))
	handles := make(map[string]WorkerHandle, len(p.workers))
	for id, w := range p.workers {
		if w.status == WorkerReady || w.status == WorkerUnhealthy {
			ids = append(ids, id)
			handles[id] = w.handle
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		handle := handles[id]
		// probeExecutor rate-limits and bulkheads probe issuance across
		// the whole pool so a health round never bursts every worker's
		// ping at once, and bounds each probe to one health_interval.
		err := p.probeExecutor.Execute(ctx, func(probeCtx context.Context) error {
			return handle.Ping(probeCtx)
		})

		p.mu.Lock()
		w, ok := p.workers[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		if err != nil {
			w.consecutiveFailures++
			if w.consecutiveFailures >= p.cfg.ConsecutiveHealthFailures {
				w.status = WorkerUnhealthy
				p.mu.Unlock()
				p.publish(eventbus.WorkerUnhealthy, id)
				p.replaceWorker(ctx, id)
				continue
			}
		} else {
			w.consecutiveFailures = 0
		}
		p.mu.Unlock()
	}
}

// replaceWorker stops and removes an unhealthy worker, then spawns a
// replacement if the pool is active/degraded and has room.
func (p *Pool) replaceWorker(ctx context.Context, id string) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if ok {
		delete(p.workers, id)
	}
	status := p.status
	count := len(p.workers)
	p.mu.Unlock()

	if ok {
		stopCtx, cancel := context.WithTimeout(ctx, p.cfg.GracefulShutdownTimeout)
		_ = w.handle.Stop(stopCtx)
		cancel()
		p.publish(eventbus.WorkerStopped, id)
		p.log(ctx, "worker replaced after health failures",
			observe.Field{Key: "pool_id", Value: p.id},
			observe.Field{Key: "worker_id", Value: id},
		)
	}

	if (status == PoolActive || status == PoolDegraded) && count < p.cfg.MaxWorkers {
		if _, err := p.spawnWorker(ctx); err == nil {
			p.mu.Lock()
			if p.status == PoolDegraded && len(p.workers) >= p.cfg.MinWorkers {
				p.status = PoolActive
			}
			p.mu.Unlock()
		}
	}
}

// autoscaleLoop reads loadSignal on the same cadence as health
// supervision and scales the pool by one worker per cycle, rate-limited
// by ScaleCooldown.
func (p *Pool) autoscaleLoop(ctx context.Context) {
	defer p.wg.Done()
	if p.loadSignal == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.autoscaleOnce(ctx)
		}
	}
}

func (p *Pool) autoscaleOnce(ctx context.Context) {
	signal := p.loadSignal()

	p.mu.Lock()
	if time.Since(p.lastScaleAction) < p.cfg.ScaleCooldown {
		p.mu.Unlock()
		return
	}
	if p.status != PoolActive {
		p.mu.Unlock()
		return
	}
	count := len(p.workers)

	switch {
	case signal >= p.cfg.ScaleUpThreshold && count < p.cfg.MaxWorkers:
		p.lastScaleAction = time.Now()
		p.mu.Unlock()
		if _, err := p.spawnWorker(ctx); err == nil {
			p.publish(eventbus.PoolScaledUp, nil)
		}
		return
	case signal <= p.cfg.ScaleDownThreshold && count > p.cfg.MinWorkers:
		idleID := p.pickIdleLocked()
		if idleID == "" {
			p.mu.Unlock()
			return
		}
		p.workers[idleID].status = WorkerStopping
		p.lastScaleAction = time.Now()
		handle := p.workers[idleID].handle
		p.mu.Unlock()

		stopCtx, cancel := context.WithTimeout(ctx, p.cfg.GracefulShutdownTimeout)
		_ = handle.Stop(stopCtx)
		cancel()

		p.mu.Lock()
		delete(p.workers, idleID)
		p.mu.Unlock()
		p.publish(eventbus.PoolScaledDown, idleID)
		return
	default:
		p.mu.Unlock()
	}
}

// pickIdleLocked returns a ready worker's id, or "" if none. Caller must
// hold mu.
func (p *Pool) pickIdleLocked() string {
	for id, w := range p.workers {
		if w.status == WorkerReady {
			return id
		}
	}
	return ""
}

// ExecuteOnPool implements execute_on_pool: admission under the
// dispatch semaphore, least-loaded-then-round-robin worker selection,
// an execution-timeout timer, and WorkerLost on timeout or worker death
// mid-task.
func (p *Pool) ExecuteOnPool(ctx context.Context, task Task) (Result, error) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status != PoolActive && status != PoolDegraded {
		return Result{}, errs.New(errs.PoolUnavailable, "execute_on_pool", ErrPoolNotActive)
	}

	if err := p.dispatchSem.Acquire(ctx, 1); err != nil {
		return Result{}, errs.New(errs.PoolUnavailable, "execute_on_pool", err)
	}
	defer p.dispatchSem.Release(1)

	id, handle, err := p.claimWorker(task.ID)
	if err != nil {
		return Result{}, errs.New(errs.PoolUnavailable, "execute_on_pool", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
	defer cancel()

	result, execErr := handle.Dispatch(dispatchCtx, task)

	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		if execErr != nil {
			return Result{}, errs.New(errs.WorkerLost, "execute_on_pool", execErr)
		}
		return result, nil
	}
	if execErr != nil {
		w.status = WorkerUnhealthy
		w.activeTaskID = ""
		p.mu.Unlock()
		p.publish(eventbus.WorkerUnhealthy, id)
		return Result{}, errs.New(errs.WorkerLost, "execute_on_pool", execErr)
	}
	w.status = WorkerReady
	w.activeTaskID = ""
	p.mu.Unlock()

	return result, nil
}

// claimWorker picks a ready worker by least-loaded-then-round-robin (a
// worker handles exactly one active_task_id at a time, so "least loaded"
// reduces to "any ready worker"; round-robin only breaks ties) and marks
// it busy.
func (p *Pool) claimWorker(taskID string) (string, WorkerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.workers))
	for id, w := range p.workers {
		if w.status == WorkerReady {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil, ErrNoReadyWorker
	}
	sort.Strings(ids)

	idx := p.rrIndex % len(ids)
	p.rrIndex++
	id := ids[idx]
	w := p.workers[id]
	w.status = WorkerBusy
	w.activeTaskID = taskID
	return id, w.handle, nil
}

// Drain transitions the pool to draining, waits for in-flight tasks up
// to graceful_shutdown_timeout, then force-stops every worker and
// transitions to stopped. Drain never returns before all workers are
// WorkerDead, per spec.md's invariant.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.status == PoolDraining || p.status == PoolStopped {
		p.mu.Unlock()
		return nil
	}
	p.status = PoolDraining
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	p.publish(eventbus.PoolDraining, nil)
	close(p.stopCh)
	p.wg.Wait()

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.GracefulShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.mu.Lock()
			w, ok := p.workers[id]
			p.mu.Unlock()
			if !ok {
				return
			}
			if err := w.handle.Stop(drainCtx); err != nil {
				_ = w.handle.Kill()
			}
		}()
	}
	wg.Wait()

	p.mu.Lock()
	for _, id := range ids {
		delete(p.workers, id)
	}
	p.status = PoolStopped
	p.mu.Unlock()
	return nil
}

// Status returns the pool's current lifecycle state.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// WorkerCount returns the current number of pool members regardless of
// status.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Health aggregates a live ping of every current worker into one
// composite health.Result, the same aggregator-of-checkers shape the
// teacher's health package gives a multi-component service.
func (p *Pool) Health(ctx context.Context) health.Result {
	p.mu.Lock()
	status := p.status
	handles := make(map[string]WorkerHandle, len(p.workers))
	for id, w := range p.workers {
		handles[id] = w.handle
	}
	p.mu.Unlock()

	if status != PoolActive && status != PoolDegraded {
		return health.Unhealthy(fmt.Sprintf("pool is %s", status), ErrPoolNotActive)
	}

	agg := health.NewAggregator()
	for id, handle := range handles {
		handle := handle
		agg.Register(id, health.NewCheckerFunc(id, func(ctx context.Context) health.Result {
			if err := handle.Ping(ctx); err != nil {
				return health.Unhealthy("ping failed", err)
			}
			return health.Healthy("ready")
		}))
	}

	results := agg.CheckAll(ctx)
	overall := agg.OverallStatus(results)
	switch overall {
	case health.StatusHealthy:
		return health.Healthy(fmt.Sprintf("%d/%d workers healthy", len(results), len(results)))
	case health.StatusDegraded:
		return health.Degraded(fmt.Sprintf("pool %s is degraded", p.id))
	default:
		return health.Unhealthy(fmt.Sprintf("pool %s has unhealthy workers", p.id), nil)
	}
}

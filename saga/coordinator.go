package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lesleslie/mahavishnu/errs"
	"github.com/lesleslie/mahavishnu/eventbus"
	"github.com/lesleslie/mahavishnu/observe"
	"github.com/lesleslie/mahavishnu/resilience"
)

// Config configures a Coordinator.
type Config struct {
	// MaxRetries is the per-step retry ceiling (spec.md's max_retries).
	// Default: DefaultMaxRetries.
	MaxRetries int

	// Breaker is the template applied to the per-step circuit breaker
	// the coordinator's registry creates lazily.
	Breaker resilience.CircuitBreakerConfig
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Coordinator executes sagas per spec.md §4.8: load-or-create, an
// idempotency check per step, a per-step breaker check, a retry loop,
// and backward compensation on terminal step failure.
//
// Grounded on other_examples Azure-containerization-assist
// saga_manager.go (status enums, compensate-on-failure, event
// publication) and the execute/compensate split of
// atlanticdynamic-firelynx / Azure-containerization-assist
// saga_orchestrator.go, composed with this module's own resilience
// package rather than reimplementing breaker/retry logic.
type Coordinator struct {
	store    Store
	breakers *resilience.Registry
	bus      *eventbus.Bus
	logger   observe.Logger
	cfg      Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCoordinator constructs a Coordinator. store, bus, and logger may be
// supplied by the caller; bus and logger may be nil.
func NewCoordinator(store Store, bus *eventbus.Bus, logger observe.Logger, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()

	// resilience.Registry's own default IsFailure already counts any
	// non-nil error (other than the breaker's own ErrCircuitOpen
	// refusal) as a failure, which is exactly what a saga step needs: a
	// step that exhausts its retries trips the breaker whatever error
	// type it returns, retryable or not.
	return &Coordinator{
		store: store,
		breakers: resilience.NewRegistry(resilience.RegistryConfig{
			Breaker: cfg.Breaker,
			Bus:     bus,
		}),
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the advisory mutex for sagaID, creating it on first
// use. Mirrors resilience.Registry.GetOrCreate's double-checked-lock
// per-key pattern, applied here to per-saga-id serialization (spec.md
// §5: "concurrent resumption of the same saga_id MUST be prevented").
func (c *Coordinator) lockFor(sagaID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[sagaID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sagaID] = l
	}
	return l
}

func (c *Coordinator) publish(typ eventbus.Type, source string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Source: source, Data: data})
}

func (c *Coordinator) log(ctx context.Context, msg string, fields ...observe.Field) {
	if c.logger == nil {
		return
	}
	c.logger.Info(ctx, msg, fields...)
}

// Run executes sagaID's steps per spec.md §4.8's procedure: load or
// create the saga row, transition to in_progress, then for each step
// from CurrentStepIndex onward check idempotency, check the step's
// breaker, run the retry loop, and commit. On terminal step failure it
// compensates completed steps in reverse and returns the step's error.
// Run never runs two steps concurrently for the same saga, and a
// second call for the same sagaID blocks on the first's advisory lock.
func (c *Coordinator) Run(ctx context.Context, sagaID string, steps []Step, initialState State) (*Saga, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	lock := c.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	s, created, err := c.store.LoadOrCreate(ctx, sagaID, initialState)
	if err != nil {
		return nil, fmt.Errorf("saga: load or create %s: %w", sagaID, err)
	}
	if s.CurrentStepIndex > len(steps) {
		return nil, ErrStepsMismatch
	}
	if created {
		c.publish(eventbus.SagaStarted, sagaID, nil)
	}

	if s.Status == StatusPending || s.Status == StatusInProgress {
		if err := c.store.UpdateStatus(ctx, sagaID, StatusInProgress, ""); err != nil {
			return nil, fmt.Errorf("saga: begin execution %s: %w", sagaID, err)
		}
		s.Status = StatusInProgress
	}
	if s.Status == StatusCompensating {
		return c.resumeCompensation(ctx, s, steps)
	}

	for i := s.CurrentStepIndex; i < len(steps); i++ {
		step := steps[i]

		if delta, ok, err := c.store.IdempotentDelta(ctx, sagaID, step.Name(), step.IdempotencyKey()); err == nil && ok {
			s.State.Merge(delta)
			continue
		}

		target := sagaID + ":" + step.Name()
		breaker := c.breakers.GetOrCreate(target)
		if breaker.State() == resilience.StateOpen {
			return s, errs.New(errs.CircuitOpen, "saga.run:"+step.Name(), nil)
		}

		var delta Delta
		retry := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: c.cfg.MaxRetries})
		execErr := breaker.Execute(ctx, func(ctx context.Context) error {
			return retry.Execute(ctx, func(ctx context.Context) error {
				d, err := step.Execute(ctx, s.State)
				if err != nil {
					return err
				}
				delta = d
				return nil
			})
		})

		if execErr != nil {
			c.publish(eventbus.SagaStepFailed, sagaID, map[string]any{"step": step.Name(), "error": execErr.Error()})
			c.log(ctx, "saga step failed",
				observe.Field{Key: "saga_id", Value: sagaID},
				observe.Field{Key: "step", Value: step.Name()},
				observe.Field{Key: "error", Value: execErr.Error()},
			)
			return c.compensate(ctx, s, steps, execErr)
		}

		if err := c.store.CommitStep(ctx, sagaID, StepUpdate{
			StepIndex:      i,
			StepName:       step.Name(),
			IdempotencyKey: step.IdempotencyKey(),
			Delta:          delta,
		}); err != nil {
			return nil, fmt.Errorf("saga: commit step %s/%s: %w", sagaID, step.Name(), err)
		}
		s.State.Merge(delta)
		s.CompletedSteps = append(s.CompletedSteps, i)
		s.CurrentStepIndex = i + 1

		c.publish(eventbus.SagaStepCompleted, sagaID, map[string]any{"step": step.Name()})
	}

	if err := c.store.UpdateStatus(ctx, sagaID, StatusCompleted, ""); err != nil {
		return nil, fmt.Errorf("saga: complete %s: %w", sagaID, err)
	}
	s.Status = StatusCompleted
	c.publish(eventbus.SagaCompleted, sagaID, nil)
	return s, nil
}

// compensate transitions sagaID to compensating and undoes completed
// steps in reverse order, best-effort: a compensation failure is
// logged and compensation continues with the remaining steps. The
// saga is ultimately marked failed with cause's message.
func (c *Coordinator) compensate(ctx context.Context, s *Saga, steps []Step, cause error) (*Saga, error) {
	if err := c.store.UpdateStatus(ctx, s.ID, StatusCompensating, cause.Error()); err != nil {
		return nil, fmt.Errorf("saga: begin compensation %s: %w", s.ID, err)
	}
	s.Status = StatusCompensating
	s.ErrorMessage = cause.Error()
	c.publish(eventbus.SagaCompensating, s.ID, map[string]any{"error": cause.Error()})

	return c.runCompensation(ctx, s, steps, cause)
}

// resumeCompensation re-enters compensation for a saga already in the
// compensating status, e.g. after Recover finds it mid-compensation.
func (c *Coordinator) resumeCompensation(ctx context.Context, s *Saga, steps []Step) (*Saga, error) {
	return c.runCompensation(ctx, s, steps, fmt.Errorf("%s", s.ErrorMessage))
}

func (c *Coordinator) runCompensation(ctx context.Context, s *Saga, steps []Step, cause error) (*Saga, error) {
	retry := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: c.cfg.MaxRetries})

	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		stepIndex := s.CompletedSteps[i]
		if stepIndex < 0 || stepIndex >= len(steps) {
			continue
		}
		step := steps[stepIndex]

		committed, err := c.store.CompensationCommitted(ctx, s.ID, step.Name(), step.IdempotencyKey())
		if err == nil && committed {
			continue
		}

		compErr := retry.Execute(ctx, func(ctx context.Context) error {
			return step.Compensate(ctx, s.State)
		})
		if compErr != nil {
			c.log(ctx, "saga compensation step failed, continuing best-effort",
				observe.Field{Key: "saga_id", Value: s.ID},
				observe.Field{Key: "step", Value: step.Name()},
				observe.Field{Key: "error", Value: compErr.Error()},
			)
			continue
		}

		if err := c.store.CommitCompensation(ctx, s.ID, step.Name(), step.IdempotencyKey(), stepIndex); err != nil {
			c.log(ctx, "saga compensation commit failed",
				observe.Field{Key: "saga_id", Value: s.ID},
				observe.Field{Key: "step", Value: step.Name()},
				observe.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		s.CompensatedSteps = append(s.CompensatedSteps, stepIndex)
	}

	if err := c.store.UpdateStatus(ctx, s.ID, StatusFailed, cause.Error()); err != nil {
		return nil, fmt.Errorf("saga: mark failed %s: %w", s.ID, err)
	}
	s.Status = StatusFailed
	s.ErrorMessage = cause.Error()
	c.publish(eventbus.SagaCompensated, s.ID, map[string]any{"error": cause.Error()})

	return s, errs.New(errs.SagaStepFailed, "saga.run", cause)
}

// Recover scans the store for sagas left in_progress or compensating
// (e.g. after a crash) and resumes each via Run. stepsFor must
// reconstruct the step slice for a saga id — step implementations
// themselves are not persisted, only their names and idempotency keys
// recorded against the completed saga row.
func (c *Coordinator) Recover(ctx context.Context, stepsFor func(sagaID string) []Step) ([]*Saga, error) {
	stuck, err := c.store.ListByStatus(ctx, StatusInProgress, StatusCompensating)
	if err != nil {
		return nil, fmt.Errorf("saga: recover: list stuck sagas: %w", err)
	}

	resumed := make([]*Saga, 0, len(stuck))
	for _, s := range stuck {
		steps := stepsFor(s.ID)
		if len(steps) == 0 {
			c.log(ctx, "saga recover: no steps reconstructed, skipping",
				observe.Field{Key: "saga_id", Value: s.ID})
			continue
		}
		result, err := c.Run(ctx, s.ID, steps, nil)
		if err != nil && errs.Classify(err) != errs.SagaStepFailed {
			c.log(ctx, "saga recover failed",
				observe.Field{Key: "saga_id", Value: s.ID},
				observe.Field{Key: "error", Value: err.Error()})
			continue
		}
		resumed = append(resumed, result)
	}
	return resumed, nil
}

// SweepOrphans flags (does not abort) sagas stuck in_progress or
// compensating for longer than threshold, for human attention.
func (c *Coordinator) SweepOrphans(ctx context.Context, threshold time.Duration) []*Saga {
	stuck, err := c.store.ListByStatus(ctx, StatusInProgress, StatusCompensating)
	if err != nil {
		return nil
	}

	orphans := make([]*Saga, 0)
	cutoff := time.Now().Add(-threshold)
	for _, s := range stuck {
		if s.UpdatedAt.Before(cutoff) {
			orphans = append(orphans, s)
			c.publish(eventbus.SagaOrphaned, s.ID, map[string]any{"status": string(s.Status), "last_updated": s.UpdatedAt})
		}
	}
	return orphans
}

// Get returns the current saga row for id.
func (c *Coordinator) Get(ctx context.Context, id string) (*Saga, error) {
	return c.store.Get(ctx, id)
}

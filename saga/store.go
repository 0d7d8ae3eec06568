package saga

import (
	"context"
	"sync"
	"time"
)

// Store persists saga rows and their idempotency records. Execution and
// compensation idempotency live in separate namespaces, per spec.md
// §4.8. CommitStep MUST apply its idempotency record and its saga-row
// advance atomically, so recovery never observes one without the
// other — option (a) of spec.md's persistence-atomicity requirement.
//
// Shaped after the teacher-adjacent SagaPersistenceStore interface
// (other_examples Azure-containerization-assist saga_manager.go:
// SaveSaga/LoadSaga/UpdateSagaStatus/UpdateSagaStep/ListSagas), narrowed
// to the specific atomic operations spec.md names.
type Store interface {
	// LoadOrCreate returns the existing saga row for id, or inserts one
	// with status pending, index 0, and the given initial state.
	LoadOrCreate(ctx context.Context, id string, initialState State) (s *Saga, created bool, err error)

	// Get returns the saga row for id, or ErrSagaNotFound.
	Get(ctx context.Context, id string) (*Saga, error)

	// UpdateStatus transitions a saga's status, recording errMessage
	// (cleared to "" on non-failure transitions).
	UpdateStatus(ctx context.Context, id string, status Status, errMessage string) error

	// CommitStep atomically records update's execution idempotency row
	// and merges update.Delta into state, appends update.StepIndex to
	// CompletedSteps, and advances CurrentStepIndex past it.
	CommitStep(ctx context.Context, id string, update StepUpdate) error

	// IdempotentDelta returns the delta previously recorded for
	// (id, stepName, idempotencyKey) in the execution namespace.
	IdempotentDelta(ctx context.Context, id, stepName, idempotencyKey string) (Delta, bool, error)

	// CommitCompensation atomically records the compensation-namespace
	// idempotency row for (id, stepName, idempotencyKey) and appends
	// stepIndex to CompensatedSteps.
	CommitCompensation(ctx context.Context, id, stepName, idempotencyKey string, stepIndex int) error

	// CompensationCommitted reports whether (id, stepName,
	// idempotencyKey) already has a compensation-namespace record.
	CompensationCommitted(ctx context.Context, id, stepName, idempotencyKey string) (bool, error)

	// ListByStatus returns a snapshot of every saga whose status is one
	// of statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Saga, error)
}

type idempotencyKey struct {
	sagaID, stepName, key string
}

// MemoryStore is an in-process Store backed by a mutex-guarded map,
// the same interface-then-guarded-map-impl idiom as engine.MemoryStore.
// CommitStep and CommitCompensation are atomic simply by holding the
// store's lock across both the idempotency write and the row update.
type MemoryStore struct {
	mu          sync.Mutex
	sagas       map[string]*Saga
	executed    map[idempotencyKey]Delta
	compensated map[idempotencyKey]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas:       make(map[string]*Saga),
		executed:    make(map[idempotencyKey]Delta),
		compensated: make(map[idempotencyKey]bool),
	}
}

func (m *MemoryStore) LoadOrCreate(ctx context.Context, id string, initialState State) (*Saga, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sagas[id]; ok {
		return cloneSaga(s), false, nil
	}

	now := time.Now()
	state := initialState
	if state == nil {
		state = State{}
	}
	s := &Saga{
		ID:               id,
		Status:           StatusPending,
		CurrentStepIndex: 0,
		CompletedSteps:   []int{},
		CompensatedSteps: []int{},
		State:            state.Clone(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sagas[id] = s
	return cloneSaga(s), true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Saga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[id]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return cloneSaga(s), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[id]
	if !ok {
		return ErrSagaNotFound
	}
	s.Status = status
	s.ErrorMessage = errMessage
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CommitStep(ctx context.Context, id string, update StepUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[id]
	if !ok {
		return ErrSagaNotFound
	}

	key := idempotencyKey{id, update.StepName, update.IdempotencyKey}
	m.executed[key] = update.Delta

	s.State.Merge(update.Delta)
	s.CompletedSteps = append(s.CompletedSteps, update.StepIndex)
	s.CurrentStepIndex = update.StepIndex + 1
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IdempotentDelta(ctx context.Context, id, stepName, idempotencyKeyVal string) (Delta, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta, ok := m.executed[idempotencyKey{id, stepName, idempotencyKeyVal}]
	return delta, ok, nil
}

func (m *MemoryStore) CommitCompensation(ctx context.Context, id, stepName, idempotencyKeyVal string, stepIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[id]
	if !ok {
		return ErrSagaNotFound
	}

	m.compensated[idempotencyKey{id, stepName, idempotencyKeyVal}] = true
	s.CompensatedSteps = append(s.CompensatedSteps, stepIndex)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CompensationCommitted(ctx context.Context, id, stepName, idempotencyKeyVal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.compensated[idempotencyKey{id, stepName, idempotencyKeyVal}], nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Saga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := make([]*Saga, 0)
	for _, s := range m.sagas {
		if want[s.Status] {
			out = append(out, cloneSaga(s))
		}
	}
	return out, nil
}

func cloneSaga(s *Saga) *Saga {
	c := *s
	c.State = s.State.Clone()
	c.CompletedSteps = append([]int(nil), s.CompletedSteps...)
	c.CompensatedSteps = append([]int(nil), s.CompensatedSteps...)
	return &c
}

package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy described in spec §7. Components should
// wrap one of these with fmt.Errorf("%w: ...", ...) rather than invent new
// root errors, so errors.Is checks compose across package boundaries.
var (
	// ErrValidation indicates inputs did not satisfy contracts.
	ErrValidation = errors.New("mahavishnu: validation failed")

	// ErrNotFound indicates a referenced id does not exist.
	ErrNotFound = errors.New("mahavishnu: not found")

	// ErrPermission indicates access was denied by policy.
	ErrPermission = errors.New("mahavishnu: permission denied")

	// ErrTimeout indicates a deadline was exceeded.
	ErrTimeout = errors.New("mahavishnu: timeout")

	// ErrTransient indicates a remote temporary failure.
	ErrTransient = errors.New("mahavishnu: transient failure")

	// ErrCircuitOpen indicates a breaker refused the call.
	ErrCircuitOpen = errors.New("mahavishnu: circuit breaker is open")

	// ErrWorkerLost indicates a worker died or was force-killed mid-task.
	ErrWorkerLost = errors.New("mahavishnu: worker lost")

	// ErrPoolUnavailable indicates the pool is not accepting work.
	ErrPoolUnavailable = errors.New("mahavishnu: pool unavailable")

	// ErrSagaStepFailed indicates a saga step exhausted its retries.
	ErrSagaStepFailed = errors.New("mahavishnu: saga step failed")

	// ErrInternal indicates an invariant was violated.
	ErrInternal = errors.New("mahavishnu: internal invariant violation")
)

var sentinels = map[Kind]error{
	Validation:      ErrValidation,
	NotFound:        ErrNotFound,
	Permission:      ErrPermission,
	Timeout:         ErrTimeout,
	Transient:       ErrTransient,
	CircuitOpen:     ErrCircuitOpen,
	WorkerLost:      ErrWorkerLost,
	PoolUnavailable: ErrPoolUnavailable,
	SagaStepFailed:  ErrSagaStepFailed,
	Internal:        ErrInternal,
}

// KindError pairs a classification with an underlying cause.
type KindError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *KindError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, errs.ErrTimeout) to match a *KindError whose
// Kind maps to that sentinel, even when Err itself is a different value.
func (e *KindError) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && errors.Is(sentinel, target)
}

// New constructs a KindError, wrapping cause (which may be nil).
func New(kind Kind, op string, cause error) error {
	if cause == nil {
		cause = sentinels[kind]
	}
	return &KindError{Kind: kind, Op: op, Err: cause}
}

// Classify inspects err and returns its Kind. Errors not produced via New
// are classified Internal unless they match a sentinel via errors.Is.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return Internal
}

// IsRetryable reports whether err's classified Kind should be retried.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

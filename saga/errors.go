package saga

import "errors"

var (
	// ErrSagaNotFound is returned by Store operations addressing an
	// unknown saga id.
	ErrSagaNotFound = errors.New("saga: saga not found")

	// ErrNoSteps is returned by Run when called with an empty step list.
	ErrNoSteps = errors.New("saga: no steps given")

	// ErrStepsMismatch is returned when a resumed saga's current step
	// index falls outside the bounds of the steps given to Run —
	// a sign the caller reconstructed the wrong step list for this id.
	ErrStepsMismatch = errors.New("saga: steps do not match saga's recorded progress")
)

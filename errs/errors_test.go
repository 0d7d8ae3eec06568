package errs

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"sentinel timeout", ErrTimeout, Timeout},
		{"wrapped sentinel", New(Transient, "adapter.execute", errors.New("boom")), Transient},
		{"plain error is internal", errors.New("unclassified"), Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []Kind{Timeout, Transient, WorkerLost}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("Kind(%v).Retryable() = false, want true", k)
		}
	}

	notRetryable := []Kind{Validation, NotFound, Permission, CircuitOpen, PoolUnavailable, SagaStepFailed, Internal}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Errorf("Kind(%v).Retryable() = true, want false", k)
		}
	}
}

func TestKindErrorIs(t *testing.T) {
	err := New(Permission, "validate.repo", errors.New("denied"))
	if !errors.Is(err, ErrPermission) {
		t.Errorf("errors.Is(%v, ErrPermission) = false, want true", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = true, want false", err)
	}
}

func TestNewDefaultsCauseToSentinel(t *testing.T) {
	err := New(NotFound, "store.get", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

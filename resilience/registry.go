package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/lesleslie/mahavishnu/eventbus"
)

// RegistryConfig configures a Registry and the CircuitBreakerConfig
// template it uses to lazily create one breaker per target.
type RegistryConfig struct {
	// Breaker is the template applied to every breaker the registry
	// creates. OnStateChange, if set here, fires in addition to the
	// registry's own event publication — most callers leave it nil and
	// observe state changes via the Bus instead.
	Breaker CircuitBreakerConfig

	// Bus receives breaker.opened|closed|half_open events, if non-nil.
	Bus *eventbus.Bus
}

// defaultIsFailure counts any non-nil error against the breaker, same
// as the teacher's own CircuitBreaker default — a terminal failure,
// retryable or not, still increments consecutive_failures. A
// CircuitOpen refusal from this same breaker is never fed back into
// itself.
func defaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrCircuitOpen)
}

// Registry lazily creates and tracks one *CircuitBreaker per target
// string ("<engine>:<repo>"), so a hot target can trip its own breaker
// without serializing unrelated targets behind one lock. Mirrors the
// teacher's Aggregator registration pattern (GetOrCreate/Reset/Targets
// in place of Register/Unregister/CheckerNames).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      RegistryConfig
}

// NewRegistry constructs a Registry from cfg.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// GetOrCreate returns the breaker for target, creating it on first use.
func (r *Registry) GetOrCreate(target string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[target]; ok {
		return cb
	}

	cfg := r.cfg.Breaker
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to State) {
		if userHook != nil {
			userHook(from, to)
		}
		r.publish(target, to)
	}

	cb = NewCircuitBreaker(cfg)
	r.breakers[target] = cb
	return cb
}

func (r *Registry) publish(target string, to State) {
	if r.cfg.Bus == nil {
		return
	}
	var typ eventbus.Type
	switch to {
	case StateOpen:
		typ = eventbus.BreakerOpened
	case StateClosed:
		typ = eventbus.BreakerClosed
	case StateHalfOpen:
		typ = eventbus.BreakerHalfOpen
	default:
		return
	}
	r.cfg.Bus.Publish(eventbus.Event{Type: typ, Source: target})
}

// Reset resets the breaker for target to closed state, if it exists.
// A target with no breaker yet is a no-op.
func (r *Registry) Reset(target string) {
	r.mu.RLock()
	cb, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		cb.Reset()
	}
}

// Targets returns a snapshot of all target names with a breaker,
// copy-then-iterate so the live map is never leaked to the caller.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.breakers))
	for t := range r.breakers {
		targets = append(targets, t)
	}
	return targets
}

// Execute runs op through target's breaker, creating the breaker on
// first use.
func (r *Registry) Execute(ctx context.Context, target string, op func(context.Context) error) error {
	return r.GetOrCreate(target).Execute(ctx, op)
}

// State returns the current state of target's breaker, or StateClosed
// if no breaker has been created for target yet.
func (r *Registry) State(target string) State {
	r.mu.RLock()
	cb, ok := r.breakers[target]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

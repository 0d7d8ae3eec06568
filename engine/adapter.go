package engine

import (
	"context"
	"sync"

	"github.com/lesleslie/mahavishnu/health"
)

// AdapterStatus is the outcome of one EngineAdapter.Execute call.
type AdapterStatus int

const (
	AdapterSuccess AdapterStatus = iota
	AdapterFailure
	AdapterPartial
)

func (s AdapterStatus) String() string {
	switch s {
	case AdapterSuccess:
		return "success"
	case AdapterFailure:
		return "failure"
	case AdapterPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// AdapterResult is the uniform return shape across every EngineAdapter
// implementation. EngineSpecific lets an adapter attach engine-specific
// data without breaking callers that only understand the common shape.
type AdapterResult struct {
	Status               AdapterStatus
	ReposProcessed       []string
	ReposFailed          []RepoFailure
	ExecutionTimeSeconds float64
	Metadata             map[string]any
	Errors               []error
	EngineSpecific       any
}

// EngineAdapter is the uniform interface over one execution engine.
// Adapters are the only components that speak to external engines;
// everything else speaks only to this contract. Model variants are
// interchangeable implementations — a capability set, not a type
// hierarchy, in the same spirit as health.Checker's optional
// PingChecker/InfoChecker extensions.
type EngineAdapter interface {
	// Name identifies the engine this adapter drives, used to key
	// per-target circuit breakers as "<Name>:<repo>".
	Name() string

	// Execute runs task against repos and returns a uniform result.
	// May suspend on I/O; callers provide a deadline via ctx.
	Execute(ctx context.Context, task Task, repos []string) (AdapterResult, error)

	// Validate reports whether task/repos are acceptable to this
	// adapter, beyond the generic path/identifier validation already
	// applied by the Execution Engine.
	Validate(ctx context.Context, task Task, repos []string) error

	// Health reports the adapter's own reachability, reusing the
	// ambient health vocabulary rather than inventing a parallel one.
	Health(ctx context.Context) health.Result
}

// PreExecutor is an optional capability an EngineAdapter may implement.
// Engine.executeRepo type-asserts for it and, if present, calls
// PreExecute before Execute; a non-nil error fails the repo without
// ever calling Execute.
type PreExecutor interface {
	PreExecute(ctx context.Context, task Task, repos []string) error
}

// PostExecutor is an optional capability an EngineAdapter may
// implement. Engine.executeRepo calls PostExecute after Execute
// regardless of its outcome; a non-nil PostExecute error fails the
// repo unless Execute itself already returned an error.
type PostExecutor interface {
	PostExecute(ctx context.Context, result AdapterResult) error
}

// Registry resolves an engine name to its adapter. The Execution Engine
// uses it at step 3 of execute_workflow ("resolve adapter"); a
// mutex-guarded map, the same idiom as health.Aggregator's checker map.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]EngineAdapter
}

// NewAdapterRegistry constructs an empty Registry.
func NewAdapterRegistry() *Registry {
	return &Registry{adapters: make(map[string]EngineAdapter)}
}

// Register adds adapter under its own Name(). A later call with the
// same name replaces the previous adapter.
func (r *Registry) Register(adapter EngineAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns the adapter registered for name, or ErrEngineNotFound.
func (r *Registry) Resolve(name string) (EngineAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrEngineNotFound
	}
	return adapter, nil
}

package engine

import "errors"

var (
	// ErrEngineNotFound indicates engine_name did not resolve to a
	// registered adapter.
	ErrEngineNotFound = errors.New("engine: engine not registered")

	// ErrWorkflowNotFound indicates workflow_id is unknown to the Store.
	ErrWorkflowNotFound = errors.New("engine: workflow not found")

	// ErrWorkflowTerminal indicates an attempt to mutate a Workflow that
	// has already reached a terminal status.
	ErrWorkflowTerminal = errors.New("engine: workflow is already terminal")

	// ErrNoRepos indicates execute_workflow was called with an empty
	// repos slice.
	ErrNoRepos = errors.New("engine: at least one repo is required")
)

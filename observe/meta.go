package observe

// OperationMeta describes the unit of work being observed: a per-repo
// adapter call, a saga step, or a pool dispatch.
type OperationMeta struct {
	// Component names the owning subsystem: "engine", "resilience",
	// "workerpool", or "saga".
	Component string

	// Operation names the action, e.g. "execute_workflow", "saga_step",
	// "pool_dispatch".
	Operation string

	// ID is the primary key of the unit of work: workflow_id, saga_id, or
	// pool_id, whichever applies.
	ID string

	// Engine is the adapter engine name, when applicable (empty for saga
	// and pool operations).
	Engine string

	// Tags are free-form labels for discovery (optional).
	Tags []string
}

// SpanName returns the deterministic span name for this operation.
// Format: mahavishnu.<component>.<operation>
func (m OperationMeta) SpanName() string {
	return "mahavishnu." + m.Component + "." + m.Operation
}

// OperationID returns a fully qualified identifier suitable for log
// correlation: "<component>.<operation>#<id>".
func (m OperationMeta) OperationID() string {
	if m.ID == "" {
		return m.Component + "." + m.Operation
	}
	return m.Component + "." + m.Operation + "#" + m.ID
}

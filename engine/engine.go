package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lesleslie/mahavishnu/errs"
	"github.com/lesleslie/mahavishnu/eventbus"
	"github.com/lesleslie/mahavishnu/observe"
	"github.com/lesleslie/mahavishnu/validate"
)

// DefaultMaxConcurrency bounds per-repo fan-out when a caller does not
// supply one.
const DefaultMaxConcurrency = 8

// DefaultGracePeriod is how long a per-repo call gets to observe
// cancellation before it is abandoned.
const DefaultGracePeriod = 5 * time.Second

// Config configures an Engine. Zero-value fields fall back to
// documented defaults, the same convention as CircuitBreakerConfig and
// RetryConfig.
type Config struct {
	Store                 Store
	Adapters              *Registry
	Bus                   *eventbus.Bus
	Logger                observe.Logger
	Metrics               observe.Metrics
	RepoRoot              string
	DefaultMaxConcurrency int
	GracePeriod           time.Duration
}

// Engine is the Execution Engine: it validates a task/repos/engine
// tuple, records a Workflow, fans the task out per repo under a
// concurrency cap, and aggregates the results into a finished
// Workflow.
type Engine struct {
	store          Store
	adapters       *Registry
	bus            *eventbus.Bus
	logger         observe.Logger
	metrics        observe.Metrics
	repoRoot       string
	maxConcurrency int
	gracePeriod    time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.DefaultMaxConcurrency <= 0 {
		cfg.DefaultMaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Adapters == nil {
		cfg.Adapters = NewAdapterRegistry()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Engine{
		store:          cfg.Store,
		adapters:       cfg.Adapters,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		repoRoot:       cfg.RepoRoot,
		maxConcurrency: cfg.DefaultMaxConcurrency,
		gracePeriod:    cfg.GracePeriod,
		cancels:        make(map[string]context.CancelFunc),
	}
}

func (e *Engine) publish(typ eventbus.Type, source string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Source: source, Data: data})
}

func (e *Engine) log(ctx context.Context, msg string, fields ...observe.Field) {
	if e.logger == nil {
		return
	}
	e.logger.Info(ctx, msg, fields...)
}

// ExecuteWorkflow validates inputs, records a Workflow, and fans the
// task out across repos under maxConcurrency (0 uses the Engine's
// default), implementing spec's six-step execute_workflow procedure.
func (e *Engine) ExecuteWorkflow(ctx context.Context, task Task, repos []string, engineName string, maxConcurrency int) (Workflow, error) {
	// 1. Validate.
	if len(repos) == 0 {
		return Workflow{}, errs.New(errs.Validation, "execute_workflow", ErrNoRepos)
	}
	if err := validate.ValidateIdentifier(task.ID); err != nil {
		return Workflow{}, errs.New(errs.Validation, "execute_workflow", err)
	}
	if err := validate.ValidateIdentifier(task.Type); err != nil {
		return Workflow{}, errs.New(errs.Validation, "execute_workflow", err)
	}
	for _, repo := range repos {
		if err := validate.ValidateRepoPath(e.repoRoot, repo); err != nil {
			return Workflow{}, errs.New(errs.Validation, "execute_workflow", err)
		}
	}
	adapter, err := e.adapters.Resolve(engineName)
	if err != nil {
		return Workflow{}, errs.New(errs.Validation, "execute_workflow", err)
	}

	if maxConcurrency <= 0 {
		maxConcurrency = e.maxConcurrency
	}

	// 2. Record.
	workflow := Workflow{
		WorkflowID: uuid.NewString(),
		Task:       task,
		Repos:      append([]string(nil), repos...),
		Engine:     engineName,
		CreatedAt:  time.Now(),
		Status:     StatusPending,
	}
	if err := e.store.Create(ctx, workflow); err != nil {
		return Workflow{}, fmt.Errorf("engine: record workflow: %w", err)
	}
	e.publish(eventbus.WorkflowStarted, workflow.WorkflowID, nil)

	workflowCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[workflow.WorkflowID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, workflow.WorkflowID)
		e.mu.Unlock()
		cancel()
	}()

	if err := e.store.UpdateStatus(ctx, workflow.WorkflowID, StatusRunning); err != nil {
		return Workflow{}, fmt.Errorf("engine: transition to running: %w", err)
	}

	start := time.Now()

	// 3. Resolve adapter: already done above (adapter).
	// 4. Fan out.
	successful, failed := e.fanOut(workflowCtx, adapter, engineName, task, repos, maxConcurrency)

	// 5. Aggregate.
	var status Status
	switch {
	case workflowCtx.Err() != nil && len(successful) == 0 && len(failed) == len(repos):
		status = StatusCancelled
	case len(failed) == 0:
		status = StatusSuccess
	case len(successful) == 0:
		status = StatusFailure
	default:
		status = StatusPartial
	}

	// 6. Finalize.
	workflow.StartedAt = start
	workflow.CompletedAt = time.Now()
	workflow.ExecutionTimeSeconds = workflow.CompletedAt.Sub(start).Seconds()
	workflow.Status = status
	workflow.SuccessfulRepos = successful
	workflow.FailedRepos = failed

	if err := e.store.Finalize(ctx, workflow); err != nil {
		return Workflow{}, fmt.Errorf("engine: finalize workflow: %w", err)
	}

	if e.metrics != nil {
		var aggErr error
		if status == StatusFailure || status == StatusCancelled {
			aggErr = fmt.Errorf("engine: workflow %s", status)
		}
		e.metrics.RecordExecution(ctx, observe.OperationMeta{
			Component: "engine",
			Operation: "execute_workflow",
			ID:        workflow.WorkflowID,
			Engine:    engineName,
		}, workflow.CompletedAt.Sub(start), aggErr)
	}

	e.log(ctx, "workflow finalized",
		observe.Field{Key: "workflow_id", Value: workflow.WorkflowID},
		observe.Field{Key: "status", Value: status.String()},
		observe.Field{Key: "successful_repos", Value: len(successful)},
		observe.Field{Key: "failed_repos", Value: len(failed)},
	)
	switch status {
	case StatusSuccess:
		e.publish(eventbus.WorkflowCompleted, workflow.WorkflowID, nil)
	case StatusCancelled:
		e.publish(eventbus.WorkflowCancelled, workflow.WorkflowID, nil)
	default:
		e.publish(eventbus.WorkflowFailed, workflow.WorkflowID, status.String())
	}

	return workflow.Clone(), nil
}

// fanOut spawns up to maxConcurrency concurrent per-repo calls to
// adapter.Execute and returns the successful and failed repos. A
// failing repo never cancels its siblings: each goroutine recovers its
// own error into a per-repo result slot rather than returning it to the
// errgroup, since an errgroup error would cancel every sibling's
// context.
func (e *Engine) fanOut(ctx context.Context, adapter EngineAdapter, engineName string, task Task, repos []string, maxConcurrency int) ([]string, []RepoFailure) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrency)

	var mu sync.Mutex
	var successful []string
	var failed []RepoFailure

	for _, repo := range repos {
		repo := repo
		group.Go(func() error {
			target := engineName + ":" + repo
			kind, failMsg, ok := e.executeRepo(groupCtx, adapter, task, repo)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				successful = append(successful, repo)
				e.publish(eventbus.RepoCompleted, target, nil)
			} else {
				failed = append(failed, RepoFailure{Repo: repo, Kind: kind, Message: failMsg})
				e.publish(eventbus.RepoFailed, target, failMsg)
			}
			return nil
		})
	}

	_ = group.Wait()
	return successful, failed
}

// executeRepo runs adapter.Execute for a single repo, abandoning it if
// the workflow is cancelled and the call does not observe cancellation
// within the Engine's grace period.
func (e *Engine) executeRepo(ctx context.Context, adapter EngineAdapter, task Task, repo string) (kind errs.Kind, message string, ok bool) {
	type outcome struct {
		result AdapterResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		if pre, ok := adapter.(PreExecutor); ok {
			if err := pre.PreExecute(ctx, task, []string{repo}); err != nil {
				done <- outcome{err: err}
				return
			}
		}

		result, err := adapter.Execute(ctx, task, []string{repo})

		if post, ok := adapter.(PostExecutor); ok {
			if postErr := post.PostExecute(ctx, result); postErr != nil && err == nil {
				err = postErr
			}
		}

		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errs.Classify(o.err), o.err.Error(), false
		}
		if o.result.Status == AdapterFailure {
			return errs.Internal, "adapter reported failure", false
		}
		return 0, "", true
	case <-ctx.Done():
		select {
		case o := <-done:
			if o.err != nil {
				return errs.Classify(o.err), o.err.Error(), false
			}
			return 0, "", true
		case <-time.After(e.gracePeriod):
			return errs.Timeout, "abandoned after cancellation grace period", false
		}
	}
}

// CancelWorkflow signals a running workflow's in-flight per-repo calls
// cooperatively. Returns false if workflowID has no running execution.
func (e *Engine) CancelWorkflow(workflowID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// GetWorkflow returns the workflow for workflowID.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	return e.store.Get(ctx, workflowID)
}

// ListWorkflows returns workflows matching filter.
func (e *Engine) ListWorkflows(ctx context.Context, filter Filter) ([]Workflow, error) {
	return e.store.List(ctx, filter)
}

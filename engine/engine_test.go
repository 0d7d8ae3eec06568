package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lesleslie/mahavishnu/engine"
	"github.com/lesleslie/mahavishnu/eventbus"
	"github.com/lesleslie/mahavishnu/health"
)

// fakeAdapter executes per the function supplied by each test; it
// records every repo it was called with for assertions.
type fakeAdapter struct {
	name string
	fn   func(repo string) (engine.AdapterResult, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Execute(ctx context.Context, task engine.Task, repos []string) (engine.AdapterResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, repos[0])
	f.mu.Unlock()
	return f.fn(repos[0])
}

func (f *fakeAdapter) Validate(ctx context.Context, task engine.Task, repos []string) error { return nil }

func (f *fakeAdapter) Health(ctx context.Context) health.Result { return health.Healthy("ok") }

// hookedAdapter additionally implements engine.PreExecutor and
// engine.PostExecutor, so Engine's optional-capability type-assertion
// path has something to exercise.
type hookedAdapter struct {
	fakeAdapter

	preErr  error
	postErr error

	mu        sync.Mutex
	preCalls  int
	postCalls int
}

func (h *hookedAdapter) PreExecute(ctx context.Context, task engine.Task, repos []string) error {
	h.mu.Lock()
	h.preCalls++
	h.mu.Unlock()
	return h.preErr
}

func (h *hookedAdapter) PostExecute(ctx context.Context, result engine.AdapterResult) error {
	h.mu.Lock()
	h.postCalls++
	h.mu.Unlock()
	return h.postErr
}

func (h *hookedAdapter) calls() (pre, post int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preCalls, h.postCalls
}

func gitRepos(t *testing.T, names ...string) (root string, paths []string) {
	t.Helper()
	root = t.TempDir()
	for _, name := range names {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Join(p, ".git"), 0o755); err != nil {
			t.Fatalf("setup repo %s: %v", name, err)
		}
		paths = append(paths, p)
	}
	return root, paths
}

func newTestEngine(t *testing.T, root string, adapter engine.EngineAdapter) *engine.Engine {
	t.Helper()
	registry := engine.NewAdapterRegistry()
	registry.Register(adapter)
	return engine.New(engine.Config{
		Adapters: registry,
		RepoRoot: root,
	})
}

func TestExecuteWorkflow_AllSucceed(t *testing.T) {
	root, repos := gitRepos(t, "a", "b", "c")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusSuccess {
		t.Fatalf("Status = %v, want success", wf.Status)
	}
	if len(wf.SuccessfulRepos) != 3 || len(wf.FailedRepos) != 0 {
		t.Fatalf("successful=%d failed=%d, want 3/0", len(wf.SuccessfulRepos), len(wf.FailedRepos))
	}
}

func TestExecuteWorkflow_PreExecuteHookRuns(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &hookedAdapter{fakeAdapter: fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusSuccess {
		t.Fatalf("Status = %v, want success", wf.Status)
	}
	pre, post := adapter.calls()
	if pre != 1 {
		t.Fatalf("PreExecute calls = %d, want 1", pre)
	}
	if post != 1 {
		t.Fatalf("PostExecute calls = %d, want 1", post)
	}
}

func TestExecuteWorkflow_PreExecuteErrorSkipsExecute(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &hookedAdapter{
		fakeAdapter: fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
			return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
		}},
		preErr: errors.New("precondition not met"),
	}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusFailure {
		t.Fatalf("Status = %v, want failure", wf.Status)
	}
	adapter.fakeAdapter.mu.Lock()
	execCalls := len(adapter.fakeAdapter.calls)
	adapter.fakeAdapter.mu.Unlock()
	if execCalls != 0 {
		t.Fatalf("Execute was called %d times, want 0 after PreExecute failure", execCalls)
	}
}

func TestExecuteWorkflow_PostExecuteErrorFailsRepo(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &hookedAdapter{
		fakeAdapter: fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
			return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
		}},
		postErr: errors.New("cleanup failed"),
	}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusFailure {
		t.Fatalf("Status = %v, want failure", wf.Status)
	}
}

func TestExecuteWorkflow_PartialFailure(t *testing.T) {
	root, repos := gitRepos(t, "a", "b", "c")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		if filepath.Base(repo) == "b" {
			return engine.AdapterResult{}, errors.New("permission denied")
		}
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusPartial {
		t.Fatalf("Status = %v, want partial", wf.Status)
	}
	if len(wf.SuccessfulRepos) != 2 || len(wf.FailedRepos) != 1 {
		t.Fatalf("successful=%d failed=%d, want 2/1", len(wf.SuccessfulRepos), len(wf.FailedRepos))
	}
	if got := len(wf.SuccessfulRepos) + len(wf.FailedRepos); got != len(repos) {
		t.Fatalf("successful+failed = %d, want %d", got, len(repos))
	}
}

func TestExecuteWorkflow_AllFail(t *testing.T) {
	root, repos := gitRepos(t, "a", "b")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{}, errors.New("boom")
	}}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if wf.Status != engine.StatusFailure {
		t.Fatalf("Status = %v, want failure", wf.Status)
	}
}

func TestExecuteWorkflow_OneFailureDoesNotCancelSiblings(t *testing.T) {
	root, repos := gitRepos(t, "a", "b", "c")
	var mu sync.Mutex
	seen := map[string]bool{}
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		mu.Lock()
		seen[filepath.Base(repo)] = true
		mu.Unlock()
		if filepath.Base(repo) == "a" {
			return engine.AdapterResult{}, errors.New("fails immediately")
		}
		time.Sleep(20 * time.Millisecond)
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	_, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"a", "b", "c"} {
		if !seen[name] {
			t.Fatalf("repo %q was never called — a sibling failure cancelled it", name)
		}
	}
}

func TestExecuteWorkflow_RejectsInvalidRepoPath(t *testing.T) {
	root, _ := gitRepos(t, "a")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	_, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, []string{"/not/under/root"}, "sweep", 0)
	if err == nil {
		t.Fatal("ExecuteWorkflow() error = nil, want validation error")
	}
}

func TestExecuteWorkflow_RejectsUnknownEngine(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	_, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "nope", 0)
	if err == nil {
		t.Fatal("ExecuteWorkflow() error = nil, want ErrEngineNotFound wrapped")
	}
}

func TestExecuteWorkflow_GetAndListAfterCompletion(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	eng := newTestEngine(t, root, adapter)

	wf, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	got, err := eng.GetWorkflow(context.Background(), wf.WorkflowID)
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if got.WorkflowID != wf.WorkflowID {
		t.Fatalf("GetWorkflow() returned a different workflow")
	}

	list, err := eng.ListWorkflows(context.Background(), engine.Filter{Status: engine.StatusSuccess, HasStatus: true})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListWorkflows() returned %d, want 1", len(list))
	}
}

func TestExecuteWorkflow_PublishesLifecycleEvents(t *testing.T) {
	root, repos := gitRepos(t, "a")
	adapter := &fakeAdapter{name: "sweep", fn: func(repo string) (engine.AdapterResult, error) {
		return engine.AdapterResult{Status: engine.AdapterSuccess}, nil
	}}
	registry := engine.NewAdapterRegistry()
	registry.Register(adapter)

	bus := eventbus.New(eventbus.Config{})
	completed := make(chan eventbus.Event, 1)
	bus.Subscribe(context.Background(), eventbus.WorkflowCompleted, func(_ context.Context, e eventbus.Event) {
		completed <- e
	})

	eng := engine.New(engine.Config{Adapters: registry, RepoRoot: root, Bus: bus})
	_, err := eng.ExecuteWorkflow(context.Background(), engine.Task{ID: "t1", Type: "sweep"}, repos, "sweep", 0)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("workflow.completed was never published")
	}
}

func TestCancelWorkflow_UnknownReturnsFalse(t *testing.T) {
	eng := engine.New(engine.Config{})
	if eng.CancelWorkflow("does-not-exist") {
		t.Fatal("CancelWorkflow() = true, want false for unknown workflow")
	}
}

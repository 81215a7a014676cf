package dag

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humblenginr/brisk/pipeline"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]pipeline.Fault
	delay time.Duration
}

func (r *fakeRunner) Execute(_ context.Context, task string, _ pipeline.Definition) pipeline.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, task)
	fault := r.fail[task]
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if fault != nil {
		return pipeline.Outcome{Err: &pipeline.StageError{Task: task, Kind: pipeline.KindCompile, Cause: fault}}
	}
	return pipeline.Outcome{Succeeded: true}
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestGraph(r Runner, opts ...Option) *Graph {
	opts = append([]Option{WithBarrier(NewBarrier(nil, io.Discard))}, opts...)
	return NewGraph(r, opts...)
}

func define(t *testing.T, g *Graph, tasks ...Task) {
	t.Helper()
	for _, task := range tasks {
		require.NoError(t, g.Define(task))
	}
}

func TestDefine_Duplicate(t *testing.T) {
	g := newTestGraph(&fakeRunner{})
	define(t, g, Task{Name: "elm"})

	err := g.Define(Task{Name: "elm"})
	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "elm", dup.Name)
	assert.ErrorIs(t, err, ErrDefinition)
}

func TestDefine_UnknownDependency(t *testing.T) {
	g := newTestGraph(&fakeRunner{})

	err := g.Define(Task{Name: "bundle", Deps: []string{"elm"}})
	var unk *UnknownDependencyError
	require.ErrorAs(t, err, &unk)
	assert.Equal(t, "bundle", unk.Task)
	assert.Equal(t, "elm", unk.Dependency)
	assert.Empty(t, g.Tasks())
}

func TestDefine_EmptyName(t *testing.T) {
	err := newTestGraph(&fakeRunner{}).Define(Task{})
	assert.ErrorIs(t, err, ErrDefinition)
}

func TestResolve_DependenciesFirst(t *testing.T) {
	// a <- b, a <- c, b,c <- d
	g := newTestGraph(&fakeRunner{})
	define(t, g,
		Task{Name: "a"},
		Task{Name: "b", Deps: []string{"a"}},
		Task{Name: "c", Deps: []string{"a"}},
		Task{Name: "d", Deps: []string{"c", "b"}},
		Task{Name: "unrelated"},
	)

	order, err := g.Resolve("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b", "d"}, order)
}

func TestResolve_UnknownTask(t *testing.T) {
	g := newTestGraph(&fakeRunner{})
	_, err := g.Resolve("nope")
	var unk *UnknownTaskError
	require.ErrorAs(t, err, &unk)
}

func TestRun_VisitsClosureOnce(t *testing.T) {
	r := &fakeRunner{}
	g := newTestGraph(r)
	define(t, g,
		Task{Name: "a"},
		Task{Name: "b", Deps: []string{"a"}},
		Task{Name: "c", Deps: []string{"a", "b"}},
		Task{Name: "other"},
	)

	report, err := g.Run(context.Background(), "c")
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"a", "b", "c"}, r.Calls())
	assert.Equal(t, []string{"a", "b", "c"}, report.Tasks())
	for _, run := range report.Runs {
		assert.Equal(t, StatusSucceeded, run.Status)
		assert.Equal(t, 1, run.Attempts)
		assert.NotEmpty(t, run.ID)
	}
}

func TestRun_CycleRunsNothing(t *testing.T) {
	r := &fakeRunner{}
	g := newTestGraph(r, WithForwardRefs())
	define(t, g,
		Task{Name: "a", Deps: []string{"c"}},
		Task{Name: "b", Deps: []string{"a"}},
		Task{Name: "c", Deps: []string{"b"}},
		Task{Name: "free"},
	)

	_, err := g.Run(context.Background(), "b")
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"b", "a", "c", "b"}, cyc.Path)
	assert.Empty(t, r.Calls())

	assert.ErrorAs(t, g.Validate(), &cyc)
}

func TestRun_SelfCycle(t *testing.T) {
	g := newTestGraph(&fakeRunner{}, WithForwardRefs())
	define(t, g, Task{Name: "loop", Deps: []string{"loop"}})

	_, err := g.Run(context.Background(), "loop")
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"loop", "loop"}, cyc.Path)
}

func TestValidate_ForwardRefUnknown(t *testing.T) {
	g := newTestGraph(&fakeRunner{}, WithForwardRefs())
	define(t, g, Task{Name: "a", Deps: []string{"ghost"}})

	var unk *UnknownDependencyError
	require.ErrorAs(t, g.Validate(), &unk)
	assert.Equal(t, "ghost", unk.Dependency)
}

func TestRun_FailureIsContained(t *testing.T) {
	r := &fakeRunner{fail: map[string]pipeline.Fault{
		"elm": &pipeline.CompileError{Message: "TYPE MISMATCH"},
	}}
	g := newTestGraph(r)
	define(t, g,
		Task{Name: "elm", Default: true},
		Task{Name: "index", Default: true},
		Task{Name: "deploy", Deps: []string{"elm", "index"}},
	)

	report, err := g.Run(context.Background(), "deploy")
	require.NoError(t, err)
	assert.False(t, report.Succeeded())
	assert.Equal(t, []string{"elm", "index", "deploy"}, r.Calls())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "elm", failed[0].Task)
	var ce *pipeline.CompileError
	assert.ErrorAs(t, failed[0].Err, &ce)

	assert.Equal(t, StatusSucceeded, report.Runs[1].Status)
	assert.Equal(t, StatusSucceeded, report.Runs[2].Status)
}

func TestRunDefault(t *testing.T) {
	r := &fakeRunner{}
	g := newTestGraph(r)
	define(t, g,
		Task{Name: "elm", Default: true},
		Task{Name: "test"},
		Task{Name: "index", Default: true},
	)

	report, err := g.RunDefault(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"elm", "index"}, r.Calls())
	assert.Equal(t, []string{"elm", "index"}, g.DefaultTasks())
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	r := &fakeRunner{fail: map[string]pipeline.Fault{
		"flaky": &pipeline.ShellExitError{Command: "elm-test", Code: 1},
	}}
	g := newTestGraph(r, WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	define(t, g, Task{Name: "flaky", Retries: 2})

	report, err := g.Run(context.Background(), "flaky")
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, 3, report.Runs[0].Attempts)
	assert.Equal(t, StatusFailed, report.Runs[0].Status)
	assert.Len(t, r.Calls(), 3)
}

func TestRun_ParallelRespectsDependencies(t *testing.T) {
	r := &orderRunner{finished: map[string]time.Time{}, started: map[string]time.Time{}}
	g := newTestGraph(r, WithParallelism(4))
	define(t, g,
		Task{Name: "a"},
		Task{Name: "b"},
		Task{Name: "c", Deps: []string{"a", "b"}},
		Task{Name: "d", Deps: []string{"c"}},
	)

	report, err := g.Run(context.Background(), "d")
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Tasks())

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.False(t, r.started["c"].Before(r.finished["a"]))
	assert.False(t, r.started["c"].Before(r.finished["b"]))
	assert.False(t, r.started["d"].Before(r.finished["c"]))
}

type orderRunner struct {
	mu       sync.Mutex
	started  map[string]time.Time
	finished map[string]time.Time
}

func (r *orderRunner) Execute(_ context.Context, task string, _ pipeline.Definition) pipeline.Outcome {
	r.mu.Lock()
	r.started[task] = time.Now()
	r.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	r.mu.Lock()
	r.finished[task] = time.Now()
	r.mu.Unlock()
	return pipeline.Outcome{Succeeded: true}
}

func TestErrorsMatchDefinition(t *testing.T) {
	for _, err := range []error{
		&DuplicateTaskError{Name: "x"},
		&UnknownDependencyError{Task: "x", Dependency: "y"},
		&CycleError{Path: []string{"x", "x"}},
		&UnknownTaskError{Name: "x"},
	} {
		assert.True(t, errors.Is(err, ErrDefinition), "%T", err)
	}
}

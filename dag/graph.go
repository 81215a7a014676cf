// Package dag holds the task graph: task definitions, dependency resolution
// and execution of a dependency closure through an error barrier.
package dag

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/pipeline"
)

// Runner executes a task's pipeline.
type Runner interface {
	Execute(ctx context.Context, task string, def pipeline.Definition) pipeline.Outcome
}

// Graph owns the task definitions and is the only place tasks are run from.
// Definitions must complete before the first Run; Run is safe for concurrent
// use afterwards.
type Graph struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string // declaration order
	forward bool

	runner      Runner
	barrier     *Barrier
	parallelism int
	newBackOff  func() backoff.BackOff
	log         *zap.Logger
}

type Option func(*Graph)

func WithLogger(l *zap.Logger) Option { return func(g *Graph) { g.log = l } }

func WithBarrier(b *Barrier) Option { return func(g *Graph) { g.barrier = b } }

// WithParallelism bounds how many independent tasks of one run execute at
// once. Values below 1 mean 1.
func WithParallelism(n int) Option { return func(g *Graph) { g.parallelism = n } }

// WithForwardRefs lets Define accept dependencies that are declared later.
// Unknown names and cycles are then reported by Validate and Run.
func WithForwardRefs() Option { return func(g *Graph) { g.forward = true } }

// WithBackOff sets the retry policy factory for tasks with Retries > 0.
func WithBackOff(f func() backoff.BackOff) Option { return func(g *Graph) { g.newBackOff = f } }

func NewGraph(runner Runner, opts ...Option) *Graph {
	g := &Graph{
		tasks:       make(map[string]*Task),
		runner:      runner,
		parallelism: 1,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.barrier == nil {
		g.barrier = NewBarrier(g.log, nil)
	}
	if g.parallelism < 1 {
		g.parallelism = 1
	}
	if g.newBackOff == nil {
		g.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	return g
}

// Define registers t. By default every dependency must already be defined,
// so tasks are declared top-down and cycles cannot form.
func (g *Graph) Define(t Task) error {
	if t.Name == "" {
		return invalidTask("task name is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.Name]; exists {
		return &DuplicateTaskError{Name: t.Name}
	}
	if !g.forward {
		for _, d := range t.Deps {
			if _, ok := g.tasks[d]; !ok {
				return &UnknownDependencyError{Task: t.Name, Dependency: d}
			}
		}
	}

	t.Deps = append([]string(nil), t.Deps...)
	g.tasks[t.Name] = &t
	g.order = append(g.order, t.Name)
	return nil
}

// Validate checks the whole graph for unknown dependencies and cycles.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := g.resolve(g.order)
	return err
}

// Tasks returns copies of the defined tasks in declaration order.
func (g *Graph) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Task, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.tasks[name])
	}
	return out
}

// DefaultTasks returns the names of the tasks in the default set, in
// declaration order.
func (g *Graph) DefaultTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, name := range g.order {
		if g.tasks[name].Default {
			out = append(out, name)
		}
	}
	return out
}

// Resolve returns the dependency closure of names in execution order:
// dependencies before dependents, ties broken by declaration order.
func (g *Graph) Resolve(names ...string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolve(names)
}

const (
	unvisited = iota
	visiting
	visited
)

func (g *Graph) resolve(roots []string) ([]string, error) {
	var (
		order []string
		mark  = make(map[string]int, len(g.tasks))
		stack []string
	)

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			path := append(append([]string(nil), stack[start:]...), name)
			return &CycleError{Path: path}
		}

		t := g.tasks[name]
		mark[name] = visiting
		stack = append(stack, name)
		for _, d := range t.Deps {
			if _, ok := g.tasks[d]; !ok {
				return &UnknownDependencyError{Task: name, Dependency: d}
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		mark[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range roots {
		if _, ok := g.tasks[name]; !ok {
			return nil, &UnknownTaskError{Name: name}
		}
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run executes the dependency closure of name. A task failure does not stop
// the run: every resolved task is attempted and the report says which
// failed. The returned error is only ever a definition error, in which case
// nothing ran.
func (g *Graph) Run(ctx context.Context, name string) (*Report, error) {
	return g.RunMany(ctx, name)
}

// RunDefault runs every task marked Default, in declaration order, plus
// their dependencies.
func (g *Graph) RunDefault(ctx context.Context) (*Report, error) {
	return g.RunMany(ctx, g.DefaultTasks()...)
}

// RunMany runs the union of the dependency closures of names. Each task
// runs at most once.
func (g *Graph) RunMany(ctx context.Context, names ...string) (*Report, error) {
	order, err := g.Resolve(names...)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	tasks := make([]*Task, len(order))
	for i, name := range order {
		tasks[i] = g.tasks[name]
	}
	g.mu.RUnlock()

	g.log.Info("running tasks", zap.Strings("tasks", order))
	start := time.Now()
	report := &Report{Runs: g.execute(ctx, tasks)}
	report.Duration = time.Since(start)

	if failed := report.Failed(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Task)
		}
		g.log.Warn("run finished with failures",
			zap.Strings("failed", names),
			zap.Duration("duration", report.Duration))
	} else {
		g.log.Info("run finished", zap.Duration("duration", report.Duration))
	}
	return report, nil
}

// Package orchestrator assembles a build from its configuration: it defines
// the task graph, wires the toolchain into the pipeline executor, and runs
// either a single build or a watch session.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/humblenginr/brisk/config"
	"github.com/humblenginr/brisk/dag"
	"github.com/humblenginr/brisk/pipeline"
	"github.com/humblenginr/brisk/toolchain"
	"github.com/humblenginr/brisk/watch"
)

// Orchestrator owns the task graph and the watch bindings of one project.
type Orchestrator struct {
	cfg      *config.Config
	root     string
	graph    *dag.Graph
	bindings []watch.Binding
	log      *zap.Logger
}

type options struct {
	stdout, stderr io.Writer
	compiler       pipeline.Compiler
	optimizer      pipeline.Optimizer
	shell          pipeline.Shell
}

// Option customizes how New wires the build.
type Option func(*options)

// WithOutput sets where command output and failure reports go.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) { o.stdout, o.stderr = stdout, stderr }
}

func WithCompiler(c pipeline.Compiler) Option     { return func(o *options) { o.compiler = c } }
func WithOptimizer(opt pipeline.Optimizer) Option { return func(o *options) { o.optimizer = opt } }
func WithShell(s pipeline.Shell) Option           { return func(o *options) { o.shell = s } }

// New builds the task graph described by cfg. Any definition error is
// returned before anything runs.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}

	if o.compiler == nil {
		o.compiler = toolchain.NewElmCompiler(cfg.Compiler.Command, root, cfg.Compiler.Optimize, log.Named("elm"))
	}
	if o.optimizer == nil {
		o.optimizer = toolchain.NewMinifier()
	}
	if o.shell == nil {
		o.shell = toolchain.NewShell(root,
			toolchain.WithOutput(o.stdout, o.stderr),
			toolchain.WithShellLogger(log.Named("shell")))
	}

	exec := pipeline.NewExecutor(root,
		pipeline.WithCompiler(o.compiler),
		pipeline.WithOptimizer(o.optimizer),
		pipeline.WithShell(o.shell),
		pipeline.WithLogger(log.Named("pipeline")))

	graph := dag.NewGraph(exec,
		dag.WithLogger(log.Named("graph")),
		dag.WithBarrier(dag.NewBarrier(log.Named("barrier"), o.stderr)),
		dag.WithParallelism(cfg.Parallelism),
		dag.WithForwardRefs())

	for _, t := range cfg.Tasks {
		err := graph.Define(dag.Task{
			Name:     t.Name,
			Deps:     t.Deps,
			Pipeline: t.Definition(cfg.Dest),
			Default:  t.Default,
			Retries:  t.Retries,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	bindings := make([]watch.Binding, 0, len(cfg.Watch.Bindings))
	for i, b := range cfg.Watch.Bindings {
		if _, err := graph.Resolve(b.Tasks...); err != nil {
			return nil, fmt.Errorf("watch binding %d: %w", i, err)
		}
		bindings = append(bindings, watch.Binding{Globs: b.Globs, Tasks: b.Tasks})
	}

	return &Orchestrator{cfg: cfg, root: root, graph: graph, bindings: bindings, log: log}, nil
}

func (o *Orchestrator) Tasks() []dag.Task { return o.graph.Tasks() }

// Run runs the named task and its dependencies once. An empty name runs the
// default task set.
func (o *Orchestrator) Run(ctx context.Context, name string) (*dag.Report, error) {
	if name == "" {
		return o.graph.RunDefault(ctx)
	}
	return o.graph.Run(ctx, name)
}

// Watch re-runs bound tasks whenever matching files change, until ctx is
// done. Failed builds are logged and the session carries on.
func (o *Orchestrator) Watch(ctx context.Context) error {
	if len(o.bindings) == 0 {
		return fmt.Errorf("no watch bindings configured")
	}

	var globs []string
	for _, b := range o.bindings {
		globs = append(globs, b.Globs...)
	}
	w, err := watch.NewFSWatcher(o.root, pipeline.Bases(globs), watch.WithIgnore(o.outputDirs()...))
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	s := watch.NewScheduler(o.graph, o.bindings,
		watch.WithDebounce(o.cfg.Watch.Debounce.Std()),
		watch.WithWorkers(o.cfg.Watch.Workers),
		watch.WithSchedulerLogger(o.log.Named("watch")))

	err = s.Start(ctx, w)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// outputDirs lists the directories builds write into, plus tool caches.
func (o *Orchestrator) outputDirs() []string {
	dirs := append([]string{o.cfg.Dest}, watch.DefaultIgnore...)
	for _, t := range o.cfg.Tasks {
		if t.Dest != "" {
			dirs = append(dirs, t.Dest)
		}
		for _, st := range t.Stages {
			if st.Dest != "" {
				dirs = append(dirs, st.Dest)
			}
		}
	}
	return dirs
}

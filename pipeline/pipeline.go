// Package pipeline executes ordered transform stages over a file set.
//
// A pipeline resolves its input globs to a FileSet, then hands that set to
// each stage in turn: compile and optimize replace it, copy writes it to a
// destination directory, and shell runs a command and ends the pipeline.
// Every failure is returned as a typed Outcome; Execute never panics on its
// own account, though a collaborator may.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// KindSource labels failures that happen while resolving input, before any
// stage runs.
const KindSource Kind = "source"

var (
	errNoCompiler  = errors.New("no compiler configured")
	errNoOptimizer = errors.New("no optimizer configured")
	errNoShell     = errors.New("no shell configured")
)

// Executor runs pipeline definitions rooted at a project directory.
type Executor struct {
	root      string
	compiler  Compiler
	optimizer Optimizer
	shell     Shell
	log       *zap.Logger
}

type Option func(*Executor)

func WithCompiler(c Compiler) Option   { return func(e *Executor) { e.compiler = c } }
func WithOptimizer(o Optimizer) Option { return func(e *Executor) { e.optimizer = o } }
func WithShell(s Shell) Option         { return func(e *Executor) { e.shell = s } }
func WithLogger(l *zap.Logger) Option  { return func(e *Executor) { e.log = l } }

func NewExecutor(root string, opts ...Option) *Executor {
	e := &Executor{root: root, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs def on behalf of task. Stages run strictly in order; the first
// failing stage ends the pipeline and later stages, including any writes to
// the destination, are skipped.
func (e *Executor) Execute(ctx context.Context, task string, def Definition) Outcome {
	var files FileSet
	if len(def.Input) > 0 {
		var err error
		files, err = Resolve(e.root, def.Input)
		if err != nil {
			return failed(nil, task, -1, KindSource, AsFault("resolve", err))
		}
		if len(files) == 0 {
			if def.RequireInput {
				return failed(nil, task, -1, KindSource, &NoMatchError{Patterns: def.Input})
			}
			e.log.Debug("no input matched, nothing to do",
				zap.String("task", task), zap.Strings("input", def.Input))
			return Outcome{Succeeded: true}
		}
	}

	stages := make([]StageOutcome, 0, len(def.Stages))
	for i, st := range def.Stages {
		start := time.Now()
		next, fault := e.runStage(ctx, st, def, files)
		so := StageOutcome{Index: i, Kind: st.Kind, Files: len(next), Duration: time.Since(start)}
		if fault != nil {
			so.Err = fault
			stages = append(stages, so)
			return failed(stages, task, i, st.Kind, fault)
		}
		stages = append(stages, so)
		e.log.Debug("stage done",
			zap.String("task", task),
			zap.String("stage", string(st.Kind)),
			zap.Int("files", len(next)),
			zap.Duration("duration", so.Duration))

		if st.Kind == KindShell {
			break
		}
		files = next
	}
	return Outcome{Succeeded: true, Stages: stages}
}

func (e *Executor) runStage(ctx context.Context, st Stage, def Definition, in FileSet) (FileSet, Fault) {
	switch st.Kind {
	case KindCompile:
		if e.compiler == nil {
			return nil, &IOError{Op: "compile", Err: errNoCompiler}
		}
		out, err := e.compiler.Compile(ctx, in.Sources(), st.Output)
		if err != nil {
			return nil, AsFault("compile", err)
		}
		return FileSet{out}, nil

	case KindOptimize:
		if e.optimizer == nil {
			return nil, &IOError{Op: "optimize", Err: errNoOptimizer}
		}
		out := make(FileSet, 0, len(in))
		for _, f := range in {
			o, err := e.optimizer.Optimize(ctx, f)
			if err != nil {
				return nil, AsFault("optimize", err)
			}
			out = append(out, o)
		}
		return out, nil

	case KindCopy:
		dest := st.Dest
		if dest == "" {
			dest = def.Dest
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(e.root, dest)
		}
		if err := WriteFiles(dest, in); err != nil {
			return nil, AsFault("write", err)
		}
		return in, nil

	case KindShell:
		if e.shell == nil {
			return nil, &IOError{Op: "shell", Err: errNoShell}
		}
		if err := e.shell.Invoke(ctx, st.Command, st.Timeout); err != nil {
			return nil, AsFault("shell", err)
		}
		return nil, nil
	}
	return nil, &IOError{Op: "stage", Err: errors.New("unknown stage kind " + string(st.Kind))}
}

func failed(stages []StageOutcome, task string, idx int, kind Kind, cause Fault) Outcome {
	return Outcome{
		Succeeded: false,
		Stages:    stages,
		Err:       &StageError{Task: task, Index: idx, Kind: kind, Cause: cause},
	}
}

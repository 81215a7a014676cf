package pipeline

import (
	"context"
	"time"
)

// Kind identifies a transform stage.
type Kind string

const (
	KindCompile  Kind = "compile"
	KindOptimize Kind = "optimize"
	KindCopy     Kind = "copy"
	KindShell    Kind = "shell"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCompile, KindOptimize, KindCopy, KindShell:
		return true
	}
	return false
}

// Stage is one step of a pipeline. Stages are stateless and re-evaluated on
// every run.
type Stage struct {
	Kind Kind

	// Dest overrides the pipeline destination for copy stages.
	Dest string

	// Output names the artifact produced by a compile stage.
	Output string

	// Command is the command line run by a shell stage.
	Command string

	// Timeout bounds a shell stage. Zero means no limit.
	Timeout time.Duration
}

// Definition is the static description of a task's pipeline.
type Definition struct {
	// Input holds the globs selecting the initial file set, relative to the
	// project root.
	Input []string

	// RequireInput turns an empty match into a NoMatchError.
	RequireInput bool

	// Dest is the default destination directory for copy stages.
	Dest string

	Stages []Stage
}

// File is one member of the file set flowing between stages.
type File struct {
	// Name is the path relative to the glob base; it decides where the file
	// lands under a destination directory.
	Name string

	// Source is the on-disk path the file was read from, empty for files
	// produced by a stage.
	Source string

	Contents []byte
}

// FileSet is the artifact threaded through a pipeline.
type FileSet []File

func (fs FileSet) Names() []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

func (fs FileSet) Sources() []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if f.Source != "" {
			out = append(out, f.Source)
		}
	}
	return out
}

// StageOutcome records the result of a single stage.
type StageOutcome struct {
	Index    int
	Kind     Kind
	Files    int
	Duration time.Duration
	Err      error
}

// Outcome is the typed result of executing a pipeline.
type Outcome struct {
	Succeeded bool
	Stages    []StageOutcome
	Err       *StageError
}

// Compiler translates source files into a single compiled artifact.
type Compiler interface {
	Compile(ctx context.Context, sources []string, output string) (File, error)
}

// Optimizer transforms an artifact into a smaller one.
type Optimizer interface {
	Optimize(ctx context.Context, f File) (File, error)
}

// Shell runs a command line as the terminal stage of a pipeline.
type Shell interface {
	Invoke(ctx context.Context, commandLine string, timeout time.Duration) error
}

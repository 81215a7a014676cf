package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fault is the closed set of causes a stage can fail with. The unexported
// marker keeps the set limited to this package's types.
type Fault interface {
	error
	fault()
}

// SourceLocation points at the offending position in a source file.
type SourceLocation struct {
	Path   string
	Line   int
	Column int
}

func (l SourceLocation) String() string {
	if l.Line == 0 {
		return l.Path
	}
	return fmt.Sprintf("%s:%d:%d", l.Path, l.Line, l.Column)
}

// CompileError is returned by a Compiler that rejected its input.
type CompileError struct {
	Message  string
	Location *SourceLocation
}

func (e *CompileError) Error() string {
	if e.Location != nil {
		return fmt.Sprintf("compile error at %s: %s", e.Location, e.Message)
	}
	return "compile error: " + e.Message
}

type OptimizeError struct {
	Name    string
	Message string
}

func (e *OptimizeError) Error() string {
	return fmt.Sprintf("optimize %s: %s", e.Name, e.Message)
}

// IOError wraps a filesystem failure while reading input or writing output.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ShellExitError reports a command that exited non-zero or could not be
// started. Code is -1 when the process never ran or was killed by a signal.
type ShellExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ShellExitError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}

func (e *ShellExitError) Unwrap() error { return e.Err }

// ShellTimeoutError reports a command killed after its deadline.
type ShellTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *ShellTimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Command, e.Timeout)
}

// NoMatchError reports an input selector that matched nothing when input is
// required.
type NoMatchError struct {
	Patterns []string
}

func (e *NoMatchError) Error() string {
	return "no files match " + strings.Join(e.Patterns, ", ")
}

// PanicError wraps a value recovered from a panicking stage.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (*CompileError) fault()      {}
func (*OptimizeError) fault()     {}
func (*IOError) fault()           {}
func (*ShellExitError) fault()    {}
func (*ShellTimeoutError) fault() {}
func (*NoMatchError) fault()      {}
func (*PanicError) fault()        {}

// StageError attaches task and stage context to a Fault. Index is -1 when
// the failure happened outside any single stage.
type StageError struct {
	Task  string
	Index int
	Kind  Kind
	Cause Fault
}

func (e *StageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("task %s: %s: %v", e.Task, e.Kind, e.Cause)
	}
	return fmt.Sprintf("task %s: stage %d (%s): %v", e.Task, e.Index, e.Kind, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// AsFault coerces an arbitrary error returned by a collaborator into the
// closed Fault set. Errors outside the set are reported as an IOError for op.
func AsFault(op string, err error) Fault {
	var f Fault
	if errors.As(err, &f) {
		return f
	}
	return &IOError{Op: op, Err: err}
}

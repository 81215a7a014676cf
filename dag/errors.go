package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinition matches every error caused by a malformed task graph. These
// are programmer errors and are reported before any task runs.
var ErrDefinition = errors.New("invalid task definition")

// DuplicateTaskError reports a task name registered twice.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("%v: duplicate task %q", ErrDefinition, e.Name)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDefinition }

// UnknownDependencyError reports a dependency on a task that was never
// defined (or, in strict mode, not defined yet).
type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%v: task %q depends on unknown task %q", ErrDefinition, e.Task, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrDefinition }

// CycleError reports a dependency cycle. Path starts and ends with the same
// task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: cycle: %s", ErrDefinition, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrDefinition }

// UnknownTaskError reports a request to run a task that does not exist.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("%v: no task named %q", ErrDefinition, e.Name)
}

func (e *UnknownTaskError) Unwrap() error { return ErrDefinition }

func invalidTask(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDefinition, fmt.Sprintf(format, args...))
}

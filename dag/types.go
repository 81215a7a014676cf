package dag

import (
	"time"

	"github.com/humblenginr/brisk/pipeline"
)

// Task is a named unit of work bound to a pipeline. Tasks are immutable once
// defined.
type Task struct {
	Name     string
	Deps     []string
	Pipeline pipeline.Definition

	// Default marks the task as part of the default composite task.
	Default bool

	// Retries is how many extra attempts a failed run gets.
	Retries uint64
}

// Status is the terminal state of a TaskRun.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskRun is the outcome of one execution of a task.
type TaskRun struct {
	ID       string
	Task     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Stages   []pipeline.StageOutcome
	Status   Status
	Err      error
}

// Report aggregates the runs of one Graph.Run invocation, in resolved order.
type Report struct {
	Runs     []TaskRun
	Duration time.Duration
}

func (r *Report) Succeeded() bool {
	return len(r.Failed()) == 0
}

func (r *Report) Failed() []TaskRun {
	var out []TaskRun
	for _, run := range r.Runs {
		if run.Status == StatusFailed {
			out = append(out, run)
		}
	}
	return out
}

// Tasks returns the names of the tasks that ran, in order.
func (r *Report) Tasks() []string {
	out := make([]string, 0, len(r.Runs))
	for _, run := range r.Runs {
		out = append(out, run.Task)
	}
	return out
}

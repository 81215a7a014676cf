package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/pipeline"
)

const kindPanic pipeline.Kind = "panic"

// Barrier contains pipeline failures. Whatever a pipeline does, including
// panicking, Guard returns a TaskRun; failures never travel further.
type Barrier struct {
	log *zap.Logger
	out io.Writer
}

// NewBarrier returns a Barrier that logs to log and prints a readable report
// of each failure to out. A nil out means stderr.
func NewBarrier(log *zap.Logger, out io.Writer) *Barrier {
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = os.Stderr
	}
	return &Barrier{log: log, out: out}
}

// Guard runs call for task and converts its outcome into a TaskRun.
func (b *Barrier) Guard(ctx context.Context, task string, call func(context.Context) pipeline.Outcome) (run TaskRun) {
	run = TaskRun{ID: uuid.NewString(), Task: task, Started: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			run.Duration = time.Since(run.Started)
			run.Status = StatusFailed
			se := &pipeline.StageError{Task: task, Index: -1, Kind: kindPanic, Cause: &pipeline.PanicError{Value: r}}
			run.Err = se
			b.report(run, se)
		}
	}()

	outcome := call(ctx)
	run.Duration = time.Since(run.Started)
	run.Stages = outcome.Stages

	if outcome.Succeeded {
		run.Status = StatusSucceeded
		b.log.Info("task succeeded",
			zap.String("task", task),
			zap.String("run_id", run.ID),
			zap.Duration("duration", run.Duration))
		return run
	}

	se := outcome.Err
	if se == nil {
		se = &pipeline.StageError{Task: task, Index: -1, Kind: pipeline.KindSource,
			Cause: &pipeline.IOError{Op: "pipeline", Err: errors.New("failed without an error")}}
	}
	run.Status = StatusFailed
	run.Err = se
	b.report(run, se)
	return run
}

func (b *Barrier) report(run TaskRun, se *pipeline.StageError) {
	headline, fields := describe(se)
	fields = append(fields,
		zap.String("task", run.Task),
		zap.String("stage", string(se.Kind)),
		zap.Int("index", se.Index),
		zap.String("run_id", run.ID),
		zap.Duration("duration", run.Duration))
	b.log.Error(headline, fields...)
	fmt.Fprint(b.out, Render(se))
}

// describe maps every Fault to a log headline and structured fields.
func describe(se *pipeline.StageError) (string, []zap.Field) {
	switch c := se.Cause.(type) {
	case *pipeline.CompileError:
		fields := []zap.Field{zap.String("error", firstLine(c.Message))}
		if c.Location != nil {
			fields = append(fields, zap.String("location", c.Location.String()))
		}
		return "compile failed", fields
	case *pipeline.OptimizeError:
		return "optimize failed", []zap.Field{zap.String("file", c.Name), zap.String("error", c.Message)}
	case *pipeline.IOError:
		return "io failed", []zap.Field{zap.String("op", c.Op), zap.String("path", c.Path), zap.Error(c.Err)}
	case *pipeline.ShellExitError:
		return "command failed", []zap.Field{zap.String("command", c.Command), zap.Int("exit_code", c.Code)}
	case *pipeline.ShellTimeoutError:
		return "command timed out", []zap.Field{zap.String("command", c.Command), zap.Duration("timeout", c.Timeout)}
	case *pipeline.NoMatchError:
		return "no input files", []zap.Field{zap.Strings("patterns", c.Patterns)}
	case *pipeline.PanicError:
		return "task panicked", []zap.Field{zap.String("error", fmt.Sprint(c.Value))}
	default:
		return "task failed", []zap.Field{zap.Error(se.Cause)}
	}
}

// Render formats a stage error the way a developer wants to read it in a
// terminal.
func Render(se *pipeline.StageError) string {
	var (
		b     strings.Builder
		title string
		body  string
	)
	switch c := se.Cause.(type) {
	case *pipeline.CompileError:
		title, body = "COMPILE ERROR", c.Message
		if c.Location != nil {
			body = c.Location.String() + "\n" + body
		}
	case *pipeline.OptimizeError:
		title, body = "OPTIMIZE ERROR", c.Error()
	case *pipeline.IOError:
		title, body = "IO ERROR", c.Error()
	case *pipeline.ShellExitError:
		title, body = "COMMAND ERROR", c.Error()
	case *pipeline.ShellTimeoutError:
		title, body = "COMMAND ERROR", c.Error()
	case *pipeline.NoMatchError:
		title, body = "NO INPUT", c.Error()
	case *pipeline.PanicError:
		title, body = "PANIC", c.Error()
	default:
		title, body = "ERROR", fmt.Sprint(se.Cause)
	}

	where := string(se.Kind)
	if se.Index >= 0 {
		where = fmt.Sprintf("stage %d: %s", se.Index, se.Kind)
	}
	fmt.Fprintf(&b, "-- %s in task %s (%s) --\n%s\n\n", title, se.Task, where, body)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

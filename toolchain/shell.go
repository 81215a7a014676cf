package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/pipeline"
)

// waitDelay bounds how long Invoke waits for output pipes after the child
// has been killed.
const waitDelay = 2 * time.Second

// Shell spawns external commands for pipeline shell stages. The child's
// stdout and stderr are wired straight to the configured writers, so output
// appears as the command produces it.
type Shell struct {
	dir    string
	stdout io.Writer
	stderr io.Writer
	log    *zap.Logger
}

type ShellOption func(*Shell)

// WithOutput redirects the child's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) ShellOption {
	return func(s *Shell) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

func WithShellLogger(l *zap.Logger) ShellOption {
	return func(s *Shell) { s.log = l }
}

func NewShell(dir string, opts ...ShellOption) *Shell {
	s := &Shell{dir: dir, stdout: os.Stdout, stderr: os.Stderr, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invoke runs commandLine and waits for it to exit. A zero exit status
// returns nil. A non-zero status or a spawn failure returns a
// *pipeline.ShellExitError; exceeding a positive timeout kills the child and
// returns a *pipeline.ShellTimeoutError.
func (s *Shell) Invoke(ctx context.Context, commandLine string, timeout time.Duration) error {
	args, err := shlex.Split(commandLine)
	if err != nil {
		return &pipeline.ShellExitError{Command: commandLine, Code: -1, Err: fmt.Errorf("parse command: %w", err)}
	}
	if len(args) == 0 {
		return &pipeline.ShellExitError{Command: commandLine, Code: -1, Err: errors.New("empty command")}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = s.dir
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.WaitDelay = waitDelay

	s.log.Info("running command", zap.String("command", cmd.String()))
	start := time.Now()
	err = cmd.Run()
	s.log.Debug("command finished",
		zap.String("command", commandLine),
		zap.Duration("duration", time.Since(start)))

	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &pipeline.ShellTimeoutError{Command: commandLine, Timeout: timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &pipeline.ShellExitError{Command: commandLine, Code: exitErr.ExitCode(), Err: err}
	}
	return &pipeline.ShellExitError{Command: commandLine, Code: -1, Err: err}
}

var _ pipeline.Shell = (*Shell)(nil)

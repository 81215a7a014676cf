// Package cli implements the brisk command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/config"
	"github.com/humblenginr/brisk/logging"
	"github.com/humblenginr/brisk/orchestrator"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitBuildFail  = 1
	ExitDefinition = 2
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitDefinition
}

type globalFlags struct {
	configPath  string
	logLevel    string
	logFile     string
	parallelism int
}

// NewRootCommand returns the brisk command tree. Without a subcommand it
// builds the given task, or the default tasks when none is named.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "brisk [task]",
		Short:         "Build and watch an Elm front-end project",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "build file (default: brisk.yaml, brisk.yml or brisk.toml if present)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flags.logFile, "log-file", "", "also write logs to this file, rotated by size")
	pf.IntVarP(&flags.parallelism, "parallelism", "j", 0, "independent tasks to run at once")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newWatchCommand(flags))
	root.AddCommand(newListCommand(flags))
	return root
}

// setup loads the build file, applies flag overrides and wires the
// orchestrator.
func setup(cmd *cobra.Command, flags *globalFlags) (*orchestrator.Orchestrator, *zap.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, &ExitError{Code: ExitDefinition, Err: err}
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Log.File = flags.logFile
	}
	if flags.parallelism != 0 {
		cfg.Parallelism = flags.parallelism
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, &ExitError{Code: ExitDefinition, Err: err}
	}

	log, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, &ExitError{Code: ExitDefinition, Err: fmt.Errorf("logger: %w", err)}
	}

	o, err := orchestrator.New(cfg, log, orchestrator.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		_ = log.Sync()
		return nil, nil, &ExitError{Code: ExitDefinition, Err: err}
	}
	return o, log, nil
}

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/dag"
)

var errBuildFailed = errors.New("build failed")

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [task]",
		Short: "Run a task and its dependencies once (default tasks when none is named)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags, args)
		},
	}
}

func runBuild(cmd *cobra.Command, flags *globalFlags, args []string) error {
	o, log, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer log.Sync()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	report, err := o.Run(cmd.Context(), name)
	if err != nil {
		if errors.Is(err, dag.ErrDefinition) {
			return &ExitError{Code: ExitDefinition, Err: err}
		}
		return &ExitError{Code: ExitBuildFail, Err: err}
	}

	for _, run := range report.Runs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-9s %s\n", run.Task, run.Status, run.Duration.Round(time.Millisecond))
	}
	if !report.Succeeded() {
		log.Error("build failed", zap.Int("failed", len(report.Failed())))
		return &ExitError{Code: ExitBuildFail, Err: errBuildFailed}
	}
	return nil
}

package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the defined tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer log.Sync()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tDEFAULT\tDEPENDS ON\tSTAGES")
			for _, t := range o.Tasks() {
				def := ""
				if t.Default {
					def = "*"
				}
				stages := make([]string, 0, len(t.Pipeline.Stages))
				for _, s := range t.Pipeline.Stages {
					stages = append(stages, string(s.Kind))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, def, strings.Join(t.Deps, ","), strings.Join(stages, " > "))
			}
			return tw.Flush()
		},
	}
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/cli/output"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var logLines int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show unit state, resource usage and recent logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			st, err := a.orch.Status(cmd.Context(), logLines)
			if err != nil {
				return err
			}
			a.refreshSnapshotMetrics(cmd.Context())
			if a.printer.Structured() {
				return a.printer.Print(st)
			}
			if err := output.KeyValues(cmd.OutOrStdout(), statusPairs(st)); err != nil {
				return err
			}
			if len(st.Logs) > 0 {
				a.printer.Printf("\nrecent logs:\n")
				for _, line := range st.Logs {
					a.printer.Printf("  %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&logLines, "lines", "n", 20, "Log lines to show")
	return cmd
}

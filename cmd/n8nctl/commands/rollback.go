package commands

import (
	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/cli/prompt"
	"github.com/talosaether/n8n/internal/snapshot"
)

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [snapshot-id|latest]",
		Short: "Restore a snapshot and verify the unit once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			ref := snapshot.LatestRef
			if len(args) == 1 {
				ref = args[0]
			}
			attempt, err := a.orch.Rollback(cmd.Context(), ref)
			return a.reportAttempt(attempt, err)
		},
	}
}

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <snapshot-id|latest>",
		Short: "Restore a snapshot after confirmation",
		Long: `Restore replaces the applied configuration and data with a snapshot and
restarts the unit. It asks for confirmation first unless --yes is given;
declining changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, prompt.NewConfirmer(yes))
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			attempt, err := a.orch.Restore(cmd.Context(), args[0], !yes)
			return a.reportAttempt(attempt, err)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

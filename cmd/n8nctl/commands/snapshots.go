package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot", "snap"},
		Short:   "Manage configuration and data snapshots",
	}
	cmd.AddCommand(
		newSnapshotsListCmd(flags),
		newSnapshotsCreateCmd(flags),
		newSnapshotsDeleteCmd(flags),
		newSnapshotsPruneCmd(flags),
	)
	return cmd
}

func newSnapshotsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			list, err := a.orch.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			a.metrics.ObserveSnapshots(list)
			if len(list) == 0 && !a.printer.Structured() {
				a.printer.Printf("no snapshots in %s\n", a.store.Root())
				return nil
			}
			return a.printer.Print(snapshotList(list))
		},
	}
}

func newSnapshotsCreateCmd(flags *globalFlags) *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the applied configuration and data now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			snap, err := a.orch.CreateSnapshot(cmd.Context(), trigger)
			if err != nil {
				return err
			}
			a.refreshSnapshotMetrics(cmd.Context())
			if a.printer.Structured() {
				return a.printer.Print(snap)
			}
			a.printer.Printf("created snapshot %s\n", snap.ID)
			for name, reason := range snap.Missing {
				a.printer.Printf("  %s not captured: %s\n", name, reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "Reason recorded in the snapshot metadata")
	return cmd
}

func newSnapshotsDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <snapshot-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete snapshots",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			defer a.refreshSnapshotMetrics(cmd.Context())

			for _, id := range args {
				if err := a.orch.DeleteSnapshot(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				a.printer.Printf("deleted snapshot %s\n", id)
			}
			return nil
		},
	}
}

func newSnapshotsPruneCmd(flags *globalFlags) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			removed, err := a.orch.PruneSnapshots(cmd.Context(), keep)
			a.refreshSnapshotMetrics(cmd.Context())
			if err != nil {
				return err
			}
			if a.printer.Structured() {
				return a.printer.Print(map[string]int{"removed": removed})
			}
			a.printer.Printf("removed %d snapshot(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Snapshots to keep (default snapshots.retention_count)")
	return cmd
}

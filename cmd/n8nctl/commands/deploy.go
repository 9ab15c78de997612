package commands

import (
	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/appenv"
)

func newDeployCmd(flags *globalFlags) *cobra.Command {
	var envFile, specFile string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Apply the working configuration, verify it and roll back on failure",
		Long: `Deploy validates the working env and unit spec, snapshots the applied
configuration and data, converges the container and verifies it.

Exit status is 0 when the new configuration is committed, 2 when the deploy
failed but the previous state was restored, and 1 when manual intervention
is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if envFile == "" {
				envFile = a.cfg.EnvFile
			}
			if specFile == "" {
				specFile = a.cfg.SpecFile
			}
			attempt, err := a.orch.DeployFrom(cmd.Context(), appenv.NewSource(envFile, specFile))
			a.refreshSnapshotMetrics(cmd.Context())
			return a.reportAttempt(attempt, err)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "Env file to deploy (default from config)")
	cmd.Flags().StringVar(&specFile, "spec-file", "", "Unit spec to deploy (default from config)")
	return cmd
}

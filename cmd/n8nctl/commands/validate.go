package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/cli/output"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var envFile, specFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the working configuration without touching the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, printer, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if envFile == "" {
				envFile = cfg.EnvFile
			}
			if specFile == "" {
				specFile = cfg.SpecFile
			}
			resolved, err := appenv.NewSource(envFile, specFile).Resolve()
			if err != nil {
				return err
			}
			if err := resolved.Validate(); err != nil {
				return err
			}
			if resolved.Unit.Name != cfg.Unit {
				return fmt.Errorf("unit spec names %q, config expects %q", resolved.Unit.Name, cfg.Unit)
			}

			redacted := resolved.Redacted()
			if printer.Structured() {
				return printer.Print(map[string]any{"unit": resolved.Unit, "url": resolved.PublicURL(), "env": redacted})
			}
			printer.Printf("configuration valid: %s %s\n", resolved.Unit.Name, resolved.Unit.Image)
			printer.Printf("editor url: %s\n\n", orDash(resolved.PublicURL()))
			keys := make([]string, 0, len(redacted))
			for k := range redacted {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([][2]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, [2]string{k, redacted[k]})
			}
			return output.KeyValues(cmd.OutOrStdout(), pairs)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "Env file to check (default from config)")
	cmd.Flags().StringVar(&specFile, "spec-file", "", "Unit spec to check (default from config)")
	return cmd
}

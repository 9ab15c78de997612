package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/cli/output"
)

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := output.ParseFormat(flags.output)
			if err != nil {
				return err
			}
			info := map[string]string{
				"version": Version,
				"commit":  Commit,
				"date":    Date,
				"go":      runtime.Version(),
			}
			p := output.NewPrinter(cmd.OutOrStdout(), format)
			if p.Structured() {
				return p.Print(info)
			}
			p.Printf("n8nctl %s (commit %s, built %s, %s)\n", Version, Commit, Date, runtime.Version())
			return nil
		},
	}
}

package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/audit"
	"github.com/talosaether/n8n/pkg/logger"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent attempts from the audit journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, printer, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.AuditFile == "" {
				return errors.New("audit_file is not configured")
			}
			attempts, err := audit.Open(cfg.AuditFile, logger.Discard()).Read(limit)
			if err != nil {
				return err
			}
			if len(attempts) == 0 && !printer.Structured() {
				printer.Printf("no attempts recorded in %s\n", cfg.AuditFile)
				return nil
			}
			return printer.Print(attemptList(attempts))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Attempts to show (0 for all)")
	return cmd
}

// Package commands implements the n8nctl command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/lifecycle"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailed     = 1
	ExitRolledBack = 2
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string
	verbose    bool
}

// exitError carries a process exit code. A nil err means the outcome was
// already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// NewRootCmd builds the command tree writing results to out and
// diagnostics to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "n8nctl",
		Short: "Deploy, verify and roll back a self-hosted n8n instance",
		Long: `n8nctl applies configuration changes to a containerized n8n instance.

Every deploy snapshots the last known-good configuration and data, converges
the container, verifies it with health probes and either commits or rolls
back to the snapshot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default ./n8nctl.yaml or $XDG_CONFIG_HOME/n8nctl/n8nctl.yaml)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "table", "Output format (table|json|yaml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newDeployCmd(flags),
		newRollbackCmd(flags),
		newRestoreCmd(flags),
		newSnapshotsCmd(flags),
		newStatusCmd(flags),
		newHistoryCmd(flags),
		newValidateCmd(flags),
		newVersionCmd(flags),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCmd(os.Stdout, os.Stderr)
	return exitCode(root.ExecuteContext(ctx), root.ErrOrStderr())
}

func exitCode(err error, errOut io.Writer) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	return ExitFailed
}

// outcomeCode maps a finished attempt to an exit code. A rollback or
// restore that ends RolledBack did what it was asked to.
func outcomeCode(a *lifecycle.Attempt) int {
	switch a.Outcome {
	case lifecycle.OutcomeSucceeded, lifecycle.OutcomeDeclined:
		return ExitOK
	case lifecycle.OutcomeRolledBack:
		if a.Operation == lifecycle.OpDeploy {
			return ExitRolledBack
		}
		return ExitOK
	default:
		return ExitFailed
	}
}

package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/talosaether/n8n/internal/probe"
)

// Outcome is the terminal result of an Attempt.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "Succeeded"
	OutcomeRolledBack       Outcome = "RolledBack"
	OutcomeFailedNoRollback Outcome = "FailedNoRollback"
	// OutcomeDeclined is set when an interactive restore was not confirmed.
	OutcomeDeclined Outcome = "Declined"
)

// Operation names what an Attempt was started for.
type Operation string

const (
	OpDeploy   Operation = "deploy"
	OpRollback Operation = "rollback"
	OpRestore  Operation = "restore"
	OpSnapshot Operation = "snapshot"
)

// Attempt records one orchestrator run. It is diagnostic only and is not
// modified after Outcome is set.
type Attempt struct {
	ID        string    `json:"id" yaml:"id"`
	Operation Operation `json:"operation" yaml:"operation"`
	Unit      string    `json:"unit" yaml:"unit"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `json:"ended_at" yaml:"ended_at"`
	Outcome   Outcome   `json:"outcome" yaml:"outcome"`
	// PrecedingSnapshot is the snapshot a rollback would restore.
	PrecedingSnapshot string       `json:"preceding_snapshot,omitempty" yaml:"preceding_snapshot,omitempty"`
	Transitions       []Transition `json:"transitions" yaml:"transitions"`
	// Err is the terminal error; Cause is what triggered the rollback.
	Err                  *Error        `json:"error,omitempty" yaml:"error,omitempty"`
	Cause                *Error        `json:"cause,omitempty" yaml:"cause,omitempty"`
	Verification         *probe.Report `json:"verification,omitempty" yaml:"verification,omitempty"`
	RollbackVerification *probe.Report `json:"rollback_verification,omitempty" yaml:"rollback_verification,omitempty"`
	Declined             bool          `json:"declined,omitempty" yaml:"declined,omitempty"`
	// Warnings are commit problems that did not fail the attempt.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	machine *machine
}

// State is the current state machine position.
func (a *Attempt) State() State {
	if a.machine == nil {
		return Idle
	}
	return a.machine.current
}

// NeedsIntervention reports whether the system could not restore a known
// good state on its own.
func (a *Attempt) NeedsIntervention() bool {
	return a.Outcome == OutcomeFailedNoRollback
}

// Report returns the verification that decided the outcome.
func (a *Attempt) Report() *probe.Report {
	if a.RollbackVerification != nil {
		return a.RollbackVerification
	}
	return a.Verification
}

// Summary is the one-line terminal message.
func (a *Attempt) Summary() string {
	var line string
	switch a.Outcome {
	case OutcomeSucceeded:
		line = fmt.Sprintf("%s %s succeeded (attempt %s)", a.Operation, a.Unit, a.ID)
	case OutcomeRolledBack:
		line = fmt.Sprintf("%s %s rolled back to snapshot %s after %s (attempt %s)",
			a.Operation, a.Unit, a.PrecedingSnapshot, errorText(a.Cause), a.ID)
	case OutcomeDeclined:
		line = fmt.Sprintf("%s %s declined, nothing changed", a.Operation, a.Unit)
	default:
		line = fmt.Sprintf("%s %s failed: %s (attempt %s)", a.Operation, a.Unit, errorText(a.Err), a.ID)
	}
	if len(a.Warnings) > 0 {
		line += " with warnings: " + strings.Join(a.Warnings, "; ")
	}
	return line
}

func (a *Attempt) warn(format string, args ...any) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
}

// ErrorKind returns the terminal error kind, or empty on success.
func (a *Attempt) ErrorKind() ErrorKind {
	if a.Err == nil {
		return ""
	}
	return a.Err.Kind
}

func errorText(err *Error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

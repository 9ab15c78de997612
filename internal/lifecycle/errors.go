package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind classifies a lifecycle failure. Kinds are themselves errors so
// callers can match with errors.Is(err, lifecycle.InvalidConfig).
type ErrorKind string

const (
	InvalidConfig                 ErrorKind = "InvalidConfig"
	RuntimeUnreachable            ErrorKind = "RuntimeUnreachable"
	SnapshotFailed                ErrorKind = "SnapshotFailed"
	MutationFailed                ErrorKind = "MutationFailed"
	VerificationTimeout           ErrorKind = "VerificationTimeout"
	VerificationFailed            ErrorKind = "VerificationFailed"
	RollbackFailed                ErrorKind = "RollbackFailed"
	NoSnapshotAvailable           ErrorKind = "NoSnapshotAvailable"
	ConcurrentOperationInProgress ErrorKind = "ConcurrentOperationInProgress"
	// Internal marks a broken orchestrator invariant, such as an illegal
	// state transition.
	Internal ErrorKind = "Internal"
)

func (k ErrorKind) Error() string { return string(k) }

// Phase names the step an error occurred in.
type Phase string

const (
	PhasePreflight Phase = "preflight"
	PhaseSnapshot  Phase = "snapshot"
	PhaseMutate    Phase = "mutate"
	PhaseVerify    Phase = "verify"
	PhaseCommit    Phase = "commit"
	PhaseRollback  Phase = "rollback"
	PhaseConfirm   Phase = "confirm"
)

// Error is the typed failure carried by an Attempt.
type Error struct {
	Kind   ErrorKind
	Phase  Phase
	Detail string
	Err    error
}

func newError(kind ErrorKind, phase Phase, detail string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s in %s", e.Kind, e.Phase)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches an ErrorKind.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

type errorView struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Phase   Phase     `json:"phase" yaml:"phase"`
	Detail  string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Message string    `json:"message" yaml:"message"`
}

func (e *Error) view() errorView {
	return errorView{Kind: e.Kind, Phase: e.Phase, Detail: e.Detail, Message: e.Error()}
}

func (e *Error) MarshalJSON() ([]byte, error) { return json.Marshal(e.view()) }

func (e *Error) MarshalYAML() (any, error) { return e.view(), nil }

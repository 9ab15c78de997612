package lifecycle

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	m := newMachine(time.Now)
	if err := m.advance(Mutating); err == nil {
		t.Fatalf("expected Idle -> Mutating to be rejected")
	}
	for _, s := range []State{PreflightChecking, Snapshotting, Mutating, Verifying, RollingBack, RolledBack} {
		if err := m.advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if !m.current.Terminal() {
		t.Fatalf("expected terminal state")
	}
	if err := m.advance(RollingBack); err == nil {
		t.Fatalf("expected no transition out of a terminal state")
	}
	if len(m.history) != 7 {
		t.Fatalf("expected 7 recorded states, got %d", len(m.history))
	}
}

func TestErrorMatchesKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(newError(RuntimeUnreachable, PhasePreflight, "ping container runtime", cause))
	if !errors.Is(err, RuntimeUnreachable) || errors.Is(err, InvalidConfig) {
		t.Fatalf("expected kind matching, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause")
	}
	if want := "RuntimeUnreachable in preflight: ping container runtime: connection refused"; err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Phase != PhasePreflight {
		t.Fatalf("expected *Error with phase")
	}
	data, jerr := json.Marshal(lerr)
	if jerr != nil || !strings.Contains(string(data), `"kind":"RuntimeUnreachable"`) {
		t.Fatalf("unexpected json %s (%v)", data, jerr)
	}
}

func TestUnitLockIsExclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	first, err := acquireLock(dir, "n8n")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := acquireLock(dir, "n8n"); !errors.Is(err, errLocked) {
		t.Fatalf("expected errLocked, got %v", err)
	}
	other, err := acquireLock(dir, "other")
	if err != nil {
		t.Fatalf("expected independent lock per unit, got %v", err)
	}
	_ = other.Release()
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := acquireLock(dir, "n8n")
	if err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
	_ = again.Release()
}

func TestAttemptSummary(t *testing.T) {
	a := &Attempt{ID: "a1", Operation: OpDeploy, Unit: "n8n", Outcome: OutcomeFailedNoRollback,
		Err: newError(RollbackFailed, PhaseRollback, "restore snapshot x", nil)}
	if !strings.Contains(a.Summary(), "RollbackFailed") || !a.NeedsIntervention() {
		t.Fatalf("unexpected summary %q", a.Summary())
	}
	a = &Attempt{ID: "a2", Operation: OpDeploy, Unit: "n8n", Outcome: OutcomeRolledBack, PrecedingSnapshot: "s1",
		Cause: newError(VerificationFailed, PhaseVerify, "logs: fatal", nil)}
	if !strings.Contains(a.Summary(), "rolled back to snapshot s1") || a.NeedsIntervention() {
		t.Fatalf("unexpected summary %q", a.Summary())
	}
}

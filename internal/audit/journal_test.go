package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talosaether/n8n/internal/lifecycle"
)

func TestJournalAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "attempts.jsonl")
	j := Open(path, nil)

	for i, outcome := range []lifecycle.Outcome{lifecycle.OutcomeSucceeded, lifecycle.OutcomeRolledBack, lifecycle.OutcomeFailedNoRollback} {
		a := &lifecycle.Attempt{
			ID:        string(rune('a' + i)),
			Operation: lifecycle.OpDeploy,
			Unit:      "n8n",
			Outcome:   outcome,
			EndedAt:   time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		}
		if outcome == lifecycle.OutcomeFailedNoRollback {
			a.Err = &lifecycle.Error{Kind: lifecycle.RollbackFailed, Phase: lifecycle.PhaseRollback, Detail: "restore failed"}
		}
		j.ObserveAttempt(context.Background(), a)
	}

	all, err := j.Read(0)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(all))
	}
	last, err := j.Read(2)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(last) != 2 || last[0].ID != "b" || last[1].ID != "c" {
		t.Fatalf("expected the two newest attempts, got %+v", last)
	}
	if last[1].Err == nil || last[1].Err.Kind != lifecycle.RollbackFailed || last[1].Err.Detail != "restore failed" {
		t.Fatalf("expected error to round trip, got %+v", last[1].Err)
	}
}

func TestJournalSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.jsonl")
	if err := os.WriteFile(path, []byte("not json\n{\"id\":\"ok\",\"outcome\":\"Succeeded\"}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	attempts, err := Open(path, nil).Read(0)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ID != "ok" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func TestReadMissingJournal(t *testing.T) {
	attempts, err := Open(filepath.Join(t.TempDir(), "none.jsonl"), nil).Read(0)
	if err != nil || attempts != nil {
		t.Fatalf("expected empty result, got %v %v", attempts, err)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talosaether/n8n/internal/lifecycle"
	"github.com/talosaether/n8n/internal/probe"
)

func TestObserveAttemptPostsOutcome(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- event
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, " secret ", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	attempt := &lifecycle.Attempt{
		ID:                "0190c5d2-0000-7000-8000-000000000001",
		Operation:         lifecycle.OpDeploy,
		Unit:              "n8n",
		Outcome:           lifecycle.OutcomeRolledBack,
		PrecedingSnapshot: "20260301T120000.000Z",
		EndedAt:           time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		Cause:             &lifecycle.Error{Kind: lifecycle.VerificationTimeout, Phase: lifecycle.PhaseVerify},
		Err:               &lifecycle.Error{Kind: lifecycle.VerificationTimeout, Phase: lifecycle.PhaseVerify},
		Verification: &probe.Report{Results: []probe.Result{
			{Name: "liveness", Detail: "status 503"},
		}},
	}
	hook.ObserveAttempt(context.Background(), attempt)

	select {
	case event := <-received:
		if event.Outcome != "RolledBack" || event.ErrorKind != "VerificationTimeout" || event.NeedsIntervention {
			t.Fatalf("unexpected event %+v", event)
		}
		if len(event.FailedProbes) != 1 || event.FailedProbes[0] != "liveness" {
			t.Fatalf("expected failed liveness probe, got %v", event.FailedProbes)
		}
		if event.Snapshot != "20260301T120000.000Z" {
			t.Fatalf("unexpected snapshot %s", event.Snapshot)
		}
	default:
		t.Fatal("expected webhook to be called")
	}
}

func TestSendUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, "", time.Second, nil)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	err = hook.Send(context.Background(), Event{AttemptID: "a"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook("  ", "", 0, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}

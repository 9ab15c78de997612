// Package notify posts terminal attempt outcomes to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/talosaether/n8n/internal/lifecycle"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the receiver rejected the token.
var ErrUnauthorized = errors.New("notify: webhook unauthorized")

// ErrInvalidArgument indicates the receiver rejected the payload.
var ErrInvalidArgument = errors.New("notify: webhook rejected payload")

// ErrNotFound indicates the webhook URL does not exist.
var ErrNotFound = errors.New("notify: webhook not found")

// Webhook sends attempt outcomes as JSON.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// Event is the webhook payload.
type Event struct {
	AttemptID         string    `json:"attempt_id"`
	Operation         string    `json:"operation"`
	Unit              string    `json:"unit"`
	Outcome           string    `json:"outcome"`
	Summary           string    `json:"summary"`
	ErrorKind         string    `json:"error_kind,omitempty"`
	Snapshot          string    `json:"snapshot,omitempty"`
	NeedsIntervention bool      `json:"needs_intervention"`
	FailedProbes      []string  `json:"failed_probes,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// NewWebhook creates a notifier for url. A nil client gets timeout.
func NewWebhook(url, token string, timeout time.Duration, logger *slog.Logger) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("notify: webhook url required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

// ObserveAttempt sends the outcome. Delivery failures are logged only.
func (w *Webhook) ObserveAttempt(ctx context.Context, a *lifecycle.Attempt) {
	if err := w.Send(ctx, EventFor(a)); err != nil {
		w.logger.Warn("outcome webhook failed", "attempt_id", a.ID, "error", err)
	}
}

// EventFor builds the payload for a finished attempt.
func EventFor(a *lifecycle.Attempt) Event {
	event := Event{
		AttemptID:         a.ID,
		Operation:         string(a.Operation),
		Unit:              a.Unit,
		Outcome:           string(a.Outcome),
		Summary:           a.Summary(),
		ErrorKind:         string(a.ErrorKind()),
		Snapshot:          a.PrecedingSnapshot,
		NeedsIntervention: a.NeedsIntervention(),
		OccurredAt:        a.EndedAt,
	}
	if report := a.Report(); report != nil {
		for _, res := range report.Failed() {
			event.FailedProbes = append(event.FailedProbes, res.Name)
		}
	}
	return event
}

// Send posts event.
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = w.now()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("webhook request failed: %s", summary)
	}
}

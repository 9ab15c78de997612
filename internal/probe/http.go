package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTP checks an endpoint on the unit's base URL.
type HTTP struct {
	ProbeName string
	Path      string
	// ExpectStatus defaults to 200.
	ExpectStatus int
	// StatusField, when set, must equal StatusValue in the JSON body.
	StatusField string
	StatusValue string
	BasicAuth   bool
	Client      *http.Client
}

// Liveness probes n8n's /healthz endpoint.
func Liveness() HTTP {
	return HTTP{ProbeName: "liveness", Path: "/healthz", StatusField: "status", StatusValue: "ok"}
}

// Readiness probes /healthz/readiness, which also checks the database.
func Readiness() HTTP {
	return HTTP{ProbeName: "readiness", Path: "/healthz/readiness", StatusField: "status", StatusValue: "ok"}
}

// UI fetches the editor root with basic auth.
func UI() HTTP {
	return HTTP{ProbeName: "ui", Path: "/", BasicAuth: true}
}

func (p HTTP) Name() string { return p.ProbeName }

func (p HTTP) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.ProbeName, timeout, func(ctx context.Context) (string, error) {
		if target.BaseURL == "" {
			return "", fmt.Errorf("no base url")
		}
		endpoint := strings.TrimRight(target.BaseURL, "/") + p.Path
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		if p.BasicAuth && target.Username != "" {
			req.SetBasicAuth(target.Username, target.Password)
		}
		client := p.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("GET %s: %w", p.Path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		want := p.ExpectStatus
		if want == 0 {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			return "", fmt.Errorf("GET %s: status %d, want %d%s", p.Path, resp.StatusCode, want, snippet(body))
		}
		if p.StatusField == "" {
			return fmt.Sprintf("GET %s: %d", p.Path, resp.StatusCode), nil
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("GET %s: decode body: %w", p.Path, err)
		}
		got := fmt.Sprint(payload[p.StatusField])
		if got != p.StatusValue {
			return "", fmt.Errorf("GET %s: %s=%q, want %q", p.Path, p.StatusField, got, p.StatusValue)
		}
		return fmt.Sprintf("GET %s: %s=%s", p.Path, p.StatusField, got), nil
	})
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return ""
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return ": " + s
}

package docker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/runtime"
)

const apiPrefix = "/v1.45"

type fakeContainer struct {
	ID      string
	ImageID string
	Image   string
	Running bool
	Health  string
	Labels  map[string]string
}

type fakeEngine struct {
	mu         sync.Mutex
	images     map[string]string
	containers map[string]*fakeContainer
	calls      []string
	created    []map[string]any
	logs       []byte
	stats      string
	nextID     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{images: map[string]string{}, containers: map[string]*fakeContainer{}}
}

func (e *fakeEngine) called(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	e.calls = append(e.calls, r.Method+" "+path)

	notFound := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"not found"}`)
	}
	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case path == "/_ping":
		w.Header().Set("API-Version", "1.45")
		_, _ = io.WriteString(w, "OK")
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/images/") && strings.HasSuffix(path, "/json"):
		ref := strings.TrimSuffix(strings.TrimPrefix(path, "/images/"), "/json")
		id, ok := e.images[ref]
		if !ok {
			notFound()
			return
		}
		writeJSON(http.StatusOK, map[string]any{"Id": id})
	case r.Method == http.MethodPost && path == "/images/create":
		from := strings.TrimPrefix(r.URL.Query().Get("fromImage"), "docker.io/")
		ref := from + ":" + r.URL.Query().Get("tag")
		e.images[ref] = "sha256:pulled-" + ref
		_, _ = io.WriteString(w, `{"status":"Pulling from library"}`+"\n"+`{"status":"Download complete"}`+"\n")
	case r.Method == http.MethodPost && path == "/containers/create":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		e.created = append(e.created, body)
		e.nextID++
		name := r.URL.Query().Get("name")
		labels := map[string]string{}
		if raw, ok := body["Labels"].(map[string]any); ok {
			for k, v := range raw {
				labels[k] = fmt.Sprint(v)
			}
		}
		image, _ := body["Image"].(string)
		e.containers[name] = &fakeContainer{ID: fmt.Sprintf("c%d", e.nextID), Image: image, ImageID: e.images[image], Labels: labels}
		writeJSON(http.StatusCreated, map[string]any{"Id": fmt.Sprintf("c%d", e.nextID), "Warnings": []string{}})
	case strings.HasPrefix(path, "/containers/"):
		rest := strings.TrimPrefix(path, "/containers/")
		parts := strings.SplitN(rest, "/", 2)
		c := e.lookup(parts[0])
		if c == nil {
			notFound()
			return
		}
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}
		switch {
		case r.Method == http.MethodDelete && action == "":
			for name, cc := range e.containers {
				if cc == c {
					delete(e.containers, name)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		case action == "json":
			state := map[string]any{"Running": c.Running, "StartedAt": "2026-10-17T10:00:00Z"}
			if c.Health != "" {
				state["Health"] = map[string]any{"Status": c.Health}
			}
			writeJSON(http.StatusOK, map[string]any{
				"Id":     c.ID,
				"Image":  c.ImageID,
				"State":  state,
				"Config": map[string]any{"Image": c.Image, "Labels": c.Labels},
			})
		case action == "start":
			c.Running = true
			w.WriteHeader(http.StatusNoContent)
		case action == "stop":
			c.Running = false
			w.WriteHeader(http.StatusNoContent)
		case action == "logs":
			_, _ = w.Write(e.logs)
		case action == "stats":
			_, _ = io.WriteString(w, e.stats)
		default:
			notFound()
		}
	default:
		notFound()
	}
}

func (e *fakeEngine) lookup(ref string) *fakeContainer {
	if c, ok := e.containers[ref]; ok {
		return c
	}
	for _, c := range e.containers {
		if c.ID == ref {
			return c
		}
	}
	return nil
}

func newTestClient(t *testing.T, engine *fakeEngine) *Client {
	t.Helper()
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	c, err := newWithOpts(5*time.Second,
		client.WithHost("tcp://"+srv.Listener.Addr().String()),
		client.WithVersion("1.45"),
	)
	if err != nil {
		t.Fatalf("newWithOpts error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testSpec(t *testing.T) appenv.UnitSpec {
	return appenv.UnitSpec{
		Name:          "n8n",
		Image:         "n8nio/n8n:1.64.0",
		PullPolicy:    appenv.PullMissing,
		ContainerPort: 5678,
		HostPort:      5678,
		DataDir:       t.TempDir(),
		MountPath:     appenv.DefaultMountPath,
		Restart:       "unless-stopped",
		Environment:   []string{"N8N_HOST=localhost", "N8N_PORT=5678"},
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, newFakeEngine())
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestConvergeCreatesMissingContainer(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClient(t, engine)
	spec := testSpec(t)

	if err := c.Converge(context.Background(), spec); err != nil {
		t.Fatalf("Converge error: %v", err)
	}
	if engine.called("POST /images/create") != 1 {
		t.Fatalf("expected one pull for missing image, calls: %v", engine.calls)
	}
	if engine.called("POST /containers/create") != 1 || engine.called("POST /containers/c1/start") != 1 {
		t.Fatalf("expected create and start, calls: %v", engine.calls)
	}
	created := engine.created[0]
	labels, _ := created["Labels"].(map[string]any)
	if labels[LabelSpecHash] != SpecHash(spec) || labels[LabelManagedBy] != "n8nctl" {
		t.Fatalf("expected managed labels, got %v", labels)
	}
	hostCfg, _ := created["HostConfig"].(map[string]any)
	binds, _ := hostCfg["Binds"].([]any)
	if len(binds) != 1 || binds[0] != spec.DataDir+":"+appenv.DefaultMountPath {
		t.Fatalf("expected data dir bind, got %v", hostCfg["Binds"])
	}
	running, err := c.IsRunning(context.Background(), "n8n")
	if err != nil || !running {
		t.Fatalf("expected running container, got %v %v", running, err)
	}
}

func TestConvergeIsNoopWhenConverged(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClient(t, engine)
	spec := testSpec(t)
	engine.images[spec.Image] = "sha256:current"
	engine.containers["n8n"] = &fakeContainer{
		ID: "c0", Image: spec.Image, ImageID: "sha256:current", Running: true,
		Labels: map[string]string{LabelSpecHash: SpecHash(spec)},
	}

	if err := c.Converge(context.Background(), spec); err != nil {
		t.Fatalf("Converge error: %v", err)
	}
	for _, prefix := range []string{"POST /images/create", "POST /containers/create", "POST /containers/n8n/stop", "DELETE"} {
		if engine.called(prefix) != 0 {
			t.Fatalf("expected no %s on converged unit, calls: %v", prefix, engine.calls)
		}
	}
}

func TestConvergeReplacesChangedSpec(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClient(t, engine)
	spec := testSpec(t)
	engine.images[spec.Image] = "sha256:current"
	engine.containers["n8n"] = &fakeContainer{
		ID: "c0", Image: spec.Image, ImageID: "sha256:current", Running: true,
		Labels: map[string]string{LabelSpecHash: "stale"},
	}

	if err := c.Converge(context.Background(), spec); err != nil {
		t.Fatalf("Converge error: %v", err)
	}
	if engine.called("POST /containers/n8n/stop") != 1 || engine.called("DELETE /containers/n8n") != 1 {
		t.Fatalf("expected stop and remove of stale container, calls: %v", engine.calls)
	}
	if engine.called("POST /containers/create") != 1 {
		t.Fatalf("expected recreate, calls: %v", engine.calls)
	}
}

func TestConvergePullNeverMissingImage(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClient(t, engine)
	spec := testSpec(t)
	spec.PullPolicy = appenv.PullNever

	err := c.Converge(context.Background(), spec)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if engine.called("POST /containers/create") != 0 {
		t.Fatalf("expected no create, calls: %v", engine.calls)
	}
}

func TestHealthStateMapping(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClient(t, engine)
	ctx := context.Background()

	state, err := c.HealthState(ctx, "n8n")
	if err != nil || state != runtime.Unhealthy {
		t.Fatalf("expected unhealthy for missing container, got %v %v", state, err)
	}

	engine.containers["n8n"] = &fakeContainer{ID: "c0", Running: true}
	if state, _ := c.HealthState(ctx, "n8n"); state != runtime.Unknown {
		t.Fatalf("expected unknown without health check, got %v", state)
	}
	engine.containers["n8n"].Health = "healthy"
	if state, _ := c.HealthState(ctx, "n8n"); state != runtime.Healthy {
		t.Fatalf("expected healthy, got %v", state)
	}
	engine.containers["n8n"].Health = "starting"
	if state, _ := c.HealthState(ctx, "n8n"); state != runtime.Unknown {
		t.Fatalf("expected unknown while starting, got %v", state)
	}
}

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestRecentLogsDemuxesStreams(t *testing.T) {
	engine := newFakeEngine()
	engine.containers["n8n"] = &fakeContainer{ID: "c0", Running: true}
	engine.logs = append(frame(1, "Editor is now accessible\n"), frame(2, "Error: connection refused\n")...)
	c := newTestClient(t, engine)

	lines, err := c.RecentLogs(context.Background(), "n8n", 50)
	if err != nil {
		t.Fatalf("RecentLogs error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "Editor is now accessible" || lines[1] != "Error: connection refused" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestResourceUsage(t *testing.T) {
	engine := newFakeEngine()
	engine.containers["n8n"] = &fakeContainer{ID: "c0", Running: true}
	engine.stats = `{
		"cpu_stats": {"cpu_usage": {"total_usage": 400}, "system_cpu_usage": 2000, "online_cpus": 2},
		"precpu_stats": {"cpu_usage": {"total_usage": 200}, "system_cpu_usage": 1000},
		"memory_stats": {"usage": 600, "limit": 1000, "stats": {"inactive_file": 100}}
	}`
	c := newTestClient(t, engine)

	usage, err := c.ResourceUsage(context.Background(), "n8n")
	if err != nil {
		t.Fatalf("ResourceUsage error: %v", err)
	}
	if usage.CPUPercent != 40 {
		t.Fatalf("expected 40%% cpu, got %v", usage.CPUPercent)
	}
	if usage.MemoryBytes != 500 || usage.MemoryPercent != 50 {
		t.Fatalf("expected 500 bytes / 50%%, got %d / %v", usage.MemoryBytes, usage.MemoryPercent)
	}
}

func TestUsageFromStatsWithoutPreviousSample(t *testing.T) {
	var stats types.StatsJSON
	stats.MemoryStats.Usage = 10
	usage := usageFromStats(stats)
	if usage.CPUPercent != 0 || usage.MemoryPercent != 0 {
		t.Fatalf("expected zero percentages, got %+v", usage)
	}
}

package probe

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/runtime"
)

// Options choose the informational probes.
type Options struct {
	Readiness        bool
	UI               bool
	ContainerHealth  bool
	Logs             bool
	LogLines         int
	Resources        bool
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	Database         bool
	Queue            bool
	Push             bool
	Client           *http.Client
}

// NewSet assembles the probe set for an application. Backing-service
// probes are included only when the settings select that backend.
func NewSet(driver runtime.Driver, values map[string]string, opts Options) Set {
	live := Liveness()
	live.Client = opts.Client
	set := Set{Liveness: live}
	if opts.Readiness {
		p := Readiness()
		p.Client = opts.Client
		set.Others = append(set.Others, p)
	}
	if opts.UI {
		p := UI()
		p.Client = opts.Client
		set.Others = append(set.Others, p)
	}
	if opts.ContainerHealth {
		set.Others = append(set.Others, ContainerHealth{Driver: driver})
	}
	if opts.Logs {
		set.Others = append(set.Others, Logs{Driver: driver, Lines: opts.LogLines})
	}
	if opts.Resources {
		set.Others = append(set.Others, Resources{
			Driver:           driver,
			MaxCPUPercent:    opts.MaxCPUPercent,
			MaxMemoryPercent: opts.MaxMemoryPercent,
		})
	}
	if opts.Database && UsesPostgres(values) {
		set.Others = append(set.Others, Postgres{})
	}
	if opts.Queue && UsesQueue(values) {
		set.Others = append(set.Others, Redis{})
	}
	if opts.Push {
		set.Others = append(set.Others, Push{})
	}
	return set
}

// TargetFor derives the probe target from the application config. An
// empty baseURL probes the published port on the local host.
func TargetFor(cfg appenv.Config, baseURL string) Target {
	user, pass := cfg.Credentials()
	if baseURL == "" {
		host := cfg.Unit.HostIP
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(cfg.Unit.HostPort)))
	}
	return Target{
		Unit:     cfg.Unit.Name,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: user,
		Password: pass,
		Values:   cfg.Values,
	}
}

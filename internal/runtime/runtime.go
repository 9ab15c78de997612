// Package runtime defines the capability set the lifecycle orchestrator and
// probes consume from a container runtime.
package runtime

import (
	"context"
	"time"

	"github.com/talosaether/n8n/internal/appenv"
)

// HealthState is the runtime's view of a unit's health.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Unhealthy HealthState = "unhealthy"
	Unknown   HealthState = "unknown"
)

// Usage provides a point-in-time sample of resource signals.
type Usage struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryBytes   uint64
	MemoryLimit   uint64
}

// UnitStatus summarises a unit for operators.
type UnitStatus struct {
	Unit      string
	Exists    bool
	Running   bool
	Image     string
	StartedAt time.Time
	Health    HealthState
	SpecHash  string
}

// Driver provisions and monitors the managed unit.
type Driver interface {
	Ping(ctx context.Context) error
	IsRunning(ctx context.Context, unit string) (bool, error)
	// Converge makes the running unit match spec. It is a no-op when the
	// unit already runs the same image with the same spec.
	Converge(ctx context.Context, spec appenv.UnitSpec) error
	Stop(ctx context.Context, unit string, grace time.Duration) error
	HealthState(ctx context.Context, unit string) (HealthState, error)
	RecentLogs(ctx context.Context, unit string, lines int) ([]string, error)
	ResourceUsage(ctx context.Context, unit string) (Usage, error)
	Status(ctx context.Context, unit string) (UnitStatus, error)
}

package probe

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/talosaether/n8n/internal/runtime"
)

// ContainerHealth reports the runtime's own health check state. A unit
// without a health check passes.
type ContainerHealth struct {
	Driver runtime.Driver
}

func (ContainerHealth) Name() string { return "container-health" }

func (p ContainerHealth) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		state, err := p.Driver.HealthState(ctx, target.Unit)
		if err != nil {
			return "", fmt.Errorf("inspect health: %w", err)
		}
		switch state {
		case runtime.Healthy:
			return "healthy", nil
		case runtime.Unhealthy:
			return "", fmt.Errorf("runtime reports unhealthy")
		default:
			return "no health status reported", nil
		}
	})
}

// DefaultFatalPatterns match log lines that mean the application did not
// start cleanly.
var DefaultFatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfatal\b`),
	regexp.MustCompile(`(?i)\bpanic\b`),
	regexp.MustCompile(`(?i)there was an error initializing`),
	regexp.MustCompile(`(?i)error: .*(migration|database)`),
	regexp.MustCompile(`ECONNREFUSED`),
	regexp.MustCompile(`(?i)last session crashed`),
}

// Logs scans the unit's recent log lines for fatal patterns.
type Logs struct {
	Driver   runtime.Driver
	Lines    int
	Patterns []*regexp.Regexp
}

func (Logs) Name() string { return "logs" }

func (p Logs) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		lines := p.Lines
		if lines <= 0 {
			lines = 100
		}
		patterns := p.Patterns
		if patterns == nil {
			patterns = DefaultFatalPatterns
		}
		logs, err := p.Driver.RecentLogs(ctx, target.Unit, lines)
		if err != nil {
			return "", fmt.Errorf("read logs: %w", err)
		}
		for _, line := range logs {
			for _, re := range patterns {
				if re.MatchString(line) {
					return "", fmt.Errorf("log line matches %q: %s", re.String(), line)
				}
			}
		}
		return fmt.Sprintf("%d lines clean", len(logs)), nil
	})
}

// Resources fails when CPU or memory usage exceed the thresholds.
type Resources struct {
	Driver           runtime.Driver
	MaxCPUPercent    float64
	MaxMemoryPercent float64
}

func (Resources) Name() string { return "resources" }

func (p Resources) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		usage, err := p.Driver.ResourceUsage(ctx, target.Unit)
		if err != nil {
			return "", fmt.Errorf("read usage: %w", err)
		}
		detail := fmt.Sprintf("cpu %.1f%%, memory %.1f%%", usage.CPUPercent, usage.MemoryPercent)
		if p.MaxCPUPercent > 0 && usage.CPUPercent > p.MaxCPUPercent {
			return "", fmt.Errorf("%s exceeds cpu limit %.1f%%", detail, p.MaxCPUPercent)
		}
		if p.MaxMemoryPercent > 0 && usage.MemoryPercent > p.MaxMemoryPercent {
			return "", fmt.Errorf("%s exceeds memory limit %.1f%%", detail, p.MaxMemoryPercent)
		}
		return detail, nil
	})
}

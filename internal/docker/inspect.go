package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/talosaether/n8n/internal/runtime"
)

// IsRunning reports whether the named container exists and runs.
func (c *Client) IsRunning(ctx context.Context, unit string) (bool, error) {
	inspect, err := c.inspect(ctx, unit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Stop stops the container, giving it grace to exit before it is killed.
// A missing container is already stopped.
func (c *Client) Stop(ctx context.Context, unit string, grace time.Duration) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(unit) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	seconds := int(grace.Round(time.Second) / time.Second)
	if err := c.inner.ContainerStop(ctx, unit, container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// HealthState maps the container health check to a runtime.HealthState.
// A running container without a health check is Unknown; a stopped or
// missing one is Unhealthy.
func (c *Client) HealthState(ctx context.Context, unit string) (runtime.HealthState, error) {
	inspect, err := c.inspect(ctx, unit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return runtime.Unhealthy, nil
		}
		return runtime.Unknown, err
	}
	return healthOf(inspect), nil
}

func healthOf(inspect types.ContainerJSON) runtime.HealthState {
	if inspect.State == nil || !inspect.State.Running {
		return runtime.Unhealthy
	}
	if inspect.State.Health == nil {
		return runtime.Unknown
	}
	switch inspect.State.Health.Status {
	case "healthy":
		return runtime.Healthy
	case "unhealthy":
		return runtime.Unhealthy
	default:
		return runtime.Unknown
	}
}

// Status summarises the container for the status command.
func (c *Client) Status(ctx context.Context, unit string) (runtime.UnitStatus, error) {
	inspect, err := c.inspect(ctx, unit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return runtime.UnitStatus{Unit: unit, Health: runtime.Unhealthy}, nil
		}
		return runtime.UnitStatus{}, err
	}
	status := runtime.UnitStatus{
		Unit:   unit,
		Exists: true,
		Health: healthOf(inspect),
	}
	if inspect.Config != nil {
		status.Image = inspect.Config.Image
		status.SpecHash = inspect.Config.Labels[LabelSpecHash]
	}
	if inspect.State != nil {
		status.Running = inspect.State.Running
		if started, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			status.StartedAt = started
		}
	}
	return status, nil
}

// RecentLogs returns the last lines of combined stdout and stderr.
func (c *Client) RecentLogs(ctx context.Context, unit string, lines int) ([]string, error) {
	if c == nil || c.inner == nil {
		return nil, ErrNotInitialized
	}
	if lines <= 0 {
		lines = 100
	}
	rc, err := c.inner.ContainerLogs(ctx, unit, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, fmt.Errorf("demux container logs: %w", err)
	}
	var out []string
	scanner := bufio.NewScanner(&buf)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out, scanner.Err()
}

// ResourceUsage samples CPU and memory once, computed the way the docker
// CLI does for `docker stats`.
func (c *Client) ResourceUsage(ctx context.Context, unit string) (runtime.Usage, error) {
	if c == nil || c.inner == nil {
		return runtime.Usage{}, ErrNotInitialized
	}
	resp, err := c.inner.ContainerStats(ctx, unit, false)
	if err != nil {
		if client.IsErrNotFound(err) {
			return runtime.Usage{}, ErrNotFound
		}
		return runtime.Usage{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return runtime.Usage{}, fmt.Errorf("decode container stats: %w", err)
	}
	return usageFromStats(stats), nil
}

func usageFromStats(stats types.StatsJSON) runtime.Usage {
	var usage runtime.Usage
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 && cpus > 0 {
		usage.CPUPercent = cpuDelta * cpus * 100 / systemDelta
	}

	used := stats.MemoryStats.Usage
	if inactive, ok := stats.MemoryStats.Stats["inactive_file"]; ok && inactive < used {
		used -= inactive
	} else if cache, ok := stats.MemoryStats.Stats["cache"]; ok && cache < used {
		used -= cache
	}
	usage.MemoryBytes = used
	usage.MemoryLimit = stats.MemoryStats.Limit
	if usage.MemoryLimit > 0 {
		usage.MemoryPercent = float64(used) * 100 / float64(usage.MemoryLimit)
	}
	return usage
}

func (c *Client) inspect(ctx context.Context, unit string) (types.ContainerJSON, error) {
	if c == nil || c.inner == nil {
		return types.ContainerJSON{}, ErrNotInitialized
	}
	inspect, err := c.inner.ContainerInspect(ctx, unit)
	if err != nil {
		if client.IsErrNotFound(err) {
			return types.ContainerJSON{}, ErrNotFound
		}
		return types.ContainerJSON{}, fmt.Errorf("container inspect: %w", err)
	}
	return inspect, nil
}

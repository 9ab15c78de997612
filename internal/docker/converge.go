package docker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/zeebo/blake3"

	"github.com/talosaether/n8n/internal/appenv"
)

// Converge pulls the image according to the pull policy and replaces the
// container when its image or spec hash differ from the declared spec.
func (c *Client) Converge(ctx context.Context, spec appenv.UnitSpec) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	imageID, err := c.ensureImage(ctx, spec.Image, spec.PullPolicy)
	if err != nil {
		return err
	}
	hash := SpecHash(spec)

	current, err := c.inner.ContainerInspect(ctx, spec.Name)
	switch {
	case err == nil:
		running := current.State != nil && current.State.Running
		sameSpec := current.Config != nil && current.Config.Labels[LabelSpecHash] == hash
		if running && sameSpec && current.Image == imageID {
			return nil
		}
		if err := c.Stop(ctx, spec.Name, c.stopGrace); err != nil {
			return err
		}
		if err := c.RemoveContainer(ctx, spec.Name); err != nil {
			return err
		}
	case client.IsErrNotFound(err):
	default:
		return fmt.Errorf("container inspect: %w", err)
	}

	if spec.DataDir != "" {
		if err := os.MkdirAll(spec.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	_, err = c.runContainer(ctx, spec, hash)
	return err
}

// SpecHash identifies a unit spec; equal specs converge to the same
// container.
func SpecHash(spec appenv.UnitSpec) string {
	payload, _ := json.Marshal(spec)
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

func (c *Client) ensureImage(ctx context.Context, ref, policy string) (string, error) {
	inspect, _, err := c.inner.ImageInspectWithRaw(ctx, ref)
	present := err == nil
	if err != nil && !client.IsErrNotFound(err) {
		return "", fmt.Errorf("image inspect: %w", err)
	}
	switch policy {
	case appenv.PullNever:
		if !present {
			return "", fmt.Errorf("image %s not present and pull policy is never: %w", ref, ErrNotFound)
		}
		return inspect.ID, nil
	case appenv.PullMissing, "":
		if present {
			return inspect.ID, nil
		}
	}
	if err := c.pull(ctx, ref); err != nil {
		return "", err
	}
	inspect, _, err = c.inner.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("image inspect after pull: %w", err)
	}
	return inspect.ID, nil
}

func (c *Client) pull(ctx context.Context, ref string) error {
	pullCtx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()
	rc, err := c.inner.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker image pull: %w", err)
	}
	defer rc.Close()
	decoder := json.NewDecoder(rc)
	for {
		var msg pullMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image pull: %s", errMsg)
		}
	}
}

type pullMessage struct {
	Status      string          `json:"status"`
	ID          string          `json:"id"`
	Error       string          `json:"error"`
	ErrorDetail pullErrorDetail `json:"errorDetail"`
}

type pullErrorDetail struct {
	Message string `json:"message"`
}

func (m pullMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	if strings.TrimSpace(m.ErrorDetail.Message) != "" {
		return strings.TrimSpace(m.ErrorDetail.Message)
	}
	return ""
}

func (c *Client) runContainer(ctx context.Context, spec appenv.UnitSpec, hash string) (string, error) {
	port := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))
	ports := nat.PortMap{}
	if spec.HostPort > 0 {
		ports[port] = []nat.PortBinding{{HostIP: spec.HostIP, HostPort: strconv.Itoa(spec.HostPort)}}
	}

	labels := map[string]string{}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[LabelManagedBy] = "n8nctl"
	labels[LabelSpecHash] = hash

	config := &container.Config{
		Image:        spec.Image,
		Env:          spec.Environment,
		Labels:       labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	if hc := spec.HealthCheck; hc != nil {
		health, err := healthConfig(*hc)
		if err != nil {
			return "", err
		}
		config.Healthcheck = health
	}

	hostCfg := &container.HostConfig{
		PortBindings: ports,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.Restart),
		},
	}
	if spec.DataDir != "" {
		hostCfg.Binds = []string{spec.DataDir + ":" + spec.MountPath}
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	return r.ID, nil
}

func healthConfig(hc appenv.HealthCheck) (*container.HealthConfig, error) {
	parse := func(field, raw string) (time.Duration, error) {
		if raw == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("healthcheck %s: %w", field, err)
		}
		return d, nil
	}
	interval, err := parse("interval", hc.Interval)
	if err != nil {
		return nil, err
	}
	timeout, err := parse("timeout", hc.Timeout)
	if err != nil {
		return nil, err
	}
	start, err := parse("start_period", hc.StartPeriod)
	if err != nil {
		return nil, err
	}
	return &container.HealthConfig{
		Test:        hc.Test,
		Interval:    interval,
		Timeout:     timeout,
		StartPeriod: start,
		Retries:     hc.Retries,
	}, nil
}

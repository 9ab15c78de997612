package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Labels written on every managed container.
const (
	LabelManagedBy = "io.n8nctl.managed-by"
	LabelSpecHash  = "io.n8nctl.spec-hash"
)

// Client wraps the Docker SDK client and implements runtime.Driver.
type Client struct {
	inner       *client.Client
	stopGrace   time.Duration
	pullTimeout time.Duration
}

// New creates a new Docker client using environment defaults.
func New(host string, stopGrace time.Duration) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return newWithOpts(stopGrace, opts...)
}

func newWithOpts(stopGrace time.Duration, opts ...client.Opt) (*Client, error) {
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if stopGrace <= 0 {
		stopGrace = 30 * time.Second
	}
	return &Client{inner: inner, stopGrace: stopGrace, pullTimeout: 10 * time.Minute}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	var ping types.Ping
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

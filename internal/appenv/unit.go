package appenv

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Pull policies for the unit image.
const (
	PullAlways  = "always"
	PullMissing = "missing"
	PullNever   = "never"
)

// DefaultMountPath is where n8n keeps its data inside the container.
const DefaultMountPath = "/home/node/.n8n"

// UnitSpec declares the container the Runtime Driver converges to.
type UnitSpec struct {
	Name          string            `yaml:"name" json:"name" validate:"required,hostname_rfc1123"`
	Image         string            `yaml:"image" json:"image" validate:"required"`
	PullPolicy    string            `yaml:"pull_policy" json:"pull_policy" validate:"oneof=always missing never"`
	ContainerPort int               `yaml:"container_port" json:"container_port" validate:"gte=1,lte=65535"`
	HostPort      int               `yaml:"-" json:"host_port"`
	HostIP        string            `yaml:"host_ip" json:"host_ip" validate:"omitempty,ip"`
	DataDir       string            `yaml:"data_dir" json:"data_dir" validate:"required"`
	MountPath     string            `yaml:"mount_path" json:"mount_path" validate:"required,startswith=/"`
	Restart       string            `yaml:"restart" json:"restart" validate:"omitempty,oneof=no always unless-stopped on-failure"`
	Env           map[string]string `yaml:"env" json:"env"`
	Labels        map[string]string `yaml:"labels" json:"labels"`
	HealthCheck   *HealthCheck      `yaml:"healthcheck" json:"healthcheck,omitempty"`
	// Environment is filled at resolve time from the env file and Env.
	Environment []string `yaml:"-" json:"environment"`
}

// HealthCheck mirrors the container engine's health check settings.
type HealthCheck struct {
	Test        []string `yaml:"test" json:"test" validate:"required,min=1"`
	Interval    string   `yaml:"interval" json:"interval"`
	Timeout     string   `yaml:"timeout" json:"timeout"`
	StartPeriod string   `yaml:"start_period" json:"start_period"`
	Retries     int      `yaml:"retries" json:"retries" validate:"gte=0"`
}

func (u *UnitSpec) applyDefaults() {
	if u.PullPolicy == "" {
		u.PullPolicy = PullMissing
	}
	if u.ContainerPort == 0 {
		u.ContainerPort = 5678
	}
	if u.MountPath == "" {
		u.MountPath = DefaultMountPath
	}
	if u.Restart == "" {
		u.Restart = "unless-stopped"
	}
}

func (u UnitSpec) validate() []string {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(u)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("unit spec: %v", err)}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("unit spec %s: failed %q", fe.Field(), fe.Tag()))
	}
	return problems
}

package config

import "time"

// DeployerConfig holds runtime configuration for n8nctl itself. Settings of
// the managed application live in its env file, not here.
type DeployerConfig struct {
	Environment string          `mapstructure:"environment"`
	Unit        string          `mapstructure:"unit" validate:"required,hostname_rfc1123"`
	DockerHost  string          `mapstructure:"docker_host"`
	EnvFile     string          `mapstructure:"env_file" validate:"required"`
	SpecFile    string          `mapstructure:"spec_file" validate:"required"`
	LockDir     string          `mapstructure:"lock_dir" validate:"required"`
	StateDir    string          `mapstructure:"state_dir" validate:"required"`
	AuditFile   string          `mapstructure:"audit_file"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Snapshots   SnapshotConfig  `mapstructure:"snapshots"`
	Deploy      DeployConfig    `mapstructure:"deploy"`
	Verify      VerifyConfig    `mapstructure:"verify"`
	Probes      ProbeConfig     `mapstructure:"probes"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output"`
}

// SnapshotConfig controls where snapshots live and how long they are kept.
type SnapshotConfig struct {
	Dir             string        `mapstructure:"dir" validate:"required"`
	RetentionCount  int           `mapstructure:"retention_count" validate:"gte=1"`
	RetentionMaxAge time.Duration `mapstructure:"retention_max_age" validate:"gte=0"`
	// Recipients are age public keys (age1...). Data archives are encrypted
	// when at least one is configured.
	Recipients   []string `mapstructure:"recipients" validate:"dive,startswith=age1"`
	IdentityFile string   `mapstructure:"identity_file"`
}

// DeployConfig bounds the mutating phases.
type DeployConfig struct {
	MutateTimeout   time.Duration `mapstructure:"mutate_timeout" validate:"gt=0"`
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period" validate:"gt=0"`
	RollbackTimeout time.Duration `mapstructure:"rollback_timeout" validate:"gt=0"`
}

// VerifyConfig bounds the post-mutation verification loop.
type VerifyConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxInterval       time.Duration `mapstructure:"max_interval" validate:"gte=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

// ProbeConfig selects the informational probes run after liveness passes.
type ProbeConfig struct {
	BaseURL          string  `mapstructure:"base_url" validate:"omitempty,url"`
	Readiness        bool    `mapstructure:"readiness"`
	UI               bool    `mapstructure:"ui"`
	ContainerHealth  bool    `mapstructure:"container_health"`
	Logs             bool    `mapstructure:"logs"`
	LogLines         int     `mapstructure:"log_lines" validate:"gte=1"`
	Resources        bool    `mapstructure:"resources"`
	MaxCPUPercent    float64 `mapstructure:"max_cpu_percent" validate:"gt=0"`
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent" validate:"gt=0,lte=100"`
	Database         bool    `mapstructure:"database"`
	Queue            bool    `mapstructure:"queue"`
	Push             bool    `mapstructure:"push"`
}

// MetricsConfig controls the node_exporter textfile export.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// NotifyConfig controls the outcome webhook.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// TelemetryConfig controls OpenTelemetry tracing of lifecycle phases.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter" validate:"oneof=stdout otlp"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	Output     string  `mapstructure:"output"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// N8NCTL_VERIFY_TIMEOUT=3m.
const EnvPrefix = "N8NCTL"

var defaults = map[string]any{
	"environment":                 "production",
	"unit":                        "n8n",
	"docker_host":                 "",
	"env_file":                    ".env",
	"spec_file":                   "unit.yaml",
	"lock_dir":                    "/tmp",
	"state_dir":                   "state",
	"audit_file":                  "",
	"logging.level":               "INFO",
	"logging.format":              "text",
	"logging.output":              "stderr",
	"snapshots.dir":               "backups",
	"snapshots.retention_count":   7,
	"snapshots.retention_max_age": 30 * 24 * time.Hour,
	"snapshots.recipients":        []string{},
	"snapshots.identity_file":     "",
	"deploy.mutate_timeout":       5 * time.Minute,
	"deploy.stop_grace_period":    30 * time.Second,
	"deploy.rollback_timeout":     5 * time.Minute,
	"verify.timeout":              2 * time.Minute,
	"verify.interval":             5 * time.Second,
	"verify.max_interval":         time.Duration(0),
	"verify.backoff_multiplier":   1.0,
	"verify.probe_timeout":        10 * time.Second,
	"probes.base_url":             "",
	"probes.readiness":            true,
	"probes.ui":                   true,
	"probes.container_health":     true,
	"probes.logs":                 true,
	"probes.log_lines":            100,
	"probes.resources":            true,
	"probes.max_cpu_percent":      90.0,
	"probes.max_memory_percent":   90.0,
	"probes.database":             true,
	"probes.queue":                true,
	"probes.push":                 false,
	"metrics.textfile_path":       "",
	"notify.webhook_url":          "",
	"notify.token":                "",
	"notify.timeout":              10 * time.Second,
	"telemetry.enabled":           false,
	"telemetry.exporter":          "stdout",
	"telemetry.endpoint":          "",
	"telemetry.insecure":          false,
	"telemetry.output":            "",
	"telemetry.sample_rate":       1.0,
}

// Load builds a DeployerConfig from defaults, an optional YAML file and
// N8NCTL_* environment variables, in increasing order of precedence. An
// empty configPath searches ./n8nctl.yaml and $XDG_CONFIG_HOME/n8nctl.
func Load(configPath string) (DeployerConfig, error) {
	v := viper.New()
	setupViper(v, configPath)
	if err := readConfigFile(v, configPath); err != nil {
		return DeployerConfig{}, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (DeployerConfig, error) {
	var cfg DeployerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return DeployerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return DeployerConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports every violation.
func Validate(cfg DeployerConfig) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("n8nctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(configDir())
}

// readConfigFile tolerates a missing file only when none was named.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "n8nctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "n8nctl")
}

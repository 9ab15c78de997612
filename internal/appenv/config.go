// Package appenv resolves the declarative settings of the managed
// application: its env file and the unit spec describing the container.
package appenv

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Keys the orchestrator cannot work without.
const (
	KeyHost     = "N8N_HOST"
	KeyPort     = "N8N_PORT"
	KeyProtocol = "N8N_PROTOCOL"
	KeyUser     = "N8N_BASIC_AUTH_USER"
	KeyPassword = "N8N_BASIC_AUTH_PASSWORD"
)

// RequiredKeys lists the env keys every Config must declare.
var RequiredKeys = []string{KeyHost, KeyPort, KeyUser, KeyPassword}

// insecureValues are documented placeholder values shipped with example
// env files. Any key holding one of them is rejected.
var insecureValues = []string{
	"changeme123",
	"changeme",
	"change_me",
	"change-me",
	"your-secure-password",
	"your_secure_password",
	"your_password_here",
	"your-encryption-key",
	"your_encryption_key",
	"secret",
	"password",
}

// insecureSecretValues are additionally rejected for credential keys.
var insecureSecretValues = []string{"admin", "n8n", "123456", "12345678", "root"}

// Config is the resolved, flat view of the application settings plus the
// declared container spec.
type Config struct {
	Values map[string]string
	Unit   UnitSpec
}

// ConfigError lists every problem found while resolving or validating.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Get returns the trimmed value for key.
func (c Config) Get(key string) string {
	return strings.TrimSpace(c.Values[key])
}

// Host is the public host name of the application.
func (c Config) Host() string { return c.Get(KeyHost) }

// Port is the host port the application listens on, 0 when unparsable.
func (c Config) Port() int {
	p, err := strconv.Atoi(c.Get(KeyPort))
	if err != nil {
		return 0
	}
	return p
}

// Protocol defaults to http.
func (c Config) Protocol() string {
	if p := strings.ToLower(c.Get(KeyProtocol)); p != "" {
		return p
	}
	return "http"
}

// PublicURL is where operators reach the editor, built from host, protocol
// and port. It is empty without a host.
func (c Config) PublicURL() string {
	host := c.Host()
	if host == "" {
		return ""
	}
	port := c.Port()
	if port == 0 || (c.Protocol() == "http" && port == 80) || (c.Protocol() == "https" && port == 443) {
		return c.Protocol() + "://" + host
	}
	return c.Protocol() + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Credentials returns the basic auth pair guarding the UI.
func (c Config) Credentials() (string, string) {
	return c.Get(KeyUser), c.Get(KeyPassword)
}

// Validate checks required keys, the port range, the protocol, placeholder credentials
// and the unit spec. It reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	for _, key := range RequiredKeys {
		if c.Get(key) == "" {
			problems = append(problems, fmt.Sprintf("%s is required", key))
		}
	}
	if raw := c.Get(KeyPort); raw != "" {
		if p, err := strconv.Atoi(raw); err != nil || p < 1 || p > 65535 {
			problems = append(problems, fmt.Sprintf("%s must be a port number, got %q", KeyPort, raw))
		}
	}
	if p := c.Protocol(); p != "http" && p != "https" {
		problems = append(problems, fmt.Sprintf("%s must be http or https, got %q", KeyProtocol, p))
	}
	for _, key := range c.sortedKeys() {
		value := c.Get(key)
		if value == "" {
			continue
		}
		if matchesAny(value, insecureValues) || (IsSecretKey(key) && matchesAny(value, insecureSecretValues)) {
			problems = append(problems, fmt.Sprintf("%s uses a known insecure default value", key))
		}
	}
	problems = append(problems, c.Unit.validate()...)
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// Environment renders the container environment: env file values overlaid
// with the unit spec's explicit env, sorted for a stable spec hash.
func (c Config) Environment() []string {
	merged := make(map[string]string, len(c.Values)+len(c.Unit.Env))
	for k, v := range c.Values {
		merged[k] = v
	}
	for k, v := range c.Unit.Env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Redacted returns a copy of Values with secret values masked, for logs.
func (c Config) Redacted() map[string]string {
	out := make(map[string]string, len(c.Values))
	for k, v := range c.Values {
		if IsSecretKey(k) && v != "" {
			v = "****"
		}
		out[k] = v
	}
	return out
}

// IsSecretKey reports whether key names a credential.
func IsSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"PASSWORD", "SECRET", "TOKEN", "ENCRYPTION_KEY", "API_KEY"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func (c Config) sortedKeys() []string {
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func matchesAny(value string, list []string) bool {
	for _, candidate := range list {
		if strings.EqualFold(value, candidate) {
			return true
		}
	}
	return false
}

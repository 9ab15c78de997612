package appenv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Source reads the application env file and unit spec file from disk.
type Source struct {
	EnvFile  string
	SpecFile string
}

// NewSource returns a Source for the given paths.
func NewSource(envFile, specFile string) Source {
	return Source{EnvFile: envFile, SpecFile: specFile}
}

// Resolve parses both files into a Config. It does not validate; callers
// run Validate so that preflight can report every problem together.
func (s Source) Resolve() (Config, error) {
	values, err := LoadEnvFile(s.EnvFile)
	if err != nil {
		return Config{}, &ConfigError{Problems: []string{err.Error()}}
	}
	unit, err := LoadUnitSpec(s.SpecFile)
	if err != nil {
		return Config{}, &ConfigError{Problems: []string{err.Error()}}
	}
	cfg := Config{Values: values, Unit: unit}
	cfg.Unit.HostPort = cfg.Port()
	cfg.Unit.Environment = cfg.Environment()
	return cfg, nil
}

var envOptions = ini.LoadOptions{
	KeyValueDelimiters:       "=",
	KeyValueDelimiterOnWrite: "=",
	IgnoreInlineComment:      true,
}

// LoadEnvFile parses KEY=VALUE lines. Comments, blank lines, surrounding
// quotes and a leading "export " are handled.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	file, err := ini.LoadSources(envOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		name := strings.TrimSpace(strings.TrimPrefix(key.Name(), "export "))
		if name == "" {
			continue
		}
		values[name] = key.Value()
	}
	if len(file.Sections()) > 1 {
		return nil, fmt.Errorf("parse env file %s: sections are not supported", path)
	}
	return values, nil
}

// FormatEnv renders values as an env file that LoadEnvFile reads back
// unchanged. Keys are sorted.
func FormatEnv(values map[string]string) ([]byte, error) {
	file := ini.Empty(envOptions)
	section := file.Section(ini.DefaultSection)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := section.NewKey(k, values[k]); err != nil {
			return nil, fmt.Errorf("env key %s: %w", k, err)
		}
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render env file: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadUnitSpec parses the YAML unit spec and resolves data_dir relative to
// the spec file.
func LoadUnitSpec(path string) (UnitSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UnitSpec{}, fmt.Errorf("read unit spec: %w", err)
	}
	var unit UnitSpec
	if err := yaml.Unmarshal(data, &unit); err != nil {
		return UnitSpec{}, fmt.Errorf("parse unit spec %s: %w", path, err)
	}
	if unit.Name == "" && unit.Image == "" {
		return UnitSpec{}, errors.New("parse unit spec: name and image missing")
	}
	unit.applyDefaults()
	if unit.DataDir != "" && !filepath.IsAbs(unit.DataDir) {
		unit.DataDir = filepath.Join(filepath.Dir(path), unit.DataDir)
	}
	return unit, nil
}

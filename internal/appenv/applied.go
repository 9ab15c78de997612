package appenv

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Applied is the copy of the configuration the unit was last successfully
// converged with. Snapshots capture it rather than the working files, which
// may already hold an unverified edit.
type Applied struct {
	Dir string
}

// EnvFile is the applied env file path.
func (a Applied) EnvFile() string { return filepath.Join(a.Dir, "applied.env") }

// SpecFile is the applied unit spec path.
func (a Applied) SpecFile() string { return filepath.Join(a.Dir, "applied.yaml") }

// Source reads the applied files.
func (a Applied) Source() Source { return NewSource(a.EnvFile(), a.SpecFile()) }

// Exists reports whether both applied files are present.
func (a Applied) Exists() bool {
	for _, path := range []string{a.EnvFile(), a.SpecFile()} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Record stores cfg as the applied configuration: its env values, not
// whatever file they came from, and its unit spec with an absolute data_dir
// so that it resolves the same from the state directory.
func (a Applied) Record(cfg Config) error {
	if err := os.MkdirAll(a.Dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	env, err := FormatEnv(cfg.Values)
	if err != nil {
		return err
	}
	unit := cfg.Unit
	if unit.DataDir != "" {
		abs, err := filepath.Abs(unit.DataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		unit.DataDir = abs
	}
	spec, err := yaml.Marshal(unit)
	if err != nil {
		return fmt.Errorf("encode unit spec: %w", err)
	}
	if err := writeReplace(a.EnvFile(), env); err != nil {
		return err
	}
	return writeReplace(a.SpecFile(), spec)
}

func writeReplace(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// staging owns in-progress snapshot directories under a common root.
// A snapshot becomes visible only when its staging directory is renamed
// into the store.
type staging struct {
	root string
}

func newStaging(root string) (*staging, error) {
	if root == "" {
		return nil, fmt.Errorf("staging root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &staging{root: root}, nil
}

// Prepare creates an isolated directory for the provided identifier.
func (s *staging) Prepare(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("staging identifier cannot be empty")
	}
	dir := filepath.Join(s.root, identifier)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup staging: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create staging: %w", err)
	}
	return dir, nil
}

// Commit moves a prepared directory to dest atomically.
func (s *staging) Commit(path, dest string) error {
	if err := s.within(path); err != nil {
		return err
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("commit staging: %w", err)
	}
	return nil
}

// Cleanup removes the staging directory.
func (s *staging) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := s.within(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (s *staging) within(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to touch path outside staging root")
	}
	return nil
}

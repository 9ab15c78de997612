// Package audit keeps an append-only JSON Lines journal of lifecycle
// attempts.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/talosaether/n8n/internal/lifecycle"
)

// Journal appends one line per finished attempt.
type Journal struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open returns a journal writing to path. The file is created on first
// append.
func Open(path string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{path: path, logger: logger}
}

// ObserveAttempt appends a. Write failures are logged only.
func (j *Journal) ObserveAttempt(_ context.Context, a *lifecycle.Attempt) {
	if err := j.Append(a); err != nil {
		j.logger.Warn("audit journal append failed", "path", j.path, "attempt_id", a.ID, "error", err)
	}
}

// Append writes a as a single line.
func (j *Journal) Append(a *lifecycle.Attempt) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	return f.Close()
}

// Read returns the last limit attempts, oldest first. A limit of zero
// returns everything. Malformed lines are skipped.
func (j *Journal) Read(limit int) ([]lifecycle.Attempt, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var attempts []lifecycle.Attempt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var a lifecycle.Attempt
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			j.logger.Debug("skipping malformed journal line", "line", lineNo, "error", err)
			continue
		}
		attempts = append(attempts, a)
		if limit > 0 && len(attempts) > limit {
			attempts = attempts[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return attempts, nil
}

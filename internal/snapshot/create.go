package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Create captures sources into a new snapshot. Absent sources are recorded
// in Missing and do not fail the capture.
func (s *Store) Create(ctx context.Context, src Sources) (Snapshot, error) {
	createdAt, err := s.nextTime()
	if err != nil {
		return Snapshot{}, err
	}
	id := createdAt.Format(idLayout)
	dir, err := s.staging.Prepare(id)
	if err != nil {
		return Snapshot{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.staging.Cleanup(dir)
		}
	}()

	snap := Snapshot{
		ID:        id,
		CreatedAt: createdAt,
		Trigger:   src.Trigger,
		Artifacts: map[string]Artifact{},
		Missing:   map[string]string{},
	}
	for name, reason := range src.Skipped {
		snap.Missing[name] = reason
	}

	files := []struct{ name, path string }{
		{ArtifactEnv, src.EnvFile},
		{ArtifactSpec, src.SpecFile},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if f.path == "" {
			continue
		}
		ok, err := exists(f.path)
		if err != nil {
			return Snapshot{}, fmt.Errorf("stat %s: %w", f.name, err)
		}
		if !ok {
			snap.Missing[f.name] = "not found: " + f.path
			s.logger.Warn("snapshot artifact missing", "snapshot_id", id, "artifact", f.name, "path", f.path)
			continue
		}
		size, sum, err := copyHashed(f.path, filepath.Join(dir, f.name))
		if err != nil {
			return Snapshot{}, fmt.Errorf("capture %s: %w", f.name, err)
		}
		snap.Artifacts[f.name] = Artifact{Name: f.name, File: f.name, Source: f.path, SizeBytes: size, Checksum: sum}
	}

	if src.DataDir != "" {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if err := s.captureData(id, dir, src.DataDir, &snap); err != nil {
			return Snapshot{}, err
		}
	}

	for _, a := range snap.Artifacts {
		snap.SizeBytes += a.SizeBytes
	}
	if len(snap.Missing) == 0 {
		snap.Missing = nil
	}
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o600); err != nil {
		return Snapshot{}, fmt.Errorf("write metadata: %w", err)
	}

	dest := filepath.Join(s.root, id)
	if err := s.staging.Commit(dir, dest); err != nil {
		return Snapshot{}, err
	}
	committed = true
	snap.dir = dest

	if err := s.refreshPointer(ctx); err != nil {
		s.logger.Warn("latest pointer update failed", "snapshot_id", id, "error", err)
	}
	s.logger.Info("snapshot created", "snapshot_id", id, "artifacts", snap.ArtifactNames(), "size_bytes", snap.SizeBytes)
	return snap, nil
}

func (s *Store) captureData(id, dir, dataDir string, snap *Snapshot) error {
	info, err := os.Stat(dataDir)
	if os.IsNotExist(err) {
		snap.Missing[ArtifactData] = "not found: " + dataDir
		s.logger.Warn("snapshot artifact missing", "snapshot_id", id, "artifact", ArtifactData, "path", dataDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dataDir)
	}
	file := "data.tar.zst"
	if len(s.recipients) > 0 {
		file += ".age"
	}
	size, sum, err := writeDataArchive(dataDir, filepath.Join(dir, file), s.recipients)
	if err != nil {
		return fmt.Errorf("capture data: %w", err)
	}
	snap.Artifacts[ArtifactData] = Artifact{
		Name:        ArtifactData,
		File:        file,
		Source:      dataDir,
		SizeBytes:   size,
		Checksum:    sum,
		Compression: compressionZstd,
		Encrypted:   len(s.recipients) > 0,
	}
	return nil
}

// nextTime derives a unique, orderable creation time from the clock. A
// colliding or out-of-order time is bumped a millisecond past the newest
// stored snapshot.
func (s *Store) nextTime() (time.Time, error) {
	t := s.now().UTC().Truncate(time.Millisecond)
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return time.Time{}, fmt.Errorf("read snapshot root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		taken, err := time.Parse(idLayout, e.Name())
		if err != nil {
			continue
		}
		if !t.After(taken) {
			t = taken.Add(time.Millisecond)
		}
	}
	return t, nil
}

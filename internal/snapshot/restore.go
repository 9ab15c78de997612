package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Restore writes the snapshot's artifacts to targets. Every checksum is
// verified before anything is touched. Each captured artifact fully
// replaces its target; artifacts the snapshot lacks leave targets as they are.
func (s *Store) Restore(ctx context.Context, snap Snapshot, to Targets) error {
	if snap.dir == "" {
		loaded, err := s.Get(ctx, snap.ID)
		if err != nil {
			return err
		}
		snap = loaded
	}
	if snap.Empty() {
		return fmt.Errorf("snapshot %s has no artifacts", snap.ID)
	}
	if err := s.Verify(snap); err != nil {
		return err
	}
	if a, ok := snap.Artifacts[ArtifactData]; ok && a.Encrypted && len(s.identities) == 0 {
		return ErrNoIdentity
	}

	files := []struct{ name, target string }{
		{ArtifactEnv, to.EnvFile},
		{ArtifactSpec, to.SpecFile},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		a, ok := snap.Artifacts[f.name]
		if !ok || f.target == "" {
			continue
		}
		if err := restoreFile(filepath.Join(snap.dir, a.File), f.target); err != nil {
			return fmt.Errorf("restore %s: %w", f.name, err)
		}
		s.logger.Info("artifact restored", "snapshot_id", snap.ID, "artifact", f.name, "target", f.target)
	}

	if a, ok := snap.Artifacts[ArtifactData]; ok && to.DataDir != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.restoreData(filepath.Join(snap.dir, a.File), to.DataDir, a.Encrypted); err != nil {
			return fmt.Errorf("restore data: %w", err)
		}
		s.logger.Info("artifact restored", "snapshot_id", snap.ID, "artifact", ArtifactData, "target", to.DataDir)
	}
	return nil
}

// Verify recomputes every artifact checksum.
func (s *Store) Verify(snap Snapshot) error {
	for _, name := range snap.ArtifactNames() {
		a := snap.Artifacts[name]
		sum, err := checksumFile(filepath.Join(snap.dir, a.File))
		if err != nil {
			return fmt.Errorf("read artifact %s: %w", name, err)
		}
		if sum != a.Checksum {
			return fmt.Errorf("%w: %s in %s", ErrChecksumMismatch, name, snap.ID)
		}
	}
	return nil
}

func restoreFile(src, dst string) error {
	perm := os.FileMode(0o600)
	if info, err := os.Stat(dst); err == nil {
		perm = info.Mode().Perm()
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return replaceAtomic(dst, perm, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// restoreData extracts into a sibling directory and swaps it in, so a
// failed extraction leaves the current data directory in place.
func (s *Store) restoreData(archivePath, dataDir string, encrypted bool) error {
	parent := filepath.Dir(dataDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dataDir)+".restore-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := extractDataArchive(archivePath, tmp, encrypted, s.identities); err != nil {
		return err
	}
	if info, err := os.Stat(dataDir); err == nil {
		_ = os.Chmod(tmp, info.Mode().Perm())
	}
	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("remove current data: %w", err)
	}
	if err := os.Rename(tmp, dataDir); err != nil {
		return fmt.Errorf("swap data dir: %w", err)
	}
	return nil
}

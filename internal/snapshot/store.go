package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
)

// Options configure a Store.
type Options struct {
	// Recipients are age public keys; data archives are encrypted when set.
	Recipients []string
	// IdentityFile holds age identities used to decrypt on restore.
	IdentityFile string
	Now          func() time.Time
	Logger       *slog.Logger
}

// Store is a filesystem Snapshot Store rooted at a directory.
type Store struct {
	root       string
	staging    *staging
	now        func() time.Time
	recipients []age.Recipient
	identities []age.Identity
	logger     *slog.Logger
}

// New opens (creating if needed) a store at root.
func New(root string, opts Options) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("snapshot root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	stg, err := newStaging(filepath.Join(root, ".staging"))
	if err != nil {
		return nil, err
	}
	recipients, err := parseRecipients(opts.Recipients)
	if err != nil {
		return nil, err
	}
	var identities []age.Identity
	if opts.IdentityFile != "" {
		identities, err = loadIdentities(opts.IdentityFile)
		if err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:       root,
		staging:    stg,
		now:        now,
		recipients: recipients,
		identities: identities,
		logger:     logger,
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// CheckWritable verifies a snapshot can be written to the store.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(s.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("snapshot store not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// List returns all snapshots, newest first. Directories without readable
// metadata are skipped.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read snapshot root: %w", err)
	}
	list := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		snap, err := s.load(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "snapshot_id", entry.Name(), "error", err)
			continue
		}
		list = append(list, snap)
	}
	sortNewestFirst(list)
	return list, nil
}

// Get loads one snapshot by id.
func (s *Store) Get(_ context.Context, id string) (Snapshot, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	snap, err := s.load(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// MostRecent returns the newest snapshot. It is computed from the listing,
// never from the LATEST pointer.
func (s *Store) MostRecent(ctx context.Context) (Snapshot, bool, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(list) == 0 {
		return Snapshot{}, false, nil
	}
	return list[0], true, nil
}

// Resolve maps "latest" or an id to a snapshot.
func (s *Store) Resolve(ctx context.Context, ref string) (Snapshot, error) {
	if ref == "" || strings.EqualFold(ref, LatestRef) {
		snap, ok, err := s.MostRecent(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if !ok {
			return Snapshot{}, ErrNoSnapshots
		}
		return snap, nil
	}
	return s.Get(ctx, ref)
}

// Delete removes one snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(snap.dir); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return s.refreshPointer(ctx)
}

// DeleteOlderThan removes snapshots created more than age ago.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)
	return s.deleteWhere(ctx, func(_ int, snap Snapshot) bool {
		return snap.CreatedAt.Before(cutoff)
	})
}

// Prune keeps the newest keep snapshots and removes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune: keep must be at least 1, got %d", keep)
	}
	return s.deleteWhere(ctx, func(i int, _ Snapshot) bool {
		return i >= keep
	})
}

func (s *Store) deleteWhere(ctx context.Context, match func(int, Snapshot) bool) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i, snap := range list {
		if !match(i, snap) {
			continue
		}
		if err := os.RemoveAll(snap.dir); err != nil {
			return deleted, fmt.Errorf("delete snapshot %s: %w", snap.ID, err)
		}
		s.logger.Info("snapshot deleted", "snapshot_id", snap.ID)
		deleted++
	}
	if deleted > 0 {
		if err := s.refreshPointer(ctx); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *Store) load(id string) (Snapshot, error) {
	dir := filepath.Join(s.root, id)
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode metadata: %w", err)
	}
	if snap.ID != id {
		return Snapshot{}, fmt.Errorf("metadata id %q does not match directory %q", snap.ID, id)
	}
	snap.dir = dir
	return snap, nil
}

// refreshPointer rewrites LATEST from the listing, or removes it when the
// store is empty.
func (s *Store) refreshPointer(ctx context.Context) error {
	snap, ok, err := s.MostRecent(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(s.root, pointerFile)
	if !ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove latest pointer: %w", err)
		}
		return nil
	}
	return writeFileAtomic(path, []byte(snap.ID+"\n"), 0o640)
}

package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
)

type tick struct{ t time.Time }

func (c *tick) now() time.Time {
	cur := c.t
	c.t = c.t.Add(time.Second)
	return cur
}

type fixture struct {
	store   *Store
	envFile string
	spec    string
	dataDir string
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	dir := t.TempDir()
	clock := &tick{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.now
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := New(filepath.Join(dir, "backups"), opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	f := fixture{
		store:   store,
		envFile: filepath.Join(dir, ".env"),
		spec:    filepath.Join(dir, "unit.yaml"),
		dataDir: filepath.Join(dir, "n8n_data"),
	}
	writeFile(t, f.envFile, "N8N_PORT=5678\n")
	writeFile(t, f.spec, "image: n8nio/n8n:1.0.0\n")
	writeFile(t, filepath.Join(f.dataDir, "database.sqlite"), "v1-db")
	writeFile(t, filepath.Join(f.dataDir, "nodes", "custom.js"), "v1-node")
	return f
}

func (f fixture) sources() Sources {
	return Sources{EnvFile: f.envFile, SpecFile: f.spec, DataDir: f.dataDir, Trigger: "test"}
}

func (f fixture) targets() Targets {
	return Targets{EnvFile: f.envFile, SpecFile: f.spec, DataDir: f.dataDir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestCreateCapturesAllArtifacts(t *testing.T) {
	f := newFixture(t, Options{})
	snap, err := f.store.Create(context.Background(), f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if snap.ID != "20260301T120000.000Z" {
		t.Fatalf("unexpected id %s", snap.ID)
	}
	for _, name := range []string{ArtifactEnv, ArtifactSpec, ArtifactData} {
		if !snap.Has(name) {
			t.Fatalf("expected artifact %s, got %v", name, snap.ArtifactNames())
		}
	}
	if len(snap.Missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", snap.Missing)
	}
	if snap.SizeBytes <= 0 {
		t.Fatalf("expected positive size, got %d", snap.SizeBytes)
	}
	pointer := readFile(t, filepath.Join(f.store.Root(), pointerFile))
	if pointer != snap.ID+"\n" {
		t.Fatalf("expected LATEST pointer to %s, got %q", snap.ID, pointer)
	}
	entries, err := os.ReadDir(filepath.Join(f.store.Root(), ".staging"))
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty staging, found %d entries", len(entries))
	}
}

func TestCreateRecordsMissingArtifacts(t *testing.T) {
	f := newFixture(t, Options{})
	src := f.sources()
	src.DataDir = ""
	src.Skipped = map[string]string{ArtifactData: "unit not running"}
	if err := os.Remove(f.spec); err != nil {
		t.Fatalf("remove spec: %v", err)
	}

	snap, err := f.store.Create(context.Background(), src)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !snap.Has(ArtifactEnv) || snap.Has(ArtifactSpec) || snap.Has(ArtifactData) {
		t.Fatalf("unexpected artifacts %v", snap.ArtifactNames())
	}
	if snap.Missing[ArtifactData] != "unit not running" {
		t.Fatalf("expected skip reason for data, got %v", snap.Missing)
	}
	if snap.Missing[ArtifactSpec] == "" {
		t.Fatalf("expected spec recorded missing, got %v", snap.Missing)
	}
}

func TestCreateWithNothingYieldsEmptySnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	snap, err := f.store.Create(context.Background(), Sources{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !snap.Empty() {
		t.Fatalf("expected empty snapshot, got %v", snap.ArtifactNames())
	}
}

func TestIDsAreUniqueAndOrdered(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	first, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if first.ID == second.ID || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %s then %s", first.ID, second.ID)
	}
	latest, ok, err := f.store.MostRecent(ctx)
	if err != nil || !ok {
		t.Fatalf("MostRecent: ok=%v err=%v", ok, err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected most recent %s, got %s", second.ID, latest.ID)
	}
}

func TestRestoreRoundTripOverwrites(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	writeFile(t, f.envFile, "N8N_PORT=9999\n")
	writeFile(t, f.spec, "image: n8nio/n8n:2.0.0\n")
	writeFile(t, filepath.Join(f.dataDir, "database.sqlite"), "v2-db")
	writeFile(t, filepath.Join(f.dataDir, "added-later.txt"), "stray")

	if err := f.store.Restore(ctx, snap, f.targets()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if got := readFile(t, f.envFile); got != "N8N_PORT=5678\n" {
		t.Fatalf("env not restored: %q", got)
	}
	if got := readFile(t, f.spec); got != "image: n8nio/n8n:1.0.0\n" {
		t.Fatalf("spec not restored: %q", got)
	}
	if got := readFile(t, filepath.Join(f.dataDir, "database.sqlite")); got != "v1-db" {
		t.Fatalf("data not restored: %q", got)
	}
	if got := readFile(t, filepath.Join(f.dataDir, "nodes", "custom.js")); got != "v1-node" {
		t.Fatalf("nested data not restored: %q", got)
	}
	if _, err := os.Stat(filepath.Join(f.dataDir, "added-later.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected restore to fully replace data dir, stat err=%v", err)
	}

	// restoring the same snapshot again yields the same state
	if err := f.store.Restore(ctx, snap, f.targets()); err != nil {
		t.Fatalf("second Restore error: %v", err)
	}
	if got := readFile(t, filepath.Join(f.dataDir, "database.sqlite")); got != "v1-db" {
		t.Fatalf("data changed on re-restore: %q", got)
	}
}

func TestRestoreLeavesAbsentArtifactsUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	src := f.sources()
	src.DataDir = ""
	snap, err := f.store.Create(ctx, src)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	writeFile(t, filepath.Join(f.dataDir, "database.sqlite"), "current-db")

	if err := f.store.Restore(ctx, snap, f.targets()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if got := readFile(t, filepath.Join(f.dataDir, "database.sqlite")); got != "current-db" {
		t.Fatalf("expected data untouched, got %q", got)
	}
}

func TestSnapshotIsUnaffectedByLaterChanges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	writeFile(t, f.envFile, "N8N_PORT=1\n")
	if _, err := f.store.Create(ctx, f.sources()); err != nil {
		t.Fatalf("second Create error: %v", err)
	}
	if err := f.store.Verify(snap); err != nil {
		t.Fatalf("expected first snapshot intact, got %v", err)
	}
	stored := readFile(t, filepath.Join(f.store.Root(), snap.ID, ArtifactEnv))
	if stored != "N8N_PORT=5678\n" {
		t.Fatalf("stored env changed: %q", stored)
	}
}

func TestRestoreRejectsTamperedArtifact(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	writeFile(t, filepath.Join(f.store.Root(), snap.ID, ArtifactSpec), "image: evil\n")
	writeFile(t, f.envFile, "N8N_PORT=7777\n")

	err = f.store.Restore(ctx, snap, f.targets())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	if got := readFile(t, f.envFile); got != "N8N_PORT=7777\n" {
		t.Fatalf("expected nothing restored after failed verification, got %q", got)
	}
}

func TestResolveAndGet(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.store.Resolve(ctx, LatestRef); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	got, err := f.store.Resolve(ctx, "latest")
	if err != nil || got.ID != snap.ID {
		t.Fatalf("expected latest %s, got %s (%v)", snap.ID, got.ID, err)
	}
	if _, err := f.store.Get(ctx, "20990101T000000.000Z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.store.Get(ctx, "../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal, got %v", err)
	}
}

func TestListSkipsBrokenDirectories(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.store.Create(ctx, f.sources()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(f.store.Root(), "not-a-snapshot"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	list, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(list))
	}
}

func TestPruneAndDeleteOlderThan(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		snap, err := f.store.Create(ctx, f.sources())
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		ids = append(ids, snap.ID)
	}

	deleted, err := f.store.Prune(ctx, 3)
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := f.store.Get(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest pruned, got %v", err)
	}

	// the tick clock has advanced past every snapshot; anything older than
	// 2.5s relative to the next tick goes
	deleted, err = f.store.DeleteOlderThan(ctx, 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("DeleteOlderThan error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted by age, got %d", deleted)
	}
	list, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[3] || list[1].ID != ids[2] {
		t.Fatalf("unexpected remaining snapshots: %+v", list)
	}
	if pointer := readFile(t, filepath.Join(f.store.Root(), pointerFile)); pointer != ids[3]+"\n" {
		t.Fatalf("unexpected pointer %q", pointer)
	}

	if _, err := f.store.Prune(ctx, 0); err == nil {
		t.Fatalf("expected error for keep=0")
	}
}

func TestDeleteLastRemovesPointer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := f.store.Delete(ctx, snap.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.store.Root(), pointerFile)); !os.IsNotExist(err) {
		t.Fatalf("expected pointer removed, stat err=%v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	idFile := filepath.Join(t.TempDir(), "key.txt")
	writeFile(t, idFile, "# test key\n"+identity.String()+"\n")

	f := newFixture(t, Options{
		Recipients:   []string{identity.Recipient().String()},
		IdentityFile: idFile,
	})
	ctx := context.Background()
	snap, err := f.store.Create(ctx, f.sources())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	data := snap.Artifacts[ArtifactData]
	if !data.Encrypted || filepath.Ext(data.File) != ".age" {
		t.Fatalf("expected encrypted data artifact, got %+v", data)
	}

	writeFile(t, filepath.Join(f.dataDir, "database.sqlite"), "broken")
	if err := f.store.Restore(ctx, snap, f.targets()); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if got := readFile(t, filepath.Join(f.dataDir, "database.sqlite")); got != "v1-db" {
		t.Fatalf("expected decrypted data, got %q", got)
	}

	noKey, err := New(f.store.Root(), Options{Logger: f.store.logger})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := noKey.Restore(ctx, snap, f.targets()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestCheckWritable(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.store.CheckWritable(); err != nil {
		t.Fatalf("expected writable store, got %v", err)
	}
}

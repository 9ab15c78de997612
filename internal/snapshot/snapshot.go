// Package snapshot stores immutable, self-contained captures of the
// managed unit's configuration and data directory on the local filesystem.
//
// Layout:
//
//	<root>/<id>/metadata.json
//	<root>/<id>/env
//	<root>/<id>/spec
//	<root>/<id>/data.tar.zst[.age]
//	<root>/LATEST
//	<root>/.staging/
package snapshot

import (
	"errors"
	"sort"
	"time"
)

// Artifact names.
const (
	ArtifactEnv  = "env"
	ArtifactSpec = "spec"
	ArtifactData = "data"
)

// LatestRef selects the most recently created snapshot.
const LatestRef = "latest"

const (
	metadataFile = "metadata.json"
	pointerFile  = "LATEST"
	idLayout     = "20060102T150405.000Z"
)

var (
	// ErrNotFound is returned when a snapshot id does not exist.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrNoSnapshots is returned when "latest" is requested from an empty store.
	ErrNoSnapshots = errors.New("snapshot: no snapshots available")
	// ErrChecksumMismatch is returned when a stored artifact was altered.
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	// ErrNoIdentity is returned when restoring an encrypted archive without an identity.
	ErrNoIdentity = errors.New("snapshot: encrypted archive requires an identity")
)

// Snapshot describes one stored capture.
type Snapshot struct {
	ID        string              `json:"id" yaml:"id"`
	CreatedAt time.Time           `json:"created_at" yaml:"created_at"`
	Trigger   string              `json:"trigger" yaml:"trigger"`
	SizeBytes int64               `json:"size_bytes" yaml:"size_bytes"`
	Artifacts map[string]Artifact `json:"artifacts" yaml:"artifacts"`
	// Missing maps requested artifact names that were not captured to the reason.
	Missing map[string]string `json:"missing,omitempty" yaml:"missing,omitempty"`

	dir string
}

// Artifact is one stored file inside a snapshot.
type Artifact struct {
	Name        string `json:"name" yaml:"name"`
	File        string `json:"file" yaml:"file"`
	Source      string `json:"source" yaml:"source"`
	SizeBytes   int64  `json:"size_bytes" yaml:"size_bytes"`
	Checksum    string `json:"checksum" yaml:"checksum"`
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encrypted   bool   `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
}

// Empty reports whether nothing was captured. An empty snapshot cannot
// restore a known-good state.
func (s Snapshot) Empty() bool { return len(s.Artifacts) == 0 }

// Has reports whether the named artifact was captured.
func (s Snapshot) Has(name string) bool {
	_, ok := s.Artifacts[name]
	return ok
}

// ArtifactNames returns captured artifact names in a stable order.
func (s Snapshot) ArtifactNames() []string {
	names := make([]string, 0, len(s.Artifacts))
	for name := range s.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sources names what Create captures. An empty path is not captured;
// Skipped records why an artifact was deliberately left out.
type Sources struct {
	EnvFile  string
	SpecFile string
	DataDir  string
	Skipped  map[string]string
	Trigger  string
}

// Targets names where Restore writes each artifact.
type Targets struct {
	EnvFile  string
	SpecFile string
	DataDir  string
}

func sortNewestFirst(list []Snapshot) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

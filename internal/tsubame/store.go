package tsubame

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Provenance records how a component reached Built: compiled from source or
// substituted from the prebuilt bucket.
type Provenance string

const (
	ProvenanceSource   Provenance = "source"
	ProvenanceFallback Provenance = "fallback"
)

// ArtifactStore answers "is X already built?" and records "X is now built".
// Markers are keyed by (name, version) and outlive the process; they are the
// only state that survives a restart, which is what makes the pipeline
// resumable. MarkBuilt must only be called after every install side effect is
// on disk.
type ArtifactStore interface {
	IsBuilt(name, version string) (bool, error)
	MarkBuilt(name, version string, prov Provenance) error
	Provenance(name, version string) (Provenance, error)
	Reset(name, version string) error
}

var errNotBuilt = fmt.Errorf("component not marked built")

func markerName(name, version string) string {
	return name + "@" + version
}

// fsStore keeps one marker file per (name, version) under root, in the same
// presence-means-done style as a package manager's installed database.
// Marker content is "<provenance> <timestamp>".
type fsStore struct {
	root string
}

// NewFSStore creates the marker directory and returns the durable store.
func NewFSStore(root string) (*fsStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", root, err)
	}
	return &fsStore{root: root}, nil
}

func (s *fsStore) path(name, version string) string {
	return filepath.Join(s.root, markerName(name, version))
}

func (s *fsStore) IsBuilt(name, version string) (bool, error) {
	_, err := os.Stat(s.path(name, version))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("state store read failed for %s: %w", markerName(name, version), err)
}

func (s *fsStore) MarkBuilt(name, version string, prov Provenance) error {
	content := fmt.Sprintf("%s %s\n", prov, time.Now().Format(time.RFC3339))

	// Write-then-rename so a crash never leaves a half-written marker that a
	// future resume would trust.
	tmp, err := os.CreateTemp(s.root, ".marker-*")
	if err != nil {
		return fmt.Errorf("state store write failed for %s: %w", markerName(name, version), err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("state store write failed for %s: %w", markerName(name, version), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state store write failed for %s: %w", markerName(name, version), err)
	}
	if err := os.Rename(tmpPath, s.path(name, version)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state store write failed for %s: %w", markerName(name, version), err)
	}
	return nil
}

func (s *fsStore) Provenance(name, version string) (Provenance, error) {
	data, err := os.ReadFile(s.path(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errNotBuilt
		}
		return "", fmt.Errorf("state store read failed for %s: %w", markerName(name, version), err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty marker for %s", markerName(name, version))
	}
	return Provenance(fields[0]), nil
}

func (s *fsStore) Reset(name, version string) error {
	err := os.Remove(s.path(name, version))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove marker %s: %w", markerName(name, version), err)
	}
	return nil
}

// List returns all markers as "name@version" sorted, for the status command.
func (s *fsStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read state dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// memStore is the in-memory ArtifactStore used by tests; same semantics as
// fsStore without touching a filesystem.
type memStore struct {
	mu      sync.Mutex
	markers map[string]Provenance
}

func NewMemStore() *memStore {
	return &memStore{markers: make(map[string]Provenance)}
}

func (s *memStore) IsBuilt(name, version string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[markerName(name, version)]
	return ok, nil
}

func (s *memStore) MarkBuilt(name, version string, prov Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[markerName(name, version)] = prov
	return nil
}

func (s *memStore) Provenance(name, version string) (Provenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prov, ok := s.markers[markerName(name, version)]
	if !ok {
		return "", errNotBuilt
	}
	return prov, nil
}

func (s *memStore) Reset(name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, markerName(name, version))
	return nil
}

package handbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the default manifest filename
	ManifestFilename = "manifest.json"
)

// Manifest records which document generation is active for each source tag.
// Readers only see chunks of the active generation, so swapping the active
// hash (and saving the manifest) is what publishes a new index.
type Manifest struct {
	Version int                    `json:"version"`
	Sources map[string]SourceState `json:"sources"`
	mu      sync.RWMutex           `json:"-"`
	saveMu  sync.Mutex             `json:"-"`
}

// SourceState stores the index state for a single source tag.
type SourceState struct {
	DocHash    string    `json:"doc_hash"`
	ChunkCount int       `json:"chunk_count"`
	Embedder   string    `json:"embedder,omitempty"` // vector space identity
	IndexedAt  time.Time `json:"indexed_at"`
	Error      string    `json:"error,omitempty"`
}

// NewManifest creates a new empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Sources: make(map[string]SourceState),
	}
}

// LoadManifest reads a manifest from disk, or creates a new one if it doesn't exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Sources == nil {
		manifest.Sources = make(map[string]SourceState)
	}

	return &manifest, nil
}

// Save writes the manifest to disk atomically.
// Each save writes its own temp file and renames it over path; saves of the
// same manifest are serialized so the last rename carries the latest state.
func (m *Manifest) Save(path string) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to set manifest permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}

	return nil
}

// ActiveHash returns the active document hash for a source.
func (m *Manifest) ActiveHash(source string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.Sources[source]
	if !ok || state.DocHash == "" {
		return "", false
	}
	return state.DocHash, true
}

// State returns the recorded state for a source.
func (m *Manifest) State(source string) (SourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.Sources[source]
	return state, ok
}

// SetState replaces the state for a source and returns the previous one.
func (m *Manifest) SetState(source string, state SourceState) (previous SourceState, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous, existed = m.Sources[source]
	m.Sources[source] = state
	return previous, existed
}

// RestoreState puts back a state captured by SetState.
func (m *Manifest) RestoreState(source string, previous SourceState, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existed {
		m.Sources[source] = previous
	} else {
		delete(m.Sources, source)
	}
}

// SetError records an indexing error for a source, keeping its active generation.
func (m *Manifest) SetError(source string, err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.Sources[source]
	state.Error = err
	m.Sources[source] = state
}

// SourceTags returns all source tags in the manifest, sorted.
func (m *Manifest) SourceTags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, 0, len(m.Sources))
	for tag := range m.Sources {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

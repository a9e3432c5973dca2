package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// registryFileName holds the controller's durable lifecycle state.
const registryFileName = "registry.json"

// Record is one extension's persisted lifecycle entry. Libraries holds
// the resolved versions of its dependency holdings while active, so the
// graph can be rebuilt at boot without re-running the package manager.
type Record struct {
	State     State                 `json:"state"`
	Grant     []security.Capability `json:"grant,omitempty"`
	Libraries map[string]string     `json:"libraries,omitempty"`
}

// registry persists lifecycle records as one JSON document under the
// state directory. It is the single owner of that file; components read
// lifecycle state through the Controller, never from disk.
type registry struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// openRegistry loads the registry file, creating an empty registry when
// none exists yet.
func openRegistry(stateDir string) (*registry, error) {
	r := &registry{
		path:    filepath.Join(stateDir, registryFileName),
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return r, nil
}

// get returns the record for the slug and whether one exists.
func (r *registry) get(slug string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	return rec, ok
}

// put stores the record and persists the registry.
func (r *registry) put(slug string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[slug] = rec
	return r.save()
}

// remove deletes the record and persists the registry.
func (r *registry) remove(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, slug)
	return r.save()
}

// all returns a copy of every record.
func (r *registry) all() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Record, len(r.records))
	for slug, rec := range r.records {
		out[slug] = rec
	}
	return out
}

// save writes the registry atomically. Callers hold r.mu.
func (r *registry) save() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, registryFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

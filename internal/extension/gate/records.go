package gate

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// recordStore persists per-extension structured records as one JSON
// document keyed <slug>.<key>. Each extension sees only its own
// namespace; there is no cross-slug access path.
type recordStore struct {
	file jsonFile
}

func newRecordStore(stateDir string) *recordStore {
	return &recordStore{file: jsonFile{path: filepath.Join(stateDir, "records.json")}}
}

func recordPath(slug, key string) string {
	return escapeKey(slug) + "." + escapeKey(key)
}

// GetRecord reads a stored record. Requires storage:read.
func (g *Gate) GetRecord(slug, key string) (string, bool, error) {
	if err := g.check(slug, security.ScopeStorage, security.AccessRead, "get record "+key); err != nil {
		return "", false, err
	}

	r := g.records
	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.file.load()
	if err != nil {
		return "", false, err
	}
	result := gjson.Get(doc, recordPath(slug, key))
	if !result.Exists() {
		return "", false, nil
	}
	return result.String(), true, nil
}

// PutRecord stores a record. Requires storage:write.
func (g *Gate) PutRecord(slug, key, value string) error {
	if err := g.check(slug, security.ScopeStorage, security.AccessWrite, "put record "+key); err != nil {
		return err
	}

	r := g.records
	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.file.load()
	if err != nil {
		return err
	}
	doc, err = sjson.Set(doc, recordPath(slug, key), value)
	if err != nil {
		return fmt.Errorf("failed to store record %s for %s: %w", key, slug, err)
	}
	return r.file.save(doc)
}

// DeleteRecord removes a record. Requires storage:write.
func (g *Gate) DeleteRecord(slug, key string) error {
	if err := g.check(slug, security.ScopeStorage, security.AccessWrite, "delete record "+key); err != nil {
		return err
	}

	r := g.records
	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.file.load()
	if err != nil {
		return err
	}
	doc, err = sjson.Delete(doc, recordPath(slug, key))
	if err != nil {
		return fmt.Errorf("failed to delete record %s for %s: %w", key, slug, err)
	}
	return r.file.save(doc)
}

// RecordKeys lists the extension's record keys. Requires storage:read.
func (g *Gate) RecordKeys(slug string) ([]string, error) {
	if err := g.check(slug, security.ScopeStorage, security.AccessRead, "list records"); err != nil {
		return nil, err
	}

	r := g.records
	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.file.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	gjson.Get(doc, escapeKey(slug)).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

// PurgeRecords drops the extension's entire record namespace. Requires
// storage:admin.
func (g *Gate) PurgeRecords(slug string) error {
	if err := g.check(slug, security.ScopeStorage, security.AccessAdmin, "purge records"); err != nil {
		return err
	}

	r := g.records
	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.file.load()
	if err != nil {
		return err
	}
	doc, err = sjson.Delete(doc, escapeKey(slug))
	if err != nil {
		return fmt.Errorf("failed to purge records for %s: %w", slug, err)
	}
	return r.file.save(doc)
}

package crashguard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const lockSuffix = ".lock"

// bootLock is the payload of a lock file. The timestamp survives the
// crash and becomes the report's LastCrash.
type bootLock struct {
	Slug      string    `json:"slug"`
	Timestamp time.Time `json:"timestamp"`
}

// writeLock creates the lock file and flushes both the file and its
// directory. The fsync matters: the lock must be durable before the
// entry point gets a chance to kill the process, or a crash leaves no
// evidence behind.
func writeLock(dir, slug string) error {
	data, err := json.Marshal(bootLock{Slug: slug, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode boot lock: %w", err)
	}

	path := filepath.Join(dir, slug+lockSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create boot lock: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write boot lock: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync boot lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close boot lock: %w", err)
	}
	return syncDir(dir)
}

// removeLock deletes the lock file. A missing file is fine; the load
// window is over either way.
func removeLock(dir, slug string) error {
	path := filepath.Join(dir, slug+lockSuffix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove boot lock: %w", err)
	}
	return syncDir(dir)
}

// readLock loads a lock file's payload, falling back to the filename
// when the payload is unreadable.
func readLock(dir, name string) bootLock {
	slug := strings.TrimSuffix(name, lockSuffix)
	lock := bootLock{Slug: slug}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return lock
	}
	var parsed bootLock
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Slug != slug {
		return lock
	}
	return parsed
}

// danglingLocks lists lock files left over from a previous boot.
func danglingLocks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot lock directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), lockSuffix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// syncDir flushes directory metadata so created and removed lock files
// are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open lock directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock directory: %w", err)
	}
	return nil
}

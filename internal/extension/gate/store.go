package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// jsonFile is a whole-document JSON store addressed with gjson paths.
// Reads parse the file on demand; writes replace it atomically.
type jsonFile struct {
	mu   sync.Mutex
	path string
}

// load returns the raw document, or an empty object when the file does
// not exist. Callers hold mu.
func (j *jsonFile) load() (string, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return "{}", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", j.path, err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("store %s is corrupt", j.path)
	}
	return string(data), nil
}

// save replaces the document atomically. Callers hold mu.
func (j *jsonFile) save(doc string) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

// escapeKey makes an arbitrary key safe for use as a single gjson path
// component.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

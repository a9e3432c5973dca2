package crashguard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const strikesFile = "strikes.json"

// strikeStore persists per-slug strike counts as a single JSON document:
//
//	{"weather-widget": {"strikes": 2, "last": "2026-01-02T15:04:05Z"}}
//
// Callers serialize access through the Guard's mutex.
type strikeStore struct {
	path string
}

func newStrikeStore(dir string) *strikeStore {
	return &strikeStore{path: filepath.Join(dir, strikesFile)}
}

// load returns the raw document, or an empty object when the file does
// not exist yet.
func (s *strikeStore) load() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "{}", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read strike store: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("strike store %s is corrupt", s.path)
	}
	return string(data), nil
}

// strikes returns the recorded count for the slug, zero if absent.
func (s *strikeStore) strikes(slug string) (int, error) {
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	return int(gjson.Get(doc, slug+".strikes").Int()), nil
}

// lastCrash returns the timestamp of the slug's most recent strike.
func (s *strikeStore) lastCrash(slug string) (time.Time, error) {
	doc, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	raw := gjson.Get(doc, slug+".last").String()
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid crash timestamp for %s: %w", slug, err)
	}
	return ts, nil
}

// add increments the slug's count and stamps the crash time, returning
// the new count.
func (s *strikeStore) add(slug string, at time.Time) (int, error) {
	doc, err := s.load()
	if err != nil {
		return 0, err
	}

	count := int(gjson.Get(doc, slug+".strikes").Int()) + 1
	doc, err = sjson.Set(doc, slug+".strikes", count)
	if err != nil {
		return 0, fmt.Errorf("failed to update strike count: %w", err)
	}
	doc, err = sjson.Set(doc, slug+".last", at.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to update crash timestamp: %w", err)
	}

	if err := s.save(doc); err != nil {
		return 0, err
	}
	return count, nil
}

// reset removes the slug's record entirely.
func (s *strikeStore) reset(slug string) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc, err = sjson.Delete(doc, slug)
	if err != nil {
		return fmt.Errorf("failed to clear strike record: %w", err)
	}
	return s.save(doc)
}

// save writes the document atomically: temp file in the same directory,
// fsync, rename over the original, fsync the directory.
func (s *strikeStore) save(doc string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, strikesFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp strike store: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write strike store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync strike store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close strike store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace strike store: %w", err)
	}
	return syncDir(dir)
}

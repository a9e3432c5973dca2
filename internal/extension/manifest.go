package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// ManifestFileName is the declaration file inside every extension
// directory.
const ManifestFileName = "extension.json"

// DefaultEntryPoint is used when the manifest omits entry.
const DefaultEntryPoint = "init.lua"

// slugPattern is the safe-identifier form a slug must take. Checked
// before any filesystem path is built from the slug.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Manifest is an extension's declaration, immutable once loaded.
type Manifest struct {
	Slug         string                `json:"slug"`
	Version      string                `json:"version"`
	Dependencies map[string]string     `json:"dependencies,omitempty"`
	Permissions  []security.Capability `json:"permissions,omitempty"`
	Entry        string                `json:"entry,omitempty"`

	dir string
}

// Dir returns the extension's directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// EntryPath returns the absolute path of the entry point.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.dir, m.Entry)
}

// LoadManifest reads and validates the manifest inside the extension
// directory. It never touches the entry point file itself; existence of
// the entry source is checked at activation, not install.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, manifestErr(path, "malformed JSON: %w", err)
	}
	m.dir = dir

	if err := m.validate(path); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate checks the declaration without filesystem access beyond the
// already-read manifest.
func (m *Manifest) validate(path string) error {
	if m.Slug == "" {
		return manifestErr(path, "missing slug")
	}
	if !slugPattern.MatchString(m.Slug) {
		return manifestErr(path, "slug %q is not a safe identifier", m.Slug)
	}
	if m.Slug != filepath.Base(m.dir) {
		return manifestErr(path, "slug %q does not match directory %q", m.Slug, filepath.Base(m.dir))
	}

	if m.Version == "" {
		return manifestErr(path, "missing version")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return manifestErr(path, "invalid version %q: %w", m.Version, err)
	}

	for lib, rng := range m.Dependencies {
		if lib == "" {
			return manifestErr(path, "dependency with empty library name")
		}
		if _, err := semver.NewConstraint(rng); err != nil {
			return manifestErr(path, "invalid range %q for dependency %q: %w", rng, lib, err)
		}
	}

	for _, capability := range m.Permissions {
		if !capability.IsValid() {
			return manifestErr(path, "unrecognized permission %s", capability)
		}
	}
	m.Permissions = security.Normalize(m.Permissions)

	if m.Entry == "" {
		m.Entry = DefaultEntryPoint
	}
	if !strings.HasSuffix(m.Entry, ".lua") {
		return manifestErr(path, "entry %q is not a .lua file", m.Entry)
	}
	if !entryStaysInside(m.dir, m.Entry) {
		return manifestErr(path, "entry %q escapes the extension directory", m.Entry)
	}
	return nil
}

// entryStaysInside reports whether the relative entry path resolves
// inside the extension directory.
func entryStaysInside(dir, entry string) bool {
	if filepath.IsAbs(entry) {
		return false
	}
	abs, err := filepath.Abs(filepath.Join(dir, entry))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ValidateSlugDir checks that the slug, resolved against the extensions
// root, names a directory inside it. Called before any directory read.
func ValidateSlugDir(root, slug string) (string, error) {
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("slug %q is not a safe identifier", slug)
	}
	dir := filepath.Join(root, slug)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve extensions root: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve extension directory: %w", err)
	}
	if filepath.Dir(absDir) != absRoot {
		return "", fmt.Errorf("slug %q escapes the extensions root", slug)
	}
	return dir, nil
}

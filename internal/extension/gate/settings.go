package gate

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// settingsStore persists per-extension settings as one JSON document
// keyed extensions.<slug>.<key>. Values are strings; typed settings are
// the extension's own concern.
type settingsStore struct {
	file jsonFile
}

func newSettingsStore(stateDir string) *settingsStore {
	return &settingsStore{file: jsonFile{path: filepath.Join(stateDir, "settings.json")}}
}

func settingPath(slug, key string) string {
	return "extensions." + escapeKey(slug) + "." + escapeKey(key)
}

// GetSetting reads one of the extension's settings. Requires
// configuration:read.
func (g *Gate) GetSetting(slug, key string) (string, bool, error) {
	if err := g.check(slug, security.ScopeConfiguration, security.AccessRead, "get setting "+key); err != nil {
		return "", false, err
	}

	s := g.settings
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc, err := s.file.load()
	if err != nil {
		return "", false, err
	}
	result := gjson.Get(doc, settingPath(slug, key))
	if !result.Exists() {
		return "", false, nil
	}
	return result.String(), true, nil
}

// SetSetting writes one of the extension's settings. Requires
// configuration:write.
func (g *Gate) SetSetting(slug, key, value string) error {
	if err := g.check(slug, security.ScopeConfiguration, security.AccessWrite, "set setting "+key); err != nil {
		return err
	}

	s := g.settings
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc, err := s.file.load()
	if err != nil {
		return err
	}
	doc, err = sjson.Set(doc, settingPath(slug, key), value)
	if err != nil {
		return fmt.Errorf("failed to set %s for %s: %w", key, slug, err)
	}
	return s.file.save(doc)
}

// SettingKeys lists the extension's setting keys. Requires
// configuration:read.
func (g *Gate) SettingKeys(slug string) ([]string, error) {
	if err := g.check(slug, security.ScopeConfiguration, security.AccessRead, "list settings"); err != nil {
		return nil, err
	}

	s := g.settings
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc, err := s.file.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	gjson.Get(doc, "extensions."+escapeKey(slug)).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

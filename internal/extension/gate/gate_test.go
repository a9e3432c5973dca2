package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// grantWith builds a grant holding exactly the given capabilities.
func grantWith(t *testing.T, slug string, caps ...security.Capability) *security.Grant {
	t.Helper()
	grant, err := security.NewGrant(slug, caps, caps)
	if err != nil {
		t.Fatalf("NewGrant() error = %v", err)
	}
	return grant
}

func wantDenied(t *testing.T, err error, scope security.Scope, access security.Access) {
	t.Helper()
	var denied *security.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *PermissionDeniedError", err)
	}
	if denied.Scope != scope || denied.Access != access {
		t.Errorf("denied %s:%s, want %s:%s", denied.Scope, denied.Access, scope, access)
	}
}

func TestGetenvGranted(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessRead}), "")

	t.Setenv("LODGE_TEST_KEY", "sunny")
	value, ok := g.Getenv("weather", "LODGE_TEST_KEY")
	if !ok || value != "sunny" {
		t.Errorf("Getenv() = %q, %v, want sunny, true", value, ok)
	}
}

func TestGetenvDeniedLooksUnset(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), "")

	t.Setenv("LODGE_TEST_KEY", "sunny")
	value, ok := g.Getenv("weather", "LODGE_TEST_KEY")
	if ok || value != "" {
		t.Errorf("Getenv() = %q, %v, want indistinguishable from unset", value, ok)
	}

	denials := g.Denials("weather")
	if len(denials) != 1 {
		t.Fatalf("Denials() = %v, want the refused read recorded", denials)
	}
	if denials[0].Scope != security.ScopeConfiguration || denials[0].Access != security.AccessRead {
		t.Errorf("denial = %+v, want configuration:read", denials[0])
	}
}

func TestSettingsReadOnlyGrant(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessRead}), "")

	// Reads succeed, including for keys never written.
	if _, ok, err := g.GetSetting("weather", "units"); err != nil || ok {
		t.Errorf("GetSetting() = %v, %v, want absent without error", ok, err)
	}

	// Writes are denied without configuration:write.
	err := g.SetSetting("weather", "units", "metric")
	wantDenied(t, err, security.ScopeConfiguration, security.AccessWrite)
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessRead},
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessWrite}), "")

	if err := g.SetSetting("weather", "units", "metric"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := g.SetSetting("weather", "api.endpoint", "https://example.com"); err != nil {
		t.Fatalf("SetSetting() with dotted key error = %v", err)
	}

	value, ok, err := g.GetSetting("weather", "units")
	if err != nil || !ok || value != "metric" {
		t.Errorf("GetSetting(units) = %q, %v, %v", value, ok, err)
	}
	value, ok, err = g.GetSetting("weather", "api.endpoint")
	if err != nil || !ok || value != "https://example.com" {
		t.Errorf("GetSetting(api.endpoint) = %q, %v, %v", value, ok, err)
	}

	keys, err := g.SettingKeys("weather")
	if err != nil {
		t.Fatalf("SettingKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "api.endpoint" || keys[1] != "units" {
		t.Errorf("SettingKeys() = %v", keys)
	}

	// Settings survive a new gate over the same state directory.
	fresh := New(dir, nil)
	fresh.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessRead}), "")
	value, ok, err = fresh.GetSetting("weather", "units")
	if err != nil || !ok || value != "metric" {
		t.Errorf("GetSetting() after reload = %q, %v, %v", value, ok, err)
	}
}

func TestRecordsScope(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("notes", grantWith(t, "notes",
		security.Capability{Scope: security.ScopeStorage, Access: security.AccessRead},
		security.Capability{Scope: security.ScopeStorage, Access: security.AccessWrite}), "")

	if err := g.PutRecord("notes", "todo", `{"items":3}`); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	value, ok, err := g.GetRecord("notes", "todo")
	if err != nil || !ok || value != `{"items":3}` {
		t.Errorf("GetRecord() = %q, %v, %v", value, ok, err)
	}

	keys, err := g.RecordKeys("notes")
	if err != nil || len(keys) != 1 || keys[0] != "todo" {
		t.Errorf("RecordKeys() = %v, %v", keys, err)
	}

	if err := g.DeleteRecord("notes", "todo"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	_, ok, err = g.GetRecord("notes", "todo")
	if err != nil || ok {
		t.Errorf("GetRecord() after delete = %v, %v, want absent", ok, err)
	}

	// Purge needs admin, which this grant lacks.
	err = g.PurgeRecords("notes")
	wantDenied(t, err, security.ScopeStorage, security.AccessAdmin)
}

func TestRecordsNamespacesIsolated(t *testing.T) {
	g := New(t.TempDir(), nil)
	caps := []security.Capability{
		{Scope: security.ScopeStorage, Access: security.AccessRead},
		{Scope: security.ScopeStorage, Access: security.AccessWrite},
	}
	g.SetGrant("alpha", grantWith(t, "alpha", caps...), "")
	g.SetGrant("beta", grantWith(t, "beta", caps...), "")

	if err := g.PutRecord("alpha", "shared-key", "alpha-value"); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	_, ok, err := g.GetRecord("beta", "shared-key")
	if err != nil || ok {
		t.Errorf("GetRecord() across slugs = %v, %v, want absent", ok, err)
	}
}

func TestFileAccessOwnDirectory(t *testing.T) {
	home := t.TempDir()
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), home)

	// Inside the home directory no filesystem capability is needed.
	path := filepath.Join(home, "cache.json")
	if err := g.WriteFile("weather", path, []byte("{}")); err != nil {
		t.Fatalf("WriteFile() in home error = %v", err)
	}
	data, err := g.ReadFile("weather", path)
	if err != nil || string(data) != "{}" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
}

func TestFileAccessOutsideDenied(t *testing.T) {
	home := t.TempDir()
	outside := filepath.Join(t.TempDir(), "other.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), home)

	_, err := g.ReadFile("weather", outside)
	wantDenied(t, err, security.ScopeFilesystem, security.AccessRead)

	err = g.WriteFile("weather", outside, []byte("overwrite"))
	wantDenied(t, err, security.ScopeFilesystem, security.AccessWrite)
}

func TestFileAccessTraversalEscapes(t *testing.T) {
	home := t.TempDir()
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), home)

	sneaky := filepath.Join(home, "..", "outside.txt")
	err := g.WriteFile("weather", sneaky, []byte("escape"))
	wantDenied(t, err, security.ScopeFilesystem, security.AccessWrite)
}

func TestFileAccessGrantedOutside(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "shared.txt")
	if err := os.WriteFile(outside, []byte("shared"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g := New(t.TempDir(), nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeFilesystem, Access: security.AccessRead}), t.TempDir())

	data, err := g.ReadFile("weather", outside)
	if err != nil || string(data) != "shared" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
}

func TestSpawnDenied(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), "")

	_, err := g.Spawn(context.Background(), "weather", "true")
	wantDenied(t, err, security.ScopeProcess, security.AccessAdmin)
}

func TestSpawnGranted(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("tools", grantWith(t, "tools",
		security.Capability{Scope: security.ScopeProcess, Access: security.AccessAdmin}), "")

	out, err := g.Spawn(context.Background(), "tools", "echo", "hello")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if out != "hello\n" {
		t.Errorf("Spawn() output = %q, want hello", out)
	}
}

func TestFetchDenied(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", security.EmptyGrant("weather"), "")

	_, err := g.Fetch(context.Background(), "weather", "https://example.com")
	wantDenied(t, err, security.ScopeNetwork, security.AccessAdmin)
}

func TestNotify(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeNotification, Access: security.AccessSend}), "")

	var gotSlug, gotMessage string
	g.SetNotifier(func(slug, message string) {
		gotSlug, gotMessage = slug, message
	})

	if err := g.Notify("weather", "storm incoming"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if gotSlug != "weather" || gotMessage != "storm incoming" {
		t.Errorf("notifier got %q %q", gotSlug, gotMessage)
	}

	g.SetGrant("silent", security.EmptyGrant("silent"), "")
	err := g.Notify("silent", "should not arrive")
	wantDenied(t, err, security.ScopeNotification, security.AccessSend)
}

func TestRevokeGrantDeniesEverything(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("weather", grantWith(t, "weather",
		security.Capability{Scope: security.ScopeConfiguration, Access: security.AccessRead}), "")

	if _, _, err := g.GetSetting("weather", "units"); err != nil {
		t.Fatalf("GetSetting() before revoke error = %v", err)
	}

	g.RevokeGrant("weather")
	_, _, err := g.GetSetting("weather", "units")
	wantDenied(t, err, security.ScopeConfiguration, security.AccessRead)
}

func TestDenialHistoryBounded(t *testing.T) {
	g := New(t.TempDir(), nil)
	g.SetGrant("noisy", security.EmptyGrant("noisy"), "")

	for i := 0; i < maxDenialsPerSlug+10; i++ {
		g.Getenv("noisy", "KEY")
	}
	if n := len(g.Denials("noisy")); n != maxDenialsPerSlug {
		t.Errorf("Denials() length = %d, want capped at %d", n, maxDenialsPerSlug)
	}

	g.ClearDenials("noisy")
	if n := len(g.Denials("noisy")); n != 0 {
		t.Errorf("Denials() after clear = %d, want 0", n)
	}
}

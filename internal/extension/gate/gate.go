package gate

import (
	"sync"
	"time"

	"github.com/lodgehost/lodge/internal/extension/security"
	"github.com/lodgehost/lodge/internal/host"
)

// maxDenialsPerSlug bounds the per-extension denial history.
const maxDenialsPerSlug = 100

// Denial records one refused capability check.
type Denial struct {
	Slug   string
	Scope  security.Scope
	Access security.Access
	Op     string
	At     time.Time
}

// Notifier receives user-facing notifications sent by extensions.
type Notifier func(slug, message string)

// Gate holds the active grants and mediates all resource access.
type Gate struct {
	mu       sync.RWMutex
	grants   map[string]*security.Grant
	dirs     map[string]string
	denials  map[string][]Denial
	notifier Notifier

	settings *settingsStore
	records  *recordStore
	log      *host.Logger
}

// New creates a gate whose settings and record stores live under the
// host state directory.
func New(stateDir string, log *host.Logger) *Gate {
	if log == nil {
		log = host.NullLogger
	}
	return &Gate{
		grants:   make(map[string]*security.Grant),
		dirs:     make(map[string]string),
		denials:  make(map[string][]Denial),
		settings: newSettingsStore(stateDir),
		records:  newRecordStore(stateDir),
		log:      log.WithComponent("gate"),
	}
}

// SetNotifier installs the host's notification sink.
func (g *Gate) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifier = n
}

// SetGrant installs the grant and home directory for an extension.
// Called at activation, before any extension code runs.
func (g *Gate) SetGrant(slug string, grant *security.Grant, dir string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[slug] = grant
	g.dirs[slug] = dir
}

// RevokeGrant removes the extension's grant. Any in-flight call checks
// against a nil grant and is denied.
func (g *Gate) RevokeGrant(slug string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, slug)
	delete(g.dirs, slug)
}

// Grant returns the extension's current grant, nil if none.
func (g *Gate) Grant(slug string) *security.Grant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grants[slug]
}

// Allows reports whether the extension currently holds the capability.
func (g *Gate) Allows(slug string, scope security.Scope, access security.Access) bool {
	return g.Grant(slug).Allows(scope, access)
}

// Denials returns the recorded denials for the extension, oldest first.
func (g *Gate) Denials(slug string) []Denial {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Denial, len(g.denials[slug]))
	copy(out, g.denials[slug])
	return out
}

// ClearDenials drops the extension's denial history.
func (g *Gate) ClearDenials(slug string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.denials, slug)
}

// check verifies the capability and records a denial on failure.
func (g *Gate) check(slug string, scope security.Scope, access security.Access, op string) error {
	grant := g.Grant(slug)
	if grant.Allows(scope, access) {
		return nil
	}

	g.mu.Lock()
	history := g.denials[slug]
	if len(history) >= maxDenialsPerSlug {
		history = history[1:]
	}
	g.denials[slug] = append(history, Denial{
		Slug:   slug,
		Scope:  scope,
		Access: access,
		Op:     op,
		At:     time.Now().UTC(),
	})
	g.mu.Unlock()

	g.log.Warn("denied %s:%s for %s (%s)", scope, access, slug, op)
	return security.NewPermissionDenied(slug, scope, access, op)
}

// homeDir returns the extension's own directory, empty if unknown.
func (g *Gate) homeDir(slug string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirs[slug]
}

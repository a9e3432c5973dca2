package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lodgehost/lodge/internal/extension/crashguard"
	"github.com/lodgehost/lodge/internal/extension/gate"
	"github.com/lodgehost/lodge/internal/extension/resolver"
	"github.com/lodgehost/lodge/internal/extension/runtime"
	"github.com/lodgehost/lodge/internal/extension/scanner"
	"github.com/lodgehost/lodge/internal/extension/security"
	"github.com/lodgehost/lodge/internal/host"
)

// entry is the controller's in-memory view of one extension.
type entry struct {
	manifest *Manifest
	state    State
	grant    *security.Grant
	exec     *runtime.Executor
	lastScan scanner.ScanResult
	scanned  bool
	inFlight bool
}

// Status is the operator-facing view of one extension, including why a
// quarantined extension is quarantined.
type Status struct {
	Slug        string
	State       State
	Strikes     int
	LastCrash   time.Time
	Quarantined bool
	Granted     []security.Capability
	Libraries   map[string]string
	Denials     []gate.Denial
}

// Controller sequences the extension subsystems and owns all lifecycle
// state. It is the only surface external callers use.
type Controller struct {
	cfg   host.Config
	log   *host.Logger
	gate  *gate.Gate
	guard *crashguard.Guard
	graph *resolver.Graph
	reg   *registry
	scans *scanWorker
	bus   *eventBus

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewController builds a controller over the configured directories.
// Lifecycle state persisted by a previous process is reloaded; actually
// restarting previously-active extensions is Boot's job.
func NewController(cfg host.Config, installer resolver.Installer, log *host.Logger) (*Controller, error) {
	if log == nil {
		log = host.NullLogger
	}
	log = log.WithComponent("controller")

	for _, dir := range []string{cfg.ExtensionsRoot, cfg.StateDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	guard, err := crashguard.NewGuard(cfg.StateDir, log)
	if err != nil {
		return nil, err
	}
	reg, err := openRegistry(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		log:     log,
		gate:    gate.New(cfg.StateDir, log),
		guard:   guard,
		graph:   resolver.NewGraph(installer, log),
		reg:     reg,
		scans:   newScanWorker(),
		bus:     newEventBus(log),
		entries: make(map[string]*entry),
	}
	c.rehydrate()
	return c, nil
}

// rehydrate rebuilds in-memory entries from the persisted registry.
func (c *Controller) rehydrate() {
	for slug, rec := range c.reg.all() {
		e := &entry{state: rec.State}

		dir, err := ValidateSlugDir(c.cfg.ExtensionsRoot, slug)
		if err == nil {
			if m, loadErr := LoadManifest(dir); loadErr == nil {
				e.manifest = m
			} else {
				c.log.Warn("manifest for %s no longer loads: %v", slug, loadErr)
			}
		}

		if len(rec.Grant) > 0 && e.manifest != nil {
			grant, grantErr := security.NewGrant(slug, rec.Grant, e.manifest.Permissions)
			if grantErr != nil {
				c.log.Warn("persisted grant for %s no longer valid: %v", slug, grantErr)
			} else {
				e.grant = grant
			}
		}
		c.entries[slug] = e
	}
}

// Gate exposes the capability enforcer so other host subsystems can
// consult it before acting on behalf of extension code.
func (c *Controller) Gate() *gate.Gate {
	return c.gate
}

// Subscribe registers a lifecycle event handler.
func (c *Controller) Subscribe(h EventHandler) {
	c.bus.subscribe(h)
}

// Close shuts down every running extension and the workers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var execs []*runtime.Executor
	for _, e := range c.entries {
		if e.exec != nil {
			execs = append(execs, e.exec)
			e.exec = nil
		}
	}
	c.mu.Unlock()

	for _, exec := range execs {
		exec.Close()
	}
	c.scans.close()
}

// lookup returns the entry for the slug. Callers hold c.mu.
func (c *Controller) lookup(slug string) (*entry, error) {
	if c.closed {
		return nil, ErrControllerClosed
	}
	e, ok := c.entries[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, slug)
	}
	return e, nil
}

// setState commits a transition: validates it, updates the entry,
// persists the registry and emits the event. Callers hold c.mu.
func (c *Controller) setState(slug string, e *entry, to State) error {
	from := e.state
	if err := checkTransition(slug, from, to); err != nil {
		return err
	}
	e.state = to

	rec := Record{State: to}
	if e.grant != nil {
		rec.Grant = e.grant.Capabilities()
	}
	if to == StateActive {
		rec.Libraries = c.graph.Holdings(slug)
	} else if to != StateDeactivated && to != StateQuarantined {
		// Holdings survive a crash and are needed to rebuild the graph
		// at the next boot; they are only dropped once released.
		if prev, ok := c.reg.get(slug); ok {
			rec.Libraries = prev.Libraries
		}
	}

	var err error
	if to == StateUninstalled {
		err = c.reg.remove(slug)
	} else {
		err = c.reg.put(slug, rec)
	}
	if err != nil {
		e.state = from
		return err
	}

	c.log.Info("extension %s: %s -> %s", slug, from, to)
	c.bus.emit(Event{Slug: slug, From: from, To: to, At: time.Now().UTC()})
	return nil
}

// Install registers the extension directory named by the slug under the
// extensions root. The manifest must load and validate; nothing else is
// touched.
func (c *Controller) Install(slug string) (*Manifest, error) {
	dir, err := ValidateSlugDir(c.cfg.ExtensionsRoot, slug)
	if err != nil {
		return nil, err
	}
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrControllerClosed
	}

	e, ok := c.entries[slug]
	if !ok {
		e = &entry{state: StateUninstalled}
		c.entries[slug] = e
	}
	e.manifest = m

	if err := c.setState(slug, e, StateInstalled); err != nil {
		if !ok {
			delete(c.entries, slug)
		}
		return nil, err
	}
	return m, nil
}

// RequestActivate runs the security scan and, on a clean result, moves
// the extension to scanned. A failing scan blocks the transition and is
// returned in full.
func (c *Controller) RequestActivate(ctx context.Context, slug string) (scanner.ScanResult, error) {
	c.mu.Lock()
	e, err := c.lookup(slug)
	if err != nil {
		c.mu.Unlock()
		return scanner.ScanResult{}, err
	}
	if e.state == StateQuarantined {
		c.mu.Unlock()
		return scanner.ScanResult{}, fmt.Errorf("%w: %s", ErrQuarantined, slug)
	}
	if err := checkTransition(slug, e.state, StateScanned); err != nil {
		c.mu.Unlock()
		return scanner.ScanResult{}, err
	}
	if e.manifest == nil {
		c.mu.Unlock()
		return scanner.ScanResult{}, fmt.Errorf("%w: %s has no loadable manifest", ErrUnknownExtension, slug)
	}
	entryPath := e.manifest.EntryPath()
	c.mu.Unlock()

	result, err := c.scans.scan(ctx, entryPath)
	if err != nil {
		return result, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.lastScan = result
	e.scanned = true
	if !result.Passed() {
		return result, fmt.Errorf("%w: %d violation(s) in %s", ErrScanFailed, len(result.Violations), slug)
	}
	if err := c.setState(slug, e, StateScanned); err != nil {
		return result, err
	}
	return result, nil
}

// Approve installs the administrator-approved grant. The approved set
// must be a subset of the manifest's declared permissions.
func (c *Controller) Approve(slug string, approved []security.Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(slug)
	if err != nil {
		return err
	}
	if err := checkTransition(slug, e.state, StateApproved); err != nil {
		return err
	}

	grant, err := security.NewGrant(slug, approved, e.manifest.Permissions)
	if err != nil {
		return err
	}
	e.grant = grant
	return c.setState(slug, e, StateApproved)
}

// Activate commits the dependency plan, installs the grant in the gate
// and runs the entry point under the crash guard. A second activation
// for the same slug while one is in flight is rejected, not queued.
func (c *Controller) Activate(ctx context.Context, slug string) error {
	// The guard is the source of truth for the strike threshold; the
	// lifecycle state can lag it when a crash never reached active.
	quarantined, err := c.guard.Quarantined(slug)
	if err != nil {
		return err
	}
	if quarantined {
		return fmt.Errorf("%w: %s", ErrQuarantined, slug)
	}

	c.mu.Lock()
	e, err := c.lookup(slug)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if e.manifest == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s has no loadable manifest", ErrUnknownExtension, slug)
	}
	if e.inFlight {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActivationInFlight, slug)
	}
	if err := checkTransition(slug, e.state, StateActive); err != nil {
		c.mu.Unlock()
		return err
	}
	e.inFlight = true
	manifest, grant := e.manifest, e.grant
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.inFlight = false
		c.mu.Unlock()
	}()

	plan, err := c.graph.PlanActivation(slug, manifest.Dependencies)
	if err != nil {
		return err
	}
	if err := c.graph.Commit(ctx, plan); err != nil {
		return err
	}

	exec, err := c.startRuntime(ctx, manifest, grant)
	if err != nil {
		c.graph.Release(ctx, slug)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.exec = exec
	if err := c.setState(slug, e, StateActive); err != nil {
		c.mu.Unlock()
		exec.Close()
		c.gate.RevokeGrant(slug)
		c.graph.Release(ctx, slug)
		c.mu.Lock()
		e.exec = nil
		return err
	}
	return nil
}

// startRuntime loads and runs the entry point inside a fresh sandbox,
// bracketed by the crash guard. The boot lock is durable before the
// entry point starts and removed before success is reported.
func (c *Controller) startRuntime(ctx context.Context, manifest *Manifest, grant *security.Grant) (*runtime.Executor, error) {
	slug := manifest.Slug

	source, err := os.ReadFile(manifest.EntryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read entry point for %s: %w", slug, err)
	}

	c.gate.SetGrant(slug, grant, manifest.Dir())

	state, err := runtime.NewState(slug, c.gate, c.log)
	if err != nil {
		c.gate.RevokeGrant(slug)
		return nil, err
	}
	exec := runtime.NewExecutor(state, c.log)

	if err := c.guard.BeginLoad(slug); err != nil {
		exec.Close()
		c.gate.RevokeGrant(slug)
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(runtime.WithExtension(ctx, slug), c.cfg.ExecutionTimeout)
	defer cancel()
	err = exec.Do(runCtx, func(s *runtime.State) error {
		if err := s.Load(runCtx, string(source), manifest.Entry); err != nil {
			return err
		}
		if !s.HasFunction("activate") {
			return nil
		}
		return s.CallFunction(runCtx, "activate")
	})

	// The process survived, so this was not a crash; remove the lock in
	// both outcomes to avoid a false strike at the next boot.
	if endErr := c.guard.EndLoad(slug); endErr != nil && err == nil {
		err = endErr
	}

	if err != nil {
		exec.Close()
		c.gate.RevokeGrant(slug)
		return nil, fmt.Errorf("entry point of %s failed: %w", slug, err)
	}
	return exec, nil
}

// Deactivate stops the extension, revokes its grant and releases its
// dependency holdings. Deactivating an already-deactivated extension is
// a no-op, not an error.
func (c *Controller) Deactivate(ctx context.Context, slug string) error {
	c.mu.Lock()
	e, err := c.lookup(slug)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if e.state == StateDeactivated {
		c.mu.Unlock()
		return nil
	}
	if err := checkTransition(slug, e.state, StateDeactivated); err != nil {
		c.mu.Unlock()
		return err
	}
	exec := e.exec
	e.exec = nil
	c.mu.Unlock()

	if exec != nil {
		callCtx, cancel := context.WithTimeout(runtime.WithExtension(ctx, slug), c.cfg.ExecutionTimeout)
		err := exec.Do(callCtx, func(s *runtime.State) error {
			if !s.HasFunction("deactivate") {
				return nil
			}
			return s.CallFunction(callCtx, "deactivate")
		})
		cancel()
		if err != nil && !errors.Is(err, runtime.ErrExecutorClosed) {
			c.log.Warn("deactivate hook of %s failed: %v", slug, err)
		}
		exec.Close()
	}

	c.gate.RevokeGrant(slug)
	c.graph.Release(ctx, slug)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.grant = nil
	return c.setState(slug, e, StateDeactivated)
}

// Uninstall removes the extension from the controller's tracking. The
// extension must not be active.
func (c *Controller) Uninstall(slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(slug)
	if err != nil {
		return err
	}
	if err := c.setState(slug, e, StateUninstalled); err != nil {
		return err
	}
	delete(c.entries, slug)
	return nil
}

// Status reports the extension's lifecycle state, strike history and
// current holdings.
func (c *Controller) Status(slug string) (Status, error) {
	c.mu.Lock()
	e, err := c.lookup(slug)
	if err != nil {
		c.mu.Unlock()
		return Status{}, err
	}
	st := Status{
		Slug:    slug,
		State:   e.state,
		Granted: e.grant.Capabilities(),
	}
	c.mu.Unlock()

	strikes, err := c.guard.Strikes(slug)
	if err != nil {
		return st, err
	}
	lastCrash, err := c.guard.LastCrash(slug)
	if err != nil {
		return st, err
	}
	st.Strikes = strikes
	st.LastCrash = lastCrash
	st.Quarantined = st.State == StateQuarantined
	st.Libraries = c.graph.Holdings(slug)
	st.Denials = c.gate.Denials(slug)
	return st, nil
}

// Manifest returns the extension's loaded manifest.
func (c *Controller) Manifest(slug string) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(slug)
	if err != nil {
		return nil, err
	}
	if e.manifest == nil {
		return nil, fmt.Errorf("%w: %s has no loadable manifest", ErrUnknownExtension, slug)
	}
	return e.manifest, nil
}

// Violations returns the most recent scan result for the extension. A
// zero result means it has not been scanned yet.
func (c *Controller) Violations(slug string) (scanner.ScanResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(slug)
	if err != nil {
		return scanner.ScanResult{}, err
	}
	return e.lastScan, nil
}

// Reset clears the extension's strikes and, if quarantined, returns it
// to installed. Re-approval is required before it can run again.
func (c *Controller) Reset(slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(slug)
	if err != nil {
		return err
	}
	if err := c.guard.Reset(slug); err != nil {
		return err
	}
	if e.state == StateQuarantined {
		e.grant = nil
		return c.setState(slug, e, StateInstalled)
	}
	return nil
}

// ReportFailure attributes a background failure to an extension via the
// crash guard. A strike reaching the quarantine threshold tears the
// extension down immediately.
func (c *Controller) ReportFailure(ctx context.Context, err error) {
	slug, strikes, attrErr := c.guard.AttributeFailure(ctx, err)
	if attrErr != nil {
		c.log.Error("failed to record strike: %v", attrErr)
		return
	}
	if slug == "" || strikes < crashguard.QuarantineThreshold {
		return
	}
	if qErr := c.quarantine(ctx, slug); qErr != nil {
		c.log.Error("failed to quarantine %s: %v", slug, qErr)
	}
}

// quarantine forces a running extension out of service: grant revoked,
// holdings released, state terminal until an administrator reset.
func (c *Controller) quarantine(ctx context.Context, slug string) error {
	c.mu.Lock()
	e, err := c.lookup(slug)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	exec := e.exec
	e.exec = nil
	wasActive := e.state == StateActive
	c.mu.Unlock()

	if exec != nil {
		exec.Close()
	}
	c.gate.RevokeGrant(slug)
	c.graph.Release(ctx, slug)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.grant = security.EmptyGrant(slug)
	if wasActive {
		if err := c.setState(slug, e, StateCrashed); err != nil {
			return err
		}
	}
	return c.setState(slug, e, StateQuarantined)
}

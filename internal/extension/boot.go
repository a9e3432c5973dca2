package extension

import (
	"context"
	"sort"

	"github.com/lodgehost/lodge/internal/extension/security"
)

// Boot runs the startup sequence: inspect the previous boot for
// crashes, quarantine repeat offenders, then re-scan and reload every
// surviving extension that should be running. Quarantined extensions
// are excluded from the load sequence entirely.
func (c *Controller) Boot(ctx context.Context) error {
	reports, err := c.guard.InspectPreviousBoot()
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, report := range reports {
		e, ok := c.entries[report.Slug]
		if !ok {
			continue
		}
		if e.state == StateActive {
			if err := c.setState(report.Slug, e, StateCrashed); err != nil {
				c.log.Error("failed to mark %s crashed: %v", report.Slug, err)
				continue
			}
		}
		if !report.Quarantined || e.state == StateQuarantined {
			continue
		}
		// The threshold binds whatever state the crash left behind; a
		// crash during a first activation leaves the entry approved,
		// never having reached active.
		e.grant = security.EmptyGrant(report.Slug)
		c.gate.RevokeGrant(report.Slug)
		if err := c.setState(report.Slug, e, StateQuarantined); err != nil {
			c.log.Error("failed to quarantine %s: %v", report.Slug, err)
		}
	}

	var slugs []string
	for slug, e := range c.entries {
		if e.state == StateActive || e.state == StateCrashed {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	c.mu.Unlock()

	for _, slug := range slugs {
		c.bootLoad(ctx, slug)
	}
	return nil
}

// bootLoad re-scans and reloads one extension during Boot. A crashed
// extension below the quarantine threshold is retried automatically;
// re-approval is not demanded because its grant was already approved
// and persisted. Any failure leaves the extension out of service with
// the reason logged, never aborts the rest of the boot.
func (c *Controller) bootLoad(ctx context.Context, slug string) {
	c.mu.Lock()
	e, ok := c.entries[slug]
	if !ok {
		c.mu.Unlock()
		return
	}
	retry := e.state == StateCrashed
	manifest, grant := e.manifest, e.grant
	rec, _ := c.reg.get(slug)
	c.mu.Unlock()

	if manifest == nil {
		c.log.Warn("skipping %s: manifest no longer loads", slug)
		c.takeOutOfService(ctx, slug, e, retry)
		return
	}

	// Re-scan on every boot; approval does not survive on-disk tampering.
	result, err := c.scans.scan(ctx, manifest.EntryPath())
	c.mu.Lock()
	e.lastScan = result
	e.scanned = true
	c.mu.Unlock()
	if err != nil {
		c.log.Error("boot scan of %s failed: %v", slug, err)
		c.takeOutOfService(ctx, slug, e, retry)
		return
	}
	if !result.Passed() {
		c.log.Warn("boot scan of %s found %d violation(s), not loading", slug, len(result.Violations))
		c.takeOutOfService(ctx, slug, e, retry)
		return
	}

	if grant == nil {
		// Nothing approved to run under; leave it for the administrator.
		c.log.Warn("no grant for %s, leaving it scanned", slug)
		c.mu.Lock()
		if retry {
			if err := c.setState(slug, e, StateScanned); err != nil {
				c.log.Error("failed to park %s: %v", slug, err)
			}
		}
		c.mu.Unlock()
		if !retry {
			c.takeOutOfService(ctx, slug, e, false)
		}
		return
	}

	if err := c.graph.Restore(slug, manifest.Dependencies, rec.Libraries); err != nil {
		c.log.Error("failed to restore dependency holdings for %s: %v", slug, err)
		c.takeOutOfService(ctx, slug, e, retry)
		return
	}

	exec, err := c.startRuntime(ctx, manifest, grant)
	if err != nil {
		c.log.Error("boot load of %s failed: %v", slug, err)
		c.graph.Release(ctx, slug)
		c.takeOutOfService(ctx, slug, e, retry)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.exec = exec
	if retry {
		for _, to := range []State{StateScanned, StateApproved, StateActive} {
			if err := c.setState(slug, e, to); err != nil {
				c.log.Error("failed to restore %s: %v", slug, err)
				return
			}
		}
	}
	c.log.Info("extension %s loaded", slug)
}

// takeOutOfService parks an extension that cannot be loaded at boot: a
// previously-active one becomes deactivated, a crashed one stays
// crashed awaiting its next retry or reset.
func (c *Controller) takeOutOfService(ctx context.Context, slug string, e *entry, retry bool) {
	c.gate.RevokeGrant(slug)
	c.graph.Release(ctx, slug)

	c.mu.Lock()
	defer c.mu.Unlock()
	if retry {
		return
	}
	if e.state == StateActive {
		if err := c.setState(slug, e, StateDeactivated); err != nil {
			c.log.Error("failed to park %s: %v", slug, err)
		}
	}
}

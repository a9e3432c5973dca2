package crashguard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lodgehost/lodge/internal/host"
)

// QuarantineThreshold is the strike count at which an extension is
// quarantined.
const QuarantineThreshold = 3

// CrashReport describes one extension found mid-load after a crash.
type CrashReport struct {
	// Slug identifies the extension.
	Slug string

	// Strikes is the count after this crash was recorded.
	Strikes int

	// Quarantined reports whether the count reached the threshold.
	Quarantined bool

	// LastCrash is when the interrupted load began.
	LastCrash time.Time
}

// Guard tracks extension load windows and persists crash strikes.
type Guard struct {
	mu      sync.Mutex
	lockDir string
	strikes *strikeStore
	log     *host.Logger
}

// NewGuard creates a guard rooted at the host state directory.
func NewGuard(stateDir string, log *host.Logger) (*Guard, error) {
	if log == nil {
		log = host.NullLogger
	}
	lockDir := filepath.Join(stateDir, "bootlocks")
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create boot lock directory: %w", err)
	}
	return &Guard{
		lockDir: lockDir,
		strikes: newStrikeStore(stateDir),
		log:     log.WithComponent("crashguard"),
	}, nil
}

// BeginLoad marks the start of the extension's load window. The lock is
// durable on disk before this returns.
func (g *Guard) BeginLoad(slug string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return writeLock(g.lockDir, slug)
}

// EndLoad marks the end of the load window.
func (g *Guard) EndLoad(slug string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return removeLock(g.lockDir, slug)
}

// InspectPreviousBoot finds locks left over from the previous run,
// records one strike per offender, clears the locks and reports what it
// found. Run once at startup, before any extension loads.
func (g *Guard) InspectPreviousBoot() ([]CrashReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	names, err := danglingLocks(g.lockDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var reports []CrashReport
	for _, name := range names {
		lock := readLock(g.lockDir, name)

		when := lock.Timestamp
		if when.IsZero() {
			when = time.Now().UTC()
		}
		count, err := g.strikes.add(lock.Slug, when)
		if err != nil {
			return reports, err
		}
		if err := removeLock(g.lockDir, lock.Slug); err != nil {
			return reports, err
		}

		report := CrashReport{
			Slug:        lock.Slug,
			Strikes:     count,
			Quarantined: count >= QuarantineThreshold,
			LastCrash:   when,
		}
		reports = append(reports, report)

		if report.Quarantined {
			g.log.Warn("extension %s crashed during load, strike %d, quarantined", report.Slug, count)
		} else {
			g.log.Warn("extension %s crashed during load, strike %d of %d", report.Slug, count, QuarantineThreshold)
		}
	}
	return reports, nil
}

// Strikes returns the persisted strike count for the slug.
func (g *Guard) Strikes(slug string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strikes.strikes(slug)
}

// LastCrash returns when the slug last earned a strike, zero if never.
func (g *Guard) LastCrash(slug string) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strikes.lastCrash(slug)
}

// Quarantined reports whether the slug's strikes reached the threshold.
func (g *Guard) Quarantined(slug string) (bool, error) {
	count, err := g.Strikes(slug)
	if err != nil {
		return false, err
	}
	return count >= QuarantineThreshold, nil
}

// Reset clears the slug's strikes, releasing it from quarantine. This
// is the operator's explicit escape hatch.
func (g *Guard) Reset(slug string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log.Info("strikes reset for %s", slug)
	return g.strikes.reset(slug)
}

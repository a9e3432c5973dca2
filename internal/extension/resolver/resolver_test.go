package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Masterminds/semver/v3"
)

// fakeInstaller records install/remove calls and serves canned versions.
type fakeInstaller struct {
	mu        sync.Mutex
	versions  map[string]string
	failOn    map[string]bool
	installed []string
	removed   []string
}

func newFakeInstaller(versions map[string]string) *fakeInstaller {
	return &fakeInstaller{versions: versions, failOn: make(map[string]bool)}
}

func (f *fakeInstaller) Install(_ context.Context, library, _ string) (*semver.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[library] {
		return nil, fmt.Errorf("install of %s failed", library)
	}
	raw, ok := f.versions[library]
	if !ok {
		return nil, fmt.Errorf("unknown library %s", library)
	}
	f.installed = append(f.installed, library)
	return semver.MustParse(raw), nil
}

func (f *fakeInstaller) Remove(_ context.Context, library string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, library)
	return nil
}

func activate(t *testing.T, g *Graph, slug string, deps map[string]string) {
	t.Helper()
	plan, err := g.PlanActivation(slug, deps)
	if err != nil {
		t.Fatalf("PlanActivation(%s) error = %v", slug, err)
	}
	if err := g.Commit(context.Background(), plan); err != nil {
		t.Fatalf("Commit(%s) error = %v", slug, err)
	}
}

func TestPlanActivationFreshInstall(t *testing.T) {
	g := NewGraph(newFakeInstaller(map[string]string{"dkjson": "2.8.0"}), nil)

	plan, err := g.PlanActivation("weather", map[string]string{"dkjson": "^2.0.0"})
	if err != nil {
		t.Fatalf("PlanActivation() error = %v", err)
	}
	if len(plan.Install) != 1 || plan.Install[0].Library != "dkjson" {
		t.Errorf("Install = %v, want dkjson", plan.Install)
	}
	if len(plan.Shared) != 0 {
		t.Errorf("Shared = %v, want empty", plan.Shared)
	}
}

func TestCommitRecordsNode(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	snaps := g.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("Snapshot() = %v, want one node", snaps)
	}
	if snaps[0].Library != "dkjson" || snaps[0].Resolved != "2.8.0" {
		t.Errorf("node = %+v, want dkjson 2.8.0", snaps[0])
	}
	if len(snaps[0].RequiredBy) != 1 || snaps[0].RequiredBy[0] != "weather" {
		t.Errorf("RequiredBy = %v, want [weather]", snaps[0].RequiredBy)
	}
}

func TestSharedLibraryBumpsRefCount(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)

	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})
	activate(t, g, "notes", map[string]string{"dkjson": ">=2.5.0"})

	if len(inst.installed) != 1 {
		t.Errorf("installed = %v, want a single install", inst.installed)
	}
	snaps := g.Snapshot()
	if len(snaps[0].RequiredBy) != 2 {
		t.Errorf("RequiredBy = %v, want both slugs", snaps[0].RequiredBy)
	}
}

func TestConflictNamesHolder(t *testing.T) {
	g := NewGraph(newFakeInstaller(map[string]string{"dkjson": "2.8.0"}), nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	_, err := g.PlanActivation("legacy", map[string]string{"dkjson": "^1.0.0"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("PlanActivation() error = %v, want *ConflictError", err)
	}
	if conflict.Library != "dkjson" || conflict.Slug != "legacy" {
		t.Errorf("conflict = %+v, want dkjson/legacy", conflict)
	}
	if conflict.HolderSlug != "weather" || conflict.HolderRng != "^2.0.0" {
		t.Errorf("holder = %s %s, want weather ^2.0.0", conflict.HolderSlug, conflict.HolderRng)
	}
}

func TestConflictLeavesGraphUntouched(t *testing.T) {
	g := NewGraph(newFakeInstaller(map[string]string{"dkjson": "2.8.0"}), nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	if _, err := g.PlanActivation("legacy", map[string]string{"dkjson": "^1.0.0"}); err == nil {
		t.Fatal("PlanActivation() should conflict")
	}

	snaps := g.Snapshot()
	if len(snaps) != 1 || len(snaps[0].RequiredBy) != 1 {
		t.Errorf("Snapshot() = %+v, want weather's single holding unchanged", snaps)
	}
}

func TestInvalidRangeRejected(t *testing.T) {
	g := NewGraph(newFakeInstaller(nil), nil)
	if _, err := g.PlanActivation("bad", map[string]string{"dkjson": "not-a-range"}); err == nil {
		t.Error("PlanActivation() with a malformed range should fail")
	}
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0", "penlight": "1.14.0"})
	inst.failOn["penlight"] = true
	g := NewGraph(inst, nil)

	plan, err := g.PlanActivation("weather", map[string]string{
		"dkjson":   "^2.0.0",
		"penlight": "^1.0.0",
	})
	if err != nil {
		t.Fatalf("PlanActivation() error = %v", err)
	}
	if err := g.Commit(context.Background(), plan); err == nil {
		t.Fatal("Commit() should fail when an install fails")
	}

	// Libraries are sorted, so dkjson installed before penlight failed.
	if len(inst.removed) != 1 || inst.removed[0] != "dkjson" {
		t.Errorf("removed = %v, want the partial install rolled back", inst.removed)
	}
	if len(g.Snapshot()) != 0 {
		t.Errorf("Snapshot() = %v, want empty graph after rollback", g.Snapshot())
	}
}

func TestCommitRejectsPlanStaleAfterConflictingCommit(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)

	// Both plans see an empty graph before either commits.
	planA, err := g.PlanActivation("weather", map[string]string{"dkjson": "^2.0.0"})
	if err != nil {
		t.Fatalf("PlanActivation(weather) error = %v", err)
	}
	planB, err := g.PlanActivation("legacy", map[string]string{"dkjson": "^1.0.0"})
	if err != nil {
		t.Fatalf("PlanActivation(legacy) error = %v", err)
	}

	if err := g.Commit(context.Background(), planA); err != nil {
		t.Fatalf("Commit(weather) error = %v", err)
	}

	err = g.Commit(context.Background(), planB)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Commit(legacy) error = %v, want *ConflictError", err)
	}
	if conflict.HolderSlug != "weather" {
		t.Errorf("HolderSlug = %s, want weather", conflict.HolderSlug)
	}

	snaps := g.Snapshot()
	if len(snaps) != 1 || len(snaps[0].RequiredBy) != 1 || snaps[0].RequiredBy[0] != "weather" {
		t.Errorf("Snapshot() = %+v, want weather's holding intact", snaps)
	}
	// dkjson is still held by weather, so legacy's redundant install must
	// not be rolled back out from under it.
	if len(inst.removed) != 0 {
		t.Errorf("removed = %v, want nothing", inst.removed)
	}
}

func TestCommitFoldsConcurrentCompatibleInstall(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)

	planA, err := g.PlanActivation("weather", map[string]string{"dkjson": "^2.0.0"})
	if err != nil {
		t.Fatalf("PlanActivation(weather) error = %v", err)
	}
	planB, err := g.PlanActivation("notes", map[string]string{"dkjson": ">=2.5.0"})
	if err != nil {
		t.Fatalf("PlanActivation(notes) error = %v", err)
	}

	if err := g.Commit(context.Background(), planA); err != nil {
		t.Fatalf("Commit(weather) error = %v", err)
	}
	if err := g.Commit(context.Background(), planB); err != nil {
		t.Fatalf("Commit(notes) error = %v", err)
	}

	snaps := g.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("Snapshot() = %+v, want a single dkjson node", snaps)
	}
	if got := snaps[0].RequiredBy; len(got) != 2 || got[0] != "notes" || got[1] != "weather" {
		t.Errorf("RequiredBy = %v, want [notes weather]", got)
	}
}

func TestCommitFailsWhenSharedNodeReleased(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	plan, err := g.PlanActivation("notes", map[string]string{"dkjson": ">=2.5.0"})
	if err != nil {
		t.Fatalf("PlanActivation(notes) error = %v", err)
	}

	g.Release(context.Background(), "weather")

	err = g.Commit(context.Background(), plan)
	if !errors.Is(err, ErrStalePlan) {
		t.Fatalf("Commit() error = %v, want ErrStalePlan", err)
	}
	if len(g.Snapshot()) != 0 {
		t.Errorf("Snapshot() = %v, want empty graph", g.Snapshot())
	}
}

func TestReleaseUninstallsOrphans(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)

	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})
	activate(t, g, "notes", map[string]string{"dkjson": ">=2.5.0"})

	g.Release(context.Background(), "weather")
	if len(inst.removed) != 0 {
		t.Errorf("removed = %v, want nothing while notes still holds dkjson", inst.removed)
	}

	g.Release(context.Background(), "notes")
	if len(inst.removed) != 1 || inst.removed[0] != "dkjson" {
		t.Errorf("removed = %v, want dkjson once unused", inst.removed)
	}
	if len(g.Snapshot()) != 0 {
		t.Errorf("Snapshot() = %v, want empty graph", g.Snapshot())
	}
}

func TestReleaseUnknownSlugIsNoop(t *testing.T) {
	inst := newFakeInstaller(map[string]string{"dkjson": "2.8.0"})
	g := NewGraph(inst, nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	g.Release(context.Background(), "ghost")
	g.Release(context.Background(), "ghost")

	if len(inst.removed) != 0 {
		t.Errorf("removed = %v, want nothing", inst.removed)
	}
	if len(g.Snapshot()) != 1 {
		t.Errorf("Snapshot() = %v, want weather's node intact", g.Snapshot())
	}
}

func TestRestoreRebuildsGraph(t *testing.T) {
	inst := newFakeInstaller(nil)
	g := NewGraph(inst, nil)

	err := g.Restore("weather", map[string]string{"dkjson": "^2.0.0"}, map[string]string{"dkjson": "2.8.0"})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(inst.installed) != 0 {
		t.Errorf("installed = %v, want no package-manager calls", inst.installed)
	}

	// A second extension with a compatible range shares the restored node.
	plan, err := g.PlanActivation("notes", map[string]string{"dkjson": ">=2.5.0"})
	if err != nil {
		t.Fatalf("PlanActivation() error = %v", err)
	}
	if len(plan.Install) != 0 {
		t.Errorf("Install = %v, want shared node reuse", plan.Install)
	}

	// An incompatible range conflicts against the restored holder.
	_, err = g.PlanActivation("legacy", map[string]string{"dkjson": "^1.0.0"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("PlanActivation() error = %v, want *ConflictError", err)
	}
	if conflict.HolderSlug != "weather" {
		t.Errorf("HolderSlug = %s, want weather", conflict.HolderSlug)
	}
}

func TestRestoreMissingVersionFails(t *testing.T) {
	g := NewGraph(newFakeInstaller(nil), nil)
	err := g.Restore("weather", map[string]string{"dkjson": "^2.0.0"}, nil)
	if err == nil {
		t.Error("Restore() without a recorded version should fail")
	}
}

func TestHoldings(t *testing.T) {
	g := NewGraph(newFakeInstaller(map[string]string{"dkjson": "2.8.0"}), nil)
	activate(t, g, "weather", map[string]string{"dkjson": "^2.0.0"})

	held := g.Holdings("weather")
	if held["dkjson"] != "2.8.0" {
		t.Errorf("Holdings() = %v, want dkjson 2.8.0", held)
	}
	if len(g.Holdings("ghost")) != 0 {
		t.Errorf("Holdings(ghost) = %v, want empty", g.Holdings("ghost"))
	}
}

func TestParseInstalledVersion(t *testing.T) {
	out := "Installing https://luarocks.org/dkjson-2.8-1.src.rock\ndkjson 2.8-1 is now installed in /usr/local (license: MIT)\n"
	v, err := parseInstalledVersion("dkjson", out)
	if err != nil {
		t.Fatalf("parseInstalledVersion() error = %v", err)
	}
	if v.String() != "2.8.0" {
		t.Errorf("version = %s, want 2.8.0", v)
	}

	if _, err := parseInstalledVersion("penlight", out); err == nil {
		t.Error("parseInstalledVersion() for an absent library should fail")
	}
}

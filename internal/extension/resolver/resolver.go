package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/lodgehost/lodge/internal/host"
)

// Graph is the reference-counted library graph shared by all extensions.
// Planning, committing and releasing are serialized by a single mutex;
// the package-manager side effects in Commit run outside it so a slow
// install does not block status queries.
type Graph struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	installer Installer
	log       *host.Logger
}

// NewGraph creates an empty graph backed by the given installer.
func NewGraph(installer Installer, log *host.Logger) *Graph {
	if log == nil {
		log = host.NullLogger
	}
	return &Graph{
		nodes:     make(map[string]*Node),
		installer: installer,
		log:       log.WithComponent("resolver"),
	}
}

// PlanActivation checks the extension's declared ranges against the
// current graph. Every range is validated and checked before anything is
// scheduled, so a single bad range rejects the whole activation and the
// returned plan never partially applies. The error for an incompatible
// range is a *ConflictError naming the holder.
func (g *Graph) PlanActivation(slug string, deps map[string]string) (*Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	plan := &Plan{Slug: slug, Shared: make(map[string]string)}

	libs := make([]string, 0, len(deps))
	for lib := range deps {
		libs = append(libs, lib)
	}
	sort.Strings(libs)

	for _, lib := range libs {
		rng := deps[lib]
		constraint, err := semver.NewConstraint(rng)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q for library %q: %w", rng, lib, err)
		}

		node, ok := g.nodes[lib]
		if !ok {
			plan.Install = append(plan.Install, Requirement{Library: lib, Range: rng})
			continue
		}

		if !constraint.Check(node.Resolved) {
			holder, holderRng := g.holderOf(node, slug)
			return nil, &ConflictError{
				Library:    lib,
				Slug:       slug,
				Range:      rng,
				Resolved:   node.Resolved,
				HolderSlug: holder,
				HolderRng:  holderRng,
			}
		}
		plan.Shared[lib] = rng
	}

	return plan, nil
}

// holderOf picks a representative extension already holding the node,
// preferring any slug other than the requester. Callers hold g.mu.
func (g *Graph) holderOf(node *Node, requester string) (string, string) {
	for _, slug := range node.RequiredBy() {
		if slug != requester {
			return slug, node.requiredBy[slug]
		}
	}
	for _, slug := range node.RequiredBy() {
		return slug, node.requiredBy[slug]
	}
	return "", ""
}

// Commit applies a plan: installs every missing library, then re-checks
// the plan against the graph under the lock before recording anything.
// The graph may have moved between planning and here; a concurrent
// commit can add or release nodes. A library the plan wanted to install
// that now exists is folded into the existing node when its range still
// holds, and a plan the current graph cannot satisfy is rejected whole
// with its installs rolled back. Reference counts are only touched
// after every side effect succeeded.
func (g *Graph) Commit(ctx context.Context, plan *Plan) error {
	installed := make(map[string]*semver.Version, len(plan.Install))

	for _, req := range plan.Install {
		version, err := g.installer.Install(ctx, req.Library, req.Range)
		if err != nil {
			g.rollback(ctx, g.removable(installed))
			return fmt.Errorf("failed to install %q (%s) for %s: %w", req.Library, req.Range, plan.Slug, err)
		}
		installed[req.Library] = version
	}

	g.mu.Lock()
	err := g.apply(plan, installed)
	g.mu.Unlock()
	if err != nil {
		g.rollback(ctx, g.removable(installed))
		return err
	}
	return nil
}

// apply validates the plan against the current graph and records the
// extension's holdings. Validation runs in full before any mutation, so
// a rejected plan leaves the graph untouched. Callers hold g.mu.
func (g *Graph) apply(plan *Plan, installed map[string]*semver.Version) error {
	for _, req := range plan.Install {
		node, ok := g.nodes[req.Library]
		if !ok {
			continue
		}
		if err := g.checkNode(plan.Slug, node, req.Range); err != nil {
			return err
		}
	}
	for lib, rng := range plan.Shared {
		node, ok := g.nodes[lib]
		if !ok {
			return fmt.Errorf("%w for %s: library %q was released since planning", ErrStalePlan, plan.Slug, lib)
		}
		if err := g.checkNode(plan.Slug, node, rng); err != nil {
			return err
		}
	}

	for _, req := range plan.Install {
		if node, ok := g.nodes[req.Library]; ok {
			node.requiredBy[plan.Slug] = req.Range
			continue
		}
		g.nodes[req.Library] = &Node{
			Library:    req.Library,
			Resolved:   installed[req.Library],
			requiredBy: map[string]string{plan.Slug: req.Range},
		}
		g.log.Info("installed library %s %s for %s", req.Library, installed[req.Library], plan.Slug)
	}
	for lib, rng := range plan.Shared {
		g.nodes[lib].requiredBy[plan.Slug] = rng
	}
	return nil
}

// checkNode verifies a range against the node's resolved version,
// returning a *ConflictError naming a holder when it does not hold.
// Callers hold g.mu.
func (g *Graph) checkNode(slug string, node *Node, rng string) error {
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return fmt.Errorf("invalid range %q for library %q: %w", rng, node.Library, err)
	}
	if !constraint.Check(node.Resolved) {
		holder, holderRng := g.holderOf(node, slug)
		return &ConflictError{
			Library:    node.Library,
			Slug:       slug,
			Range:      rng,
			Resolved:   node.Resolved,
			HolderSlug: holder,
			HolderRng:  holderRng,
		}
	}
	return nil
}

// removable returns the libraries installed for a failed plan that no
// extension holds. A library another commit recorded in the meantime is
// excluded; removing it would break its holder.
func (g *Graph) removable(installed map[string]*semver.Version) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var libs []string
	for lib := range installed {
		if _, ok := g.nodes[lib]; !ok {
			libs = append(libs, lib)
		}
	}
	sort.Strings(libs)
	return libs
}

// rollback removes libraries installed for a failed plan. Failures here
// are logged and swallowed; the graph never recorded the nodes.
func (g *Graph) rollback(ctx context.Context, libs []string) {
	for _, lib := range libs {
		if err := g.installer.Remove(ctx, lib); err != nil {
			g.log.Warn("rollback of %q failed: %v", lib, err)
		}
	}
}

// Release drops the extension from every node it holds. Nodes whose
// reference count reaches zero are removed from the graph and their
// libraries uninstalled best-effort: a failed uninstall leaves a stale
// but harmless library behind and is only logged. Releasing a slug with
// no holdings is a no-op, which makes deactivation idempotent.
func (g *Graph) Release(ctx context.Context, slug string) {
	g.mu.Lock()
	var orphaned []string
	for lib, node := range g.nodes {
		if _, ok := node.requiredBy[slug]; !ok {
			continue
		}
		delete(node.requiredBy, slug)
		if len(node.requiredBy) == 0 {
			delete(g.nodes, lib)
			orphaned = append(orphaned, lib)
		}
	}
	g.mu.Unlock()

	sort.Strings(orphaned)
	for _, lib := range orphaned {
		if err := g.installer.Remove(ctx, lib); err != nil {
			g.log.Warn("uninstall of unused library %q failed: %v", lib, err)
			continue
		}
		g.log.Info("uninstalled unused library %s", lib)
	}
}

// Restore re-registers an extension's holdings without package-manager
// side effects. It is used at boot to rebuild the graph from persisted
// state; the libraries are assumed present from the previous run.
func (g *Graph) Restore(slug string, deps map[string]string, versions map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for lib, rng := range deps {
		node, ok := g.nodes[lib]
		if !ok {
			raw, found := versions[lib]
			if !found {
				return fmt.Errorf("no recorded version for library %q held by %s", lib, slug)
			}
			version, err := semver.NewVersion(raw)
			if err != nil {
				return fmt.Errorf("invalid recorded version %q for library %q: %w", raw, lib, err)
			}
			node = &Node{
				Library:    lib,
				Resolved:   version,
				requiredBy: make(map[string]string),
			}
			g.nodes[lib] = node
		}
		node.requiredBy[slug] = rng
	}
	return nil
}

// Holdings returns the libraries the extension currently holds and the
// versions they resolved to.
func (g *Graph) Holdings(slug string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	held := make(map[string]string)
	for lib, node := range g.nodes {
		if _, ok := node.requiredBy[slug]; ok {
			held[lib] = node.Resolved.String()
		}
	}
	return held
}

// Snapshot returns a copy of every node for status reporting, sorted by
// library name.
func (g *Graph) Snapshot() []NodeSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snaps := make([]NodeSnapshot, 0, len(g.nodes))
	for _, node := range g.nodes {
		snaps = append(snaps, NodeSnapshot{
			Library:    node.Library,
			Resolved:   node.Resolved.String(),
			RequiredBy: node.RequiredBy(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Library < snaps[j].Library })
	return snaps
}

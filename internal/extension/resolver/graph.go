package resolver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ErrStalePlan reports a plan computed against a graph that has since
// changed in a way the commit cannot reconcile. The caller may re-plan.
var ErrStalePlan = errors.New("stale dependency plan")

// Node is one entry in the shared dependency graph: an installed library,
// the version it resolved to, and the extensions that require it.
type Node struct {
	// Library is the package-manager name of the library.
	Library string

	// Resolved is the installed version.
	Resolved *semver.Version

	// requiredBy maps extension slug to the range it declared.
	requiredBy map[string]string
}

// RefCount returns the number of extensions requiring the library.
func (n *Node) RefCount() int {
	return len(n.requiredBy)
}

// RequiredBy returns the slugs requiring the library, sorted.
func (n *Node) RequiredBy() []string {
	slugs := make([]string, 0, len(n.requiredBy))
	for slug := range n.requiredBy {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// ConflictError reports that an extension's declared range is not
// satisfied by the version another extension already pinned. Both parties
// and both requirements are named so the failure is actionable.
type ConflictError struct {
	Library    string
	Slug       string
	Range      string
	Resolved   *semver.Version
	HolderSlug string
	HolderRng  string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("dependency conflict on %q: %s requires %s but %s already pinned %s (range %s)",
		e.Library, e.Slug, e.Range, e.HolderSlug, e.Resolved, e.HolderRng)
}

// NodeSnapshot is a read-only copy of a node for introspection.
type NodeSnapshot struct {
	Library    string
	Resolved   string
	RequiredBy []string
}

// Requirement is one library a plan schedules for install.
type Requirement struct {
	// Library is the package-manager name.
	Library string

	// Range is the declaring extension's semver range.
	Range string
}

// Plan is the outcome of planning an activation: libraries to install
// fresh and libraries already present whose version satisfies the range.
type Plan struct {
	// Slug is the extension the plan was computed for.
	Slug string

	// Install lists libraries with no existing node.
	Install []Requirement

	// Shared maps already-installed libraries to the range the extension
	// declared for them; commit only bumps their reference counts.
	Shared map[string]string
}

package security

import (
	"fmt"
	"strings"
)

// Grant is the administrator-approved capability set enforced for one
// extension instance. It is created at activation, consulted on every
// sensitive call, and destroyed at deactivation. A Grant is immutable
// after construction.
type Grant struct {
	slug string
	caps map[string]Capability
}

// NewGrant creates a grant for the extension. The approved set must be a
// subset of the capabilities the manifest declared; any approved pair not
// present in declared is rejected.
func NewGrant(slug string, approved, declared []Capability) (*Grant, error) {
	declaredSet := make(map[string]bool, len(declared))
	for _, c := range declared {
		declaredSet[c.String()] = true
	}

	var exceeding []string
	caps := make(map[string]Capability, len(approved))
	for _, c := range approved {
		if !c.IsValid() {
			return nil, fmt.Errorf("grant for %q: invalid capability %s", slug, c)
		}
		if !declaredSet[c.String()] {
			exceeding = append(exceeding, c.String())
			continue
		}
		caps[c.String()] = c
	}
	if len(exceeding) > 0 {
		return nil, fmt.Errorf("grant for %q exceeds manifest declaration: %s", slug, strings.Join(exceeding, ", "))
	}

	return &Grant{slug: slug, caps: caps}, nil
}

// EmptyGrant returns a grant with no capabilities. Used for quarantined
// extensions, whose grant is revoked but whose identity is still tracked.
func EmptyGrant(slug string) *Grant {
	return &Grant{slug: slug, caps: map[string]Capability{}}
}

// Slug returns the extension the grant belongs to.
func (g *Grant) Slug() string {
	return g.slug
}

// Allows returns true if the grant contains the scope/access pair.
func (g *Grant) Allows(scope Scope, access Access) bool {
	if g == nil {
		return false
	}
	_, ok := g.caps[string(scope)+":"+string(access)]
	return ok
}

// Check returns a PermissionDeniedError if the scope/access pair is not
// granted, nil otherwise.
func (g *Grant) Check(scope Scope, access Access, op string) error {
	if g.Allows(scope, access) {
		return nil
	}
	slug := ""
	if g != nil {
		slug = g.slug
	}
	return NewPermissionDenied(slug, scope, access, op)
}

// Capabilities returns the granted capabilities in canonical order.
func (g *Grant) Capabilities() []Capability {
	if g == nil {
		return nil
	}
	caps := make([]Capability, 0, len(g.caps))
	for _, c := range g.caps {
		caps = append(caps, c)
	}
	return Normalize(caps)
}

// IsEmpty returns true if the grant holds no capabilities.
func (g *Grant) IsEmpty() bool {
	return g == nil || len(g.caps) == 0
}

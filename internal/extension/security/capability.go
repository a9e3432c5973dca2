// Package security provides the capability model for the extension system.
//
// A Capability is a {scope, access} pair an extension may request in its
// manifest. A Grant is the administrator-approved subset of those requests
// that is actually enforced at runtime; a grant can only narrow, never
// widen, what the manifest declared.
package security

import (
	"fmt"
	"sort"
)

// Scope identifies a protected resource class.
type Scope string

// Recognized scopes.
const (
	// ScopeStorage covers the structured-record store.
	ScopeStorage Scope = "storage"

	// ScopeConfiguration covers the settings store and environment reads.
	ScopeConfiguration Scope = "configuration"

	// ScopeFilesystem covers file reads and writes outside the
	// extension's own directory.
	ScopeFilesystem Scope = "filesystem"

	// ScopeProcess covers spawning external processes.
	ScopeProcess Scope = "process-control"

	// ScopeNetwork covers outbound network access.
	ScopeNetwork Scope = "network"

	// ScopeNotification covers sending host notifications.
	ScopeNotification Scope = "notification"
)

// Access is the level of access requested within a scope.
type Access string

// Recognized access levels.
const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
	AccessAdmin Access = "admin"
	AccessSend  Access = "send"
)

// Capability is a single requested permission: a scope, an access level,
// and the extension author's stated justification.
type Capability struct {
	Scope  Scope  `json:"scope"`
	Access Access `json:"access"`
	Reason string `json:"reason,omitempty"`
}

// String returns the canonical "scope:access" form.
func (c Capability) String() string {
	return string(c.Scope) + ":" + string(c.Access)
}

// RiskLevel indicates the security risk of a capability.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh

	// RiskCritical indicates maximum security risk.
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// scopeInfo describes the access levels a scope accepts and their risk.
type scopeInfo struct {
	accesses map[Access]RiskLevel
}

// scopeRegistry holds the recognized scope/access combinations.
var scopeRegistry = map[Scope]scopeInfo{
	ScopeStorage: {accesses: map[Access]RiskLevel{
		AccessRead:  RiskLow,
		AccessWrite: RiskMedium,
		AccessAdmin: RiskHigh,
	}},
	ScopeConfiguration: {accesses: map[Access]RiskLevel{
		AccessRead:  RiskLow,
		AccessWrite: RiskMedium,
	}},
	ScopeFilesystem: {accesses: map[Access]RiskLevel{
		AccessRead:  RiskMedium,
		AccessWrite: RiskHigh,
	}},
	ScopeProcess: {accesses: map[Access]RiskLevel{
		AccessAdmin: RiskCritical,
	}},
	ScopeNetwork: {accesses: map[Access]RiskLevel{
		AccessAdmin: RiskHigh,
	}},
	ScopeNotification: {accesses: map[Access]RiskLevel{
		AccessSend: RiskLow,
	}},
}

// IsValid returns true if the scope/access pair is recognized.
func (c Capability) IsValid() bool {
	info, ok := scopeRegistry[c.Scope]
	if !ok {
		return false
	}
	_, ok = info.accesses[c.Access]
	return ok
}

// Risk returns the risk level of the capability.
// Unrecognized capabilities report RiskCritical.
func (c Capability) Risk() RiskLevel {
	info, ok := scopeRegistry[c.Scope]
	if !ok {
		return RiskCritical
	}
	risk, ok := info.accesses[c.Access]
	if !ok {
		return RiskCritical
	}
	return risk
}

// Normalize returns the capabilities sorted by scope then access, with
// duplicates removed. Manifest loading uses this so that grant comparison
// is deterministic regardless of declaration order.
func Normalize(caps []Capability) []Capability {
	seen := make(map[string]bool, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		key := c.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Access < out[j].Access
	})
	return out
}

// PermissionDeniedError is returned when a runtime capability check fails.
// It is raised to the offending extension's own code and never propagates
// into host code as an unhandled failure.
type PermissionDeniedError struct {
	Slug   string
	Scope  Scope
	Access Access
	Op     string
}

// Error implements the error interface.
func (e *PermissionDeniedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("permission denied: extension %q lacks %s:%s for %s", e.Slug, e.Scope, e.Access, e.Op)
	}
	return fmt.Sprintf("permission denied: extension %q lacks %s:%s", e.Slug, e.Scope, e.Access)
}

// NewPermissionDenied creates a PermissionDeniedError.
func NewPermissionDenied(slug string, scope Scope, access Access, op string) *PermissionDeniedError {
	return &PermissionDeniedError{Slug: slug, Scope: scope, Access: access, Op: op}
}

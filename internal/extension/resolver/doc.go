// Package resolver manages the shared library dependency graph across
// extensions.
//
// Each extension declares external libraries with semver ranges. The
// resolver keeps one reference-counted node per installed library and
// decides, before an extension activates, whether its ranges are
// compatible with what every other active extension already pinned. An
// incompatible range blocks activation with an explicit conflict naming
// both parties; no compromise version is ever picked automatically.
//
// Library install and uninstall are external package-manager side effects
// behind the Installer interface. Install is all-or-nothing: a failure
// rolls back everything installed for the plan and leaves reference
// counts untouched. Uninstall on deactivation is best-effort: a stale
// unused library is not a security issue and is only logged.
package resolver

// Package crashguard detects extensions that crashed the host and
// quarantines repeat offenders.
//
// Before an extension's entry point runs, a boot lock file is written
// and flushed to disk; after the entry point returns, the lock is
// removed. A lock still present at the next boot means that extension
// was mid-load when the process died, so it earns a strike. Strikes are
// persisted across boots, and an extension reaching the threshold is
// quarantined until an operator resets it.
//
// Attribution is deliberately conservative: a strike is charged only
// when the origin is certain, either a crash during an extension's own
// load window or a background failure whose context or error chain
// names the extension. Anything else charges no one.
package crashguard

// Package extension manages the lifecycle of third-party Lua extensions.
//
// It owns the manifest format, the lifecycle state machine and the
// Controller that sequences the subsystem packages: the static scanner,
// the dependency resolver, the crash guard, the capability gate and the
// sandboxed runtime. The Controller is the only surface external
// callers (CLI, admin layer) talk to; all state changes go through its
// committed transitions and are persisted so a restart resumes where
// the previous process left off.
package extension

// Package runtime executes extension code inside a restricted Lua
// interpreter.
//
// Each active extension owns one interpreter state built with only the
// safe standard libraries. The os table is replaced by a filtered copy,
// require is replaced by an interception table that serves only the
// host module and allow-listed stdlib names, and every privileged
// operation is a host function that calls through the capability gate.
// The sandbox assumes the static scanner already rejected overtly
// hostile sources; it is the second, dynamic line of defense.
//
// A Lua state is not safe for concurrent use, so all calls into one
// extension are serialized by its Executor. Failures in extension code
// are wrapped in ExtensionError and never crash the host.
package runtime

// Package scanner statically analyzes extension Lua source before it is
// allowed to run.
//
// Source is parsed with gopher-lua's parser and every node of the syntax
// tree is walked against a fixed ruleset:
//
//   - dynamic-exec: calls to or aliases of load/loadstring/dofile/loadfile,
//     os.execute and io.popen, however the callee is spelled
//   - sensitive-global: reads or writes of os, io, debug, package and _G,
//     except an allow-list of safe members (os.time, os.date, os.clock,
//     os.difftime)
//   - module-escape: require() of a deny-listed module, or a require whose
//     argument cannot be statically determined
//   - obfuscated-access: computed member access whose key is built from
//     string concatenation or string.char and folds to a banned name
//
// Violations are accumulated across the whole tree; a single violation
// anywhere fails the scan. The ruleset is a pure function of the node and
// carries no parser state, so rules can be tested in isolation.
//
// Scanning is repeated for every active extension at every process boot,
// not only at first activation, to detect on-disk tampering after approval.
package scanner

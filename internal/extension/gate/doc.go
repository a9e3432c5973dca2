// Package gate enforces granted capabilities at runtime.
//
// Every sensitive host resource an extension can touch goes through the
// gate: environment reads, the settings store, the record store, file
// access, process spawning, outbound HTTP and notifications. Each call
// names the calling extension, and the gate checks the corresponding
// scope and access level against that extension's grant. A denied call
// fails in the resource's own vocabulary: an environment read behaves
// like an unset variable, everything else returns a permission error
// that surfaces inside the extension, never as a host failure.
//
// Denials are also recorded per extension so operators can see what an
// extension attempted without being granted.
package gate

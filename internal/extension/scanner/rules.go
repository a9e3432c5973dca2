package scanner

// dynamicExecGlobals are bare functions that evaluate strings as code or
// load code from disk. Referencing one at all is a violation: aliasing
// (local f = load) is as dangerous as calling it.
var dynamicExecGlobals = map[string]bool{
	"load":       true,
	"loadstring": true,
	"dofile":     true,
	"loadfile":   true,
}

// sensitiveGlobals are process-wide tables whose members reach the
// environment, the module system or process control.
var sensitiveGlobals = map[string]bool{
	"os":      true,
	"io":      true,
	"debug":   true,
	"package": true,
	"_G":      true,
}

// safeMembers allow-lists members of sensitive globals that carry no
// escape risk. Note os.getenv is deliberately absent: environment reads
// must go through the capability-checked host API.
var safeMembers = map[string]map[string]bool{
	"os": {
		"time":     true,
		"date":     true,
		"clock":    true,
		"difftime": true,
	},
}

// dynamicExecMembers are member functions that spawn processes or
// evaluate code; they get the sharper dynamic-exec rule rather than the
// generic sensitive-global one.
var dynamicExecMembers = map[string]map[string]bool{
	"os": {"execute": true},
	"io": {"popen": true},
}

// denyModules is the fixed require() deny-list: raw process control, raw
// filesystem and raw networking. The runtime enforcer rejects these too;
// catching them here gives a better error and avoids ever constructing a
// sandbox for hostile code.
var denyModules = map[string]bool{
	"os":      true,
	"io":      true,
	"debug":   true,
	"package": true,
	"socket":  true,
	"posix":   true,
}

// bannedMemberNames are member names that indicate an escape attempt when
// produced by a computed key on any object, not just a known sensitive
// global (the object may be an alias the folder cannot see through).
var bannedMemberNames = map[string]bool{
	"execute":    true,
	"popen":      true,
	"load":       true,
	"loadstring": true,
	"dofile":     true,
	"loadfile":   true,
	"exit":       true,
	"setenv":     true,
	"getenv":     true,
}

// isSafeMember reports whether the member of the sensitive global is
// allow-listed.
func isSafeMember(global, member string) bool {
	return safeMembers[global][member]
}

// isDynamicExecMember reports whether global.member is an execution
// primitive.
func isDynamicExecMember(global, member string) bool {
	return dynamicExecMembers[global][member]
}

package runtime

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibs are the standard libraries opened into a sandbox. Everything
// else, notably io, os and debug, stays out.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// strippedGlobals are globals removed after opening the libraries:
// dynamic code loading and the stock module machinery. The package
// library is opened only because the other loaders expect it to be
// registered first; none of its surface is left reachable.
var strippedGlobals = []string{
	"load",
	"loadstring",
	"dofile",
	"loadfile",
	"require",
	"module",
	"package",
	"collectgarbage",
}

// safeOsMembers are the members carried over into the filtered os
// table. getenv is not among them; it is reinstalled as a gated host
// function.
var safeOsMembers = []string{"time", "date", "clock", "difftime"}

// allowedModules maps require() names to the global table that backs
// them. The host module "lodge" is handled separately via preload.
var allowedModules = map[string]string{
	"string": "string",
	"table":  "table",
	"math":   "math",
}

// newSandboxedState builds an interpreter with only the safe libraries,
// a filtered os table and an intercepted require.
func (s *State) newSandboxedState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range safeLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	// The os library is opened only to copy its safe members out; the
	// global is then replaced wholesale.
	if err := L.CallByParam(lua.P{
		Fn:      L.NewFunction(lua.OpenOs),
		NRet:    0,
		Protect: true,
	}, lua.LString(lua.OsLibName)); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to open os library: %w", err)
	}
	fullOs, ok := L.GetGlobal("os").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("os library did not register a table")
	}
	filtered := L.NewTable()
	for _, name := range safeOsMembers {
		filtered.RawSetString(name, fullOs.RawGetString(name))
	}
	filtered.RawSetString("getenv", L.NewFunction(s.luaGetenv))
	L.SetGlobal("os", filtered)

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("require", L.NewFunction(s.luaRequire))

	return L, nil
}

// luaRequire serves only the host module and allow-listed stdlib names.
// Anything else raises inside the extension.
func (s *State) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)

	if name == hostModuleName {
		L.Push(s.hostModule(L))
		return 1
	}
	if global, ok := allowedModules[name]; ok {
		L.Push(L.GetGlobal(global))
		return 1
	}

	L.RaiseError("module %q is not available to extensions", name)
	return 0
}

package runtime

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

// hostModuleName is the module extensions require() to reach the host.
const hostModuleName = "lodge"

// hostModule builds (once) the table served for require("lodge").
func (s *State) hostModule(L *lua.LState) *lua.LTable {
	if s.module != nil {
		return s.module
	}

	module := L.NewTable()

	logTable := L.NewTable()
	logTable.RawSetString("debug", L.NewFunction(s.luaLog(s.log.Debug)))
	logTable.RawSetString("info", L.NewFunction(s.luaLog(s.log.Info)))
	logTable.RawSetString("warn", L.NewFunction(s.luaLog(s.log.Warn)))
	logTable.RawSetString("error", L.NewFunction(s.luaLog(s.log.Error)))
	module.RawSetString("log", logTable)

	settings := L.NewTable()
	settings.RawSetString("get", L.NewFunction(s.luaSettingGet))
	settings.RawSetString("set", L.NewFunction(s.luaSettingSet))
	settings.RawSetString("keys", L.NewFunction(s.luaSettingKeys))
	module.RawSetString("settings", settings)

	records := L.NewTable()
	records.RawSetString("get", L.NewFunction(s.luaRecordGet))
	records.RawSetString("put", L.NewFunction(s.luaRecordPut))
	records.RawSetString("delete", L.NewFunction(s.luaRecordDelete))
	records.RawSetString("keys", L.NewFunction(s.luaRecordKeys))
	module.RawSetString("records", records)

	fs := L.NewTable()
	fs.RawSetString("read", L.NewFunction(s.luaFileRead))
	fs.RawSetString("write", L.NewFunction(s.luaFileWrite))
	module.RawSetString("fs", fs)

	httpTable := L.NewTable()
	httpTable.RawSetString("get", L.NewFunction(s.luaFetch))
	module.RawSetString("http", httpTable)

	module.RawSetString("spawn", L.NewFunction(s.luaSpawn))
	module.RawSetString("notify", L.NewFunction(s.luaNotify))

	s.module = module
	return module
}

// luaLog adapts one leveled log method. The extension's slug is already
// a field on the logger.
func (s *State) luaLog(emit func(string, ...any)) lua.LGFunction {
	return func(L *lua.LState) int {
		emit("%s", L.CheckString(1))
		return 0
	}
}

// luaGetenv backs the filtered os.getenv. A denied or unset variable is
// nil either way.
func (s *State) luaGetenv(L *lua.LState) int {
	value, ok := s.gate.Getenv(s.slug, L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (s *State) luaSettingGet(L *lua.LState) int {
	value, ok, err := s.gate.GetSetting(s.slug, L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (s *State) luaSettingSet(L *lua.LState) int {
	if err := s.gate.SetSetting(s.slug, L.CheckString(1), L.CheckString(2)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *State) luaSettingKeys(L *lua.LState) int {
	keys, err := s.gate.SettingKeys(s.slug)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(stringsToTable(L, keys))
	return 1
}

func (s *State) luaRecordGet(L *lua.LState) int {
	value, ok, err := s.gate.GetRecord(s.slug, L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (s *State) luaRecordPut(L *lua.LState) int {
	if err := s.gate.PutRecord(s.slug, L.CheckString(1), L.CheckString(2)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *State) luaRecordDelete(L *lua.LState) int {
	if err := s.gate.DeleteRecord(s.slug, L.CheckString(1)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *State) luaRecordKeys(L *lua.LState) int {
	keys, err := s.gate.RecordKeys(s.slug)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(stringsToTable(L, keys))
	return 1
}

func (s *State) luaFileRead(L *lua.LState) int {
	data, err := s.gate.ReadFile(s.slug, L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func (s *State) luaFileWrite(L *lua.LState) int {
	if err := s.gate.WriteFile(s.slug, L.CheckString(1), []byte(L.CheckString(2))); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *State) luaFetch(L *lua.LState) int {
	body, err := s.gate.Fetch(s.callContext(L), s.slug, L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(body))
	return 1
}

func (s *State) luaSpawn(L *lua.LState) int {
	name := L.CheckString(1)
	args := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.CheckString(i))
	}

	out, err := s.gate.Spawn(s.callContext(L), s.slug, name, args...)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

func (s *State) luaNotify(L *lua.LState) int {
	if err := s.gate.Notify(s.slug, L.CheckString(1)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// callContext returns the context of the in-flight call, falling back
// to Background when none is set.
func (s *State) callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func stringsToTable(L *lua.LState, values []string) *lua.LTable {
	table := L.NewTable()
	for _, v := range values {
		table.Append(lua.LString(v))
	}
	return table
}

package runtime

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/lodgehost/lodge/internal/extension/gate"
	"github.com/lodgehost/lodge/internal/host"
)

// State is one extension's sandboxed interpreter. It is not safe for
// concurrent use; the Executor serializes access.
type State struct {
	slug   string
	gate   *gate.Gate
	log    *host.Logger
	L      *lua.LState
	module *lua.LTable
}

// NewState builds a sandboxed interpreter for the extension. Every
// privileged host function inside it checks the gate under this slug.
func NewState(slug string, g *gate.Gate, log *host.Logger) (*State, error) {
	if log == nil {
		log = host.NullLogger
	}
	s := &State{
		slug: slug,
		gate: g,
		log:  log.WithExtension(slug),
	}
	L, err := s.newSandboxedState()
	if err != nil {
		return nil, err
	}
	s.L = L
	return s, nil
}

// Slug returns the extension the state belongs to.
func (s *State) Slug() string {
	return s.slug
}

// Load compiles and runs the extension's source, typically its entry
// script defining the lifecycle functions. The context bounds execution.
func (s *State) Load(ctx context.Context, source, name string) error {
	fn, err := s.L.Load(strings.NewReader(source), name)
	if err != nil {
		return wrapExtension(s.slug, fmt.Errorf("failed to compile %s: %w", name, err))
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		return wrapExtension(s.slug, err)
	}
	return nil
}

// HasFunction reports whether the extension defined the global function.
func (s *State) HasFunction(name string) bool {
	_, ok := s.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// CallFunction invokes a global function defined by the extension. An
// undefined function is ErrNoSuchFunction; a failure inside the call is
// wrapped as an ExtensionError. The context bounds execution.
func (s *State) CallFunction(ctx context.Context, name string) error {
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchFunction, name)
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return wrapExtension(s.slug, err)
	}
	return nil
}

// Close releases the interpreter.
func (s *State) Close() {
	s.L.Close()
}

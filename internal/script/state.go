package script

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"ex-kairo/pkg/kairo"
)

// defaultMaxIdle bounds the idle states kept per module.
const defaultMaxIdle = 4

// compile parses and compiles the script at path once; every state of a
// module evaluates the same proto.
func compile(path string) (*lua.FunctionProto, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	chunk, err := parse.Parse(bufio.NewReader(file), path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}

	return proto, nil
}

// state is one sandboxed LState together with the definition table its run
// of the script returned. A state serves one caller at a time.
type state struct {
	L          *lua.LState
	definition *lua.LTable
	broken     bool
}

func newState(ctx context.Context, proto *lua.FunctionProto, path string, logger *slog.Logger) (*state, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	installSandbox(L)
	installHostModule(L, path, logger)

	scriptState := &state{L: L}
	definition, err := scriptState.evaluate(ctx, proto, path)
	if err != nil {
		L.Close()
		return nil, err
	}
	scriptState.definition = definition

	return scriptState, nil
}

// openSafeLibraries opens the libraries scripts may use. io, os, debug, and
// package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installSandbox removes base functions that read or compile code from outside the script.
func installSandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installHostModule exposes the kairo global.
func installHostModule(L *lua.LState, path string, logger *slog.Logger) {
	host := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			level := parseLevel(L.CheckString(1))
			message := L.CheckString(2)
			ctx := L.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger.Log(ctx, level, message, "script", path)
			return 0
		},
	})
	L.SetGlobal("kairo", host)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// evaluate runs the compiled script and returns the definition table it returns.
func (s *state) evaluate(ctx context.Context, proto *lua.FunctionProto, path string) (*lua.LTable, error) {
	top := s.L.GetTop()
	defer s.L.SetTop(top)

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.protect(func() error {
		s.L.Push(s.L.NewFunctionFromProto(proto))
		return s.L.PCall(0, 1, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", path, err)
	}

	switch returned := s.L.Get(-1).(type) {
	case *lua.LTable:
		return returned, nil
	case *lua.LNilType:
		return nil, fmt.Errorf("run %s: script returned nothing", path)
	default:
		return nil, fmt.Errorf("run %s: script returned %s, want table", path, returned.Type())
	}
}

// call invokes the definition function stored under key with the arguments
// build creates and hands the first return value to decode.
func (s *state) call(
	ctx context.Context,
	key string,
	build func(L *lua.LState) []lua.LValue,
	decode func(ret lua.LValue) error,
) error {
	fn, ok := s.definition.RawGetString(key).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%w: %s is not a function", kairo.ErrInvalidModule, key)
	}

	top := s.L.GetTop()
	defer s.L.SetTop(top)

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	var args []lua.LValue
	if build != nil {
		args = build(s.L)
	}

	err := s.protect(func() error {
		s.L.Push(fn)
		for _, arg := range args {
			s.L.Push(arg)
		}
		return s.L.PCall(len(args), 1, nil)
	})
	if err != nil {
		return err
	}

	if decode == nil {
		return nil
	}

	return decode(s.L.Get(-1))
}

// protect marks the state broken when the VM panics; broken states are
// closed instead of being reused.
func (s *state) protect(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.broken = true
			err = fmt.Errorf("lua panic: %v", recovered)
		}
	}()

	return fn()
}

func (s *state) close() {
	s.L.Close()
}

// pool hands out states built from one compiled script. Concurrent callers
// get distinct states, so invocations of one module never wait on each other.
// A released pool keeps serving callers that still hold the module but no
// longer keeps idle states.
type pool struct {
	proto   *lua.FunctionProto
	path    string
	logger  *slog.Logger
	maxIdle int

	mu       sync.Mutex
	idle     []*state
	released bool
}

func newPool(proto *lua.FunctionProto, path string, logger *slog.Logger, maxIdle int) *pool {
	if maxIdle < 1 {
		maxIdle = defaultMaxIdle
	}

	return &pool{proto: proto, path: path, logger: logger, maxIdle: maxIdle}
}

func (p *pool) get(ctx context.Context) (*state, error) {
	p.mu.Lock()
	if count := len(p.idle); count > 0 {
		scriptState := p.idle[count-1]
		p.idle = p.idle[:count-1]
		p.mu.Unlock()
		return scriptState, nil
	}
	p.mu.Unlock()

	return newState(ctx, p.proto, p.path, p.logger)
}

func (p *pool) put(scriptState *state) {
	p.mu.Lock()
	if !scriptState.broken && !p.released && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, scriptState)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	scriptState.close()
}

// call runs key on a pooled state.
func (p *pool) call(
	ctx context.Context,
	key string,
	build func(L *lua.LState) []lua.LValue,
	decode func(ret lua.LValue) error,
) error {
	scriptState, err := p.get(ctx)
	if err != nil {
		return err
	}
	defer p.put(scriptState)

	return scriptState.call(ctx, key, build, decode)
}

// release closes the idle states. States in use close when their callers
// return them.
func (p *pool) release() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.released = true
	p.mu.Unlock()

	for _, scriptState := range idle {
		scriptState.close()
	}
}

func (p *pool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.idle)
}

package luascript

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
)

const (
	// StatesTable is the global holding the state handler tables.
	StatesTable = "states"

	// VarsTable is the global holding the persisted variables.
	VarsTable = "vars"
)

// Unsafe base functions removed from every state.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage", "setfenv", "getfenv"}

var errorPosition = regexp.MustCompile(`^[^:\n]*:(\d+): (?s)(.*)$`)

// Script is a compiled Lua script bound to one instance.
//
// Thread-safety: not safe for concurrent use. The instance serializes calls.
type Script struct {
	name   string
	L      *lua.LState
	logger *zap.Logger

	initial script.Vars
	apis    map[string]bool

	// ctx is the context of the running handler, nil between events.
	ctx context.Context

	// signal is the first control-flow error raised by a host function
	// during the running handler. It survives a script-level pcall.
	signal error
}

// Option configures a Script.
type Option func(*Script)

// WithLogger sets the logger used for print output and diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Script) {
		s.logger = logger
	}
}

// New compiles source and runs its top-level chunk. The chunk must define
// a states table with a default state.
func New(name, source string, opts ...Option) (*Script, error) {
	s := &Script{
		name:   name,
		logger: zap.NewNop(),
		apis:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := s.openLibs(); err != nil {
		s.L.Close()
		return nil, err
	}

	fn, err := s.L.Load(strings.NewReader(source), name)
	if err != nil {
		s.L.Close()
		return nil, errors.Wrapf(err, "compile %s", name)
	}
	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		s.L.Close()
		return nil, errors.Wrapf(err, "run %s", name)
	}

	if err := s.validate(); err != nil {
		s.L.Close()
		return nil, err
	}

	s.initial = s.GetVars()
	return s, nil
}

// Validate compiles source in a throwaway state and reports any error.
func Validate(name, source string) error {
	s, err := New(name, source)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.L.Close()
}

// Name returns the chunk name the script was compiled under.
func (s *Script) Name() string {
	return s.name
}

// States returns the names of the states the script defines.
func (s *Script) States() []string {
	var names []string
	s.states().ForEach(func(k, v lua.LValue) {
		if _, ok := v.(*lua.LTable); ok {
			if name, ok := k.(lua.LString); ok {
				names = append(names, string(name))
			}
		}
	})
	return names
}

func (s *Script) openLibs() error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		err := s.L.CallByParam(lua.P{Fn: s.L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			return errors.Wrapf(err, "open lua library %q", lib.name)
		}
	}
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.print))
	return nil
}

func (s *Script) validate() error {
	states, ok := s.L.GetGlobal(StatesTable).(*lua.LTable)
	if !ok {
		return errors.Errorf("%s: global %q must be a table", s.name, StatesTable)
	}
	if _, ok := states.RawGetString("default").(*lua.LTable); !ok {
		return errors.Errorf("%s: no default state", s.name)
	}

	var bad error
	states.ForEach(func(k, v lua.LValue) {
		if bad != nil {
			return
		}
		state, ok := v.(*lua.LTable)
		if !ok {
			bad = errors.Errorf("%s: state %s must be a table", s.name, k.String())
			return
		}
		state.ForEach(func(name, handler lua.LValue) {
			if bad != nil {
				return
			}
			if _, ok := handler.(*lua.LFunction); !ok {
				bad = errors.Errorf("%s: handler %s.%s must be a function", s.name, k.String(), name.String())
			}
		})
	})
	if bad != nil {
		return bad
	}

	switch s.L.GetGlobal(VarsTable).(type) {
	case *lua.LTable:
	case *lua.LNilType:
		s.L.SetGlobal(VarsTable, s.L.NewTable())
	default:
		return errors.Errorf("%s: global %q must be a table", s.name, VarsTable)
	}
	return nil
}

func (s *Script) states() *lua.LTable {
	t, _ := s.L.GetGlobal(StatesTable).(*lua.LTable)
	if t == nil {
		return s.L.NewTable()
	}
	return t
}

func (s *Script) vars() *lua.LTable {
	t, ok := s.L.GetGlobal(VarsTable).(*lua.LTable)
	if !ok {
		t = s.L.NewTable()
		s.L.SetGlobal(VarsTable, t)
	}
	return t
}

func (s *Script) handler(state, name string) *lua.LFunction {
	handlers, ok := s.states().RawGetString(state).(*lua.LTable)
	if !ok {
		return nil
	}
	fn, _ := handlers.RawGetString(name).(*lua.LFunction)
	return fn
}

// ExecuteEvent implements script.Script.
func (s *Script) ExecuteEvent(ctx context.Context, state, name string, args []event.Value) error {
	fn := s.handler(state, name)
	if fn == nil {
		return nil
	}

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = toLua(s.L, arg)
	}

	s.ctx = ctx
	s.signal = nil
	s.L.SetContext(ctx)
	defer func() {
		s.L.RemoveContext()
		s.ctx = nil
	}()

	err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, luaArgs...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if s.signal != nil {
		signal := s.signal
		s.signal = nil
		return signal
	}
	if err != nil {
		return s.translate(err)
	}
	return nil
}

// translate maps a Lua error to the error the instance classifies.
func (s *Script) translate(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &script.RuntimeError{Message: err.Error(), Err: err}
	}

	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if goErr, ok := ud.Value.(error); ok {
			return goErr
		}
	}

	msg := apiErr.Object.String()
	re := &script.RuntimeError{Message: msg, Err: err}
	if m := errorPosition.FindStringSubmatch(msg); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil {
			re.Line = line
			re.Message = m[2]
		}
	}
	return re
}

// GetStateEventFlags implements script.Script.
func (s *Script) GetStateEventFlags(state string) event.Flags {
	handlers, ok := s.states().RawGetString(state).(*lua.LTable)
	if !ok {
		return 0
	}
	var flags event.Flags
	handlers.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if _, ok := v.(*lua.LFunction); ok {
			flags |= event.FlagFor(string(name))
		}
	})
	return flags
}

// ResetVars implements script.Script. The vars table is reset in place, so
// it is safe to call from inside a running handler.
func (s *Script) ResetVars() {
	t := s.vars()
	var keys []lua.LValue
	t.ForEach(func(k, _ lua.LValue) {
		keys = append(keys, k)
	})
	for _, k := range keys {
		t.RawSet(k, lua.LNil)
	}
	for name, v := range s.initial {
		t.RawSetString(name, toLua(s.L, v))
	}
}

// GetVars implements script.Script. Only string-keyed entries with a
// script representation are returned.
func (s *Script) GetVars() script.Vars {
	vars := make(script.Vars)
	s.vars().ForEach(func(k, lv lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if v, ok := fromLua(lv, s.initial[string(name)]); ok {
			vars[string(name)] = v
		}
	})
	return vars
}

// SetVars implements script.Script. Variables not named in vars keep
// their current value.
func (s *Script) SetVars(vars script.Vars) {
	t := s.vars()
	for _, name := range vars.SortedNames() {
		t.RawSetString(name, toLua(s.L, vars[name]))
	}
}

// InitApi implements script.Script. Every function becomes a field of a
// global table named after the API. Each call is a cooperative
// check-point.
func (s *Script) InitApi(name string, api script.Api) error {
	if name == "" {
		return errors.New("api name must not be empty")
	}
	if s.apis[name] {
		return errors.Errorf("api %q already bound", name)
	}

	funcs := make(map[string]lua.LGFunction)
	for fname, fn := range api.Functions() {
		funcs[fname] = s.bind(name+"."+fname, fn)
	}
	t := s.L.NewTable()
	s.L.SetFuncs(t, funcs)
	s.L.SetGlobal(name, t)
	s.apis[name] = true
	return nil
}

func (s *Script) bind(qualified string, fn script.Func) lua.LGFunction {
	return func(L *lua.LState) int {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := script.CheckStop(ctx); err != nil {
			s.raise(L, err)
			return 0
		}

		top := L.GetTop()
		args := make([]event.Value, 0, top)
		for i := 1; i <= top; i++ {
			v, ok := fromLua(L.Get(i), nil)
			if !ok {
				L.ArgError(i, "unsupported argument type "+L.Get(i).Type().String())
				return 0
			}
			args = append(args, v)
		}

		result, err := fn(ctx, args)
		if err != nil {
			s.raise(L, err)
			return 0
		}
		if result == nil {
			return 0
		}
		L.Push(toLua(L, result))
		return 1
	}
}

// raise unwinds the Lua stack with a Go error. Signals are also remembered
// so that a pcall in script code cannot swallow them.
func (s *Script) raise(L *lua.LState, err error) {
	if outcome := script.Classify(err); outcome != script.Faulted && s.signal == nil {
		s.signal = err
	}
	ud := L.NewUserData()
	ud.Value = err
	L.Error(ud, 1)
}

func (s *Script) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.logger.Info("script print", zap.String("script", s.name), zap.String("text", strings.Join(parts, "\t")))
	return 0
}

func (s *Script) String() string {
	return fmt.Sprintf("luascript(%s)", s.name)
}

var _ script.Script = (*Script)(nil)

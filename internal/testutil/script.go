package testutil

import (
	"context"
	"sync"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
)

// Handler is an event handler of a FakeScript.
type Handler func(ctx context.Context, args []event.Value) error

// Call records one ExecuteEvent invocation.
type Call struct {
	State string
	Event string
	Args  []event.Value
}

// FakeScript is a script.Script driven by Go handlers.
//
// Handlers are registered per state and event name. Variables are a plain
// map; ResetVars restores the map given to NewFakeScript.
//
// Thread-safety: safe for concurrent use; handlers run without the
// internal lock held.
type FakeScript struct {
	mu       sync.Mutex
	handlers map[string]map[string]Handler
	initial  script.Vars
	vars     script.Vars
	apis     map[string]script.Api
	calls    []Call
	resets   int

	// InitApiErr, when set, is returned by InitApi.
	InitApiErr error
}

// NewFakeScript creates a script with the given initial globals.
func NewFakeScript(initial script.Vars) *FakeScript {
	return &FakeScript{
		handlers: make(map[string]map[string]Handler),
		initial:  copyVars(initial),
		vars:     copyVars(initial),
		apis:     make(map[string]script.Api),
	}
}

// On registers a handler and returns the script for chaining.
func (s *FakeScript) On(state, name string, h Handler) *FakeScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[state] == nil {
		s.handlers[state] = make(map[string]Handler)
	}
	s.handlers[state][name] = h
	return s
}

func (s *FakeScript) ExecuteEvent(ctx context.Context, state, name string, args []event.Value) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{State: state, Event: name, Args: args})
	h := s.handlers[state][name]
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h(ctx, args)
}

func (s *FakeScript) GetStateEventFlags(state string) event.Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flags event.Flags
	for name := range s.handlers[state] {
		flags |= event.FlagFor(name)
	}
	return flags
}

func (s *FakeScript) ResetVars() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = copyVars(s.initial)
	s.resets++
}

func (s *FakeScript) GetVars() script.Vars {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyVars(s.vars)
}

func (s *FakeScript) SetVars(vars script.Vars) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range vars {
		s.vars[name] = v
	}
}

func (s *FakeScript) InitApi(name string, api script.Api) error {
	if s.InitApiErr != nil {
		return s.InitApiErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apis[name] = api
	return nil
}

// Set assigns a global, as script code would.
func (s *FakeScript) Set(name string, v event.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = v
}

// Get reads a global.
func (s *FakeScript) Get(name string) event.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name]
}

// Api returns an API bound through InitApi.
func (s *FakeScript) Api(name string) script.Api {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apis[name]
}

// Calls returns the recorded invocations.
func (s *FakeScript) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Events returns the names of the recorded invocations, in order.
func (s *FakeScript) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.calls))
	for i, c := range s.calls {
		names[i] = c.Event
	}
	return names
}

// Resets returns how many times ResetVars was called.
func (s *FakeScript) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func copyVars(v script.Vars) script.Vars {
	out := make(script.Vars, len(v))
	for name, val := range v {
		out[name] = val
	}
	return out
}

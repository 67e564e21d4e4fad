package script

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/world"
)

// Vars holds a script's global variable bindings.
type Vars map[string]event.Value

// SortedNames returns the variable names in lexical order.
func (v Vars) SortedNames() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Script is a compiled script bound to one instance.
//
// Implementations are not required to be safe for concurrent use; the
// instance serializes every call.
type Script interface {
	// ExecuteEvent runs the handler for an event in the given state. A
	// missing handler is not an error. ctx is cancelled on forced abort and
	// carries the execution environment (see ExecFrom).
	ExecuteEvent(ctx context.Context, state, name string, args []event.Value) error

	// GetStateEventFlags returns the events handled in a state.
	GetStateEventFlags(state string) event.Flags

	// ResetVars restores every global to its initial value.
	ResetVars()

	GetVars() Vars
	SetVars(vars Vars)

	// InitApi exposes an initialized API to the script under name.
	InitApi(name string, api Api) error
}

// Item identifies the inventory item holding a script.
type Item struct {
	ID      uuid.UUID
	AssetID uuid.UUID
	OwnerID uuid.UUID
	Name    string
}

// Timers schedules repeating timer events for scripts.
type Timers interface {
	SetTimerEvent(partID, itemID uuid.UUID, interval time.Duration)
}

// Engine is what APIs see of the hosting engine.
type Engine interface {
	World() world.World
	Timers() Timers
}

// Host is the running instance, as seen from inside an event handler.
type Host interface {
	ItemID() uuid.UUID
	PartID() uuid.UUID
	State() string
	StartParam() int32

	// SetState requests a state change. It returns a *StateChangeSignal
	// that must be propagated out of ExecuteEvent, or nil when the script
	// is already in that state.
	SetState(name string) error

	// ApiResetScript resets the script from inside a handler. It returns
	// ErrEventAbort when the current handler must unwind.
	ApiResetScript() error

	SetMinEventDelay(d time.Duration)
	SaveState()
}

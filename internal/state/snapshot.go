package state

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
)

// Permissions records the runtime permissions granted to a script.
type Permissions struct {
	Granter uuid.UUID
	Mask    int32
}

// Snapshot is the persisted state of one script instance.
type Snapshot struct {
	ItemID  uuid.UUID
	AssetID uuid.UUID

	// State is the current named state.
	State string

	// Running is restored as the instance's start-on-init flag.
	Running bool

	Variables map[string]event.Value

	// Queue holds events that were pending when the snapshot was taken,
	// in delivery order.
	Queue []event.Record

	// Plugins is opaque data owned by the async command subsystem.
	Plugins []event.Value

	Permissions   Permissions
	MinEventDelay time.Duration
}

// VariableNames returns the variable names in sorted order.
func (s *Snapshot) VariableNames() []string {
	names := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

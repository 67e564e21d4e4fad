package instance

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/workpool"
)

// Engine hosts instances and schedules their activations.
type Engine interface {
	script.Engine

	// QueueEventHandler schedules inst.EventProcessor on the shared pool.
	// It returns nil if the work could not be scheduled.
	QueueEventHandler(inst *Instance) *workpool.Item

	AsyncCommands() AsyncCommands
}

// AsyncCommands is the subsystem that owns a script's long-lived
// requests, such as repeating timers.
type AsyncCommands interface {
	// StateChange is called after the instance switched state.
	StateChange(itemID uuid.UUID, state string)

	// RemoveScript drops every outstanding request of a script.
	RemoveScript(itemID uuid.UUID)

	// GetSerializationData returns opaque data stored with the snapshot.
	GetSerializationData(itemID uuid.UUID) []event.Value

	// CreateFromData restores requests from snapshot data.
	CreateFromData(partID, itemID uuid.UUID, data []event.Value) error
}

// Clock supplies wall time for rate limiting and statistics.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real-time Clock.
var SystemClock Clock = systemClock{}

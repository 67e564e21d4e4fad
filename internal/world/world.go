// Package world defines what a script instance needs from the simulated
// world, plus an in-memory implementation used by the CLI and tests.
//
// The instance engine only needs identities (parts, owners, items) and a few
// side-effecting calls: chat delivery, object deletion, inventory removal,
// and the event-delivery gate. The scene graph itself lives elsewhere.
package world

import (
	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
)

// DebugChannel is the channel script errors are reported on.
const DebugChannel int32 = 2147483647

// ChatType classifies how far a chat message carries.
type ChatType int

const (
	ChatWhisper ChatType = iota
	ChatSay
	ChatShout
	ChatOwner
	ChatDebug
)

func (t ChatType) String() string {
	switch t {
	case ChatWhisper:
		return "whisper"
	case ChatSay:
		return "say"
	case ChatShout:
		return "shout"
	case ChatOwner:
		return "owner"
	case ChatDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// MarshalText renders the chat type by name in JSON output.
func (t ChatType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ChatMessage is one message emitted into the world.
type ChatMessage struct {
	Channel  int32        `json:"channel"`
	Type     ChatType     `json:"type"`
	FromID   uuid.UUID    `json:"from_id"`
	FromName string       `json:"from_name"`
	TargetID uuid.UUID    `json:"target_id,omitempty"`
	Position event.Vector `json:"position"`
	Text     string       `json:"text"`
}

// Part is the prim a script lives in.
type Part struct {
	ID       uuid.UUID
	ObjectID uuid.UUID // root of the linkset the part belongs to
	LocalID  uint32
	Name     string
	OwnerID  uuid.UUID
	Position event.Vector
}

// World is the set of world operations the script engine calls.
// Implementations must be safe for concurrent use.
type World interface {
	// Part looks up a part by ID.
	Part(id uuid.UUID) (Part, bool)

	// SimChat delivers a chat message into the region.
	SimChat(msg ChatMessage)

	// InstantMessage delivers a private message to an agent.
	InstantMessage(to uuid.UUID, from Part, text string)

	// DeleteSceneObject removes an entire object from the scene.
	DeleteSceneObject(objectID uuid.UUID) error

	// RemoveInventoryItem removes an item from a part's inventory.
	RemoveInventoryItem(partID, itemID uuid.UUID) error

	// PipeEventsForScript reports whether events may currently be delivered
	// to scripts in the part. Frozen or parcel-disabled objects return false.
	PipeEventsForScript(partID uuid.UUID) bool

	// SetScriptEvents publishes which events a script currently handles.
	SetScriptEvents(partID, itemID uuid.UUID, flags event.Flags)

	// RemoveScriptEvents clears a script's published events.
	RemoveScriptEvents(partID, itemID uuid.UUID)

	// ReleaseControls releases any agent controls a script has taken.
	ReleaseControls(partID, itemID uuid.UUID)
}

package world

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
)

// InstantMessage records an IM delivered through Memory.
type InstantMessage struct {
	To   uuid.UUID `json:"to"`
	From uuid.UUID `json:"from"`
	Text string    `json:"text"`
}

// Memory is an in-process World. It records every side effect so callers
// can inspect what scripts did.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	parts        map[uuid.UUID]Part
	inventory    map[uuid.UUID]map[uuid.UUID]bool
	frozen       map[uuid.UUID]bool
	scriptEvents map[uuid.UUID]event.Flags
	released     map[uuid.UUID]int
	chat         []ChatMessage
	ims          []InstantMessage
	deleted      map[uuid.UUID]bool
	listeners    []func(ChatMessage)
}

// NewMemory creates an empty in-memory world.
func NewMemory() *Memory {
	return &Memory{
		parts:        make(map[uuid.UUID]Part),
		inventory:    make(map[uuid.UUID]map[uuid.UUID]bool),
		frozen:       make(map[uuid.UUID]bool),
		scriptEvents: make(map[uuid.UUID]event.Flags),
		released:     make(map[uuid.UUID]int),
		deleted:      make(map[uuid.UUID]bool),
	}
}

// AddPart places a part in the world. A zero ObjectID makes the part its
// own root.
func (m *Memory) AddPart(p Part) Part {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ObjectID == uuid.Nil {
		p.ObjectID = p.ID
	}
	m.parts[p.ID] = p
	if m.inventory[p.ID] == nil {
		m.inventory[p.ID] = make(map[uuid.UUID]bool)
	}
	return p
}

// AddInventoryItem records a script item in a part's inventory.
func (m *Memory) AddInventoryItem(partID, itemID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inventory[partID] == nil {
		m.inventory[partID] = make(map[uuid.UUID]bool)
	}
	m.inventory[partID][itemID] = true
}

// HasInventoryItem reports whether the item is still in the part.
func (m *Memory) HasInventoryItem(partID, itemID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory[partID][itemID]
}

// Freeze stops event delivery to scripts in a part (control events still
// pass).
func (m *Memory) Freeze(partID uuid.UUID, frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen[partID] = frozen
}

// OnChat registers a callback invoked for every chat message, after it is
// recorded. Callbacks run on the emitting goroutine and must not block.
func (m *Memory) OnChat(fn func(ChatMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Part implements World.
func (m *Memory) Part(id uuid.UUID) (Part, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[id]
	return p, ok
}

// SimChat implements World.
func (m *Memory) SimChat(msg ChatMessage) {
	m.mu.Lock()
	m.chat = append(m.chat, msg)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// InstantMessage implements World.
func (m *Memory) InstantMessage(to uuid.UUID, from Part, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ims = append(m.ims, InstantMessage{To: to, From: from.ID, Text: text})
}

// DeleteSceneObject implements World.
func (m *Memory) DeleteSceneObject(objectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for id, p := range m.parts {
		if p.ObjectID == objectID {
			delete(m.parts, id)
			delete(m.inventory, id)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("object %s not in scene", objectID)
	}
	m.deleted[objectID] = true
	return nil
}

// RemoveInventoryItem implements World.
func (m *Memory) RemoveInventoryItem(partID, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.inventory[partID]
	if !ok || !items[itemID] {
		return fmt.Errorf("item %s not in part %s", itemID, partID)
	}
	delete(items, itemID)
	return nil
}

// PipeEventsForScript implements World.
func (m *Memory) PipeEventsForScript(partID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.frozen[partID]
}

// SetScriptEvents implements World.
func (m *Memory) SetScriptEvents(partID, itemID uuid.UUID, flags event.Flags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptEvents[itemID] = flags
}

// RemoveScriptEvents implements World.
func (m *Memory) RemoveScriptEvents(partID, itemID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scriptEvents, itemID)
}

// ReleaseControls implements World.
func (m *Memory) ReleaseControls(partID, itemID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[itemID]++
}

// Chat returns a copy of all chat emitted so far.
func (m *Memory) Chat() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatMessage(nil), m.chat...)
}

// InstantMessages returns a copy of all IMs delivered so far.
func (m *Memory) InstantMessages() []InstantMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InstantMessage(nil), m.ims...)
}

// ScriptEvents returns the flags last published for an item.
func (m *Memory) ScriptEvents(itemID uuid.UUID) (event.Flags, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.scriptEvents[itemID]
	return f, ok
}

// Deleted reports whether an object was deleted.
func (m *Memory) Deleted(objectID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[objectID]
}

// ReleasedControls returns how many times an item's controls were released.
func (m *Memory) ReleasedControls(itemID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released[itemID]
}

var _ World = (*Memory)(nil)

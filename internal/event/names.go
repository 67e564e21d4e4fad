package event

// Event names the engine treats specially.
const (
	Timer              = "timer"
	Collision          = "collision"
	CollisionStart     = "collision_start"
	CollisionEnd       = "collision_end"
	Control            = "control"
	State              = "state"
	StateEntry         = "state_entry"
	StateExit          = "state_exit"
	RunTimePermissions = "run_time_permissions"
	HTTPRequest        = "http_request"
	HTTPResponse       = "http_response"
	LinkMessage        = "link_message"
	OnRez              = "on_rez"
	Attach             = "attach"
	Changed            = "changed"
	TouchStart         = "touch_start"
	Touch              = "touch"
	TouchEnd           = "touch_end"
	Listen             = "listen"
	Sensor             = "sensor"
	NoSensor           = "no_sensor"
	Dataserver         = "dataserver"
	Money              = "money"
	ObjectRez          = "object_rez"
)

// Bits carried by the changed event.
const (
	ChangedInventory   = 1
	ChangedColor       = 2
	ChangedShape       = 4
	ChangedScale       = 8
	ChangedTexture     = 16
	ChangedLink        = 32
	ChangedAllowedDrop = 64
	ChangedOwner       = 128
	ChangedRegion      = 256
	ChangedTeleport    = 512
	ChangedRegionStart = 1024
)

// Flags is a bitmask of the events a script state handles.
type Flags uint64

// Has reports whether every bit in other is set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

var eventFlags = map[string]Flags{}

// handledEvents lists every event name with a flag bit, in bit order.
var handledEvents = []string{
	StateEntry, StateExit, Timer, Touch, TouchStart, TouchEnd,
	Collision, CollisionStart, CollisionEnd, Control, Listen, Sensor,
	NoSensor, Dataserver, Money, ObjectRez, OnRez, Attach, Changed,
	RunTimePermissions, HTTPRequest, HTTPResponse, LinkMessage,
}

func init() {
	for i, name := range handledEvents {
		eventFlags[name] = 1 << uint(i)
	}
}

// FlagFor returns the flag bit for an event name, or 0 for unknown events.
func FlagFor(name string) Flags {
	return eventFlags[name]
}

// KnownEvents returns the event names that have flag bits, in bit order.
func KnownEvents() []string {
	return append([]string(nil), handledEvents...)
}

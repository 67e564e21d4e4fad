package instance

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/workpool"
	"github.com/roach88/scriptengine/internal/world"
)

// DefaultState is the state every script starts in.
const DefaultState = "default"

// Defaults applied by New when Params leaves a limit unset.
const (
	DefaultMaxScriptQueue = 300
	DefaultMaxErrorLength = 1000
)

// PermissionTakeControls is the runtime permission bit for agent controls.
const PermissionTakeControls int32 = 0x4

// Params configures a new Instance.
type Params struct {
	Part world.Part
	Item script.Item

	// StartParam is the rez parameter delivered with on_rez.
	StartParam int32

	// PostOnRez queues on_rez during Init.
	PostOnRez bool

	// StateSource says why the script is being started.
	StateSource StateSource

	// StartStopped leaves a fresh script stopped after Init.
	StartStopped bool

	// Attached marks scripts in attachments. Their state is saved with the
	// attachment, so the item's stored state is removed after Load.
	Attached bool

	// MaxScriptQueue bounds the event queue.
	MaxScriptQueue int

	// MaxErrorLength bounds runtime error text reported in-world.
	MaxErrorLength int

	// CoopTermination makes Stop signal running events and wait for them
	// instead of aborting.
	CoopTermination bool

	Store    state.Store
	Registry *script.Registry
	Logger   *zap.Logger
	Clock    Clock
}

// Instance is one running script. See the package documentation for the
// locking model.
type Instance struct {
	engine   Engine
	script   script.Script
	store    state.Store
	registry *script.Registry
	logger   *zap.Logger
	clock    Clock

	part            world.Part
	item            script.Item
	postOnRez       bool
	stateSource     StateSource
	persistedHere   bool
	coopTermination bool
	maxQueue        int
	maxErrorLength  int

	// execMu serializes script calls with snapshots and resets.
	execMu sync.Mutex

	// executing is set while a handler runs; SaveState defers instead of
	// waiting on execMu.
	executing atomic.Bool

	// saveDeferred asks EventProcessor to save after the current event.
	saveDeferred atomic.Bool

	mu                    sync.Mutex
	queue                 *eventQueue
	state                 string
	startParam            int32
	running               bool
	suspended             bool
	shuttingDown          bool
	inSelfDelete          bool
	startOnInit           bool
	startedFromSavedState bool
	stayStopped           bool
	stateChangeInProgress bool
	timerQueued           bool
	collisionQueued       bool
	controlEventsInQueue  int
	lastControlLevel      int32
	currentWorkItem       *workpool.Item
	abandoned             *workpool.Item
	currentEvent          string
	minEventDelay         time.Duration
	nextEventAllowedAt    time.Time
	permissions           state.Permissions
	lastHash              string
	stats                 Stats
}

// New creates a stopped instance. Call Load, then Init.
func New(engine Engine, s script.Script, p Params) *Instance {
	if p.MaxScriptQueue <= 0 {
		p.MaxScriptQueue = DefaultMaxScriptQueue
	}
	if p.MaxErrorLength <= 0 {
		p.MaxErrorLength = DefaultMaxErrorLength
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Clock == nil {
		p.Clock = SystemClock
	}
	if p.Registry == nil {
		p.Registry = script.NewRegistry()
	}

	i := &Instance{
		engine:          engine,
		script:          s,
		store:           p.Store,
		registry:        p.Registry,
		clock:           p.Clock,
		part:            p.Part,
		item:            p.Item,
		postOnRez:       p.PostOnRez,
		stateSource:     p.StateSource,
		persistedHere:   !p.Attached,
		coopTermination: p.CoopTermination,
		maxQueue:        p.MaxScriptQueue,
		maxErrorLength:  p.MaxErrorLength,
		queue:           newEventQueue(p.MaxScriptQueue),
		state:           DefaultState,
		startParam:      p.StartParam,
		startOnInit:     !p.StartStopped,
	}
	i.logger = p.Logger.With(
		zap.String("item_id", p.Item.ID.String()),
		zap.String("part_id", p.Part.ID.String()),
		zap.String("script", p.Item.Name),
	)
	i.saveDeferred.Store(i.persistedHere)
	return i
}

// ItemID returns the inventory item ID of the script.
func (i *Instance) ItemID() uuid.UUID { return i.item.ID }

// PartID returns the part the script lives in.
func (i *Instance) PartID() uuid.UUID { return i.part.ID }

// Item returns the script's inventory item.
func (i *Instance) Item() script.Item { return i.item }

// Part returns the part the script lives in.
func (i *Instance) Part() world.Part { return i.part }

// Script returns the bound script.
func (i *Instance) Script() script.Script { return i.script }

// State returns the current state name.
func (i *Instance) State() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// StartParam returns the rez parameter.
func (i *Instance) StartParam() int32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startParam
}

// Running reports whether the instance accepts and processes events.
func (i *Instance) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Suspended reports whether event processing is paused.
func (i *Instance) Suspended() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.suspended
}

// InSelfDelete reports whether the script asked to be deleted. Such an
// instance never processes another event.
func (i *Instance) InSelfDelete() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inSelfDelete
}

// StartedFromSavedState reports whether Load restored a snapshot.
func (i *Instance) StartedFromSavedState() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startedFromSavedState
}

// QueueLen returns the number of pending events.
func (i *Instance) QueueLen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.queue.Len()
}

// QueuedEvents returns the names of pending events, in delivery order.
func (i *Instance) QueuedEvents() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.queue.Names()
}

// Busy reports whether events are pending or an activation is outstanding.
func (i *Instance) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentWorkItem != nil || (i.running && !i.suspended && i.queue.Len() > 0)
}

// MinEventDelay returns the current rate limit.
func (i *Instance) MinEventDelay() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.minEventDelay
}

// SetMinEventDelay sets the minimum spacing between rate-limited events.
func (i *Instance) SetMinEventDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.minEventDelay = d
	i.nextEventAllowedAt = time.Time{}
}

// Permissions returns the runtime permissions held by the script.
func (i *Instance) Permissions() state.Permissions {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.permissions
}

// GrantPermissions records permissions granted by an agent and delivers
// run_time_permissions to the script.
func (i *Instance) GrantPermissions(granter uuid.UUID, mask int32) {
	i.mu.Lock()
	i.permissions = state.Permissions{Granter: granter, Mask: mask}
	i.mu.Unlock()

	i.PostEvent(event.New(event.RunTimePermissions, event.Integer(mask)))
}

// SetShuttingDown stops the instance from re-queuing itself. Events
// already dispatched still finish.
func (i *Instance) SetShuttingDown() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.shuttingDown = true
}

// SetStayStopped keeps a stopped script's state saveable, so the stopped
// state itself is persisted.
func (i *Instance) SetStayStopped(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stayStopped = v
}

// Start begins event processing. Calling Start on a running instance
// does nothing.
func (i *Instance) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return
	}

	i.running = true
	i.stats.resetPeriod(i.clock.Now())
	i.logger.Debug("script started")

	if i.queue.Len() > 0 {
		i.requestWorkLocked()
	}
}

// Stop halts event processing and reports whether the instance stopped
// cleanly. In order it tries to cancel a queued activation, wait up to
// timeout for a running one (or, with cooperative termination, signal it
// and wait indefinitely) and finally aborts it. Stop never fails on an
// already stopped instance.
func (i *Instance) Stop(timeout time.Duration, clearQueue bool) bool {
	i.mu.Lock()
	if clearQueue {
		i.clearQueueLocked()
	}

	if !i.running {
		i.mu.Unlock()
		return true
	}

	if i.currentWorkItem == nil {
		i.running = false
		i.mu.Unlock()
		return true
	}

	if i.currentWorkItem.Cancel() {
		i.currentWorkItem = nil
		i.running = false
		i.mu.Unlock()
		return true
	}

	item := i.currentWorkItem
	i.running = false
	inSelfDelete := i.inSelfDelete
	i.mu.Unlock()

	if !inSelfDelete {
		if !i.coopTermination {
			if item.Wait(timeout) {
				return true
			}
		} else {
			i.logger.Debug("requesting cooperative stop")
			item.RequestStop()
			if item.Wait(-1) {
				return true
			}
		}
	}

	i.mu.Lock()
	item = i.currentWorkItem
	i.mu.Unlock()
	if item == nil {
		return true
	}

	if !item.Abort() {
		i.logger.Warn("event did not return after abort, abandoning it",
			zap.Duration("timeout", timeout),
		)
		i.mu.Lock()
		i.abandoned = item
		i.mu.Unlock()
		return false
	}
	i.logger.Info("running event aborted", zap.Duration("timeout", timeout))
	return true
}

// stuck reports whether an activation abandoned by Stop is still running.
// Such an activation holds execMu until its handler returns.
func (i *Instance) stuck() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.abandoned == nil {
		return false
	}
	select {
	case <-i.abandoned.Done():
		i.abandoned = nil
		return false
	default:
		return true
	}
}

// Suspend pauses event processing without stopping the script. Events
// posted while suspended are queued.
func (i *Instance) Suspend() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.suspended = true
}

// Resume continues event processing after Suspend.
func (i *Instance) Resume() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.suspended {
		return
	}
	i.suspended = false
	if i.queue.Len() > 0 {
		i.requestWorkLocked()
	}
}

// DestroyScriptInstance releases everything the script holds in the
// world. The instance must not be used afterwards.
func (i *Instance) DestroyScriptInstance() {
	i.releaseControls()
	i.engine.AsyncCommands().RemoveScript(i.item.ID)
	i.engine.World().RemoveScriptEvents(i.part.ID, i.item.ID)
}

// Stats returns execution statistics.
func (i *Instance) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

// requestWorkLocked asks the engine for an activation unless one is
// outstanding. Must be called with mu held.
func (i *Instance) requestWorkLocked() {
	if i.currentWorkItem != nil || !i.running || i.suspended || i.shuttingDown || i.inSelfDelete {
		return
	}
	i.currentWorkItem = i.engine.QueueEventHandler(i)
}

// clearQueueLocked empties the queue and resets the flags that describe
// its contents. Must be called with mu held.
func (i *Instance) clearQueueLocked() {
	i.queue.Clear()
	i.timerQueued = false
	i.collisionQueued = false
	i.controlEventsInQueue = 0
}

func (i *Instance) releaseControls() {
	i.mu.Lock()
	perms := i.permissions
	i.mu.Unlock()

	if perms.Mask&PermissionTakeControls != 0 && perms.Granter != uuid.Nil {
		i.engine.World().ReleaseControls(i.part.ID, i.item.ID)
	}
}

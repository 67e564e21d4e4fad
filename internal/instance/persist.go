package instance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
)

// xmlStateStopTimeout bounds how long GetXMLState waits for a running
// event before snapshotting.
const xmlStateStopTimeout = 100 * time.Millisecond

// ErrExecutionStuck is returned when a handler that ignored an abort
// still holds the script.
var ErrExecutionStuck = errors.New("abandoned event is still running")

// Load binds every registered API to the script and restores the stored
// snapshot, if any. An API failure returns an *InitError and the instance
// must not be started. An unreadable snapshot is discarded with a warning.
func (i *Instance) Load(ctx context.Context) error {
	for _, name := range i.registry.Names() {
		api, err := i.registry.Create(name)
		if err == nil {
			err = api.Initialize(i.engine, i.part, i.item)
		}
		if err != nil {
			i.logger.Error("failed to initialize api", zap.String("api", name), zap.Error(err))
			return &InitError{Api: name, Err: err}
		}
		if err := i.script.InitApi(name, api); err != nil {
			i.logger.Error("failed to bind api", zap.String("api", name), zap.Error(err))
			return &InitError{Api: name, Err: err}
		}
	}

	if i.store != nil {
		i.restore(ctx)
	}

	i.publishEventFlags()
	return nil
}

func (i *Instance) restore(ctx context.Context) {
	data, err := i.store.Read(ctx, i.item.ID)
	if errors.Is(err, state.ErrNotFound) {
		return
	}
	if err != nil {
		i.logger.Warn("failed to read saved state, starting fresh", zap.Error(err))
		return
	}

	snap, err := state.Unmarshal(data)
	if err != nil {
		i.logger.Warn("discarding unreadable saved state", zap.Error(err))
		return
	}

	i.execMu.Lock()
	i.script.SetVars(script.Vars(snap.Variables))
	i.execMu.Unlock()

	i.mu.Lock()
	i.state = snap.State
	if i.state == "" {
		i.state = DefaultState
	}
	i.startOnInit = snap.Running
	i.permissions = snap.Permissions
	i.minEventDelay = snap.MinEventDelay
	for _, rec := range snap.Queue {
		if i.queue.Len() >= i.maxQueue {
			break
		}
		if i.admitLocked(rec) {
			i.queue.Enqueue(rec)
		}
	}
	i.lastHash = state.Hash(data)
	i.startedFromSavedState = true
	i.mu.Unlock()

	i.saveDeferred.Store(false)

	if err := i.engine.AsyncCommands().CreateFromData(i.part.ID, i.item.ID, snap.Plugins); err != nil {
		i.logger.Warn("failed to restore async commands", zap.Error(err))
	}

	if !i.persistedHere {
		i.RemoveState()
	}

	i.logger.Debug("restored saved state",
		zap.String("state", snap.State),
		zap.Int("variables", len(snap.Variables)),
		zap.Int("queued", len(snap.Queue)),
	)
}

// Init starts the script as configured and queues its start-up events.
// A restored script gets on_rez, attach or changed depending on why it
// is starting; a fresh one gets state_entry first.
func (i *Instance) Init() {
	i.mu.Lock()
	restored := i.startedFromSavedState
	startOnInit := i.startOnInit
	startParam := i.startParam
	i.mu.Unlock()

	if startOnInit {
		i.Start()
	}

	if !restored {
		i.PostEvent(event.New(event.StateEntry))
	}

	if i.postOnRez {
		i.PostEvent(event.New(event.OnRez, event.Integer(startParam)))
	}

	switch {
	case i.stateSource == AttachedRez:
		i.PostEvent(event.New(event.Attach, event.KeyOf(i.part.OwnerID)))
	case !restored:
		// changed is only delivered to restored scripts
	case i.stateSource == RegionStart:
		i.PostEvent(event.New(event.Changed, event.Integer(event.ChangedRegionStart)))
	case i.stateSource == PrimCrossing || i.stateSource == Teleporting:
		i.PostEvent(event.New(event.Changed, event.Integer(event.ChangedRegion)))
		if i.stateSource == Teleporting {
			i.PostEvent(event.New(event.Changed, event.Integer(event.ChangedTeleport)))
		}
	}
}

// SaveState writes a snapshot if the script is running (or was stopped
// with stay-stopped) and its serialized form changed since the last
// write. Called during an event it only marks the save for when the
// event returns. Storage errors are logged and otherwise ignored.
func (i *Instance) SaveState() {
	if !i.saveAllowed() {
		return
	}

	if i.executing.Load() {
		i.saveDeferred.Store(true)
		return
	}

	i.execMu.Lock()
	defer i.execMu.Unlock()
	i.saveStateExecLocked()
}

// saveStateExecLocked must be called with execMu held.
func (i *Instance) saveStateExecLocked() {
	if !i.saveAllowed() {
		return
	}

	data, err := state.Marshal(i.snapshot())
	if err != nil {
		i.logger.Warn("failed to serialize state", zap.Error(err))
		return
	}
	hash := state.Hash(data)

	i.mu.Lock()
	unchanged := hash == i.lastHash
	i.mu.Unlock()

	if !unchanged {
		if err := i.store.Write(context.Background(), i.item.ID, data); err != nil {
			i.logger.Warn("failed to save state", zap.Error(err))
			return
		}
	}

	i.mu.Lock()
	if !unchanged {
		i.lastHash = hash
		i.stats.StateWrites++
	}
	i.stayStopped = false
	i.mu.Unlock()
}

func (i *Instance) saveAllowed() bool {
	if i.store == nil || !i.persistedHere {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return (i.running || i.stayStopped) && !i.inSelfDelete
}

// RemoveState deletes the stored snapshot. Errors are logged.
func (i *Instance) RemoveState() {
	if i.store == nil {
		return
	}
	if err := i.store.Remove(context.Background(), i.item.ID); err != nil {
		i.logger.Warn("failed to remove saved state", zap.Error(err))
		return
	}

	i.mu.Lock()
	i.lastHash = ""
	i.mu.Unlock()
}

// GetXMLState briefly stops the script and returns its serialized
// snapshot, for saving with an attachment or moving between regions. A
// running script resumes afterwards.
func (i *Instance) GetXMLState() (string, error) {
	run := i.Running()
	i.Stop(xmlStateStopTimeout, false)

	i.mu.Lock()
	i.running = run
	i.mu.Unlock()

	if i.stuck() {
		return "", ErrExecutionStuck
	}

	i.execMu.Lock()
	snap := i.snapshot()
	i.execMu.Unlock()

	data, err := state.Marshal(snap)
	if err != nil {
		return "", err
	}

	if run {
		i.mu.Lock()
		if i.queue.Len() > 0 {
			i.requestWorkLocked()
		}
		i.mu.Unlock()
	}
	return string(data), nil
}

// snapshot captures the current state. Must be called with execMu held.
func (i *Instance) snapshot() *state.Snapshot {
	vars := i.script.GetVars()
	plugins := i.engine.AsyncCommands().GetSerializationData(i.item.ID)

	i.mu.Lock()
	defer i.mu.Unlock()

	return &state.Snapshot{
		ItemID:        i.item.ID,
		AssetID:       i.item.AssetID,
		State:         i.state,
		Running:       i.running,
		Variables:     vars,
		Queue:         i.queue.Snapshot(),
		Plugins:       plugins,
		Permissions:   i.permissions,
		MinEventDelay: i.minEventDelay,
	}
}

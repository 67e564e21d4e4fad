package instance

import (
	"time"

	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
)

// SetState switches the script to another state. Pending events are
// discarded except the most recent timer; state_exit, state and
// state_entry are queued ahead of it. The returned *script.StateChangeSignal
// must be propagated out of the running handler. SetState to the current
// state does nothing and returns nil.
func (i *Instance) SetState(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if name == i.state {
		return nil
	}

	var lastTimer event.Record
	for _, rec := range i.queue.Drain() {
		if rec.Name() == event.Timer {
			lastTimer = rec
		}
	}
	i.timerQueued = false
	i.collisionQueued = false
	i.controlEventsInQueue = 0

	i.queue.Enqueue(event.New(event.StateExit))
	i.queue.Enqueue(event.New(event.State, event.String(name)))
	i.queue.Enqueue(event.New(event.StateEntry))
	if !lastTimer.IsZero() {
		i.queue.Enqueue(lastTimer)
		i.timerQueued = true
	}

	i.stateChangeInProgress = true
	i.requestWorkLocked()

	i.logger.Debug("state change requested", zap.String("from", i.state), zap.String("to", name))
	return &script.StateChangeSignal{State: name}
}

// ResetScript restores the script to its initial condition: globals
// reset, default state, empty queue, no permissions. A running script is
// stopped (waiting up to timeout) and restarted with a fresh state_entry.
// It returns false, leaving the script stopped, when a handler ignored
// the abort and is still running.
func (i *Instance) ResetScript(timeout time.Duration) bool {
	running := i.Running()

	if !i.Stop(timeout, true) || i.stuck() {
		i.logger.Warn("reset skipped, an abandoned event is still running")
		return false
	}

	i.RemoveState()
	i.releaseControls()

	i.mu.Lock()
	i.resetLocked()
	i.mu.Unlock()

	i.engine.AsyncCommands().RemoveScript(i.item.ID)

	i.execMu.Lock()
	i.script.ResetVars()
	i.publishEventFlags()
	i.execMu.Unlock()

	if running {
		i.Start()
	}

	i.saveDeferred.Store(i.persistedHere)
	i.PostEvent(event.New(event.StateEntry))
	i.logger.Info("script reset")
	return true
}

// ApiResetScript resets the script from inside one of its own handlers.
// It returns script.ErrEventAbort, which must be propagated, unless the
// reset happens in the default state's state_entry, in which case the
// handler simply carries on.
func (i *Instance) ApiResetScript() error {
	i.RemoveState()
	i.releaseControls()

	i.mu.Lock()
	oldState := i.state
	currentEvent := i.currentEvent
	i.resetLocked()
	i.mu.Unlock()

	i.engine.AsyncCommands().RemoveScript(i.item.ID)
	i.script.ResetVars()
	i.publishEventFlags()

	if currentEvent == event.StateEntry && oldState == DefaultState {
		return nil
	}

	i.saveDeferred.Store(i.persistedHere)
	i.PostEvent(event.New(event.StateEntry))
	return script.ErrEventAbort
}

// resetLocked returns queue, permissions and state to their initial
// values. Must be called with mu held.
func (i *Instance) resetLocked() {
	i.clearQueueLocked()
	i.permissions = state.Permissions{}
	i.startParam = 0
	i.state = DefaultState
	i.stateChangeInProgress = false
	i.lastControlLevel = 0
	i.minEventDelay = 0
	i.nextEventAllowedAt = time.Time{}
}

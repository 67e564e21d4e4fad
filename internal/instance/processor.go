package instance

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
)

// EventProcessor dispatches one queued event. The engine's pool calls it
// once per activation requested through QueueEventHandler; it requests
// the next activation itself while events remain.
func (i *Instance) EventProcessor(ctx context.Context) {
	i.mu.Lock()
	if !i.running {
		i.currentWorkItem = nil
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	i.execMu.Lock()
	defer i.execMu.Unlock()

	i.mu.Lock()
	if !i.running || i.suspended || i.inSelfDelete {
		i.currentWorkItem = nil
		i.mu.Unlock()
		return
	}

	rec, ok := i.queue.Dequeue()
	if !ok {
		i.currentWorkItem = nil
		i.mu.Unlock()
		return
	}
	i.releaseLocked(rec)

	var stop <-chan struct{}
	if i.coopTermination && i.currentWorkItem != nil {
		stop = i.currentWorkItem.Stopping()
	}

	if rec.Name() == event.State {
		i.switchStateLocked(stateArg(rec))
		i.mu.Unlock()
		i.publishEventFlags()
	} else {
		current := i.state
		i.currentEvent = rec.Name()
		i.mu.Unlock()

		if rec.Name() == event.Control || i.engine.World().PipeEventsForScript(i.part.ID) {
			i.execute(ctx, current, rec, stop)
		}

		i.mu.Lock()
		i.currentEvent = ""
		i.mu.Unlock()
	}

	if i.saveDeferred.Swap(false) {
		i.saveStateExecLocked()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.stats.EventsProcessed++
	i.currentWorkItem = nil
	if i.queue.Len() > 0 {
		i.requestWorkLocked()
	}
}

// switchStateLocked completes a state change. Must be called with mu held.
func (i *Instance) switchStateLocked(name string) {
	i.state = name
	i.stateChangeInProgress = false
	i.engine.AsyncCommands().StateChange(i.item.ID, name)
	i.logger.Debug("state changed", zap.String("state", name))
}

func (i *Instance) publishEventFlags() {
	flags := i.script.GetStateEventFlags(i.State())
	i.engine.World().SetScriptEvents(i.part.ID, i.item.ID, flags)
}

// execute runs one handler and deals with its outcome. Must be called
// with execMu held.
func (i *Instance) execute(ctx context.Context, current string, rec event.Record, stop <-chan struct{}) {
	execCtx := script.WithExec(ctx, script.Exec{
		Host:   i,
		Event:  rec.Name(),
		Detect: rec.Detect(),
		Stop:   stop,
	})

	start := i.clock.Now()
	i.executing.Store(true)
	err := i.invoke(execCtx, current, rec)
	i.executing.Store(false)
	elapsed := i.clock.Now().Sub(start)

	i.mu.Lock()
	i.stats.recordExecution(elapsed)
	i.mu.Unlock()

	i.handleOutcome(rec, err)
}

// invoke calls into the script. A panic in script code becomes a fault.
func (i *Instance) invoke(ctx context.Context, current string, rec event.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("script panicked: %v", r)
		}
	}()
	return i.script.ExecuteEvent(ctx, current, rec.Name(), rec.Args())
}

func (i *Instance) handleOutcome(rec event.Record, err error) {
	outcome := script.Classify(err)
	log := i.logger.With(zap.String("event", rec.Name()), zap.Stringer("outcome", outcome))

	switch outcome {
	case script.Completed, script.StateChange, script.Aborted:
		return

	case script.CoopStop:
		log.Debug("event stopped cooperatively")

	case script.Interrupted:
		log.Warn("event interrupted", zap.Error(err))

	case script.SelfDelete:
		i.markSelfDelete()
		w := i.engine.World()
		if err := w.RemoveInventoryItem(i.part.ID, i.item.ID); err != nil {
			log.Warn("failed to remove script from inventory", zap.Error(err))
		}
		if err := w.DeleteSceneObject(i.part.ObjectID); err != nil {
			log.Warn("failed to delete object", zap.Error(err))
		}
		log.Info("script deleted its object")

	case script.ScriptDelete:
		i.markSelfDelete()
		if err := i.engine.World().RemoveInventoryItem(i.part.ID, i.item.ID); err != nil {
			log.Warn("failed to remove script from inventory", zap.Error(err))
		}
		log.Info("script removed itself")

	case script.Faulted:
		i.reportFault(rec, err)
	}
}

func (i *Instance) markSelfDelete() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.inSelfDelete = true
	i.clearQueueLocked()
}

func stateArg(rec event.Record) string {
	if v := rec.Arg(0); v != nil {
		return v.String()
	}
	return DefaultState
}

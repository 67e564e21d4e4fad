package instance

import (
	"github.com/roach88/scriptengine/internal/event"
)

// undelayedEvents are never subject to the minimum event delay.
var undelayedEvents = map[string]bool{
	event.State:              true,
	event.StateEntry:         true,
	event.StateExit:          true,
	event.RunTimePermissions: true,
	event.HTTPRequest:        true,
	event.LinkMessage:        true,
}

// PostEvent offers an event to the script and reports whether it was
// queued. Events are dropped, silently, when:
//   - the instance is not running or is deleting itself
//   - they arrive inside the minimum event delay (see undelayedEvents)
//   - a state change is in progress, for anything but timer
//   - the queue is full
//   - a timer or collision is already queued
//   - a control event repeats the last control level while one is queued,
//     or reports nothing held after nothing held
//   - a collision carries no detection parameters
func (i *Instance) PostEvent(rec event.Record) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running || i.inSelfDelete {
		return false
	}

	if i.minEventDelay > 0 && !undelayedEvents[rec.Name()] {
		now := i.clock.Now()
		if now.Before(i.nextEventAllowedAt) {
			return false
		}
		i.nextEventAllowedAt = now.Add(i.minEventDelay)
	}

	if i.stateChangeInProgress && rec.Name() != event.Timer {
		return false
	}

	if i.queue.Len() >= i.maxQueue {
		return false
	}

	if !i.admitLocked(rec) {
		return false
	}

	i.queue.Enqueue(rec)
	i.requestWorkLocked()
	return true
}

// admitLocked applies the de-duplication rules and updates the flags for
// an event about to be queued. Must be called with mu held.
func (i *Instance) admitLocked(rec event.Record) bool {
	switch rec.Name() {
	case event.Timer:
		if i.timerQueued {
			return false
		}
		i.timerQueued = true

	case event.Control:
		held := intArg(rec, 1)

		if i.lastControlLevel == held && held == 0 {
			return false
		}
		if i.controlEventsInQueue > 0 && i.lastControlLevel == held {
			return false
		}
		i.lastControlLevel = held
		i.controlEventsInQueue++

	case event.Collision:
		if i.collisionQueued || !rec.HasDetect() {
			return false
		}
		i.collisionQueued = true
	}
	return true
}

// releaseLocked clears the flags held by a dequeued event. Must be called
// with mu held.
func (i *Instance) releaseLocked(rec event.Record) {
	switch rec.Name() {
	case event.Timer:
		i.timerQueued = false
	case event.Control:
		if i.controlEventsInQueue > 0 {
			i.controlEventsInQueue--
		}
	case event.Collision:
		i.collisionQueued = false
	}
}

// intArg returns argument n as an integer, or 0 if it is absent or not a
// number. Floats are truncated and clamped to the integer range.
func intArg(rec event.Record, n int) int32 {
	switch v := rec.Arg(n).(type) {
	case event.Integer:
		return int32(v)
	case event.Float:
		i, _ := event.IntegerFromFloat(float64(v))
		return int32(i)
	default:
		return 0
	}
}

package instance

import "github.com/roach88/scriptengine/internal/event"

// eventQueue is the FIFO of events waiting for a script.
//
// It carries no lock of its own: every access happens under Instance.mu,
// together with the de-duplication flags that describe its contents.
// Capacity is enforced by the admission policy in PostEvent, not here,
// because state changes must be able to insert their events past it.
type eventQueue struct {
	events []event.Record
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{events: make([]event.Record, 0, capacity)}
}

// Enqueue adds an event to the back of the queue.
func (q *eventQueue) Enqueue(rec event.Record) {
	q.events = append(q.events, rec)
}

// Dequeue removes and returns the front event.
func (q *eventQueue) Dequeue() (event.Record, bool) {
	if len(q.events) == 0 {
		return event.Record{}, false
	}

	rec := q.events[0]
	q.events[0] = event.Record{} // release argument slices for GC

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return rec, true
}

// Drain empties the queue and returns what it held, in order.
func (q *eventQueue) Drain() []event.Record {
	out := q.Snapshot()
	q.Clear()
	return out
}

// Snapshot returns a copy of the queued events.
func (q *eventQueue) Snapshot() []event.Record {
	if len(q.events) == 0 {
		return nil
	}
	return append([]event.Record(nil), q.events...)
}

// Clear drops every queued event.
func (q *eventQueue) Clear() {
	for i := range q.events {
		q.events[i] = event.Record{}
	}
	q.events = q.events[:0]
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	return len(q.events)
}

// Names returns the queued event names, in order.
func (q *eventQueue) Names() []string {
	names := make([]string, len(q.events))
	for i, rec := range q.events {
		names[i] = rec.Name()
	}
	return names
}

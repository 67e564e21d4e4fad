// Package instance runs one script bound to one inventory item.
//
// An Instance owns a bounded event queue and a script.Script. Events enter
// through PostEvent, which applies the admission policy (rate limiting,
// timer/control/collision de-duplication, capacity). Whenever events are
// pending and no activation is outstanding, the instance asks its Engine
// for a work item; the engine's pool then calls EventProcessor, which
// dispatches exactly one event and re-queues itself while work remains.
//
// Thread-safety model:
//   - mu guards the queue, the lifecycle flags and the current work item
//   - execMu serializes script execution with snapshotting and resets
//   - mu is never held while acquiring execMu
//
// At most one work item is outstanding per instance, so a script's events
// run strictly one at a time even though many instances share a pool.
package instance

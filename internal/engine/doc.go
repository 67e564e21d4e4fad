// Package engine hosts script instances.
//
// The engine owns the shared worker pool that runs instance activations,
// the registry of instances keyed by item ID, the timer subsystem, and
// the periodic state save loop.
//
// Threading model:
//   - Run starts the pool, the timer loop and the maintenance loop; it
//     blocks until Shutdown or context cancellation.
//   - Every other method is safe from any goroutine.
//   - Each instance has at most one activation queued or running on the
//     pool at a time; the instance enforces this, the engine only submits.
//
// Instances are listed in registration order. The order is kept by a
// registration counter, never by wall-clock time.
package engine

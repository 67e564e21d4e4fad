package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of an Item.
type State int32

const (
	// Queued items are waiting for a worker.
	Queued State = iota
	// Running items are executing on a worker.
	Running
	// Done items have returned, normally or by panic.
	Done
	// Cancelled items were removed before they started and never run.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DefaultAbortGrace is how long Abort waits for an interrupted item to
// return before giving up on it.
const DefaultAbortGrace = 100 * time.Millisecond

// Item is one unit of work submitted to a Pool.
//
// Thread-safety: every method is safe from any goroutine.
type Item struct {
	fn     func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	aborted atomic.Bool
	done    chan struct{}

	stopOnce sync.Once
	stop     chan struct{}

	mu  sync.Mutex
	err error

	abortGrace time.Duration
}

func newItem(parent context.Context, fn func(ctx context.Context), abortGrace time.Duration) *Item {
	ctx, cancel := context.WithCancel(parent)
	return &Item{
		fn:         fn,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		stop:       make(chan struct{}),
		abortGrace: abortGrace,
	}
}

// State returns the current lifecycle state.
func (it *Item) State() State {
	return State(it.state.Load())
}

// Cancel removes a queued item. It returns true only if the item had not
// started; a cancelled item is guaranteed never to run.
func (it *Item) Cancel() bool {
	if !it.state.CompareAndSwap(int32(Queued), int32(Cancelled)) {
		return false
	}
	it.cancel()
	close(it.done)
	return true
}

// Wait blocks until the item is done or cancelled. A negative timeout
// waits forever and a zero timeout only polls. Returns false on timeout.
func (it *Item) Wait(timeout time.Duration) bool {
	select {
	case <-it.done:
		return true
	default:
	}
	if timeout == 0 {
		return false
	}
	if timeout < 0 {
		<-it.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-it.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the item finishes or is cancelled.
func (it *Item) Done() <-chan struct{} {
	return it.done
}

// RequestStop signals cooperative termination. Running code observes it
// through Stopping and unwinds at its next check-point.
func (it *Item) RequestStop() {
	it.stopOnce.Do(func() { close(it.stop) })
}

// Stopping returns the cooperative stop channel.
func (it *Item) Stopping() <-chan struct{} {
	return it.stop
}

// Abort forcibly terminates the item. A queued item is cancelled. A
// running item has its context cancelled; Abort then waits the abort
// grace period and reports whether the item returned. An item that
// ignores its context is abandoned.
func (it *Item) Abort() bool {
	if it.Cancel() {
		return true
	}
	it.aborted.Store(true)
	it.cancel()
	return it.Wait(it.abortGrace)
}

// Aborted reports whether Abort was called on a started item.
func (it *Item) Aborted() bool {
	return it.aborted.Load()
}

// Err returns the panic recovered from the item's function, if any.
func (it *Item) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// start moves the item to Running. It fails if the item was cancelled.
func (it *Item) start() bool {
	return it.state.CompareAndSwap(int32(Queued), int32(Running))
}

func (it *Item) finish(err error) {
	it.mu.Lock()
	it.err = err
	it.mu.Unlock()

	it.state.Store(int32(Done))
	it.cancel()
	close(it.done)
}

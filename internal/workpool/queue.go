package workpool

import "sync"

// itemQueue is a thread-safe FIFO of pending items.
//
// The queue is unbounded; back-pressure is applied per script instance,
// which never has more than one item outstanding.
//
// The signal channel has a buffer of one and coalesces wake-ups. A worker
// that dequeues while items remain re-signals so idle workers pick up the
// rest.
type itemQueue struct {
	mu     sync.Mutex
	items  []*Item
	closed bool
	signal chan struct{}
}

func newItemQueue() *itemQueue {
	return &itemQueue{
		items:  make([]*Item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *itemQueue) Enqueue(it *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, it)
	q.notify()
	return true
}

// TryDequeue removes the front item without blocking.
func (q *itemQueue) TryDequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	it := q.items[0]
	q.items[0] = nil // release for GC

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
		q.notify()
	}

	return it, true
}

// notify must be called with mu held.
func (q *itemQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when items may be available. It is
// closed once the queue is closed.
func (q *itemQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending items.
func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether the queue is closed and empty.
func (q *itemQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops accepting items and wakes all waiters. Pending items are
// still handed out by TryDequeue.
func (q *itemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

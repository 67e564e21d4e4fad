package workpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workpool: closed")

// Pool executes Items on a fixed number of worker goroutines.
//
// Thread-safety model:
//   - Submit(), Close(), Pending(), Active(): safe from any goroutine
//   - Run(): must be called exactly once
type Pool struct {
	workers    int
	abortGrace time.Duration
	logger     *zap.Logger
	queue      *itemQueue
	base       context.Context
	cancel     context.CancelFunc
	active     atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithAbortGrace sets how long Item.Abort waits for an interrupted item.
func WithAbortGrace(d time.Duration) Option {
	return func(p *Pool) {
		p.abortGrace = d
	}
}

// New creates a pool with the given number of workers. A non-positive
// count uses DefaultWorkers.
func New(workers int, logger *zap.Logger, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:    workers,
		abortGrace: DefaultAbortGrace,
		logger:     logger,
		queue:      newItemQueue(),
		base:       base,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues fn for execution. The context passed to fn is cancelled
// when the item is aborted or the pool is shut down.
func (p *Pool) Submit(fn func(ctx context.Context)) (*Item, error) {
	it := newItem(p.base, fn, p.abortGrace)
	if !p.queue.Enqueue(it) {
		it.Cancel()
		return it, ErrClosed
	}
	return it, nil
}

// Run starts the workers and blocks until ctx is cancelled or the pool is
// closed and drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		if it, ok := p.queue.TryDequeue(); ok {
			p.execute(worker, it)
			continue
		}

		if p.queue.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.queue.Wait():
		}
	}
}

func (p *Pool) execute(worker int, it *Item) {
	if !it.start() {
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("workpool: item panicked: %v", r)
			p.logger.Error("work item panicked",
				zap.Int("worker", worker),
				zap.Error(err),
				zap.String("stack", errorStack(err)),
			)
		}
		it.finish(err)
	}()

	it.fn(it.ctx)
}

// Pending returns the number of queued items.
func (p *Pool) Pending() int {
	return p.queue.Len()
}

// Active returns the number of items currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Close stops accepting new items. Queued items still run; Run returns
// once they are drained.
func (p *Pool) Close() {
	p.queue.Close()
}

// Shutdown closes the pool and cancels the context of every item,
// interrupting running work.
func (p *Pool) Shutdown() {
	p.queue.Close()
	p.cancel()
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func errorStack(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

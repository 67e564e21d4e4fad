package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/workpool"
	"github.com/roach88/scriptengine/internal/world"
)

// Defaults for engine options.
const (
	DefaultKillTimeout  = 3 * time.Second
	DefaultSaveInterval = 2 * time.Minute
)

// Engine hosts script instances and implements instance.Engine.
type Engine struct {
	world    world.World
	store    state.Store
	registry *script.Registry
	logger   *zap.Logger
	clock    instance.Clock

	workers         int
	abortGrace      time.Duration
	maxScriptQueue  int
	maxErrorLength  int
	minEventDelay   time.Duration
	killTimeout     time.Duration
	saveInterval    time.Duration
	coopTermination bool
	timerResolution time.Duration
	manualTimers    bool

	pool   *workpool.Pool
	timers *Timers

	mu      sync.RWMutex
	scripts map[uuid.UUID]*entry
	lastSeq int64 // registration counter, guarded by mu
	closed  bool
	stopRun context.CancelFunc
}

type entry struct {
	inst *instance.Instance
	seq  int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets where script states are persisted. Without a store,
// nothing is saved.
func WithStore(s state.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithRegistry sets the APIs given to every script.
func WithRegistry(r *script.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock used for rate limiting, statistics and timers.
func WithClock(c instance.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithWorkers sets the number of pool workers.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithAbortGrace sets how long an aborted activation is waited for before
// it is abandoned.
func WithAbortGrace(d time.Duration) Option {
	return func(e *Engine) { e.abortGrace = d }
}

// WithMaxScriptQueue bounds each instance's event queue.
func WithMaxScriptQueue(n int) Option {
	return func(e *Engine) { e.maxScriptQueue = n }
}

// WithMaxErrorLength bounds the error text reported in-world.
func WithMaxErrorLength(n int) Option {
	return func(e *Engine) { e.maxErrorLength = n }
}

// WithMinEventDelay sets the initial minimum delay between events for new
// scripts.
func WithMinEventDelay(d time.Duration) Option {
	return func(e *Engine) { e.minEventDelay = d }
}

// WithKillTimeout sets how long Stop waits for a running event.
func WithKillTimeout(d time.Duration) Option {
	return func(e *Engine) { e.killTimeout = d }
}

// WithSaveInterval sets the period of the state save loop. Zero disables
// periodic saves.
func WithSaveInterval(d time.Duration) Option {
	return func(e *Engine) { e.saveInterval = d }
}

// WithCoopTermination makes Stop ask running events to stop instead of
// aborting them.
func WithCoopTermination(v bool) Option {
	return func(e *Engine) { e.coopTermination = v }
}

// WithTimerResolution sets how often timers are checked.
func WithTimerResolution(d time.Duration) Option {
	return func(e *Engine) { e.timerResolution = d }
}

// WithManualTimers stops Run from firing timers. The caller fires them
// through TimerSet().Fire instead.
func WithManualTimers() Option {
	return func(e *Engine) { e.manualTimers = true }
}

// New creates an engine for the given world. Call Run to start executing.
func New(w world.World, opts ...Option) *Engine {
	e := &Engine{
		world:        w,
		registry:     script.NewRegistry(),
		logger:       zap.NewNop(),
		clock:        instance.SystemClock,
		workers:      workpool.DefaultWorkers,
		abortGrace:   workpool.DefaultAbortGrace,
		killTimeout:  DefaultKillTimeout,
		saveInterval: DefaultSaveInterval,
		scripts:      make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.pool = workpool.New(e.workers, e.logger.Named("pool"), workpool.WithAbortGrace(e.abortGrace))
	e.timers = NewTimers(e.clock, e.PostScriptEvent, e.timerResolution, e.logger.Named("timers"))
	return e
}

// Run executes activations, fires timers and saves states periodically.
// It blocks until Shutdown is called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return engineClosed()
	}
	e.stopRun = cancel
	e.mu.Unlock()

	e.logger.Info("engine starting", zap.Int("workers", e.workers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.pool.Run(gctx)
	})
	if !e.manualTimers {
		g.Go(func() error {
			return e.timers.Run(gctx)
		})
	}
	if e.saveInterval > 0 {
		g.Go(func() error {
			return e.maintain(gctx)
		})
	}

	err := g.Wait()
	e.logger.Info("engine stopped")
	return err
}

// maintain saves every instance and reaps self-deleted ones every
// save interval.
func (e *Engine) maintain(ctx context.Context) error {
	ticker := time.NewTicker(e.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.SaveAll()
			e.reap()
		}
	}
}

// QueueEventHandler implements instance.Engine.
func (e *Engine) QueueEventHandler(inst *instance.Instance) *workpool.Item {
	it, err := e.pool.Submit(inst.EventProcessor)
	if err != nil {
		e.logger.Debug("activation rejected",
			zap.String("item_id", inst.ItemID().String()),
			zap.Error(err),
		)
		return nil
	}
	return it
}

// World implements script.Engine.
func (e *Engine) World() world.World {
	return e.world
}

// Timers implements script.Engine.
func (e *Engine) Timers() script.Timers {
	return e.timers
}

// AsyncCommands implements instance.Engine.
func (e *Engine) AsyncCommands() instance.AsyncCommands {
	return e.timers
}

// TimerSet returns the concrete timer subsystem.
func (e *Engine) TimerSet() *Timers {
	return e.timers
}

// Registry returns the APIs given to every script.
func (e *Engine) Registry() *script.Registry {
	return e.registry
}

// Store returns the state store, or nil.
func (e *Engine) Store() state.Store {
	return e.store
}

// AddScript creates, loads and initializes an instance for s. Fields of p
// left zero are filled from the engine's options.
func (e *Engine) AddScript(ctx context.Context, s script.Script, p instance.Params) (*instance.Instance, error) {
	itemID := p.Item.ID

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, engineClosed()
	}
	if _, exists := e.scripts[itemID]; exists {
		e.mu.Unlock()
		return nil, duplicateScript(itemID)
	}
	// Reserve the slot so a concurrent AddScript for the same item fails.
	e.scripts[itemID] = nil
	e.mu.Unlock()

	inst, err := e.load(ctx, s, p)
	if err != nil {
		e.mu.Lock()
		delete(e.scripts, itemID)
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.lastSeq++
	e.scripts[itemID] = &entry{inst: inst, seq: e.lastSeq}
	e.mu.Unlock()

	inst.Init()
	e.logger.Info("script added",
		zap.String("item_id", itemID.String()),
		zap.String("part_id", p.Part.ID.String()),
		zap.String("script", p.Item.Name),
		zap.Bool("restored", inst.StartedFromSavedState()),
	)
	return inst, nil
}

func (e *Engine) load(ctx context.Context, s script.Script, p instance.Params) (*instance.Instance, error) {
	if p.Store == nil {
		p.Store = e.store
	}
	if p.Registry == nil {
		p.Registry = e.registry
	}
	if p.Logger == nil {
		p.Logger = e.logger
	}
	if p.Clock == nil {
		p.Clock = e.clock
	}
	if p.MaxScriptQueue <= 0 {
		p.MaxScriptQueue = e.maxScriptQueue
	}
	if p.MaxErrorLength <= 0 {
		p.MaxErrorLength = e.maxErrorLength
	}
	p.CoopTermination = p.CoopTermination || e.coopTermination

	inst := instance.New(e, s, p)
	if err := inst.Load(ctx); err != nil {
		inst.DestroyScriptInstance()
		return nil, &Error{Code: ErrCodeLoadFailed, Message: "load script", ItemID: p.Item.ID, Err: err}
	}
	if e.minEventDelay > 0 && !inst.StartedFromSavedState() {
		inst.SetMinEventDelay(e.minEventDelay)
	}
	return inst, nil
}

// RemoveScript stops an instance, releases everything it holds and deletes
// its saved state.
func (e *Engine) RemoveScript(itemID uuid.UUID) error {
	e.mu.Lock()
	ent, ok := e.scripts[itemID]
	if !ok || ent == nil {
		e.mu.Unlock()
		return unknownScript(itemID)
	}
	delete(e.scripts, itemID)
	e.mu.Unlock()

	e.retire(ent.inst)
	ent.inst.RemoveState()
	e.logger.Info("script removed", zap.String("item_id", itemID.String()))
	return nil
}

// retire stops and destroys an instance. The script is closed only when
// no abandoned activation may still be using it.
func (e *Engine) retire(inst *instance.Instance) {
	stopped := inst.Stop(e.killTimeout, true)
	inst.DestroyScriptInstance()
	if closer, ok := inst.Script().(interface{ Close() }); ok && stopped {
		closer.Close()
	}
}

// reap removes instances whose script deleted itself.
func (e *Engine) reap() {
	for _, inst := range e.Instances() {
		if inst.InSelfDelete() && !inst.Busy() {
			_ = e.RemoveScript(inst.ItemID())
		}
	}
}

// Instance returns the instance for an item.
func (e *Engine) Instance(itemID uuid.UUID) (*instance.Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.scripts[itemID]
	if !ok || ent == nil {
		return nil, false
	}
	return ent.inst, true
}

// Instances returns every instance in registration order.
func (e *Engine) Instances() []*instance.Instance {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.scripts))
	for _, ent := range e.scripts {
		if ent != nil {
			entries = append(entries, ent)
		}
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].seq < entries[b].seq
	})
	out := make([]*instance.Instance, len(entries))
	for i, ent := range entries {
		out[i] = ent.inst
	}
	return out
}

// PostObjectEvent posts rec to every script in a part. It returns how many
// scripts accepted it.
func (e *Engine) PostObjectEvent(partID uuid.UUID, rec event.Record) int {
	accepted := 0
	for _, inst := range e.Instances() {
		if inst.PartID() == partID && inst.PostEvent(rec) {
			accepted++
		}
	}
	return accepted
}

// PostScriptEvent posts rec to one script.
func (e *Engine) PostScriptEvent(itemID uuid.UUID, rec event.Record) bool {
	inst, ok := e.Instance(itemID)
	if !ok {
		return false
	}
	return inst.PostEvent(rec)
}

// SetScriptState starts or stops a script. A stopped script keeps its
// saved state, marked as not running.
func (e *Engine) SetScriptState(itemID uuid.UUID, running bool) error {
	inst, ok := e.Instance(itemID)
	if !ok {
		return unknownScript(itemID)
	}

	if running {
		inst.SetStayStopped(false)
		inst.Start()
		return nil
	}

	inst.Stop(e.killTimeout, false)
	inst.SetStayStopped(true)
	inst.SaveState()
	return nil
}

// SaveAll saves the state of every instance. Unchanged states are not
// rewritten.
func (e *Engine) SaveAll() {
	for _, inst := range e.Instances() {
		inst.SaveState()
	}
}

// WaitIdle blocks until no instance has queued or running work, or ctx is
// done.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) idle() bool {
	for _, inst := range e.Instances() {
		if inst.Busy() {
			return false
		}
	}
	return true
}

// Shutdown stops every instance and the pool. States are saved before the
// instances are stopped. Instances are stopped concurrently; ctx bounds the
// whole operation.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stopRun := e.stopRun
	e.mu.Unlock()

	insts := e.Instances()
	e.logger.Info("engine shutting down", zap.Int("scripts", len(insts)))

	for _, inst := range insts {
		inst.SetShuttingDown()
	}
	e.SaveAll()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, inst := range insts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			e.retire(inst)
			return nil
		})
	}
	err := g.Wait()

	e.pool.Shutdown()
	if stopRun != nil {
		stopRun()
	}
	return err
}

var _ instance.Engine = (*Engine)(nil)

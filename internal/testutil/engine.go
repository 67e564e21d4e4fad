package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/workpool"
	"github.com/roach88/scriptengine/internal/world"
)

// RecordingEngine is an instance.Engine backed by a real workpool and an
// in-memory world. It records how activations are requested so tests can
// check that an instance never has more than one outstanding.
//
// The pool is not running until Start is called; until then every
// activation stays queued, which keeps instance queues inspectable.
type RecordingEngine struct {
	t     *testing.T
	Pool  *workpool.Pool
	Mem   *world.Memory
	Async *RecordingAsync

	mu         sync.Mutex
	requests   map[uuid.UUID]int
	pending    map[uuid.UUID]int
	active     map[uuid.UUID]int
	maxPending map[uuid.UUID]int
	maxActive  map[uuid.UUID]int
	running    map[uuid.UUID]*activation
	timers     map[uuid.UUID]time.Duration
	started    bool
}

// NewRecordingEngine creates an engine with a four-worker pool.
func NewRecordingEngine(t *testing.T) *RecordingEngine {
	t.Helper()
	return &RecordingEngine{
		t:          t,
		Pool:       workpool.New(4, zaptest.NewLogger(t), workpool.WithAbortGrace(50*time.Millisecond)),
		Mem:        world.NewMemory(),
		Async:      NewRecordingAsync(),
		requests:   make(map[uuid.UUID]int),
		pending:    make(map[uuid.UUID]int),
		active:     make(map[uuid.UUID]int),
		maxPending: make(map[uuid.UUID]int),
		maxActive:  make(map[uuid.UUID]int),
		running:    make(map[uuid.UUID]*activation),
		timers:     make(map[uuid.UUID]time.Duration),
	}
}

// Start runs the pool until the test ends.
func (e *RecordingEngine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Pool.Run(ctx)
	}()
	e.t.Cleanup(func() {
		e.Pool.Shutdown()
		cancel()
		<-done
	})
}

// activation is one EventProcessor run. It stops counting as active when
// it finishes or when it requests its successor, whichever comes first;
// the successor cannot execute script code before the handoff anyway.
type activation struct {
	released bool
}

func (e *RecordingEngine) QueueEventHandler(inst *instance.Instance) *workpool.Item {
	id := inst.ItemID()

	e.mu.Lock()
	e.requests[id]++
	e.pending[id]++
	if e.pending[id] > e.maxPending[id] {
		e.maxPending[id] = e.pending[id]
	}
	// An instance only requests work while no activation holds its
	// current item, so a running activation is handing off here.
	if prev := e.running[id]; prev != nil {
		e.releaseLocked(id, prev)
	}
	e.mu.Unlock()

	it, err := e.Pool.Submit(func(ctx context.Context) {
		act := &activation{}

		e.mu.Lock()
		e.pending[id]--
		e.active[id]++
		if e.active[id] > e.maxActive[id] {
			e.maxActive[id] = e.active[id]
		}
		e.running[id] = act
		e.mu.Unlock()

		defer func() {
			e.mu.Lock()
			e.releaseLocked(id, act)
			e.mu.Unlock()
		}()

		inst.EventProcessor(ctx)
	})
	if err != nil {
		e.mu.Lock()
		e.pending[id]--
		e.mu.Unlock()
		return nil
	}

	// A cancelled item never runs, so it no longer counts as pending.
	go func() {
		<-it.Done()
		if it.State() == workpool.Cancelled {
			e.mu.Lock()
			e.pending[id]--
			e.mu.Unlock()
		}
	}()
	return it
}

// releaseLocked ends act's active span once. Must be called with mu held.
func (e *RecordingEngine) releaseLocked(id uuid.UUID, act *activation) {
	if act.released {
		return
	}
	act.released = true
	e.active[id]--
	if e.running[id] == act {
		delete(e.running, id)
	}
}

func (e *RecordingEngine) World() world.World { return e.Mem }

func (e *RecordingEngine) Timers() script.Timers { return e }

func (e *RecordingEngine) AsyncCommands() instance.AsyncCommands { return e.Async }

// SetTimerEvent records the interval requested by a script.
func (e *RecordingEngine) SetTimerEvent(_, itemID uuid.UUID, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[itemID] = interval
}

// TimerInterval returns the last interval set for a script.
func (e *RecordingEngine) TimerInterval(itemID uuid.UUID) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timers[itemID]
}

// Requests returns how many activations an instance requested.
func (e *RecordingEngine) Requests(itemID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[itemID]
}

// MaxPending returns the most activations an instance ever had waiting
// to start at once.
func (e *RecordingEngine) MaxPending(itemID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxPending[itemID]
}

// MaxActive returns the most activations of an instance ever running at
// once.
func (e *RecordingEngine) MaxActive(itemID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive[itemID]
}

// WaitIdle waits until inst has no pending events or activations.
func (e *RecordingEngine) WaitIdle(inst *instance.Instance) {
	e.t.Helper()
	require.Eventually(e.t, func() bool { return !inst.Busy() }, 5*time.Second, time.Millisecond,
		"instance %s did not become idle", inst.ItemID())
}

// RecordingAsync is an instance.AsyncCommands that records calls.
type RecordingAsync struct {
	mu           sync.Mutex
	stateChanges []string
	removed      []uuid.UUID
	data         map[uuid.UUID][]event.Value
	restored     map[uuid.UUID][]event.Value
}

// NewRecordingAsync creates an empty recorder.
func NewRecordingAsync() *RecordingAsync {
	return &RecordingAsync{
		data:     make(map[uuid.UUID][]event.Value),
		restored: make(map[uuid.UUID][]event.Value),
	}
}

func (a *RecordingAsync) StateChange(_ uuid.UUID, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateChanges = append(a.stateChanges, state)
}

func (a *RecordingAsync) RemoveScript(itemID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, itemID)
}

func (a *RecordingAsync) GetSerializationData(itemID uuid.UUID) []event.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data[itemID]
}

func (a *RecordingAsync) CreateFromData(_, itemID uuid.UUID, data []event.Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restored[itemID] = data
	return nil
}

// SetData sets the plugin data returned for a script.
func (a *RecordingAsync) SetData(itemID uuid.UUID, data []event.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[itemID] = data
}

// Restored returns the plugin data passed to CreateFromData.
func (a *RecordingAsync) Restored(itemID uuid.UUID) []event.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restored[itemID]
}

// StateChanges returns the states reported through StateChange.
func (a *RecordingAsync) StateChanges() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.stateChanges...)
}

// Removed returns the scripts passed to RemoveScript.
func (a *RecordingAsync) Removed() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.removed...)
}

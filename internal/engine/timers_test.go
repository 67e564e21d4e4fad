package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/testutil"
)

type postLog struct {
	mu    sync.Mutex
	posts []uuid.UUID
}

func (l *postLog) post(itemID uuid.UUID, rec event.Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Name() != event.Timer {
		return false
	}
	l.posts = append(l.posts, itemID)
	return true
}

func (l *postLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posts)
}

func TestTimers_Fire(t *testing.T) {
	clock := testutil.NewManualClock()
	log := &postLog{}
	timers := NewTimers(clock, log.post, 0, nil)

	part := testutil.SequentialID(1)
	a, b := testutil.SequentialID(2), testutil.SequentialID(3)
	timers.SetTimerEvent(part, a, time.Second)
	timers.SetTimerEvent(part, b, 3*time.Second)

	assert.Zero(t, timers.Fire(clock.Now()), "nothing due yet")

	clock.Advance(time.Second)
	assert.Equal(t, 1, timers.Fire(clock.Now()))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, timers.Fire(clock.Now()))
	assert.Equal(t, []uuid.UUID{a, a, b}, log.posts)

	// Missed intervals collapse into one event.
	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, timers.Fire(clock.Now()))
}

func TestTimers_Cancel(t *testing.T) {
	clock := testutil.NewManualClock()
	log := &postLog{}
	timers := NewTimers(clock, log.post, 0, nil)
	item := uuid.New()

	timers.SetTimerEvent(uuid.New(), item, time.Second)
	assert.Equal(t, time.Second, timers.Interval(item))

	timers.SetTimerEvent(uuid.New(), item, 0)
	assert.Zero(t, timers.Interval(item))
	assert.Zero(t, timers.Len())

	timers.SetTimerEvent(uuid.New(), item, time.Second)
	timers.StateChange(item, "other")
	assert.Equal(t, 1, timers.Len(), "timers survive state changes")

	timers.RemoveScript(item)
	clock.Advance(time.Minute)
	assert.Zero(t, timers.Fire(clock.Now()))
}

func TestTimers_SerializationRoundTrip(t *testing.T) {
	clock := testutil.NewManualClock()
	timers := NewTimers(clock, nil, 0, nil)
	part, item := uuid.New(), uuid.New()

	assert.Nil(t, timers.GetSerializationData(item))

	timers.SetTimerEvent(part, item, 10*time.Second)
	clock.Advance(4 * time.Second)
	data := timers.GetSerializationData(item)
	assert.Equal(t, []event.Value{event.Float(10), event.Float(6)}, data)

	restored := NewTimers(clock, nil, 0, nil)
	require.NoError(t, restored.CreateFromData(part, item, data))
	assert.Equal(t, 10*time.Second, restored.Interval(item))
	assert.Equal(t, data, restored.GetSerializationData(item))
}

func TestTimers_CreateFromDataErrors(t *testing.T) {
	timers := NewTimers(testutil.NewManualClock(), nil, 0, nil)
	item := uuid.New()

	assert.NoError(t, timers.CreateFromData(uuid.New(), item, nil))
	assert.Error(t, timers.CreateFromData(uuid.New(), item, []event.Value{event.Float(1)}))
	assert.Error(t, timers.CreateFromData(uuid.New(), item, []event.Value{event.String("x"), event.Float(1)}))
	assert.NoError(t, timers.CreateFromData(uuid.New(), item, []event.Value{event.Integer(0), event.Integer(0)}))
	assert.Zero(t, timers.Len())

	require.NoError(t, timers.CreateFromData(uuid.New(), item, []event.Value{event.Integer(2), event.Integer(1)}))
	assert.Equal(t, 2*time.Second, timers.Interval(item))
}

func TestTimers_Run(t *testing.T) {
	log := &postLog{}
	timers := NewTimers(nil, log.post, time.Millisecond, nil)
	timers.SetTimerEvent(uuid.New(), uuid.New(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- timers.Run(ctx) }()

	require.Eventually(t, func() bool { return log.count() >= 2 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

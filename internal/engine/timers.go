package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
)

// DefaultTimerResolution is how often the timer loop checks for due timers.
const DefaultTimerResolution = 50 * time.Millisecond

// PostFunc delivers an event to one script.
type PostFunc func(itemID uuid.UUID, rec event.Record) bool

type scriptTimer struct {
	partID   uuid.UUID
	interval time.Duration
	next     time.Time
}

// Timers schedules repeating timer events. It is the engine's
// AsyncCommands: timers are serialized with a script's state and survive
// state changes.
//
// Thread-safety: safe for concurrent use.
type Timers struct {
	mu         sync.Mutex
	timers     map[uuid.UUID]*scriptTimer
	clock      instance.Clock
	post       PostFunc
	resolution time.Duration
	logger     *zap.Logger
}

// NewTimers creates a timer subsystem that delivers events through post.
func NewTimers(clock instance.Clock, post PostFunc, resolution time.Duration, logger *zap.Logger) *Timers {
	if clock == nil {
		clock = instance.SystemClock
	}
	if resolution <= 0 {
		resolution = DefaultTimerResolution
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timers{
		timers:     make(map[uuid.UUID]*scriptTimer),
		clock:      clock,
		post:       post,
		resolution: resolution,
		logger:     logger,
	}
}

// SetTimerEvent starts, replaces or (with interval <= 0) cancels a
// script's timer.
func (t *Timers) SetTimerEvent(partID, itemID uuid.UUID, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if interval <= 0 {
		delete(t.timers, itemID)
		return
	}
	t.timers[itemID] = &scriptTimer{
		partID:   partID,
		interval: interval,
		next:     t.clock.Now().Add(interval),
	}
}

// Interval returns a script's timer interval, or 0 without a timer.
func (t *Timers) Interval(itemID uuid.UUID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.timers[itemID]; ok {
		return st.interval
	}
	return 0
}

// Len returns the number of active timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Fire posts a timer event to every script whose timer is due at now and
// reschedules it. Missed intervals are not replayed. It returns the number
// of events posted.
func (t *Timers) Fire(now time.Time) int {
	var due []uuid.UUID

	t.mu.Lock()
	for itemID, st := range t.timers {
		if now.Before(st.next) {
			continue
		}
		due = append(due, itemID)
		st.next = now.Add(st.interval)
	}
	t.mu.Unlock()

	sort.Slice(due, func(a, b int) bool {
		return due[a].String() < due[b].String()
	})

	posted := 0
	for _, itemID := range due {
		if t.post != nil && t.post(itemID, event.New(event.Timer)) {
			posted++
		}
	}
	return posted
}

// Run fires timers until ctx is done.
func (t *Timers) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Fire(t.clock.Now())
		}
	}
}

// StateChange implements instance.AsyncCommands. Timers outlive states.
func (t *Timers) StateChange(uuid.UUID, string) {}

// RemoveScript implements instance.AsyncCommands.
func (t *Timers) RemoveScript(itemID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, itemID)
}

// GetSerializationData implements instance.AsyncCommands. A timer is
// saved as [interval, remaining], both in seconds.
func (t *Timers) GetSerializationData(itemID uuid.UUID) []event.Value {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.timers[itemID]
	if !ok {
		return nil
	}
	remaining := st.next.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return []event.Value{
		event.Float(st.interval.Seconds()),
		event.Float(remaining.Seconds()),
	}
}

// CreateFromData implements instance.AsyncCommands.
func (t *Timers) CreateFromData(partID, itemID uuid.UUID, data []event.Value) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) != 2 {
		return fmt.Errorf("timer data: want 2 values, got %d", len(data))
	}
	interval, err := seconds(data[0])
	if err != nil {
		return fmt.Errorf("timer interval: %w", err)
	}
	remaining, err := seconds(data[1])
	if err != nil {
		return fmt.Errorf("timer remaining: %w", err)
	}
	if interval <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers[itemID] = &scriptTimer{
		partID:   partID,
		interval: interval,
		next:     t.clock.Now().Add(remaining),
	}
	t.logger.Debug("timer restored",
		zap.String("item_id", itemID.String()),
		zap.Duration("interval", interval),
		zap.Duration("remaining", remaining),
	)
	return nil
}

func seconds(v event.Value) (time.Duration, error) {
	switch v := v.(type) {
	case event.Float:
		return time.Duration(float64(v) * float64(time.Second)), nil
	case event.Integer:
		return time.Duration(v) * time.Second, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("want a number, got %s", v.TypeName())
	}
}

var _ instance.AsyncCommands = (*Timers)(nil)

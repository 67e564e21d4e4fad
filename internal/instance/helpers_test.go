package instance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/testutil"
	"github.com/roach88/scriptengine/internal/world"
)

type fixture struct {
	t     *testing.T
	eng   *testutil.RecordingEngine
	clock *testutil.ManualClock
	store *countingStore
	part  world.Part
	item  script.Item
	reg   *script.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)

	eng := testutil.NewRecordingEngine(t)
	part := eng.Mem.AddPart(world.Part{
		ID:      uuid.New(),
		Name:    "Door",
		OwnerID: uuid.New(),
	})
	item := script.Item{ID: uuid.New(), AssetID: uuid.New(), OwnerID: part.OwnerID, Name: "door.lua"}
	eng.Mem.AddInventoryItem(part.ID, item.ID)

	return &fixture{
		t:     t,
		eng:   eng,
		clock: testutil.NewManualClock(),
		store: &countingStore{Store: fs},
		part:  part,
		item:  item,
		reg:   script.NewRegistry(),
	}
}

func (f *fixture) params() instance.Params {
	return instance.Params{
		Part:     f.part,
		Item:     f.item,
		Store:    f.store,
		Registry: f.reg,
		Logger:   zaptest.NewLogger(f.t),
		Clock:    f.clock,
	}
}

// newInstance creates and loads an instance but does not start it.
func (f *fixture) newInstance(s script.Script, opts ...func(*instance.Params)) *instance.Instance {
	f.t.Helper()
	p := f.params()
	for _, opt := range opts {
		opt(&p)
	}
	inst := instance.New(f.eng, s, p)
	require.NoError(f.t, inst.Load(context.Background()))
	return inst
}

// countingStore counts writes reaching the underlying store.
type countingStore struct {
	state.Store
	mu     sync.Mutex
	writes int
}

func (s *countingStore) Write(ctx context.Context, itemID uuid.UUID, data []byte) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Store.Write(ctx, itemID, data)
}

func (s *countingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func control(held int32) event.Record {
	return event.New(event.Control, event.KeyOf(uuid.New()), event.Integer(held), event.Integer(0))
}

func touch(name string) event.Record {
	return event.NewRecord(name, []event.Value{event.Integer(1)}, []event.DetectParam{{Key: uuid.New(), Name: "Avatar"}})
}

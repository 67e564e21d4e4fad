package instance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/testutil"
)

func TestSaveState_RoundTripAndHashGate(t *testing.T) {
	f := newFixture(t)
	s := testutil.NewFakeScript(script.Vars{"count": event.Integer(0), "name": event.String("")})
	s.On("open", event.StateEntry, func(context.Context, []event.Value) error { return nil })
	inst := f.newInstance(s)
	f.eng.Start()
	inst.Start()

	require.Error(t, inst.SetState("open"))
	f.eng.WaitIdle(inst)

	s.Set("count", event.Integer(5))
	s.Set("name", event.String("front door"))
	inst.SetMinEventDelay(250 * time.Millisecond)

	inst.SaveState()
	writes := f.store.Writes()
	require.Positive(t, writes)

	inst.SaveState()
	assert.Equal(t, writes, f.store.Writes(), "unchanged state is not written again")

	restored := testutil.NewFakeScript(script.Vars{"count": event.Integer(0), "name": event.String("")})
	again := f.newInstance(restored)

	assert.True(t, again.StartedFromSavedState())
	assert.Equal(t, "open", again.State())
	assert.Equal(t, event.Integer(5), restored.Get("count"))
	assert.Equal(t, event.String("front door"), restored.Get("name"))
	assert.Equal(t, 250*time.Millisecond, again.MinEventDelay())

	again.Start()
	again.SaveState()
	assert.Equal(t, writes, f.store.Writes(), "restored state hashes the same")
}

func TestSaveState_SkippedWhenStopped(t *testing.T) {
	f := newFixture(t)
	inst := f.newInstance(testutil.NewFakeScript(nil))

	inst.SaveState()
	assert.Equal(t, 0, f.store.Writes())

	inst.SetStayStopped(true)
	inst.SaveState()
	assert.Equal(t, 1, f.store.Writes())

	data, err := f.store.Read(context.Background(), f.item.ID)
	require.NoError(t, err)
	snap, err := state.Unmarshal(data)
	require.NoError(t, err)
	assert.False(t, snap.Running)
}

func TestSaveState_DeferredDuringEvent(t *testing.T) {
	f := newFixture(t)
	s := testutil.NewFakeScript(script.Vars{"count": event.Integer(0)})
	s.On(instance.DefaultState, event.TouchStart, func(ctx context.Context, _ []event.Value) error {
		s.Set("count", event.Integer(1))
		script.HostFrom(ctx).SaveState()
		s.Set("count", event.Integer(2))
		return nil
	})
	inst := f.newInstance(s)
	f.eng.Start()
	inst.Start()

	require.True(t, inst.PostEvent(touch(event.TouchStart)))
	f.eng.WaitIdle(inst)

	data, err := f.store.Read(context.Background(), f.item.ID)
	require.NoError(t, err)
	snap, err := state.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, event.Integer(2), snap.Variables["count"], "saved after the handler returned")
}

func TestLoad_RestoresQueueAndPlugins(t *testing.T) {
	f := newFixture(t)
	f.eng.Async.SetData(f.item.ID, []event.Value{event.Float(30), event.Float(10)})

	inst := f.newInstance(testutil.NewFakeScript(nil))
	inst.Start()
	require.True(t, inst.PostEvent(event.New(event.Timer)))
	require.True(t, inst.PostEvent(touch(event.TouchStart)))
	inst.SaveState()

	again := f.newInstance(testutil.NewFakeScript(nil))

	assert.Equal(t, []string{event.Timer, event.TouchStart}, again.QueuedEvents())
	assert.Equal(t, []event.Value{event.Float(30), event.Float(10)}, f.eng.Async.Restored(f.item.ID))

	again.Init()
	assert.True(t, again.Running())
	assert.False(t, again.PostEvent(event.New(event.Timer)), "restored timer keeps its dedup flag")
}

func TestInit_RestoredScriptGetsChanged(t *testing.T) {
	tests := []struct {
		source instance.StateSource
		want   []event.Value
	}{
		{instance.RegionStart, []event.Value{event.Integer(event.ChangedRegionStart)}},
		{instance.PrimCrossing, []event.Value{event.Integer(event.ChangedRegion)}},
		{instance.Teleporting, []event.Value{event.Integer(event.ChangedRegion), event.Integer(event.ChangedTeleport)}},
	}

	for _, tt := range tests {
		t.Run(tt.source.String(), func(t *testing.T) {
			f := newFixture(t)
			first := f.newInstance(testutil.NewFakeScript(nil))
			first.Start()
			first.SaveState()

			s := testutil.NewFakeScript(nil)
			inst := f.newInstance(s, func(p *instance.Params) { p.StateSource = tt.source })
			inst.Init()
			f.eng.Start()
			f.eng.WaitIdle(inst)

			var got []event.Value
			for _, c := range s.Calls() {
				require.Equal(t, event.Changed, c.Event)
				got = append(got, c.Args[0])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_AttachedScriptRemovesStoredState(t *testing.T) {
	f := newFixture(t)
	first := f.newInstance(testutil.NewFakeScript(nil))
	first.Start()
	first.SaveState()

	attached := f.newInstance(testutil.NewFakeScript(nil), func(p *instance.Params) { p.Attached = true })
	assert.True(t, attached.StartedFromSavedState())

	_, err := f.store.Read(context.Background(), f.item.ID)
	assert.ErrorIs(t, err, state.ErrNotFound)

	attached.Start()
	attached.SaveState()
	_, err = f.store.Read(context.Background(), f.item.ID)
	assert.ErrorIs(t, err, state.ErrNotFound, "attachment state is saved with the attachment")
}

func TestLoad_DiscardsCorruptState(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), f.item.ID, []byte("<not xml")))

	inst := f.newInstance(testutil.NewFakeScript(nil))

	assert.False(t, inst.StartedFromSavedState())
	assert.Equal(t, instance.DefaultState, inst.State())
}

func TestGetXMLState(t *testing.T) {
	f := newFixture(t)
	s := testutil.NewFakeScript(script.Vars{"count": event.Integer(4)})
	inst := f.newInstance(s)
	f.eng.Start()
	inst.Start()

	xml, err := inst.GetXMLState()
	require.NoError(t, err)
	assert.True(t, inst.Running(), "running flag restored")

	snap, err := state.Unmarshal([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, f.item.ID, snap.ItemID)
	assert.Equal(t, instance.DefaultState, snap.State)
	assert.True(t, snap.Running)
	assert.Equal(t, event.Integer(4), snap.Variables["count"])

	require.True(t, inst.PostEvent(touch(event.TouchStart)))
	f.eng.WaitIdle(inst)
	assert.Equal(t, []string{event.TouchStart}, s.Events())
}

func TestRemoveState(t *testing.T) {
	f := newFixture(t)
	inst := f.newInstance(testutil.NewFakeScript(nil))
	inst.Start()
	inst.SaveState()
	require.Equal(t, 1, f.store.Writes())

	inst.RemoveState()
	_, err := f.store.Read(context.Background(), f.item.ID)
	assert.ErrorIs(t, err, state.ErrNotFound)

	inst.SaveState()
	assert.Equal(t, 2, f.store.Writes(), "removal forgets the last written hash")
}

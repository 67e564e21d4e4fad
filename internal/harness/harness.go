package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/scriptengine/internal/engine"
	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/instance"
	"github.com/roach88/scriptengine/internal/lslapi"
	"github.com/roach88/scriptengine/internal/luascript"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/state"
	"github.com/roach88/scriptengine/internal/testutil"
	"github.com/roach88/scriptengine/internal/world"
)

// DefaultStepTimeout bounds how long a step may keep scripts busy.
const DefaultStepTimeout = 10 * time.Second

// Options configures a run.
type Options struct {
	// Store holds script states. Nil uses a temporary directory that is
	// removed when the run ends.
	Store state.Store

	// Logger receives engine logs. Nil discards them.
	Logger *zap.Logger

	// Feed, if set, receives every chat message as it is emitted.
	Feed *world.Feed

	// Workers is the engine worker count. Zero uses 2.
	Workers int

	// StepTimeout bounds each step. Zero uses DefaultStepTimeout.
	StepTimeout time.Duration

	// StepDelay pauses between steps so feed subscribers can follow a run
	// as it happens.
	StepDelay time.Duration

	// Engine options are applied after the harness defaults. Clock, store,
	// timer and save settings are owned by the harness.
	Engine []engine.Option
}

// Harness holds the world and engine of one scenario run.
type Harness struct {
	scenario *Scenario
	opts     Options
	logger   *zap.Logger
	store    state.Store
	mem      *world.Memory
	clock    *testutil.ManualClock
	registry *script.Registry

	objects map[string]world.Part
	scripts map[string]*scriptEntry
	order   []string

	eng     *engine.Engine
	stopRun context.CancelFunc
	runDone chan error
}

type scriptEntry struct {
	def    ScriptDef
	object string
	part   world.Part
	item   script.Item
}

// Run executes a scenario and returns the result.
//
// An error is returned when the scenario cannot be carried out (a script
// fails to compile, a step times out). Assertion failures are reported in
// the result instead.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	h, err := New(scenario, opts)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	if err := h.start(ctx, instance.NewRez); err != nil {
		return nil, err
	}
	for i, step := range scenario.Steps {
		if i > 0 && opts.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.StepDelay):
			}
		}
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result := h.collect()
	evaluateAssertions(scenario.Assertions, result)
	return result, nil
}

// New places the scenario's objects in a fresh world. The engine is not
// started until the run begins.
func New(scenario *Scenario, opts Options) (*Harness, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := script.NewRegistry()
	if err := lslapi.Register(registry); err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		opts:     opts,
		logger:   logger,
		store:    opts.Store,
		mem:      world.NewMemory(),
		clock:    testutil.NewManualClock(),
		registry: registry,
		objects:  make(map[string]world.Part),
		scripts:  make(map[string]*scriptEntry),
	}
	if h.store == nil {
		dir, err := os.MkdirTemp("", "scriptengine-harness-")
		if err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		fs, err := state.NewFileStore(dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		h.store = &tempStore{FileStore: fs, dir: dir}
	}
	if opts.Feed != nil {
		h.mem.OnChat(opts.Feed.Publish)
	}

	ids := testutil.NewSequentialIDs()
	owner := ids.Next()
	for _, obj := range scenario.Objects {
		part := h.mem.AddPart(world.Part{ID: ids.Next(), Name: obj.Name, OwnerID: owner})
		h.objects[obj.Name] = part
		for _, def := range obj.Scripts {
			item := script.Item{ID: ids.Next(), AssetID: ids.Next(), OwnerID: owner, Name: def.Name}
			h.mem.AddInventoryItem(part.ID, item.ID)
			h.scripts[def.Name] = &scriptEntry{def: def, object: obj.Name, part: part, item: item}
			h.order = append(h.order, def.Name)
		}
	}
	return h, nil
}

// World returns the world the scripts run in.
func (h *Harness) World() *world.Memory {
	return h.mem
}

// Close shuts the engine down and releases the store if the harness
// created it.
func (h *Harness) Close() {
	h.stop()
	if ts, ok := h.store.(*tempStore); ok {
		ts.Close()
	}
}

// start creates an engine and adds every script to it.
func (h *Harness) start(ctx context.Context, source instance.StateSource) error {
	opts := append([]engine.Option{engine.WithWorkers(h.opts.Workers)}, h.opts.Engine...)
	opts = append(opts,
		engine.WithStore(h.store),
		engine.WithRegistry(h.registry),
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
		engine.WithSaveInterval(0),
		engine.WithManualTimers(),
	)
	eng := engine.New(h.mem, opts...)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	h.eng, h.stopRun, h.runDone = eng, cancel, done

	for _, name := range h.order {
		entry := h.scripts[name]
		s, err := luascript.New(entry.def.Name, entry.def.Source,
			luascript.WithLogger(h.logger.Named("lua").With(zap.String("script", name))))
		if err != nil {
			return fmt.Errorf("script %q: %w", name, err)
		}
		_, err = eng.AddScript(ctx, s, instance.Params{
			Part:         entry.part,
			Item:         entry.item,
			StartParam:   entry.def.StartParam,
			PostOnRez:    entry.def.PostOnRez && source == instance.NewRez,
			StateSource:  source,
			StartStopped: entry.def.Stopped,
		})
		if err != nil {
			s.Close()
			return fmt.Errorf("script %q: %w", name, err)
		}
	}
	return h.waitIdle(ctx)
}

// stop shuts the current engine down, saving every state.
func (h *Harness) stop() {
	if h.eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StepTimeout)
	defer cancel()
	if err := h.eng.Shutdown(ctx); err != nil {
		h.logger.Warn("engine shutdown", zap.Error(err))
	}
	h.stopRun()
	<-h.runDone
	h.eng = nil
}

func (h *Harness) step(ctx context.Context, step Step) error {
	switch {
	case step.Post != nil:
		if err := h.post(step.Post); err != nil {
			return err
		}
	case step.Advance > 0:
		h.clock.Advance(step.Advance)
		h.eng.TimerSet().Fire(h.clock.Now())
	case step.Save:
		h.eng.SaveAll()
	case step.Stop != "":
		if err := h.eng.SetScriptState(h.scripts[step.Stop].item.ID, false); err != nil {
			return err
		}
	case step.Start != "":
		if err := h.eng.SetScriptState(h.scripts[step.Start].item.ID, true); err != nil {
			return err
		}
	case step.Reset != "":
		inst, ok := h.eng.Instance(h.scripts[step.Reset].item.ID)
		if !ok {
			return fmt.Errorf("script %q is not loaded", step.Reset)
		}
		if !inst.ResetScript(engine.DefaultKillTimeout) {
			return fmt.Errorf("script %q did not reset", step.Reset)
		}
	case step.Restart:
		h.stop()
		return h.start(ctx, instance.RegionStart)
	}
	return h.waitIdle(ctx)
}

func (h *Harness) post(p *PostStep) error {
	args := make([]event.Value, 0, len(p.Args))
	for _, a := range p.Args {
		v, err := toValue(a)
		if err != nil {
			return err
		}
		args = append(args, v)
	}
	var detect []event.DetectParam
	for _, d := range p.Detect {
		key := uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.Name))
		if d.Key != "" {
			parsed, err := uuid.Parse(d.Key)
			if err != nil {
				return fmt.Errorf("detect %q: %w", d.Name, err)
			}
			key = parsed
		}
		detect = append(detect, event.DetectParam{Key: key, Owner: key, Name: d.Name, Type: 1})
	}
	rec := event.NewRecord(p.Event, args, detect)

	if p.Script != "" {
		if !h.eng.PostScriptEvent(h.scripts[p.Script].item.ID, rec) {
			h.logger.Debug("event not accepted", zap.String("script", p.Script), zap.String("event", p.Event))
		}
		return nil
	}
	n := h.eng.PostObjectEvent(h.objects[p.Object].ID, rec)
	h.logger.Debug("event posted", zap.String("object", p.Object), zap.String("event", p.Event), zap.Int("accepted", n))
	return nil
}

func (h *Harness) waitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StepTimeout)
	defer cancel()
	if err := h.eng.WaitIdle(ctx); err != nil {
		return fmt.Errorf("scripts did not go idle: %w", err)
	}
	return nil
}

// collect snapshots chat and script state into a Result.
func (h *Harness) collect() *Result {
	result := NewResult(h.scenario.Name)
	for _, msg := range h.mem.Chat() {
		result.Chat = append(result.Chat, ChatLine{
			Channel: msg.Channel,
			Type:    msg.Type.String(),
			From:    msg.FromName,
			Text:    msg.Text,
		})
	}
	for _, obj := range h.scenario.Objects {
		if h.mem.Deleted(h.objects[obj.Name].ObjectID) {
			result.Deleted = append(result.Deleted, obj.Name)
		}
	}

	for _, name := range h.order {
		entry := h.scripts[name]
		inst, ok := h.eng.Instance(entry.item.ID)
		if !ok {
			continue
		}
		stats := inst.Stats()
		sr := ScriptResult{
			Name:       name,
			Object:     entry.object,
			State:      inst.State(),
			Running:    inst.Running(),
			SelfDelete: inst.InSelfDelete(),
			Events:     stats.EventsProcessed,
			Faults:     stats.Faults,
		}
		vars := inst.Script().GetVars()
		for _, v := range vars.SortedNames() {
			sr.Vars = append(sr.Vars, VarResult{Name: v, Type: vars[v].TypeName(), Value: vars[v].String()})
		}
		result.Scripts = append(result.Scripts, sr)
	}
	return result
}

// tempStore is a FileStore in a directory owned by the harness.
type tempStore struct {
	*state.FileStore
	dir string
}

func (s *tempStore) Close() error {
	err := s.FileStore.Close()
	os.RemoveAll(s.dir)
	return err
}

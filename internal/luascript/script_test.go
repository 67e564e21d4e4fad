package luascript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/world"
)

const counterSource = `vars = {
  count = 0,
  ratio = 1.5,
  owner = "",
  home = {x = 1, y = 2, z = 3},
  tags = {"a", "b"},
}

states = {
  default = {
    state_entry = function()
      vars.count = 0
    end,
    touch_start = function(n)
      vars.count = vars.count + n
      vars.ratio = 2
    end,
    collision = function(n)
      error("boom")
    end,
    timer = function()
      host.jump("open")
      vars.count = -1
    end,
    listen = function()
      pcall(host.jump, "open")
      vars.count = -2
    end,
    sensor = function()
      while true do end
    end,
    money = function(v)
      vars.home = v
    end,
    dataserver = function()
      host.echo(1)
    end,
  },
  open = {
    state_entry = function() end,
  },
}
`

// hostApi is a minimal API for exercising bindings.
type hostApi struct {
	echoed []event.Value
}

func (h *hostApi) Initialize(script.Engine, world.Part, script.Item) error { return nil }

func (h *hostApi) Functions() map[string]script.Func {
	return map[string]script.Func{
		"echo": func(_ context.Context, args []event.Value) (event.Value, error) {
			h.echoed = append(h.echoed, args...)
			if len(args) == 0 {
				return nil, nil
			}
			return args[0], nil
		},
		"jump": func(_ context.Context, args []event.Value) (event.Value, error) {
			return nil, &script.StateChangeSignal{State: args[0].String()}
		},
	}
}

func newCounter(t *testing.T) (*Script, *hostApi) {
	t.Helper()
	s, err := New("counter.lua", counterSource)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	api := &hostApi{}
	require.NoError(t, s.InitApi("host", api))
	return s, api
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{"syntax error", "states = {", "compile"},
		{"runtime error", `error("nope")`, "run"},
		{"no states", "vars = {}", "must be a table"},
		{"no default", "states = {open = {}}", "no default state"},
		{"state not table", "states = {default = {}, open = 1}", "must be a table"},
		{"handler not function", "states = {default = {touch = 1}}", "must be a function"},
		{"vars not table", "vars = 1\nstates = {default = {}}", "must be a table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("bad.lua", tt.source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_MissingVarsTable(t *testing.T) {
	s, err := New("novars.lua", "states = {default = {}}")
	require.NoError(t, err)
	defer s.Close()
	assert.Empty(t, s.GetVars())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("counter.lua", counterSource))
	assert.Error(t, Validate("bad.lua", "states = {"))
}

func TestSandbox_RemovesUnsafeGlobals(t *testing.T) {
	s, err := New("sandbox.lua", `states = {default = {}}
for _, name in ipairs({"dofile", "loadfile", "require", "loadstring"}) do
  if _G[name] ~= nil then error(name .. " is available") end
end`)
	require.NoError(t, err)
	s.Close()
}

func TestGetStateEventFlags(t *testing.T) {
	s, _ := newCounter(t)

	flags := s.GetStateEventFlags("default")
	for _, name := range []string{event.StateEntry, event.TouchStart, event.Collision, event.Timer, event.Listen} {
		assert.True(t, flags.Has(event.FlagFor(name)), name)
	}
	assert.False(t, flags.Has(event.FlagFor(event.Control)))

	assert.Equal(t, event.FlagFor(event.StateEntry), s.GetStateEventFlags("open"))
	assert.Zero(t, s.GetStateEventFlags("missing"))
	assert.ElementsMatch(t, []string{"default", "open"}, s.States())
}

func TestExecuteEvent_UpdatesVars(t *testing.T) {
	s, _ := newCounter(t)

	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.TouchStart, []event.Value{event.Integer(3)}))
	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.TouchStart, []event.Value{event.Integer(2)}))

	vars := s.GetVars()
	assert.Equal(t, event.Integer(5), vars["count"])
	assert.Equal(t, event.Float(2), vars["ratio"], "declared float keeps its type")
	assert.Equal(t, event.String(""), vars["owner"])
	assert.Equal(t, event.Vector{X: 1, Y: 2, Z: 3}, vars["home"])
	assert.Equal(t, event.List{event.String("a"), event.String("b")}, vars["tags"])
}

func TestExecuteEvent_MissingHandler(t *testing.T) {
	s, _ := newCounter(t)
	assert.NoError(t, s.ExecuteEvent(context.Background(), "default", event.Changed, nil))
	assert.NoError(t, s.ExecuteEvent(context.Background(), "nowhere", event.TouchStart, nil))
}

func TestExecuteEvent_RuntimeError(t *testing.T) {
	s, _ := newCounter(t)

	err := s.ExecuteEvent(context.Background(), "default", event.Collision, []event.Value{event.Integer(1)})
	require.Error(t, err)
	assert.Equal(t, script.Faulted, script.Classify(err))

	var re *script.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 19, re.Line)
	assert.Equal(t, "boom", re.Message)
}

func TestExecuteEvent_SignalUnwinds(t *testing.T) {
	s, _ := newCounter(t)

	err := s.ExecuteEvent(context.Background(), "default", event.Timer, nil)
	target, ok := script.IsStateChange(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "open", target)
	assert.Equal(t, event.Integer(0), s.GetVars()["count"], "code after the signal must not run")
}

func TestExecuteEvent_SignalSurvivesPcall(t *testing.T) {
	s, _ := newCounter(t)

	err := s.ExecuteEvent(context.Background(), "default", event.Listen, nil)
	_, ok := script.IsStateChange(err)
	assert.True(t, ok, "got %v", err)

	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.TouchStart, []event.Value{event.Integer(1)}))
}

func TestExecuteEvent_ContextInterruptsLoop(t *testing.T) {
	s, _ := newCounter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.ExecuteEvent(ctx, "default", event.Sensor, nil)
	assert.Equal(t, script.Interrupted, script.Classify(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.TouchStart, []event.Value{event.Integer(1)}))
}

func TestExecuteEvent_ArgumentConversion(t *testing.T) {
	s, _ := newCounter(t)

	rot := event.Rotation{X: 0, Y: 0, Z: 0, S: 1}
	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.Money, []event.Value{rot}))
	assert.Equal(t, rot, s.GetVars()["home"])
}

func TestBinding_CheckStop(t *testing.T) {
	s, api := newCounter(t)

	stop := make(chan struct{})
	close(stop)
	ctx := script.WithExec(context.Background(), script.Exec{Stop: stop})

	err := s.ExecuteEvent(ctx, "default", event.Dataserver, nil)
	assert.ErrorIs(t, err, script.ErrCoopStop)
	assert.Empty(t, api.echoed)

	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.Dataserver, nil))
	assert.Equal(t, []event.Value{event.Integer(1)}, api.echoed)
}

func TestInitApi_Duplicate(t *testing.T) {
	s, _ := newCounter(t)
	assert.Error(t, s.InitApi("host", &hostApi{}))
	assert.Error(t, s.InitApi("", &hostApi{}))
}

func TestResetVars(t *testing.T) {
	s, _ := newCounter(t)

	require.NoError(t, s.ExecuteEvent(context.Background(), "default", event.TouchStart, []event.Value{event.Integer(7)}))
	s.SetVars(script.Vars{"owner": event.String("bob"), "extra": event.Integer(1)})

	s.ResetVars()
	vars := s.GetVars()
	assert.Equal(t, event.Integer(0), vars["count"])
	assert.Equal(t, event.Float(1.5), vars["ratio"])
	assert.Equal(t, event.String(""), vars["owner"])
	assert.NotContains(t, vars, "extra")
}

func TestSetVars_Merges(t *testing.T) {
	s, _ := newCounter(t)

	s.SetVars(script.Vars{"count": event.Integer(42), "owner": event.Key("k")})
	vars := s.GetVars()
	assert.Equal(t, event.Integer(42), vars["count"])
	assert.Equal(t, event.String("k"), vars["owner"], "declared string wins over key")
	assert.Equal(t, event.Float(1.5), vars["ratio"])
}

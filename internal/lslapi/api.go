// Package lslapi is the script-facing host API, bound into every script
// as the "ll" table.
//
// Functions that act on the running instance (SetState, ResetScript,
// MinEventDelay, Sleep, GetStartParameter) must be called from inside an
// event handler; they find the instance through the handler's context.
package lslapi

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/world"
)

// Name is the name scripts see the API under.
const Name = "ll"

// Register adds the API to a registry.
func Register(r *script.Registry) error {
	return r.Register(Name, New)
}

// API implements script.Api for one script.
type API struct {
	engine script.Engine
	part   world.Part
	item   script.Item
}

// New returns an uninitialized API. It satisfies script.Factory.
func New() script.Api {
	return &API{}
}

// Initialize implements script.Api.
func (a *API) Initialize(engine script.Engine, part world.Part, item script.Item) error {
	a.engine = engine
	a.part = part
	a.item = item
	return nil
}

// Functions implements script.Api.
func (a *API) Functions() map[string]script.Func {
	return map[string]script.Func{
		"Say":               a.chat(world.ChatSay),
		"Shout":             a.chat(world.ChatShout),
		"Whisper":           a.chat(world.ChatWhisper),
		"OwnerSay":          a.ownerSay,
		"SetState":          a.setState,
		"ResetScript":       a.resetScript,
		"Die":               a.die,
		"RemoveInventory":   a.removeInventory,
		"SetTimerEvent":     a.setTimerEvent,
		"MinEventDelay":     a.minEventDelay,
		"Sleep":             a.sleep,
		"GetStartParameter": a.getStartParameter,
		"GetState":          a.getState,
		"GetKey":            a.getKey,
		"GetOwner":          a.getOwner,
		"GetScriptName":     a.getScriptName,
		"GetObjectName":     a.getObjectName,
		"Error":             a.raise(false),
		"OwnerError":        a.raise(true),
	}
}

func (a *API) owner() event.Key {
	if a.item.OwnerID != uuid.Nil {
		return event.KeyOf(a.item.OwnerID)
	}
	return event.KeyOf(a.part.OwnerID)
}

func (a *API) chat(kind world.ChatType) script.Func {
	return func(ctx context.Context, args []event.Value) (event.Value, error) {
		channel, err := intArg("channel", args, 0)
		if err != nil {
			return nil, err
		}
		text, err := stringArg("text", args, 1)
		if err != nil {
			return nil, err
		}
		a.engine.World().SimChat(world.ChatMessage{
			Channel:  channel,
			Type:     kind,
			FromID:   a.part.ID,
			FromName: a.part.Name,
			Position: a.part.Position,
			Text:     text,
		})
		return nil, nil
	}
}

func (a *API) ownerSay(ctx context.Context, args []event.Value) (event.Value, error) {
	text, err := stringArg("text", args, 0)
	if err != nil {
		return nil, err
	}
	a.engine.World().SimChat(world.ChatMessage{
		Type:     world.ChatOwner,
		FromID:   a.part.ID,
		FromName: a.part.Name,
		TargetID: a.owner().UUID(),
		Position: a.part.Position,
		Text:     text,
	})
	return nil, nil
}

func (a *API) setState(ctx context.Context, args []event.Value) (event.Value, error) {
	host, err := hostFor(ctx, "SetState")
	if err != nil {
		return nil, err
	}
	name, err := stringArg("state", args, 0)
	if err != nil {
		return nil, err
	}
	return nil, host.SetState(name)
}

func (a *API) resetScript(ctx context.Context, _ []event.Value) (event.Value, error) {
	host, err := hostFor(ctx, "ResetScript")
	if err != nil {
		return nil, err
	}
	return nil, host.ApiResetScript()
}

func (a *API) die(context.Context, []event.Value) (event.Value, error) {
	return nil, script.ErrSelfDelete
}

func (a *API) removeInventory(ctx context.Context, args []event.Value) (event.Value, error) {
	name, err := stringArg("name", args, 0)
	if err != nil {
		return nil, err
	}
	if name != a.item.Name {
		return nil, script.NewRuntimeError("RemoveInventory: %q is not this script", name)
	}
	return nil, script.ErrScriptDelete
}

func (a *API) setTimerEvent(ctx context.Context, args []event.Value) (event.Value, error) {
	d, err := secondsArg("seconds", args, 0)
	if err != nil {
		return nil, err
	}
	a.engine.Timers().SetTimerEvent(a.part.ID, a.item.ID, d)
	return nil, nil
}

func (a *API) minEventDelay(ctx context.Context, args []event.Value) (event.Value, error) {
	host, err := hostFor(ctx, "MinEventDelay")
	if err != nil {
		return nil, err
	}
	d, err := secondsArg("seconds", args, 0)
	if err != nil {
		return nil, err
	}
	host.SetMinEventDelay(d)
	return nil, nil
}

func (a *API) sleep(ctx context.Context, args []event.Value) (event.Value, error) {
	d, err := secondsArg("seconds", args, 0)
	if err != nil {
		return nil, err
	}
	return nil, script.Sleep(ctx, d)
}

func (a *API) getStartParameter(ctx context.Context, _ []event.Value) (event.Value, error) {
	host, err := hostFor(ctx, "GetStartParameter")
	if err != nil {
		return nil, err
	}
	return event.Integer(host.StartParam()), nil
}

func (a *API) getState(ctx context.Context, _ []event.Value) (event.Value, error) {
	host, err := hostFor(ctx, "GetState")
	if err != nil {
		return nil, err
	}
	return event.String(host.State()), nil
}

func (a *API) getKey(context.Context, []event.Value) (event.Value, error) {
	return event.KeyOf(a.part.ID), nil
}

func (a *API) getOwner(context.Context, []event.Value) (event.Value, error) {
	return a.owner(), nil
}

func (a *API) getScriptName(context.Context, []event.Value) (event.Value, error) {
	return event.String(a.item.Name), nil
}

func (a *API) getObjectName(context.Context, []event.Value) (event.Value, error) {
	return event.String(a.part.Name), nil
}

func (a *API) raise(ownerOnly bool) script.Func {
	return func(ctx context.Context, args []event.Value) (event.Value, error) {
		msg, err := stringArg("message", args, 0)
		if err != nil {
			return nil, err
		}
		return nil, &script.RuntimeError{Message: msg, OwnerOnly: ownerOnly}
	}
}

func hostFor(ctx context.Context, fn string) (script.Host, error) {
	host := script.HostFrom(ctx)
	if host == nil {
		return nil, script.NewRuntimeError("%s called outside an event handler", fn)
	}
	return host, nil
}

func intArg(name string, args []event.Value, i int) (int32, error) {
	if i >= len(args) {
		return 0, script.NewRuntimeError("missing argument %s", name)
	}
	switch v := args[i].(type) {
	case event.Integer:
		return int32(v), nil
	case event.Float:
		n, ok := event.IntegerFromFloat(float64(v))
		if !ok {
			return 0, script.NewRuntimeError("argument %s: %s is out of integer range", name, v)
		}
		return int32(n), nil
	default:
		return 0, script.NewRuntimeError("argument %s: want integer, got %s", name, v.TypeName())
	}
}

func floatArg(name string, args []event.Value, i int) (float64, error) {
	if i >= len(args) {
		return 0, script.NewRuntimeError("missing argument %s", name)
	}
	switch v := args[i].(type) {
	case event.Integer:
		return float64(v), nil
	case event.Float:
		return float64(v), nil
	default:
		return 0, script.NewRuntimeError("argument %s: want float, got %s", name, v.TypeName())
	}
}

func secondsArg(name string, args []event.Value, i int) (time.Duration, error) {
	f, err := floatArg(name, args, i)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		f = 0
	}
	return time.Duration(f * float64(time.Second)), nil
}

// stringArg accepts any value and uses its string form, matching the
// implicit casts scripts rely on for chat.
func stringArg(name string, args []event.Value, i int) (string, error) {
	if i >= len(args) {
		return "", script.NewRuntimeError("missing argument %s", name)
	}
	return args[i].String(), nil
}

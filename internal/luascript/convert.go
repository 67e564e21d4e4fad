package luascript

import (
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/scriptengine/internal/event"
)

// toLua converts a script value into a Lua value owned by L.
func toLua(L *lua.LState, v event.Value) lua.LValue {
	switch v := v.(type) {
	case event.Integer:
		return lua.LNumber(v)
	case event.Float:
		return lua.LNumber(v)
	case event.String:
		return lua.LString(v)
	case event.Key:
		return lua.LString(v)
	case event.Vector:
		t := L.NewTable()
		t.RawSetString("x", lua.LNumber(v.X))
		t.RawSetString("y", lua.LNumber(v.Y))
		t.RawSetString("z", lua.LNumber(v.Z))
		return t
	case event.Rotation:
		t := L.NewTable()
		t.RawSetString("x", lua.LNumber(v.X))
		t.RawSetString("y", lua.LNumber(v.Y))
		t.RawSetString("z", lua.LNumber(v.Z))
		t.RawSetString("s", lua.LNumber(v.S))
		return t
	case event.List:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value to a script value. hint, when not nil, is
// the declared value whose type the result should keep. ok is false for
// values with no script representation (nil, functions, userdata).
func fromLua(lv lua.LValue, hint event.Value) (event.Value, bool) {
	switch lv := lv.(type) {
	case lua.LNumber:
		f := float64(lv)
		switch hint.(type) {
		case event.Float:
			return event.Float(f), true
		case event.Integer:
			i, _ := event.IntegerFromFloat(f)
			return i, true
		}
		if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
			return event.Integer(int32(f)), true
		}
		return event.Float(f), true

	case lua.LString:
		if _, ok := hint.(event.Key); ok {
			return event.Key(lv), true
		}
		return event.String(lv), true

	case lua.LBool:
		if lv {
			return event.Integer(1), true
		}
		return event.Integer(0), true

	case *lua.LTable:
		return tableValue(lv, hint)

	default:
		return nil, false
	}
}

func tableValue(t *lua.LTable, hint event.Value) (event.Value, bool) {
	x, hasX := t.RawGetString("x").(lua.LNumber)
	y, hasY := t.RawGetString("y").(lua.LNumber)
	z, hasZ := t.RawGetString("z").(lua.LNumber)
	s, hasS := t.RawGetString("s").(lua.LNumber)

	if hasX && hasY && hasZ {
		if _, wantRot := hint.(event.Rotation); hasS || wantRot {
			return event.Rotation{X: float64(x), Y: float64(y), Z: float64(z), S: float64(s)}, true
		}
		return event.Vector{X: float64(x), Y: float64(y), Z: float64(z)}, true
	}

	list := make(event.List, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		if v, ok := fromLua(t.RawGetInt(i), nil); ok {
			list = append(list, v)
		}
	}
	return list, true
}

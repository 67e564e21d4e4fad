package luascript

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/scriptengine/internal/event"
)

func TestFromLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		in   lua.LValue
		hint event.Value
		want event.Value
		ok   bool
	}{
		{"integral number", lua.LNumber(3), nil, event.Integer(3), true},
		{"fractional number", lua.LNumber(2.5), nil, event.Float(2.5), true},
		{"integer hint truncates", lua.LNumber(2.9), event.Integer(0), event.Integer(2), true},
		{"integer hint clamps high", lua.LNumber(1e12), event.Integer(0), event.Integer(math.MaxInt32), true},
		{"integer hint clamps low", lua.LNumber(-1e12), event.Integer(0), event.Integer(math.MinInt32), true},
		{"integer hint nan", lua.LNumber(math.NaN()), event.Integer(0), event.Integer(0), true},
		{"float hint", lua.LNumber(2), event.Float(0), event.Float(2), true},
		{"huge number", lua.LNumber(1e12), nil, event.Float(1e12), true},
		{"string", lua.LString("hi"), nil, event.String("hi"), true},
		{"key hint", lua.LString("k"), event.Key(""), event.Key("k"), true},
		{"true", lua.LTrue, nil, event.Integer(1), true},
		{"false", lua.LFalse, nil, event.Integer(0), true},
		{"nil", lua.LNil, nil, nil, false},
		{"function", L.NewFunction(func(*lua.LState) int { return 0 }), nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fromLua(tt.in, tt.hint)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToLua_TablesRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	values := []event.Value{
		event.Vector{X: 1, Y: -2, Z: 0.5},
		event.Rotation{X: 0, Y: 0, Z: 0.7, S: 0.7},
		event.List{event.Integer(1), event.String("two"), event.List{event.Float(3.5)}},
		event.List{},
	}
	for _, v := range values {
		got, ok := fromLua(toLua(L, v), v)
		assert.True(t, ok)
		assert.True(t, event.Equal(v, got), "%v != %v", v, got)
	}
}

func TestToLua_RotationHintWithoutS(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("x", lua.LNumber(1))
	tbl.RawSetString("y", lua.LNumber(2))
	tbl.RawSetString("z", lua.LNumber(3))

	got, ok := fromLua(tbl, event.Rotation{})
	assert.True(t, ok)
	assert.Equal(t, event.Rotation{X: 1, Y: 2, Z: 3}, got)
}

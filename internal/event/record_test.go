package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecord_CopiesInputs(t *testing.T) {
	args := []Value{Integer(1)}
	detect := []DetectParam{{Name: "Avatar"}}

	r := NewRecord(TouchStart, args, detect)
	args[0] = Integer(99)
	detect[0].Name = "Changed"

	assert.Equal(t, Integer(1), r.Arg(0))
	assert.Equal(t, "Avatar", r.Detect()[0].Name)
}

func TestRecord_AccessorsReturnCopies(t *testing.T) {
	r := New(Timer, String("a"))

	got := r.Args()
	got[0] = String("b")

	assert.Equal(t, String("a"), r.Arg(0))
	assert.Nil(t, r.Arg(5))
	assert.Nil(t, r.Arg(-1))
	assert.Equal(t, 1, r.NumArgs())
	assert.False(t, r.HasDetect())
	assert.Nil(t, r.Detect())
}

func TestRecord_IsZero(t *testing.T) {
	assert.True(t, Record{}.IsZero())
	assert.False(t, New(Timer).IsZero())
}

func TestFlagFor(t *testing.T) {
	assert.Equal(t, Flags(1), FlagFor(StateEntry))
	assert.NotZero(t, FlagFor(Timer))
	assert.Zero(t, FlagFor("no_such_event"))

	f := FlagFor(Timer) | FlagFor(TouchStart)
	assert.True(t, f.Has(FlagFor(Timer)))
	assert.False(t, f.Has(FlagFor(Listen)))

	seen := Flags(0)
	for _, name := range KnownEvents() {
		bit := FlagFor(name)
		assert.Zero(t, seen&bit, "flag for %s overlaps", name)
		seen |= bit
	}
}

package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/world"
)

type stubApi struct{ name string }

func (s *stubApi) Initialize(Engine, world.Part, Item) error { return nil }

func (s *stubApi) Functions() map[string]Func {
	return map[string]Func{
		"Name": func(context.Context, []event.Value) (event.Value, error) {
			return event.String(s.name), nil
		},
	}
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"ll", "os", "mod"} {
		name := name
		require.NoError(t, r.Register(name, func() Api { return &stubApi{name: name} }))
	}

	assert.Equal(t, []string{"ll", "os", "mod"}, r.Names())

	api, err := r.Create("os")
	require.NoError(t, err)
	v, err := api.Functions()["Name"](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, event.String("os"), v)
}

func TestRegistry_RejectsBadRegistrations(t *testing.T) {
	r := NewRegistry()
	factory := func() Api { return &stubApi{} }

	require.NoError(t, r.Register("ll", factory))
	assert.Error(t, r.Register("ll", factory))
	assert.Error(t, r.Register("", factory))
	assert.Error(t, r.Register("x", nil))

	_, err := r.Create("missing")
	assert.Error(t, err)

	assert.Panics(t, func() { r.MustRegister("ll", factory) })
}

func TestVars_SortedNames(t *testing.T) {
	v := Vars{"b": event.Integer(1), "a": event.Integer(2)}
	assert.Equal(t, []string{"a", "b"}, v.SortedNames())
}

package script

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Completed},
		{"state change", &StateChangeSignal{State: "b"}, StateChange},
		{"wrapped state change", fmt.Errorf("lua: %w", &StateChangeSignal{State: "b"}), StateChange},
		{"abort", ErrEventAbort, Aborted},
		{"coop stop", fmt.Errorf("sleep: %w", ErrCoopStop), CoopStop},
		{"cancelled", context.Canceled, Interrupted},
		{"self delete", ErrSelfDelete, SelfDelete},
		{"script delete", ErrScriptDelete, ScriptDelete},
		{"runtime", NewRuntimeError("division by zero"), Faulted},
		{"plain", errors.New("boom"), Faulted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsStateChange(t *testing.T) {
	state, ok := IsStateChange(fmt.Errorf("wrapped: %w", &StateChangeSignal{State: "open"}))
	assert.True(t, ok)
	assert.Equal(t, "open", state)

	_, ok = IsStateChange(errors.New("nope"))
	assert.False(t, ok)
}

func TestRuntimeError(t *testing.T) {
	err := &RuntimeError{Message: "bad index", Line: 12, OwnerOnly: true}
	assert.Equal(t, "line 12: bad index", err.Error())
	assert.True(t, IsOwnerOnly(fmt.Errorf("x: %w", err)))
	assert.False(t, IsOwnerOnly(NewRuntimeError("y")))

	cause := errors.New("root")
	wrapped := &RuntimeError{Message: "m", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "state_change", StateChange.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

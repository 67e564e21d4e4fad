package script

import (
	"context"
	"errors"
	"fmt"
)

// Control-flow signals. None of these are script faults.
var (
	// ErrEventAbort unwinds the current handler without error reporting.
	ErrEventAbort = errors.New("event aborted")

	// ErrCoopStop is raised at a check-point after a cooperative stop was
	// requested.
	ErrCoopStop = errors.New("cooperative stop requested")

	// ErrSelfDelete asks the host to delete the object holding the script.
	ErrSelfDelete = errors.New("script requested object deletion")

	// ErrScriptDelete asks the host to remove the script from inventory.
	ErrScriptDelete = errors.New("script requested its own removal")
)

// StateChangeSignal is returned by Host.SetState. The handler that
// requested the change must unwind immediately.
type StateChangeSignal struct {
	State string
}

func (s *StateChangeSignal) Error() string {
	return fmt.Sprintf("state change to %q", s.State)
}

// RuntimeError is a fault raised by script code.
type RuntimeError struct {
	// Message is the user-facing description.
	Message string

	// OwnerOnly routes the in-world report to the owner instead of the
	// debug channel.
	OwnerOnly bool

	// Line is the script source line, when known.
	Line int

	// Err is the underlying cause, if any.
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a RuntimeError reported on the debug channel.
func NewRuntimeError(format string, args ...any) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// Outcome classifies how an event handler ended.
type Outcome int

const (
	Completed Outcome = iota
	StateChange
	Aborted
	CoopStop
	Interrupted
	SelfDelete
	ScriptDelete
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case StateChange:
		return "state_change"
	case Aborted:
		return "aborted"
	case CoopStop:
		return "coop_stop"
	case Interrupted:
		return "interrupted"
	case SelfDelete:
		return "self_delete"
	case ScriptDelete:
		return "script_delete"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Classify maps the error returned by ExecuteEvent to an Outcome.
// Wrapped signals are recognized.
func Classify(err error) Outcome {
	var sc *StateChangeSignal
	switch {
	case err == nil:
		return Completed
	case errors.As(err, &sc):
		return StateChange
	case errors.Is(err, ErrEventAbort):
		return Aborted
	case errors.Is(err, ErrCoopStop):
		return CoopStop
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Interrupted
	case errors.Is(err, ErrSelfDelete):
		return SelfDelete
	case errors.Is(err, ErrScriptDelete):
		return ScriptDelete
	default:
		return Faulted
	}
}

// IsStateChange reports whether err carries a state change, and the target.
func IsStateChange(err error) (string, bool) {
	var sc *StateChangeSignal
	if errors.As(err, &sc) {
		return sc.State, true
	}
	return "", false
}

// IsOwnerOnly reports whether a fault should be reported to the owner only.
func IsOwnerOnly(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.OwnerOnly
	}
	return false
}

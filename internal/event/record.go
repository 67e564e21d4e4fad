package event

import "github.com/google/uuid"

// DetectParam describes one detected entity for touch, collision and sensor
// events.
type DetectParam struct {
	Key      uuid.UUID
	Owner    uuid.UUID
	Group    uuid.UUID
	Name     string
	Type     int32
	LinkNum  int32
	Position Vector
	Velocity Vector
	Rotation Rotation
}

// Record is an immutable event destined for a script instance.
//
// The argument and detection slices are copied on construction and on
// access, so a Record can be shared between goroutines without locking.
type Record struct {
	name   string
	args   []Value
	detect []DetectParam
}

// NewRecord creates a Record. The slices are copied.
func NewRecord(name string, args []Value, detect []DetectParam) Record {
	r := Record{name: name}
	if len(args) > 0 {
		r.args = append([]Value(nil), args...)
	}
	if len(detect) > 0 {
		r.detect = append([]DetectParam(nil), detect...)
	}
	return r
}

// New is shorthand for a Record without detection parameters.
func New(name string, args ...Value) Record {
	return NewRecord(name, args, nil)
}

// Name returns the event name.
func (r Record) Name() string {
	return r.name
}

// Args returns a copy of the argument list.
func (r Record) Args() []Value {
	if len(r.args) == 0 {
		return nil
	}
	return append([]Value(nil), r.args...)
}

// NumArgs returns the number of arguments.
func (r Record) NumArgs() int {
	return len(r.args)
}

// Arg returns argument i, or nil if there is no such argument.
func (r Record) Arg(i int) Value {
	if i < 0 || i >= len(r.args) {
		return nil
	}
	return r.args[i]
}

// Detect returns a copy of the detection parameters.
func (r Record) Detect() []DetectParam {
	if len(r.detect) == 0 {
		return nil
	}
	return append([]DetectParam(nil), r.detect...)
}

// HasDetect reports whether the record carries any detection parameters.
func (r Record) HasDetect() bool {
	return len(r.detect) > 0
}

// IsZero reports whether r is the zero Record.
func (r Record) IsZero() bool {
	return r.name == "" && r.args == nil && r.detect == nil
}

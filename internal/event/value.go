package event

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Value is a sealed interface over the script value types.
// Only Integer, Float, String, Key, Vector, Rotation and List implement it.
type Value interface {
	// TypeName returns the script-level type name ("integer", "float", ...).
	TypeName() string
	String() string
	value()
}

// Type names as they appear in persisted state.
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeKey      = "key"
	TypeVector   = "vector"
	TypeRotation = "rotation"
	TypeList     = "list"
)

// Integer is a 32-bit script integer.
type Integer int32

func (Integer) value()           {}
func (Integer) TypeName() string { return TypeInteger }
func (i Integer) String() string { return strconv.FormatInt(int64(i), 10) }

// IntegerFromFloat truncates f toward zero. ok is false when f is NaN or
// outside the Integer range; the result is then 0 for NaN and the nearest
// bound otherwise.
func IntegerFromFloat(f float64) (i Integer, ok bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= math.MaxInt32+1:
		return math.MaxInt32, false
	case f <= math.MinInt32-1:
		return math.MinInt32, false
	}
	return Integer(int32(f)), true
}

// Float is a script float.
type Float float64

func (Float) value()           {}
func (Float) TypeName() string { return TypeFloat }
func (f Float) String() string { return formatFloat(float64(f)) }

// String is a script string.
type String string

func (String) value()           {}
func (String) TypeName() string { return TypeString }
func (s String) String() string { return string(s) }

// Key is a script key. Keys are usually UUIDs but scripts may hold any text
// in a key, so the raw string is kept.
type Key string

func (Key) value()           {}
func (Key) TypeName() string { return TypeKey }
func (k Key) String() string { return string(k) }

// KeyOf converts a UUID to a Key.
func KeyOf(id uuid.UUID) Key {
	return Key(id.String())
}

// UUID parses the key. Invalid keys yield uuid.Nil.
func (k Key) UUID() uuid.UUID {
	id, err := uuid.Parse(string(k))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Vector is a three-component script vector.
type Vector struct {
	X, Y, Z float64
}

func (Vector) value()           {}
func (Vector) TypeName() string { return TypeVector }
func (v Vector) String() string {
	return "<" + formatFloat(v.X) + ", " + formatFloat(v.Y) + ", " + formatFloat(v.Z) + ">"
}

// Rotation is a script quaternion.
type Rotation struct {
	X, Y, Z, S float64
}

func (Rotation) value()           {}
func (Rotation) TypeName() string { return TypeRotation }
func (r Rotation) String() string {
	return "<" + formatFloat(r.X) + ", " + formatFloat(r.Y) + ", " + formatFloat(r.Z) + ", " + formatFloat(r.S) + ">"
}

// List is an ordered script list.
type List []Value

func (List) value()           {}
func (List) TypeName() string { return TypeList }
func (l List) String() string {
	var b strings.Builder
	for _, v := range l {
		b.WriteString(v.String())
	}
	return b.String()
}

// formatFloat renders floats with the shortest representation that parses
// back to the same value, so persisted state round-trips exactly.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseValue parses the textual form produced by Value.String for the given
// type name. Lists are not parseable from a single string; use List
// construction instead.
func ParseValue(typeName, text string) (Value, error) {
	switch typeName {
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", text, err)
		}
		return Integer(n), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", text, err)
		}
		return Float(f), nil
	case TypeString:
		return String(text), nil
	case TypeKey:
		return Key(text), nil
	case TypeVector:
		parts, err := parseComponents(text, 3)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		return Vector{X: parts[0], Y: parts[1], Z: parts[2]}, nil
	case TypeRotation:
		parts, err := parseComponents(text, 4)
		if err != nil {
			return nil, fmt.Errorf("parse rotation: %w", err)
		}
		return Rotation{X: parts[0], Y: parts[1], Z: parts[2], S: parts[3]}, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", typeName)
	}
}

// parseComponents parses "<a, b, c>" into n floats.
func parseComponents(text string, n int) ([]float64, error) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return nil, fmt.Errorf("%q is not bracketed", text)
	}
	fields := strings.Split(s[1:len(s)-1], ",")
	if len(fields) != n {
		return nil, fmt.Errorf("%q has %d components, want %d", text, len(fields), n)
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d of %q: %w", i, text, err)
		}
		out[i] = v
	}
	return out, nil
}

// Equal reports whether two values have the same type and content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	la, aok := a.(List)
	lb, bok := b.(List)
	if aok || bok {
		if !aok || !bok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

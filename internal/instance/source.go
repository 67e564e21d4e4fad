package instance

import "fmt"

// StateSource says why a script is being started.
type StateSource int

const (
	NewRez StateSource = iota
	PrimCrossing
	ScriptedRez
	AttachedRez
	RegionStart
	Teleporting
)

var stateSourceNames = []string{
	NewRez:       "new_rez",
	PrimCrossing: "prim_crossing",
	ScriptedRez:  "scripted_rez",
	AttachedRez:  "attached_rez",
	RegionStart:  "region_start",
	Teleporting:  "teleporting",
}

func (s StateSource) String() string {
	if s < 0 || int(s) >= len(stateSourceNames) {
		return "unknown"
	}
	return stateSourceNames[s]
}

// ParseStateSource parses the name produced by String.
func ParseStateSource(name string) (StateSource, error) {
	if name == "" {
		return NewRez, nil
	}
	for i, n := range stateSourceNames {
		if n == name {
			return StateSource(i), nil
		}
	}
	return NewRez, fmt.Errorf("unknown state source %q", name)
}

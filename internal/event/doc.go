// Package event provides the value types that flow through a script
// instance's event queue.
//
// A Record is an immutable event: a name, an ordered argument list, and an
// optional list of detection parameters (who touched, what collided). Values
// are a closed set of script types: Integer, Float, String, Key, Vector,
// Rotation and List.
//
// This package imports nothing internal. Every other internal package may
// import it.
package event

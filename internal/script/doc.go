// Package script defines the Script capability a script instance drives,
// the API surface scripts call back into, and the control-flow signals that
// travel between them.
//
// # Signals
//
// Script code never unwinds the host with a panic. Instead, host calls that
// must end the current event handler (a state change, a scripted reset, a
// self-delete) return a typed error. The Script implementation propagates
// that error out of ExecuteEvent unchanged, and the instance classifies it
// at the dispatch boundary with Classify.
package script

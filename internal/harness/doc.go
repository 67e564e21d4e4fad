// Package harness runs Lua scripts through the script engine from YAML
// scenarios and checks what they did.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: door
//	description: "Door opens when touched"
//	objects:
//	  - name: Door
//	    scripts:
//	      - name: door.lua
//	        file: door.lua
//	steps:
//	  - post: { object: Door, event: touch_start, args: [1] }
//	  - advance: 5s
//	  - save: true
//	  - restart: true
//	assertions:
//	  - type: state
//	    script: door.lua
//	    state: open
//	  - type: chat
//	    lines: ["closed", "opened"]
//
// Event arguments are YAML scalars, lists, or maps: integers, floats and
// strings map to the script types of the same name, {x, y, z} maps to a
// vector, {x, y, z, s} to a rotation and {key: ...} to a key.
//
// # Assertion Types
//
//   - chat: the non-debug chat texts, in order
//   - chat_contains: some chat message, debug included, has the text
//   - state: a script's current state
//   - var: a script variable's rendered value
//   - running: whether a script is running
//   - faults: how many runtime errors a script reported
//   - deleted: an object deleted itself
//
// # Deterministic Testing
//
// Runs are reproducible: parts and items get sequential IDs
// (testutil.SequentialIDs), the engine reads a manual clock that only
// steps move, and the harness waits for every script to go idle between
// steps. Timers fire only on advance steps. Transcripts from RunWithGolden
// are therefore byte-identical between runs.
package harness

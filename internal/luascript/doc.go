// Package luascript implements script.Script on gopher-lua.
//
// A script is a Lua chunk that defines two global tables:
//
//	vars = { count = 0, greeting = "hello" }
//
//	states = {
//	  default = {
//	    state_entry = function() ll.Say(0, vars.greeting) end,
//	    touch_start = function(n) vars.count = vars.count + n end,
//	  },
//	}
//
// vars holds the persisted globals; the type of each initial value fixes
// the type it is saved as. states maps state names to tables of event
// handlers. APIs bound through InitApi appear as global tables named
// after the API.
//
// Each Script owns a private *lua.LState. Execution is interrupted by
// cancelling the context passed to ExecuteEvent.
package luascript

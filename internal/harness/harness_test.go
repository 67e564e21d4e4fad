package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const counterScenario = `
name: counter
objects:
  - name: Box
    scripts:
      - name: counter.lua
        source: |
          vars = { n = 0 }
          states = {
            default = {
              state_entry = function() ll.Say(0, "ready") end,
              touch_start = function(k)
                vars.n = vars.n + k
                ll.Say(0, "n=" .. vars.n)
              end,
              money = function() ll.Die() end,
            },
          }
`

func runScenario(t *testing.T, yaml string) *Result {
	t.Helper()
	scenario, err := ParseScenario([]byte(yaml), "")
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return result
}

func TestRun_StopStartReset(t *testing.T) {
	result := runScenario(t, counterScenario+`
steps:
  - post: { object: Box, event: touch_start, args: [2] }
  - stop: counter.lua
  - post: { object: Box, event: touch_start, args: [1] }
  - start: counter.lua
  - post: { script: counter.lua, event: touch_start, args: [1] }
  - reset: counter.lua
assertions:
  - type: chat
    lines: [ready, n=2, n=3, ready]
  - type: var
    script: counter.lua
    var: n
    value: "0"
  - type: running
    script: counter.lua
    running: true
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_StoppedScriptStaysStoppedAcrossRestart(t *testing.T) {
	result := runScenario(t, counterScenario+`
steps:
  - post: { object: Box, event: touch_start, args: [4] }
  - stop: counter.lua
  - restart: true
  - post: { object: Box, event: touch_start, args: [1] }
assertions:
  - type: chat
    lines: [ready, n=4]
  - type: running
    script: counter.lua
    running: false
  - type: var
    script: counter.lua
    var: n
    value: "4"
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SelfDelete(t *testing.T) {
	result := runScenario(t, counterScenario+`
steps:
  - post: { object: Box, event: money }
  - post: { object: Box, event: touch_start, args: [1] }
assertions:
  - type: deleted
    object: Box
  - type: chat
    lines: [ready]
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	s, ok := result.Script("counter.lua")
	require.True(t, ok)
	assert.True(t, s.SelfDelete)
	assert.Equal(t, []string{"Box"}, result.Deleted)
}

func TestRun_ReportsAssertionFailures(t *testing.T) {
	result := runScenario(t, counterScenario+`
assertions:
  - type: chat
    lines: [hello]
  - type: chat_contains
    text: goodbye
  - type: state
    script: counter.lua
    state: open
  - type: var
    script: counter.lua
    var: missing
  - type: faults
    script: counter.lua
    count: 1
  - type: deleted
    object: Box
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], `Expected: ["hello"]`)
	assert.Contains(t, result.Errors[0], `Actual: ["ready"]`)
	assert.Contains(t, result.Errors[2], "Actual: default")
	assert.Contains(t, result.Errors[3], "no such variable")
}

func TestRun_CompileError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: broken
objects:
  - name: Box
    scripts:
      - name: broken.lua
        source: "states = {"
`), "")
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario, Options{Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `script "broken.lua"`)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/door.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario, Options{})
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario, Options{Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, FormatTranscript(first), FormatTranscript(second))
}

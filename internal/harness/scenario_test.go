package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
)

const minimalScript = "states = {default = {}}"

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "box.lua"), []byte(minimalScript), 0644))
	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
objects:
  - name: Box
    scripts:
      - name: box.lua
        file: box.lua
        start_param: 7
steps:
  - post: { object: Box, event: touch_start, args: [1, 2.5, "hi", {x: 1, y: 2, z: 3}] }
  - advance: 1500ms
  - save: true
assertions:
  - type: state
    script: box.lua
    state: default
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Objects, 1)
	def := scenario.Objects[0].Scripts[0]
	assert.Equal(t, minimalScript, def.Source, "file is read relative to the scenario")
	assert.Equal(t, int32(7), def.StartParam)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, 1500*time.Millisecond, scenario.Steps[1].Advance)
	assert.True(t, scenario.Steps[2].Save)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingScriptFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: missing
objects:
  - name: Box
    scripts:
      - name: box.lua
        file: nowhere.lua
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `script "box.lua"`)
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: typo
objects:
  - name: Box
assertion:
  - type: chat
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	header := `
name: bad
objects:
  - name: Box
    scripts:
      - name: box.lua
        source: "states = {default = {}}"
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no name", "objects: [{name: Box}]", "name is required"},
		{"no objects", "name: empty", "objects list is required"},
		{"duplicate object", "name: d\nobjects: [{name: Box}, {name: Box}]", "duplicate object"},
		{"script without source", "name: s\nobjects: [{name: Box, scripts: [{name: a.lua}]}]", "source or file is required"},
		{"two actions", header + "steps: [{save: true, restart: true}]", "exactly one action"},
		{"no action", header + "steps: [{}]", "exactly one action"},
		{"post without event", header + "steps: [{post: {object: Box}}]", "event is required"},
		{"post to both", header + "steps: [{post: {object: Box, script: box.lua, event: touch}}]", "exactly one of object and script"},
		{"unknown object", header + "steps: [{post: {object: Nope, event: touch}}]", `unknown object "Nope"`},
		{"unknown script", header + "steps: [{stop: nope.lua}]", `unknown script "nope.lua"`},
		{"bad arg", header + "steps: [{post: {object: Box, event: touch, args: [{x: 1}]}}]", "args[0]"},
		{"assertion without type", header + "assertions: [{script: box.lua}]", "type is required"},
		{"unknown assertion", header + "assertions: [{type: magic}]", "unknown assertion type"},
		{"state without state", header + "assertions: [{type: state, script: box.lua}]", "state is required"},
		{"var without script", header + "assertions: [{type: var, var: x}]", "script is required"},
		{"running without value", header + "assertions: [{type: running, script: box.lua}]", "running is required"},
		{"deleted unknown object", header + "assertions: [{type: deleted, object: Nope}]", "unknown object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToValue(t *testing.T) {
	tests := []struct {
		in   any
		want event.Value
	}{
		{1, event.Integer(1)},
		{2.5, event.Float(2.5)},
		{true, event.Integer(1)},
		{"hi", event.String("hi")},
		{[]any{1, "a"}, event.List{event.Integer(1), event.String("a")}},
		{map[string]any{"x": 1, "y": 2.5, "z": 3}, event.Vector{X: 1, Y: 2.5, Z: 3}},
		{map[string]any{"x": 0, "y": 0, "z": 0, "s": 1}, event.Rotation{S: 1}},
		{map[string]any{"key": "00000000-0000-0000-0000-000000000001"}, event.Key("00000000-0000-0000-0000-000000000001")},
	}
	for _, tt := range tests {
		got, err := toValue(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []any{nil, map[string]any{"x": 1}, map[string]any{"x": "a", "y": 1, "z": 1}, []any{nil}} {
		_, err := toValue(bad)
		assert.Error(t, err, "%v", bad)
	}
}

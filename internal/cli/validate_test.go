package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doorSource = `vars = { touches = 0 }
states = {
  default = {
    state_entry = function() end,
    touch_start = function() ll.SetState("open") end,
  },
  open = {
    timer = function() ll.SetState("default") end,
  },
}
`

func writeScript(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

func TestValidateCommand_ValidScript(t *testing.T) {
	path := writeScript(t, "door.lua", doorSource)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "✓ "+path+"\n  default: state_entry, touch_start\n  open: timer\n", out)
}

func TestValidateCommand_InvalidScript(t *testing.T) {
	good := writeScript(t, "door.lua", doorSource)
	bad := writeScript(t, "bad.lua", "states = {")

	out, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ "+good)
	assert.Contains(t, out, "✗ "+bad)
}

func TestValidateCommand_MissingFile(t *testing.T) {
	out, err := execute(t, "validate", "/nonexistent/script.lua")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ /nonexistent/script.lua")
}

func TestValidateCommand_RequiresArgs(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
}

func TestValidateCommand_JSON(t *testing.T) {
	path := writeScript(t, "door.lua", doorSource)

	out, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Scripts, 1)
	assert.Equal(t, []string{"state_entry", "touch_start"}, resp.Data.Scripts[0].States["default"])
	assert.Equal(t, []string{"timer"}, resp.Data.Scripts[0].States["open"])
}

func TestValidateCommand_JSONInvalid(t *testing.T) {
	bad := writeScript(t, "bad.lua", `error("nope")`)

	out, err := execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.Scripts[0].Error)
}

func TestSortedStates(t *testing.T) {
	states := map[string][]string{"open": nil, "default": nil, "closed": nil}
	assert.Equal(t, []string{"default", "closed", "open"}, sortedStates(states))
}

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingAssertions = `assertions:
  - type: var
    script: counter.lua
    var: n
    value: "3"
`

const failingAssertions = `assertions:
  - type: var
    script: counter.lua
    var: n
    value: "99"
`

// scenarioDir creates a scenarios directory and a config outside it.
func scenarioDir(t *testing.T) (dir, cfg string) {
	t.Helper()
	cfg = writeConfig(t, t.TempDir())
	dir = filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0755))
	return dir, cfg
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
}

func TestTestCommand_NonexistentDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	dir, cfg := scenarioDir(t)

	out, err := execute(t, "--config", cfg, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "counter.yaml", counterScenario+passingAssertions)

	out, err := execute(t, "--config", cfg, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "counter.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), "[say 0] Box: n=3")

	out, err = execute(t, "--config", cfg, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter\n")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "counter.yaml", counterScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "counter.golden"), []byte("stale\n"), 0644))

	out, err := execute(t, "--config", cfg, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ counter")
	assert.Contains(t, out, "run with --update to regenerate")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_CustomGoldenDir(t *testing.T) {
	dir, cfg := scenarioDir(t)
	golden := filepath.Join(t.TempDir(), "transcripts")
	writeScenario(t, dir, "counter.yaml", counterScenario)

	_, err := execute(t, "--config", cfg, "test", dir, "--update", "--golden-dir", golden)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(golden, "counter.golden"))
	assert.NoDirExists(t, filepath.Join(dir, "golden"))
}

func TestTestCommand_AssertionFailure(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "counter.yaml", counterScenario+failingAssertions)

	out, err := execute(t, "--config", cfg, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Assertion failed: var")
	assert.Contains(t, err.Error(), "1 scenario(s) failed")
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(t, "--config", cfg, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Filter(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "counter.yaml", counterScenario+passingAssertions)
	writeScenario(t, dir, "other.yaml", "name: other\n")

	out, err := execute(t, "--config", cfg, "test", dir, "--filter", "count*")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "other")
}

func TestTestCommand_JSON(t *testing.T) {
	dir, cfg := scenarioDir(t)
	writeScenario(t, dir, "counter.yaml", counterScenario+passingAssertions)

	out, err := execute(t, "--config", cfg, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "counter", resp.Data.Scenarios[0].Name)
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "c.txt", "golden/a.golden"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, nil, 0644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	files, err = findScenarioFiles(dir, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/state"
)

var (
	testItemID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testAssetID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

// savedState writes a snapshot into the file store configured under dir
// and returns the config path and stored bytes.
func savedState(t *testing.T) (string, []byte) {
	t.Helper()
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	st, err := state.NewFileStore(filepath.Join(dir, "states"))
	require.NoError(t, err)

	data, err := state.Marshal(&state.Snapshot{
		ItemID:  testItemID,
		AssetID: testAssetID,
		State:   "open",
		Running: true,
		Variables: map[string]event.Value{
			"touches": event.Integer(2),
			"hinge":   event.Vector{X: 0, Y: 0, Z: 1},
		},
		Queue:         []event.Record{event.New(event.Timer)},
		MinEventDelay: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, st.Write(context.Background(), testItemID, data))
	return cfg, data
}

func TestStateShow_Text(t *testing.T) {
	cfg, data := savedState(t)

	out, err := execute(t, "--config", cfg, "state", "show", testItemID.String())
	require.NoError(t, err)

	want := "item:    " + testItemID.String() + "\n" +
		"asset:   " + testAssetID.String() + "\n" +
		"state:   open\n" +
		"running: true\n" +
		"min event delay: 500ms\n" +
		"queue:   timer\n" +
		"variables:\n" +
		"  hinge = vector <0, 0, 1>\n" +
		"  touches = integer 2\n" +
		"hash:    " + state.Hash(data) + "\n"
	assert.Equal(t, want, out)
}

func TestStateShow_Raw(t *testing.T) {
	cfg, data := savedState(t)

	out, err := execute(t, "--config", cfg, "state", "show", "--raw", testItemID.String())
	require.NoError(t, err)
	assert.Equal(t, string(data), out)
}

func TestStateShow_JSON(t *testing.T) {
	cfg, _ := savedState(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "state", "show", testItemID.String())
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   StateView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "open", resp.Data.State)
	assert.Equal(t, "integer 2", resp.Data.Variables["touches"])
	assert.Equal(t, []string{"timer"}, resp.Data.Queue)
	assert.Nil(t, resp.Data.Permissions)
}

func TestStateShow_NotFound(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	id := uuid.New()

	out, err := execute(t, "--config", cfg, "state", "show", id.String())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no saved state for "+id.String())
}

func TestStateShow_InvalidID(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	_, err := execute(t, "--config", cfg, "state", "show", "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid item id")
}

func TestStateRemove(t *testing.T) {
	cfg, _ := savedState(t)

	out, err := execute(t, "--config", cfg, "state", "rm", testItemID.String())
	require.NoError(t, err)
	assert.Equal(t, "Removed state for "+testItemID.String()+"\n", out)

	_, err = execute(t, "--config", cfg, "state", "show", testItemID.String())
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStateRemove_JSON(t *testing.T) {
	cfg, _ := savedState(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "state", "rm", testItemID.String())
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, testItemID.String(), resp.Data["removed"])
}

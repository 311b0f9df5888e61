package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayCommand_Text(t *testing.T) {
	events, keys := sampleEvents()
	db := writeJournal(t, events, keys)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 4 event(s): 4 applied, 0 duplicate, 0 dropped")
	assert.Contains(t, out, "✓ Replay is deterministic")
	assert.Regexp(t, `T1\s+1`, out)
	assert.Regexp(t, `T2\s+1`, out)
}

func TestReplayCommand_JSON(t *testing.T) {
	events, keys := sampleEvents()
	db := writeJournal(t, events, keys)

	out, err := execute(t, "--format", "json", "replay", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Data.Events)
	assert.True(t, resp.Data.Deterministic)
	assert.Equal(t, map[string]int{"T1": 1, "T2": 1}, resp.Data.Counts)
}

func TestReplayCommand_Until(t *testing.T) {
	events, keys := sampleEvents()
	db := writeJournal(t, events, keys)

	out, err := execute(t, "--format", "json", "replay", "--db", db, "--until", "3")
	require.NoError(t, err)

	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.Events)
	assert.Equal(t, map[string]int{"T1": 2, "T2": 1}, resp.Data.Counts, "the deletion is past --until")
}

func TestReplayCommand_EmptyJournal(t *testing.T) {
	db := writeJournal(t, nil, nil)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 0 event(s)")
	assert.Contains(t, out, "No pending certifications.")
}

func TestReplayCommand_JournalNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")

	_, err := execute(t, "replay", "--db", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCommand_RequiresDB(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}

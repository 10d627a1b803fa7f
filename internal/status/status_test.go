package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
)

func TestWriteReplacesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bot_status.json")
	w := NewWriter(path, nil)

	until := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Snapshot{Status: StateRunning, DailySent: 1, DailyLimit: 20}))
	require.NoError(t, w.Write(Snapshot{
		Status:      StateCooldown,
		Details:     "circuit breaker open",
		DailySent:   3,
		DailyLimit:  20,
		PausedUntil: &until,
		Counts:      map[lead.Status]int{lead.StatusSent: 3},
		Strategies:  map[lead.Strategy]database.StrategyStat{lead.StrategyVisionary: {Sent: 3, Interested: 1}},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, StateCooldown, got.Status)
	assert.Equal(t, 3, got.Counts[lead.StatusSent])
	assert.Equal(t, 1, got.Strategies[lead.StrategyVisionary].Interested)
	require.NotNil(t, got.PausedUntil)
	assert.True(t, until.Equal(*got.PausedUntil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestWriteFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bot_status.json")
	require.NoError(t, NewWriter(path, nil).Write(Snapshot{Status: StateIdle}))

	bad := NewWriter(filepath.Join(dir, "missing", "bot_status.json"), nil)
	assert.Error(t, bad.Write(Snapshot{Status: StateError}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"idle"`)
}

func TestEmptyPathIsDisabled(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewWriter("", nil).Write(Snapshot{}))
}

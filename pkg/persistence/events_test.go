package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach/pkg/statefile"
)

// The database is a process-wide singleton, so all tests share one
// initialization against a temp file.
var initOnce sync.Once

func initTestDB(t *testing.T) {
	t.Helper()
	initOnce.Do(func() {
		dir, err := os.MkdirTemp("", "coach-persistence-test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		if err := Initialize(filepath.Join(dir, "telemetry.db"), "session-test"); err != nil {
			t.Fatalf("Failed to initialize database: %v", err)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	initTestDB(t)

	require.NoError(t, StartSession("cli"))
	require.NoError(t, EndSession())

	var process string
	var endedAt *string
	err := GetDB().QueryRow(
		`SELECT process, ended_at FROM sessions WHERE id = ?`, GetSessionID(),
	).Scan(&process, &endedAt)
	require.NoError(t, err)
	assert.Equal(t, "cli", process)
	require.NotNil(t, endedAt)
}

func TestRecordAndListUpdates(t *testing.T) {
	initTestDB(t)
	require.NoError(t, StartSession("cli"))

	res := statefile.Result{OK: true, Conflict: true, Resolved: true, Version: 7}
	require.NoError(t, RecordUpdate("/tmp/state.json", "writer-1", res, 12*time.Millisecond))
	require.NoError(t, RecordUpdate("/tmp/state.json", "writer-2", statefile.Result{OK: true, Version: 8}, 3*time.Millisecond))

	events, err := RecentUpdates(10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)

	// Newest first.
	newest := events[0]
	assert.Equal(t, "writer-2", newest.WriterID)
	assert.Equal(t, int64(8), newest.Version)
	assert.False(t, newest.Conflict)

	previous := events[1]
	assert.True(t, previous.Conflict)
	assert.True(t, previous.Resolved)
	assert.Equal(t, int64(12), previous.DurationMS)
	assert.Equal(t, "session-test", previous.SessionID)
}

func TestConflictStatsAggregation(t *testing.T) {
	initTestDB(t)
	require.NoError(t, StartSession("cli"))

	require.NoError(t, RecordUpdate("/tmp/stats.json", "writer-1",
		statefile.Result{OK: true, Conflict: true, Resolved: true, Version: 1}, time.Millisecond))
	require.NoError(t, RecordUpdate("/tmp/stats.json", "writer-1",
		statefile.Result{OK: true, Version: 2}, time.Millisecond))

	stats, err := GetConflictStats(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, int64(2))
	assert.GreaterOrEqual(t, stats.Conflicts, int64(1))
	assert.GreaterOrEqual(t, stats.Resolved, int64(1))
}

package journal

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixlim/frida-reload/internal/bundle"
	"github.com/nixlim/frida-reload/internal/reload"
)

func TestJournalRecordsBuildsAndDeploys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "journal.db")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j, err := NewSQLiteJournal(dbPath, Run{Target: "App", Package: "com.example.app", Device: "usb"}, testr.New(t))
	require.NoError(t, err)

	j.RecordBuild(bundle.Result{Started: base, Duration: 120 * time.Millisecond, Inputs: 4, Bytes: 2048})
	j.RecordDeploy(reload.Deploy{PID: 4242, Spawned: true, Initial: true, At: base.Add(time.Second)})
	j.RecordBuild(bundle.Result{Started: base.Add(2 * time.Second), Err: errors.New("unexpected end of file")})
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	entries, err := Recent(db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, KindBuild, entries[0].Kind)
	assert.False(t, entries[0].OK)
	assert.Equal(t, "unexpected end of file", entries[0].Error)

	assert.Equal(t, KindDeploy, entries[1].Kind)
	assert.True(t, entries[1].OK)
	assert.True(t, entries[1].Initial)
	assert.True(t, entries[1].Spawned)
	assert.Equal(t, 4242, entries[1].PID)
	assert.Equal(t, "App", entries[1].Target)

	assert.Equal(t, KindBuild, entries[2].Kind)
	assert.True(t, entries[2].OK)
	assert.Equal(t, 4, entries[2].Inputs)
	assert.Equal(t, int64(2048), entries[2].Bytes)
	assert.Equal(t, 120*time.Millisecond, entries[2].Duration)
	assert.True(t, entries[2].At.Equal(base))

	limited, err := Recent(db, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournalIgnoresWritesAfterClose(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"), Run{Target: "App"}, testr.New(t))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.NotPanics(t, func() {
		j.RecordDeploy(reload.Deploy{PID: 1, At: time.Now()})
	})
	assert.Zero(t, j.DroppedWrites())
}

func TestOpenWithoutPathIsNop(t *testing.T) {
	j, ok := Open("", Run{}, testr.New(t))
	assert.False(t, ok)
	assert.IsType(t, Nop{}, j)
	assert.NoError(t, j.Close())
}

func TestOpenFallsBackToNop(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	j, ok := Open(filepath.Join(blocker, "journal.db"), Run{Target: "App"}, testr.New(t))
	assert.False(t, ok)
	assert.IsType(t, Nop{}, j)
}

func TestOpenDBRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenDB(dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this frida-reload supports")
}

func TestOpenDBIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		db, err := OpenDB(dbPath)
		require.NoError(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
		assert.Equal(t, 1, count)
		require.NoError(t, db.Close())
	}
}

func TestOpenDBUpgradesVersionOneJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	require.NoError(t, migrateStep(db, 0))
	_, err = db.Exec("INSERT INTO runs (target, started_at) VALUES ('App', 1)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO deploys (run_id, at, pid, initial, ok) VALUES (1, 2, 77, 1, 1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	entries, err := Recent(db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 77, entries[0].PID)
	assert.False(t, entries[0].Spawned)
}

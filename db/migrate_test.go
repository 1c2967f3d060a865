package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/grove/errors"
)

func TestMigrate(t *testing.T) {
	t.Run("creates every table", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{
			"schema_migrations", "scheduled_jobs", "job_executions",
			"users", "tasks", "focus_sessions", "daily_rollups", "notifications",
		} {
			var count int
			err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist", table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")

		var versions int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
		assert.Equal(t, 5, versions)
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})
}

func TestSchemaVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Empty(t, version, "fresh database has no schema")

	require.NoError(t, Migrate(db, nil))
	version, err = SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "004", version)
}

func TestEmbeddedMigrationsOrdered(t *testing.T) {
	all, err := embeddedMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "000", all[0].version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].version, all[i].version)
	}
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrClosed, "record execution")))
	assert.True(t, IsDatabaseClosed(errors.Wrap(sql.ErrConnDone, "update job")))
}

func TestTimeFormat(t *testing.T) {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 987654321, time.FixedZone("CEST", 2*3600))
	s := FormatTime(ts)
	assert.Equal(t, "2026-05-04T01:02:01.987Z", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts.Truncate(time.Millisecond)))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)

	assert.Less(t, FormatTime(ts), FormatTime(ts.Add(time.Millisecond)))
}

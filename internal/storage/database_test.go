package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurag/internal/config"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, Migrate(db, "sqlite"))
	require.NoError(t, Migrate(db, "sqlite3"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('documents','query_logs')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMigrateUnknownDriver(t *testing.T) {
	err := Migrate(openMemory(t), "oracle")
	assert.Error(t, err)
}

func TestOpenMissingConfig(t *testing.T) {
	_, err := Open("mysql", &config.Config{})
	assert.Error(t, err)
}

func TestOpenPureGoSQLite(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite": {DSN: ":memory:"}}}
	db, err := Open("sqlite", cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db, "sqlite"))
}

func TestRebind(t *testing.T) {
	q := `UPDATE documents SET status = ? WHERE id = ? AND note = 'what?'`
	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t, `UPDATE documents SET status = $1 WHERE id = $2 AND note = 'what?'`, DialectPostgres.Rebind(q))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, DialectSQLite, DialectFor("sqlite3"))
	assert.Equal(t, DialectPostgres, DialectFor("pgx"))
	assert.Equal(t, DialectMySQL, DialectFor("MySQL"))
}

func TestInsertIDAndTimeRoundTrip(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, Migrate(db, "sqlite"))
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	id, err := DialectSQLite.InsertID(context.Background(), db,
		`INSERT INTO query_logs (query, response, sources_used, response_time, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"q", "a", "[]", 0.5, "default", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var got Time
	require.NoError(t, db.QueryRow(`SELECT created_at FROM query_logs WHERE id = ?`, id).Scan(&got))
	assert.True(t, now.Equal(got.Time), "got %v", got.Time)
}

func TestTimeScanText(t *testing.T) {
	var ts Time
	require.NoError(t, ts.Scan("2024-05-01 10:30:00+00:00"))
	assert.Equal(t, 2024, ts.Year())
	require.NoError(t, ts.Scan([]byte("2024-05-01T10:30:00Z")))
	assert.Equal(t, 10, ts.Hour())
	assert.Error(t, ts.Scan("yesterday"))
}

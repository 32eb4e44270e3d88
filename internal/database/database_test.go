package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/simple5k/internal/database"
)

func TestOpenCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "race.db")

	db, err := database.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestMemoryIsShared(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE laps (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO laps (id) VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM laps").Scan(&n))
	assert.Equal(t, 1, n)

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestChecker(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Memory)
	require.NoError(t, err)

	c := database.Checker{DB: db}
	require.NoError(t, c.Check(ctx))
	require.NoError(t, db.Close())
	assert.Error(t, c.Check(ctx))
}

func TestReopenWhileOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "race.db")

	first, err := database.Open(ctx, path)
	require.NoError(t, err)
	defer first.Close()
	_, err = first.ExecContext(ctx, "CREATE TABLE races (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	second, err := database.Open(ctx, path)
	require.NoError(t, err, "a second handle must not need the journal lock")
	defer second.Close()

	_, err = second.ExecContext(ctx, "INSERT INTO races (name) VALUES ('Barranco 5K')")
	require.NoError(t, err)
	var n int
	require.NoError(t, first.QueryRowContext(ctx, "SELECT COUNT(*) FROM races").Scan(&n))
	assert.Equal(t, 1, n)
}

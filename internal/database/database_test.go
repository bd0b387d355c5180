package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBCreatesSchema(t *testing.T) {
	db, err := NewDB("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite3", db.Driver())

	var tables []string
	err = db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	assert.Subset(t, tables, []string{
		"challenge_participants",
		"challenges",
		"daily_task_instances",
		"daily_task_sets",
		"ledger_entries",
		"lesson_progress",
	})
}

func TestNewDBIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	first, err := NewDB("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewDB("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestRebindFollowsDriver(t *testing.T) {
	db, err := NewDB("sqlite3", filepath.Join(t.TempDir(), "bind.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "SELECT ? , ?", db.Rebind("SELECT ? , ?"))
}

// ABOUTME: Tests for SQLite store setup
// ABOUTME: Covers database creation, nested directories, and reopening existing files

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreatePrincipal(ctx, &Principal{
		ID: "p1", Type: PrincipalTypeUser, DisplayName: "alice", Status: PrincipalStatusApproved,
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	p, err := second.GetPrincipal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.CreatePrincipal(ctx, &Principal{
		ID:          "p1",
		Type:        PrincipalTypeUser,
		DisplayName: "alice",
		Status:      PrincipalStatusApproved,
	}))

	got, err := store.GetPrincipal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.DisplayName)
}

package state_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/state"
)

func newSQLiteStore(t *testing.T) (*state.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending.db")
	store, err := state.NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, path := newSQLiteStore(t)

	saved := state.NewPendingState()
	saved.Items = []models.PendingSyncItem{
		{Action: models.ActionUpload, FileID: "tmp-1", TimeStamp: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), NewFileName: "a.md"},
		{Action: models.ActionRename, FileID: "tmp-1", TimeStamp: time.Date(2026, 8, 29, 10, 0, 1, 0, time.UTC)},
		{Action: models.ActionDelete, FileID: "g-7", TimeStamp: time.Date(2026, 8, 29, 10, 0, 2, 0, time.UTC), IsBinaryFile: true},
	}
	saved.FinalNames["tmp-1"] = "b.md"
	saved.ResolvedIDs["tmp-2"] = "g-9"

	require.NoError(t, store.Save(saved))
	require.NoError(t, store.Close())

	// A fresh handle sees exactly what was saved, in queue order.
	reopened, err := state.NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)

	require.Len(t, loaded.Items, 3)
	assert.Equal(t, models.ActionUpload, loaded.Items[0].Action)
	assert.Equal(t, "a.md", loaded.Items[0].NewFileName)
	assert.Equal(t, models.ActionRename, loaded.Items[1].Action)
	assert.True(t, loaded.Items[2].IsBinaryFile)
	assert.True(t, loaded.Items[0].TimeStamp.Equal(saved.Items[0].TimeStamp))
	assert.Equal(t, "b.md", loaded.FinalNames["tmp-1"])
	assert.Equal(t, "g-9", loaded.ResolvedIDs["tmp-2"])
}

func TestSQLiteStoreEmptyDatabaseLoadsEmptyState(t *testing.T) {
	store, _ := newSQLiteStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)
	assert.Empty(t, loaded.FinalNames)
	assert.Empty(t, loaded.ResolvedIDs)
}

func TestSQLiteStoreResetClearsEverything(t *testing.T) {
	store, _ := newSQLiteStore(t)

	saved := state.NewPendingState()
	saved.Items = []models.PendingSyncItem{
		{Action: models.ActionDelete, FileID: "g-1", TimeStamp: time.Now()},
	}
	saved.FinalNames["g-1"] = "x.md"
	require.NoError(t, store.Save(saved))

	require.NoError(t, store.Reset())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)
	assert.Empty(t, loaded.FinalNames)
}

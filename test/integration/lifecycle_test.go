package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/synctag"
	"github.com/TheMichaelB/drivesync/test/testutil"
)

// The offline queue must survive a process restart and replay in order once
// connectivity is back.
func TestOfflineQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)

	h.Remote.SetOffline(true)

	require.NoError(t, h.Vault.Write("note.md", []byte("draft")))
	require.NoError(t, h.Engine.FileCreated(ctx, "note.md"))

	require.NoError(t, h.Vault.Move("note.md", "renamed.md"))
	require.NoError(t, h.Engine.FileRenamed(ctx, "note.md", "renamed.md"))

	require.NoError(t, h.Vault.Write("renamed.md", []byte("final text")))
	require.NoError(t, h.Engine.PushFile(ctx, "renamed.md"))

	require.Equal(t, 3, h.Log.Len())

	// Process dies; a new one starts with the network back.
	h.Remote.SetOffline(false)
	h2 := h.Restart(t)

	require.Equal(t, 3, h2.Log.Len(), "queue reloaded from disk")
	require.NoError(t, h2.Engine.DrainPending(ctx))

	assert.Equal(t, 0, h2.Log.Len())
	rec, ok := h2.Remote.Record("g-1")
	require.True(t, ok)
	assert.Equal(t, "renamed.md", rec.Name)
	assert.Contains(t, string(h2.Remote.Content("g-1")), "final text")
}

// A surrogate resolved just before a crash must not be uploaded again by the
// next process.
func TestResolvedUploadNotRepeatedAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)

	h.Remote.SetOffline(true)
	require.NoError(t, h.Vault.Write("note.md", []byte("draft")))
	require.NoError(t, h.Engine.FileCreated(ctx, "note.md"))

	// The first process uploaded and recorded the resolution, then died
	// before popping the item.
	h.Remote.SetOffline(false)
	remoteID, err := h.Remote.Create(ctx, "note.md", "vault-1", []byte("draft"))
	require.NoError(t, err)
	require.NoError(t, h.Log.ResolveSurrogate("tmp-1", remoteID))

	h2 := h.Restart(t)
	before := len(h2.Remote.Calls)
	require.NoError(t, h2.Engine.DrainPending(ctx))

	assert.Equal(t, 0, h2.Log.Len())
	for _, call := range h2.Remote.Calls[before:] {
		assert.NotEqual(t, "create", call, "replay must not duplicate the upload")
	}
}

// A remote-side deletion must land locally through the periodic refresh,
// while a local file the engine never pushed stays untouched.
func TestRemoteDeletionConvergesLocally(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)

	tagged := synctag.ApplyTimestamp([]byte("shared body"), time.Now())
	id := h.Remote.Seed("shared.md", "vault-1", tagged, time.Now())
	require.NoError(t, h.Vault.Write("scratch.md", []byte("never pushed")))

	require.NoError(t, h.Engine.RefreshAll(ctx))

	data, err := h.Vault.Read("shared.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "shared body")

	_, err = h.Remote.Delete(ctx, id)
	require.NoError(t, err)

	require.NoError(t, h.Engine.RefreshAll(ctx))

	exists, _ := h.Vault.Exists("shared.md")
	assert.False(t, exists, "synced file follows the remote deletion")
	exists, _ = h.Vault.Exists("scratch.md")
	assert.True(t, exists, "unmarked local file is left alone")
}

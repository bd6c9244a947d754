package sync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/remote"
	enginesync "github.com/TheMichaelB/drivesync/internal/services/sync"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/storage"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

type fixture struct {
	engine  *enginesync.Engine
	monitor *enginesync.Monitor
	fake    *remote.Fake
	store   *storage.MemStore
	log     *state.Log
	sidecar *synctag.Sidecar

	offline chan bool
}

// newFixture wires an engine against the in-memory fakes. The connectivity
// probe reads the fixture's offline switch, so tests can cut and restore the
// network.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)
	dir := t.TempDir()

	fake := remote.NewFake()
	store := storage.NewMemStore()

	jsonStore, err := state.NewJSONStore(filepath.Join(dir, "pending.json"), logger)
	require.NoError(t, err)
	log := state.NewLog(jsonStore, logger)
	require.NoError(t, log.Load())

	sidecar := synctag.NewSidecar(filepath.Join(dir, "attachments.json"), logger)

	f := &fixture{
		fake:    fake,
		store:   store,
		log:     log,
		sidecar: sidecar,
		offline: make(chan bool, 1),
	}

	isOffline := false
	probe := func(ctx context.Context) error {
		select {
		case isOffline = <-f.offline:
		default:
		}
		if isOffline {
			return errors.New("probe: unreachable")
		}
		return nil
	}
	f.monitor = enginesync.NewMonitor(probe, 5*time.Millisecond, logger)

	cfg := config.SyncConfig{
		RefreshInterval: time.Hour,
		ConflictMargin:  5 * time.Second,
		DebounceWindow:  40 * time.Millisecond,
		ProbeInterval:   5 * time.Millisecond,
		PathBlacklist:   []string{".obsidian/workspace"},
		MaxFileSize:     1 << 20,
	}

	f.engine = enginesync.NewEngine(
		fake, store, log, sidecar, f.monitor,
		cfg, "", cfg.PathBlacklist, logger,
	)
	f.engine.SetVault("vault-1")
	return f
}

// setOffline flips both the fake remote and the probe result.
func (f *fixture) setOffline(offline bool) {
	f.fake.SetOffline(offline)
	select {
	case <-f.offline:
	default:
	}
	f.offline <- offline
}

// waitOnline blocks until the monitor's probe loop notices recovery.
func (f *fixture) waitOnline(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !f.engine.Online() {
		if time.Now().After(deadline) {
			t.Fatal("engine never came back online")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fixture) callCount(op string) int {
	n := 0
	for _, c := range f.fake.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestRefreshDownloadsMissingFiles(t *testing.T) {
	f := newFixture(t)
	f.fake.Seed("notes/today.md", "vault-1", []byte("remote body"), time.Now())

	require.NoError(t, f.engine.RefreshAll(context.Background()))

	data, err := f.store.Read("notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote body"), data)
}

func TestRefreshDeletesSyncedFilesRemovedRemotely(t *testing.T) {
	f := newFixture(t)

	// A file the engine once pushed: carries the inline tag.
	tagged := synctag.ApplyTimestamp([]byte("old note"), time.Now())
	require.NoError(t, f.store.Write("synced.md", tagged))

	// A local-only file that was never pushed: no tag.
	require.NoError(t, f.store.Write("draft.md", []byte("never synced")))

	require.NoError(t, f.engine.RefreshAll(context.Background()))

	exists, _ := f.store.Exists("synced.md")
	assert.False(t, exists, "synced file deleted remotely is deleted locally")

	exists, _ = f.store.Exists("draft.md")
	assert.True(t, exists, "untracked local file is left alone")
}

func TestPushFileCreatesAndStampsTag(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write("note.md", []byte("hello")))

	require.NoError(t, f.engine.PushFile(context.Background(), "note.md"))

	assert.Equal(t, 1, f.callCount("create"))

	rec, ok := f.fake.Record("g-1")
	require.True(t, ok)
	assert.Equal(t, "note.md", rec.Name)

	_, ok = synctag.ExtractTimestamp(f.fake.Content("g-1"))
	assert.True(t, ok, "uploaded content carries the sync tag")

	local, err := f.store.Read("note.md")
	require.NoError(t, err)
	_, ok = synctag.ExtractTimestamp(local)
	assert.True(t, ok, "local copy stamped to match")
}

func TestPushEchoSuppressed(t *testing.T) {
	f := newFixture(t)
	f.fake.Seed("note.md", "vault-1", []byte("remote body"), time.Now())
	require.NoError(t, f.engine.RefreshAll(context.Background()))

	// The watcher's echo of the download must not bounce back up.
	require.NoError(t, f.engine.PushFile(context.Background(), "note.md"))

	assert.Equal(t, 0, f.callCount("create"))
	assert.Equal(t, 0, f.callCount("replace"))
}

func TestFileModifiedDebounces(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write("note.md", []byte("v1")))

	f.engine.FileModified("note.md")
	f.engine.FileModified("note.md")
	f.engine.FileModified("note.md")

	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, 1, f.callCount("create"), "burst of edits becomes one upload")
}

func TestOfflineCreateQueuesWithSurrogate(t *testing.T) {
	f := newFixture(t)
	f.setOffline(true)
	require.NoError(t, f.store.Write("note.md", []byte("offline note")))

	require.NoError(t, f.engine.FileCreated(context.Background(), "note.md"))

	items := f.log.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.ActionUpload, items[0].Action)
	assert.True(t, items[0].IsSurrogate())

	final, ok := f.log.FinalName(items[0].FileID)
	require.True(t, ok)
	assert.Equal(t, "note.md", final)
}

func TestOfflineDeleteOfQueuedUploadCancelsIt(t *testing.T) {
	f := newFixture(t)
	f.setOffline(true)
	require.NoError(t, f.store.Write("ephemeral.md", []byte("short-lived")))

	require.NoError(t, f.engine.FileCreated(context.Background(), "ephemeral.md"))
	require.Equal(t, 1, f.log.Len())

	require.NoError(t, f.store.Delete("ephemeral.md"))
	require.NoError(t, f.engine.FileDeleted(context.Background(), "ephemeral.md"))

	assert.Equal(t, 0, f.log.Len(), "never-uploaded file needs no remote work")
}

func TestOfflineLifecycleReplaysInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Cut the network, then create, rename, and edit one file.
	f.setOffline(true)

	require.NoError(t, f.store.Write("note.md", []byte("first draft")))
	require.NoError(t, f.engine.FileCreated(ctx, "note.md"))

	require.NoError(t, f.store.Move("note.md", "renamed.md"))
	require.NoError(t, f.engine.FileRenamed(ctx, "note.md", "renamed.md"))

	require.NoError(t, f.store.Write("renamed.md", []byte("final content")))
	require.NoError(t, f.engine.PushFile(ctx, "renamed.md"))

	items := f.log.Items()
	require.Len(t, items, 3)
	assert.Equal(t, models.ActionUpload, items[0].Action)
	assert.Equal(t, models.ActionRename, items[1].Action)
	assert.Equal(t, models.ActionModify, items[2].Action)
	assert.Equal(t, items[0].FileID, items[1].FileID, "one surrogate identity throughout")
	assert.Equal(t, items[0].FileID, items[2].FileID)

	// Restore the network and drain.
	f.setOffline(false)
	f.waitOnline(t)
	require.NoError(t, f.engine.DrainPending(ctx))

	assert.Equal(t, 0, f.log.Len())

	rec, ok := f.fake.Record("g-1")
	require.True(t, ok, "surrogate resolved to a real id")
	assert.Equal(t, "renamed.md", rec.Name)
	assert.Contains(t, string(f.fake.Content("g-1")), "final content")
	assert.Equal(t, 1, f.callCount("create"), "exactly one remote object created")
}

func TestReplaySkipsResolvedUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Write("note.md", []byte("content")))
	require.NoError(t, f.log.Append(models.PendingSyncItem{
		Action: models.ActionUpload, FileID: "tmp-1",
		TimeStamp: time.Now(), NewFileName: "note.md",
	}))
	require.NoError(t, f.log.SetFinalName("tmp-1", "note.md"))

	// A previous run created the object and crashed before popping.
	require.NoError(t, f.log.ResolveSurrogate("tmp-1", "g-99"))

	require.NoError(t, f.engine.DrainPending(ctx))

	assert.Equal(t, 0, f.callCount("create"), "replaying twice never duplicates the upload")
	assert.Equal(t, 0, f.log.Len())
}

func TestReplayModifyLastWriterWins(t *testing.T) {
	now := time.Now()

	t.Run("remote newer wins", func(t *testing.T) {
		f := newFixture(t)
		id := f.fake.Seed("note.md", "vault-1", []byte("remote edit"), now)
		require.NoError(t, f.store.Write("note.md", []byte("stale local edit")))

		require.NoError(t, f.log.Append(models.PendingSyncItem{
			Action: models.ActionModify, FileID: id, TimeStamp: now.Add(-time.Minute),
		}))

		require.NoError(t, f.engine.DrainPending(context.Background()))

		assert.Equal(t, 0, f.callCount("replace"))
		assert.Equal(t, []byte("remote edit"), f.fake.Content(id))
	})

	t.Run("local newer wins", func(t *testing.T) {
		f := newFixture(t)
		id := f.fake.Seed("note.md", "vault-1", []byte("old remote"), now.Add(-time.Minute))
		require.NoError(t, f.store.Write("note.md", []byte("fresh local edit")))

		require.NoError(t, f.log.Append(models.PendingSyncItem{
			Action: models.ActionModify, FileID: id, TimeStamp: now,
		}))

		require.NoError(t, f.engine.DrainPending(context.Background()))

		assert.Equal(t, 1, f.callCount("replace"))
		assert.Contains(t, string(f.fake.Content(id)), "fresh local edit")
	})
}

func TestReplayDeleteLastWriterWins(t *testing.T) {
	now := time.Now()

	t.Run("remote modified after the delete survives", func(t *testing.T) {
		f := newFixture(t)
		id := f.fake.Seed("note.md", "vault-1", []byte("revived"), now)

		require.NoError(t, f.log.Append(models.PendingSyncItem{
			Action: models.ActionDelete, FileID: id, TimeStamp: now.Add(-time.Minute),
		}))

		require.NoError(t, f.engine.DrainPending(context.Background()))

		_, ok := f.fake.Record(id)
		assert.True(t, ok, "delete older than the remote edit is discarded")
	})

	t.Run("delete newer than remote applies", func(t *testing.T) {
		f := newFixture(t)
		id := f.fake.Seed("note.md", "vault-1", []byte("doomed"), now.Add(-time.Minute))

		require.NoError(t, f.log.Append(models.PendingSyncItem{
			Action: models.ActionDelete, FileID: id, TimeStamp: now,
		}))

		require.NoError(t, f.engine.DrainPending(context.Background()))

		_, ok := f.fake.Record(id)
		assert.False(t, ok)
	})
}

func TestMidDrainOutageResumesLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setOffline(true)
	require.NoError(t, f.store.Write("a.md", []byte("a")))
	require.NoError(t, f.engine.FileCreated(ctx, "a.md"))
	require.NoError(t, f.store.Write("b.md", []byte("b")))
	require.NoError(t, f.engine.FileCreated(ctx, "b.md"))
	require.Equal(t, 2, f.log.Len())

	// Still offline: drain refuses to run, the queue is untouched.
	err := f.engine.DrainPending(ctx)
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.Equal(t, 2, f.log.Len())

	f.setOffline(false)
	f.waitOnline(t)
	require.NoError(t, f.engine.DrainPending(ctx))
	assert.Equal(t, 0, f.log.Len())
	assert.Equal(t, 2, f.callCount("create"))
}

func TestErrorStormHaltsEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.Seed("note.md", "vault-1", []byte("remote"), time.Now())
	require.NoError(t, f.engine.RefreshAll(ctx))

	f.fake.Fail = map[string]error{
		"replace": &models.RemoteOperationError{Op: "replace", StatusCode: 500, Err: errors.New("server exploded")},
	}

	var lastErr error
	for i := 0; i < 6; i++ {
		require.NoError(t, f.store.Write("note.md", []byte(fmt.Sprintf("edit %d", i))))
		lastErr = f.engine.PushFile(ctx, "note.md")
		require.Error(t, lastErr)
	}

	assert.True(t, f.engine.Halted())
	assert.ErrorIs(t, f.engine.RefreshAll(ctx), models.ErrHalted)
	assert.ErrorIs(t, f.engine.PushFile(ctx, "note.md"), models.ErrHalted)
	assert.ErrorIs(t, f.engine.FileCreated(ctx, "new.md"), models.ErrHalted)
}

func TestNetworkErrorsDoNotHalt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setOffline(true)
	for i := 0; i < 10; i++ {
		_ = f.engine.RefreshAll(ctx)
	}

	assert.False(t, f.engine.Halted(), "unreachability is not an error storm")
	assert.False(t, f.engine.Online())
}

func TestOpenFileRefreshedWhenRemoteNewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pushTime := time.Now().Add(-time.Minute)
	local := synctag.ApplyTimestamp([]byte("local version"), pushTime)
	require.NoError(t, f.store.Write("open.md", local))

	// Remote edited well past the conflict margin.
	f.fake.Seed("open.md", "vault-1", []byte("newer remote version"), pushTime.Add(30*time.Second))
	require.NoError(t, f.engine.RefreshAll(ctx))

	require.NoError(t, f.engine.FileOpened(ctx, "open.md"))

	data, err := f.store.Read("open.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("newer remote version"), data)
}

func TestOpenFileInsideMarginLeftAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pushTime := time.Now().Add(-time.Minute)
	local := synctag.ApplyTimestamp([]byte("local version"), pushTime)
	require.NoError(t, f.store.Write("open.md", local))

	// Remote timestamp differs by less than the margin: clock skew, not an
	// edit.
	f.fake.Seed("open.md", "vault-1", []byte("same content really"), pushTime.Add(2*time.Second))
	require.NoError(t, f.engine.RefreshAll(ctx))

	require.NoError(t, f.engine.FileOpened(ctx, "open.md"))

	data, err := f.store.Read("open.md")
	require.NoError(t, err)
	assert.Equal(t, local, data)
}

func TestBlacklistedPathsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Write(".obsidian/workspace", []byte("{}")))
	require.NoError(t, f.engine.FileCreated(ctx, ".obsidian/workspace"))
	require.NoError(t, f.engine.PushFile(ctx, ".obsidian/workspace"))

	assert.Equal(t, 0, f.callCount("create"))
}

func TestOnlineDeleteRemovesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.fake.Seed("note.md", "vault-1", []byte("body"), time.Now())
	require.NoError(t, f.engine.RefreshAll(ctx))

	require.NoError(t, f.store.Delete("note.md"))
	require.NoError(t, f.engine.FileDeleted(ctx, "note.md"))

	_, ok := f.fake.Record(id)
	assert.False(t, ok)
}

func TestOnlineRenameMovesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.fake.Seed("old.md", "vault-1", []byte("body"), time.Now())
	require.NoError(t, f.engine.RefreshAll(ctx))

	require.NoError(t, f.store.Move("old.md", "sub/new.md"))
	require.NoError(t, f.engine.FileRenamed(ctx, "old.md", "sub/new.md"))

	rec, ok := f.fake.Record(id)
	require.True(t, ok)
	assert.Equal(t, "sub/new.md", rec.Name)
}

type stubTokenSource struct {
	calls int
	err   error
}

func (s *stubTokenSource) EnsureToken(ctx context.Context) error {
	s.calls++
	return s.err
}

func TestRemoteOperationsRefreshTokenFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := &stubTokenSource{}
	f.engine.SetTokenSource(tokens)

	f.fake.Seed("note.md", "vault-1", []byte("body"), time.Now())
	require.NoError(t, f.engine.RefreshAll(ctx))
	assert.Equal(t, 1, tokens.calls, "refresh renews the credential before listing")

	require.NoError(t, f.store.Write("new.md", []byte("x")))
	require.NoError(t, f.engine.PushFile(ctx, "new.md"))
	assert.Equal(t, 2, tokens.calls, "upload renews the credential first")

	require.NoError(t, f.engine.DrainPending(ctx))
	assert.Equal(t, 3, tokens.calls)
}

func TestUnreachableTokenEndpointQueuesInsteadOfDropping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setOffline(true)
	f.engine.SetTokenSource(&stubTokenSource{err: &models.TokenError{
		Reason: "network unreachable",
		Err: &models.RemoteOperationError{
			Op:  "POST /token",
			Err: &url.Error{Op: "Post", URL: "https://token.example", Err: errors.New("connection refused")},
		},
	}})

	err := f.engine.RefreshAll(ctx)
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.False(t, f.engine.Online(), "unreachable token endpoint is an outage")
	assert.False(t, f.engine.Halted())

	require.NoError(t, f.store.Write("note.md", []byte("written in the gap")))
	require.NoError(t, f.engine.FileCreated(ctx, "note.md"))
	assert.Equal(t, 1, f.log.Len(), "edits during the outage are queued, not dropped")
}

func TestRejectedCredentialDoesNotFeedGovernor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.SetTokenSource(&stubTokenSource{err: &models.TokenError{
		Reason: "credential rejected",
		Err:    errors.New("invalid_grant"),
	}})

	var err error
	for i := 0; i < 8; i++ {
		err = f.engine.RefreshAll(ctx)
		require.Error(t, err)
	}

	var tokenErr *models.TokenError
	assert.ErrorAs(t, err, &tokenErr)
	assert.False(t, f.engine.Halted(), "a dead credential is not an error storm")
	assert.True(t, f.engine.Online())
}

func TestReconnectRefreshDrainsQueueFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pushTime := time.Now().Add(-time.Hour)
	id := f.fake.Seed("old.md", "vault-1", synctag.ApplyTimestamp([]byte("body"), pushTime), pushTime)
	require.NoError(t, f.engine.RefreshAll(ctx))

	// Renamed and edited during an outage.
	f.setOffline(true)
	require.NoError(t, f.store.Move("old.md", "new.md"))
	require.NoError(t, f.engine.FileRenamed(ctx, "old.md", "new.md"))
	require.NoError(t, f.store.Write("new.md", []byte("offline edit")))
	require.NoError(t, f.engine.PushFile(ctx, "new.md"))
	require.Equal(t, 2, f.log.Len())

	// The refresh ticker can beat the recovery signal; the queued rename
	// must still win over the stale listing instead of being diffed away.
	f.setOffline(false)
	f.waitOnline(t)
	require.NoError(t, f.engine.RefreshAll(ctx))

	assert.Equal(t, 0, f.log.Len(), "refresh drained the queue before diffing")
	rec, ok := f.fake.Record(id)
	require.True(t, ok)
	assert.Equal(t, "new.md", rec.Name)
	assert.Contains(t, string(f.fake.Content(id)), "offline edit")
	assert.Equal(t, 0, f.callCount("create"), "rename plus edit never forks a second object")

	data, err := f.store.Read("new.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "offline edit")
}

func TestOfflineEditTargetsRenamedIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.fake.Seed("old.md", "vault-1", []byte("body"), time.Now().Add(-time.Hour))
	require.NoError(t, f.engine.RefreshAll(ctx))

	f.setOffline(true)
	require.NoError(t, f.store.Move("old.md", "new.md"))
	require.NoError(t, f.engine.FileRenamed(ctx, "old.md", "new.md"))
	require.NoError(t, f.store.Write("new.md", []byte("post-rename edit")))
	require.NoError(t, f.engine.PushFile(ctx, "new.md"))

	items := f.log.Items()
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionRename, items[0].Action)
	assert.Equal(t, models.ActionModify, items[1].Action)
	assert.Equal(t, id, items[1].FileID, "edit follows the renamed file's identity")
}

func TestDebouncedUploadWhileEngineRunning(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = f.engine.Run(ctx) }()

	require.NoError(t, f.store.Write("note.md", []byte("edited")))
	f.engine.FileModified("note.md")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.fake.Record("g-1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced upload never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, _ := f.fake.Record("g-1")
	assert.Equal(t, "note.md", rec.Name)
}

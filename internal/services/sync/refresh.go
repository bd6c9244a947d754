package sync

import (
	"context"
	"time"

	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

// RefreshAll runs one full reconciliation pass: fetch the remote listing,
// delete local files the remote no longer has, download remote files missing
// locally, then re-check the open file for staleness. The remote listing is
// authoritative; local state is only consulted to protect in-flight and
// never-synced files. A pass that overlaps a running one is a no-op.
func (e *Engine) RefreshAll(ctx context.Context) error {
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if !e.monitor.Online() {
		return models.ErrOffline
	}

	// Anything queued offline replays before the listing diff. Diffing
	// first would read the stale listing as truth and undo the queued
	// renames and edits; the drain ends with its own refresh pass.
	if e.log.Len() > 0 {
		return e.DrainPending(ctx)
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return models.ErrDrainInProgress
	}
	if e.refreshing {
		e.mu.Unlock()
		return nil
	}
	e.refreshing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.refreshing = false
		e.mu.Unlock()
	}()

	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.ensureToken(ctx); err != nil {
		return err
	}
	return e.refreshPass(ctx)
}

func (e *Engine) refreshPass(ctx context.Context) error {
	records, err := e.remote.List(ctx, e.vaultID)
	if err != nil {
		return e.remoteFailure("refresh listing", err)
	}
	e.replaceListing(records)

	e.mu.Lock()
	cloud := make(map[string]models.RemoteFileRecord, len(e.cloudFiles))
	for p, r := range e.cloudFiles {
		cloud[p] = r
	}
	e.mu.Unlock()

	infos, err := e.store.ListAll()
	if err != nil {
		return err
	}

	local := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if e.ignoredPath(info.Path) {
			continue
		}
		local[info.Path] = struct{}{}
	}

	// Deletion pass: a synced local file absent from the listing was
	// deleted remotely. Files the engine never pushed carry no marker and
	// are left alone.
	for path := range local {
		if _, ok := cloud[path]; ok {
			continue
		}
		if e.isBusy(path) {
			continue
		}
		if !e.isSynced(path) {
			continue
		}

		if err := e.store.Delete(path); err != nil {
			e.governor.Record(err)
			continue
		}
		_ = e.sidecar.Remove(path)
		delete(local, path)
		e.emit(Event{Type: EventDeletedLocal, Path: path})
		e.logger.WithField("path", path).Info("Deleted local file removed on remote")
	}

	// Download pass: listing entries with no local counterpart.
	for path, rec := range cloud {
		if _, ok := local[path]; ok {
			continue
		}
		if e.ignoredPath(path) || e.isBusy(path) {
			continue
		}
		if err := e.downloadRecord(ctx, rec); err != nil {
			if models.IsNetworkError(err) {
				return e.remoteFailure("download "+path, err)
			}
			e.governor.Record(err)
		}
	}

	return e.refreshActiveFile(ctx, cloud)
}

// downloadRecord pulls a listing entry into the vault.
func (e *Engine) downloadRecord(ctx context.Context, rec models.RemoteFileRecord) error {
	path := models.NormalizePath(rec.Name)

	_, data, err := e.remote.GetContent(ctx, rec.ID)
	if err != nil {
		return err
	}

	if err := e.store.Write(path, data); err != nil {
		return err
	}
	e.markPulled(path, data)
	_ = e.store.SetModTime(path, rec.ModifiedTime)

	if models.IsBinaryFile(path, data) {
		_ = e.sidecar.Set(path, rec.ModifiedTime)
	}

	e.emit(Event{Type: EventDownloaded, Path: path})
	e.logger.WithField("path", path).Info("Downloaded remote file")
	return nil
}

// refreshActiveFile re-downloads the open file when the remote copy is newer
// than its recorded push time by more than the conflict margin. Attachments
// only auto-refresh when enabled; an editor holding the open bytes would not
// reload them anyway.
func (e *Engine) refreshActiveFile(ctx context.Context, cloud map[string]models.RemoteFileRecord) error {
	e.mu.Lock()
	path := e.activeFile
	e.mu.Unlock()
	if path == "" {
		return nil
	}

	rec, ok := cloud[path]
	if !ok {
		return nil
	}

	data, err := e.store.Read(path)
	if err != nil {
		return nil
	}

	binary := models.IsBinaryFile(path, data)
	if binary && !e.cfg.BinaryAutoRefresh {
		return nil
	}

	var (
		pushedAt time.Time
		pushed   bool
	)
	if binary {
		pushedAt, pushed = e.sidecar.Get(path)
	} else {
		pushedAt, pushed = synctag.ExtractTimestamp(data)
	}
	if !pushed {
		return nil
	}

	if !rec.ModifiedTime.After(pushedAt.Add(e.cfg.ConflictMargin)) {
		return nil
	}

	if err := e.downloadRecord(ctx, rec); err != nil {
		if models.IsNetworkError(err) {
			return e.remoteFailure("refresh open file", err)
		}
		e.governor.Record(err)
	}
	return nil
}

// isSynced reports whether the file carries a push marker, inline or sidecar.
func (e *Engine) isSynced(path string) bool {
	data, err := e.store.Read(path)
	if err != nil {
		return false
	}
	if models.IsBinaryFile(path, data) {
		return e.sidecar.Tracked(path)
	}
	_, ok := synctag.ExtractTimestamp(data)
	return ok
}

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/TheMichaelB/drivesync/internal/models"
)

// Live event routing. The watcher calls these as vault events arrive; each
// routes to an immediate remote call when online or a queued item when not.
// Events observed while a drain is replaying are skipped; the drain's closing
// refresh converges whatever they would have done.

// FileCreated handles a new local file.
func (e *Engine) FileCreated(ctx context.Context, path string) error {
	path = models.NormalizePath(path)
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if path == "" || e.ignoredPath(path) || e.skipDuringDrain(path) {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	data, err := e.store.Read(path)
	if err != nil {
		return nil
	}
	if e.isEcho(path, data) {
		return nil
	}

	// A token refresh failure that flips the engine offline falls through
	// to the queue path below.
	if err := e.ensureToken(ctx); err != nil && !errors.Is(err, models.ErrOffline) {
		return err
	}

	if !e.monitor.Online() {
		return e.queueCreate(path)
	}
	return e.uploadNew(ctx, path, data)
}

// FileRenamed handles a local rename or move.
func (e *Engine) FileRenamed(ctx context.Context, oldPath, newPath string) error {
	oldPath = models.NormalizePath(oldPath)
	newPath = models.NormalizePath(newPath)
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if newPath == "" || e.ignoredPath(newPath) || e.skipDuringDrain(newPath) {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.ensureToken(ctx); err != nil && !errors.Is(err, models.ErrOffline) {
		return err
	}

	now := time.Now()
	rec, tracked := e.cloudRecord(oldPath)

	if !e.monitor.Online() {
		if tracked {
			if err := e.log.SetFinalName(rec.ID, newPath); err != nil {
				return err
			}
			if err := e.log.Append(models.PendingSyncItem{
				Action: models.ActionRename, FileID: rec.ID, TimeStamp: now,
			}); err != nil {
				return err
			}
			_ = e.sidecar.Rename(oldPath, newPath)
			e.emit(Event{Type: EventQueued, Path: newPath, Message: "rename"})
			return nil
		}

		if surr := e.surrogateFor(oldPath); surr != "" {
			// The file only exists as a queued upload; move its identity
			// to the new path.
			e.mu.Lock()
			delete(e.renamedWhileOffline, oldPath)
			e.renamedWhileOffline[newPath] = surr
			e.mu.Unlock()

			if err := e.log.SetFinalName(surr, newPath); err != nil {
				return err
			}
			if err := e.log.Append(models.PendingSyncItem{
				Action: models.ActionRename, FileID: surr, TimeStamp: now,
			}); err != nil {
				return err
			}
			e.emit(Event{Type: EventQueued, Path: newPath, Message: "rename"})
			return nil
		}

		// Never seen before: a brand-new file surfacing via rename.
		return e.queueCreate(newPath)
	}

	if !tracked {
		data, err := e.store.Read(newPath)
		if err != nil {
			return nil
		}
		return e.uploadNew(ctx, newPath, data)
	}

	e.setBusy(e.renaming, oldPath, newPath)
	defer e.clearBusy(e.renaming, oldPath, newPath)

	if _, err := e.remote.Rename(ctx, rec.ID, newPath); err != nil {
		if models.IsNetworkError(err) {
			e.markOffline()
			if err := e.log.SetFinalName(rec.ID, newPath); err != nil {
				return err
			}
			if err := e.log.Append(models.PendingSyncItem{
				Action: models.ActionRename, FileID: rec.ID, TimeStamp: now,
			}); err != nil {
				return err
			}
			_ = e.sidecar.Rename(oldPath, newPath)
			e.emit(Event{Type: EventQueued, Path: newPath, Message: "rename"})
			return nil
		}
		if models.IsNotFound(err) {
			data, rerr := e.store.Read(newPath)
			if rerr != nil {
				return nil
			}
			return e.uploadNew(ctx, newPath, data)
		}
		return e.remoteFailure("rename "+oldPath, err)
	}

	_ = e.sidecar.Rename(oldPath, newPath)
	e.dropCloudRecord(oldPath)
	rec.Name = newPath
	rec.ModifiedTime = now
	e.setCloudRecord(rec)
	e.reloadListing(ctx)

	e.logger.WithFields(map[string]interface{}{
		"from": oldPath, "to": newPath,
	}).Info("Renamed remote file")
	return nil
}

// FileDeleted handles a local deletion.
func (e *Engine) FileDeleted(ctx context.Context, path string) error {
	path = models.NormalizePath(path)
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if path == "" || e.ignoredPath(path) || e.skipDuringDrain(path) {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.ensureToken(ctx); err != nil && !errors.Is(err, models.ErrOffline) {
		return err
	}

	now := time.Now()

	if !e.monitor.Online() {
		if surr := e.surrogateFor(path); surr != "" {
			// Created and deleted within one outage: the remote never
			// needs to hear about it.
			e.mu.Lock()
			delete(e.renamedWhileOffline, path)
			e.mu.Unlock()
			return e.log.RemoveAll(surr)
		}

		rec, ok := e.cloudRecord(path)
		if !ok {
			return nil
		}
		if err := e.log.Append(models.PendingSyncItem{
			Action: models.ActionDelete, FileID: rec.ID, TimeStamp: now,
		}); err != nil {
			return err
		}
		e.emit(Event{Type: EventQueued, Path: path, Message: "delete"})
		return nil
	}

	rec, ok := e.cloudRecord(path)
	if !ok {
		return nil
	}

	e.setBusy(e.deleting, path)
	defer e.clearBusy(e.deleting, path)

	if _, err := e.remote.Delete(ctx, rec.ID); err != nil {
		if models.IsNetworkError(err) {
			e.markOffline()
			if aerr := e.log.Append(models.PendingSyncItem{
				Action: models.ActionDelete, FileID: rec.ID, TimeStamp: now,
			}); aerr != nil {
				return aerr
			}
			e.emit(Event{Type: EventQueued, Path: path, Message: "delete"})
			return nil
		}
		return e.remoteFailure("delete "+path, err)
	}

	_ = e.sidecar.Remove(path)
	e.dropCloudRecord(path)
	e.reloadListing(ctx)
	e.logger.WithField("path", path).Info("Deleted remote file")
	return nil
}

// FileModified debounces a content edit; the upload happens once the file has
// been quiet for the debounce window.
func (e *Engine) FileModified(path string) {
	path = models.NormalizePath(path)
	if path == "" || e.governor.Halted() || e.ignoredPath(path) {
		return
	}

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if t, ok := e.debounce[path]; ok {
		t.Stop()
	}
	e.debounce[path] = time.AfterFunc(e.cfg.DebounceWindow, func() {
		e.debounceMu.Lock()
		delete(e.debounce, path)
		ctx := e.runCtx
		e.debounceMu.Unlock()

		if ctx == nil {
			ctx = context.Background()
		}
		if err := e.PushFile(ctx, path); err != nil && !expectedErr(err) {
			e.logger.WithError(err).WithField("path", path).Warn("Debounced upload failed")
		}
	})
}

// PushFile uploads the file's current content immediately: replace when the
// remote knows the file, create when it does not, queue when offline.
func (e *Engine) PushFile(ctx context.Context, path string) error {
	path = models.NormalizePath(path)
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if path == "" || e.ignoredPath(path) || e.skipDuringDrain(path) {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	data, err := e.store.Read(path)
	if err != nil {
		return nil
	}
	if e.isEcho(path, data) {
		return nil
	}

	if err := e.ensureToken(ctx); err != nil && !errors.Is(err, models.ErrOffline) {
		return err
	}

	if !e.monitor.Online() {
		return e.queueModify(path, data)
	}

	rec, ok := e.cloudRecord(path)
	if !ok {
		return e.uploadNew(ctx, path, data)
	}

	e.setBusy(e.uploading, path)
	defer e.clearBusy(e.uploading, path)

	now := time.Now()
	data = e.stampForPush(path, data, now)

	if err := e.remote.ReplaceContent(ctx, rec.ID, data); err != nil {
		if models.IsNetworkError(err) {
			e.markOffline()
			return e.queueModify(path, data)
		}
		if models.IsNotFound(err) {
			// Deleted remotely since the last listing; the next refresh
			// settles it.
			return nil
		}
		return e.remoteFailure("upload "+path, err)
	}

	rec.ModifiedTime = now
	e.setCloudRecord(rec)
	e.emit(Event{Type: EventUploaded, Path: path})
	e.logger.WithField("path", path).Info("Uploaded modified file")
	return nil
}

// FileOpened marks the file active and re-checks it for staleness against the
// cached listing.
func (e *Engine) FileOpened(ctx context.Context, path string) error {
	path = models.NormalizePath(path)

	e.mu.Lock()
	e.activeFile = path
	cloud := make(map[string]models.RemoteFileRecord, len(e.cloudFiles))
	for p, r := range e.cloudFiles {
		cloud[p] = r
	}
	e.mu.Unlock()

	if e.governor.Halted() {
		return models.ErrHalted
	}
	if path == "" || !e.monitor.Online() || e.ignoredPath(path) {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.ensureToken(ctx); err != nil {
		if errors.Is(err, models.ErrOffline) {
			return nil
		}
		return err
	}
	return e.refreshActiveFile(ctx, cloud)
}

// uploadNew pushes a file the remote has no record of. Callers hold opMu.
func (e *Engine) uploadNew(ctx context.Context, path string, data []byte) error {
	e.setBusy(e.uploading, path)
	defer e.clearBusy(e.uploading, path)

	now := time.Now()
	data = e.stampForPush(path, data, now)

	id, err := e.remote.Create(ctx, path, e.vaultID, data)
	if err != nil {
		if models.IsNetworkError(err) {
			e.markOffline()
			return e.queueCreate(path)
		}
		return e.remoteFailure("create "+path, err)
	}

	e.setCloudRecord(models.RemoteFileRecord{ID: id, Name: path, ModifiedTime: now})
	e.reloadListing(ctx)
	e.emit(Event{Type: EventUploaded, Path: path})
	e.logger.WithField("path", path).Info("Uploaded new file")
	return nil
}

// queueCreate records an offline creation under a fresh surrogate id.
func (e *Engine) queueCreate(path string) error {
	e.mu.Lock()
	surr, ok := e.renamedWhileOffline[path]
	if !ok {
		surr = e.log.NewSurrogateID()
		e.renamedWhileOffline[path] = surr
	}
	e.mu.Unlock()
	if ok {
		// Already queued for upload; content is read at replay time.
		return nil
	}

	if err := e.log.SetFinalName(surr, path); err != nil {
		return err
	}

	data, _ := e.store.Read(path)
	if err := e.log.Append(models.PendingSyncItem{
		Action:       models.ActionUpload,
		FileID:       surr,
		TimeStamp:    time.Now(),
		NewFileName:  path,
		IsBinaryFile: models.IsBinaryFile(path, data),
	}); err != nil {
		return err
	}
	e.emit(Event{Type: EventQueued, Path: path, Message: "upload"})
	return nil
}

// queueModify records an offline edit against the file's known identity.
func (e *Engine) queueModify(path string, data []byte) error {
	var id string
	if rec, ok := e.cloudRecord(path); ok {
		id = rec.ID
	} else if surr := e.surrogateFor(path); surr != "" {
		id = surr
	} else if renamed := e.log.IDForFinalName(path); renamed != "" {
		// The file was renamed to this path earlier in the outage; the
		// edit targets its existing identity, not a new object.
		id = renamed
	} else {
		return e.queueCreate(path)
	}

	if err := e.log.Append(models.PendingSyncItem{
		Action:       models.ActionModify,
		FileID:       id,
		TimeStamp:    time.Now(),
		IsBinaryFile: models.IsBinaryFile(path, data),
	}); err != nil {
		return err
	}
	e.emit(Event{Type: EventQueued, Path: path, Message: "modify"})
	return nil
}

// surrogateFor returns the surrogate id already issued for an offline-created
// file, or empty.
func (e *Engine) surrogateFor(path string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renamedWhileOffline[path]
}

func (e *Engine) skipDuringDrain(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		e.logger.WithField("path", path).Debug("Event during drain, deferring to refresh")
		return true
	}
	return false
}

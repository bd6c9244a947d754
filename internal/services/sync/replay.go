package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

// DrainPending replays the persisted offline queue strictly in order, then
// clears the surrogate bookkeeping and runs a full refresh. One remote listing
// taken at the start serves every conflict check; the queue is short-lived and
// replay finishes in well under a listing's staleness horizon. A network
// failure mid-drain stops cleanly; the queue resumes on the next recovery.
func (e *Engine) DrainPending(ctx context.Context) error {
	if e.governor.Halted() {
		return models.ErrHalted
	}
	if !e.monitor.Online() {
		return models.ErrOffline
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return models.ErrDrainInProgress
	}
	e.draining = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.ensureToken(ctx); err != nil {
		return err
	}

	// Reload from disk so a queue persisted by a previous process run is
	// picked up.
	if err := e.log.Load(); err != nil {
		return err
	}

	if e.log.Len() > 0 {
		if err := e.drainQueue(ctx); err != nil {
			return err
		}
		e.emit(Event{Type: EventDrained, Message: "offline queue replayed"})
	}

	// Surrogate identities are only meaningful while their items exist.
	e.mu.Lock()
	e.renamedWhileOffline = make(map[string]string)
	e.mu.Unlock()
	if err := e.log.Clear(); err != nil {
		return err
	}

	return e.refreshPass(ctx)
}

func (e *Engine) drainQueue(ctx context.Context) error {
	records, err := e.remote.List(ctx, e.vaultID)
	if err != nil {
		return e.remoteFailure("drain listing", err)
	}

	byID := make(map[string]models.RemoteFileRecord, len(records))
	for _, r := range records {
		if !r.IsFolder() {
			byID[r.ID] = r
		}
	}

	total := e.log.Len()
	e.logger.WithField("count", total).Info("Replaying pending operations")

	for {
		item, ok := e.log.Front()
		if !ok {
			break
		}

		if err := e.replayItem(ctx, item, byID); err != nil {
			if models.IsNetworkError(err) {
				e.markOffline()
				return models.ErrOffline
			}
			// Replaying the same item again would fail the same way;
			// drop it and tell the user.
			e.governor.Record(err)
			e.emit(Event{
				Type:    EventNotice,
				Path:    item.NewFileName,
				Message: fmt.Sprintf("dropped pending %s", item.Action),
				Err:     err,
			})
			if e.governor.Halted() {
				return models.ErrHalted
			}
		}

		// Persisted progress: the pop lands on disk before the next item
		// is considered.
		if err := e.log.PopFront(); err != nil {
			return err
		}
		e.emit(Event{Type: EventReplayed, Path: item.NewFileName, Message: string(item.Action)})
	}

	return nil
}

// replayItem applies one queued operation against the listing snapshot.
// Returned errors are remote failures; local anomalies (file gone, target
// gone, conflict lost) resolve to a silent skip, since the closing refresh
// converges the vault either way.
func (e *Engine) replayItem(ctx context.Context, item models.PendingSyncItem, byID map[string]models.RemoteFileRecord) error {
	id := e.log.RealID(item.FileID)

	switch item.Action {
	case models.ActionUpload:
		if id != item.FileID {
			// Resolved by a crashed earlier pass; the object exists.
			return nil
		}

		path := models.NormalizePath(item.NewFileName)
		if final, ok := e.log.FinalName(item.FileID); ok {
			path = models.NormalizePath(final)
		}

		data, err := e.store.Read(path)
		if err != nil {
			return nil
		}
		data = e.stampForPush(path, data, item.TimeStamp)

		newID, err := e.remote.Create(ctx, path, e.vaultID, data)
		if err != nil {
			return err
		}
		if item.IsSurrogate() {
			if err := e.log.ResolveSurrogate(item.FileID, newID); err != nil {
				return err
			}
		}
		byID[newID] = models.RemoteFileRecord{ID: newID, Name: path, ModifiedTime: item.TimeStamp}
		e.emit(Event{Type: EventUploaded, Path: path})

	case models.ActionModify:
		if strings.HasPrefix(id, models.SurrogatePrefix) {
			// The upload this edit depends on never happened.
			return nil
		}
		rec, ok := byID[id]
		if !ok {
			return nil
		}
		if !item.TimeStamp.After(rec.ModifiedTime) {
			e.logger.WithField("path", rec.Name).Info("Skipped stale offline edit, remote is newer")
			return nil
		}

		path := models.NormalizePath(rec.Name)
		if final, ok := e.finalNameFor(item.FileID, id); ok {
			path = final
		}
		data, err := e.store.Read(path)
		if err != nil {
			return nil
		}
		data = e.stampForPush(path, data, item.TimeStamp)

		if err := e.remote.ReplaceContent(ctx, id, data); err != nil {
			if models.IsNotFound(err) {
				return nil
			}
			return err
		}
		rec.ModifiedTime = item.TimeStamp
		byID[id] = rec
		e.emit(Event{Type: EventUploaded, Path: path})

	case models.ActionRename:
		if strings.HasPrefix(id, models.SurrogatePrefix) {
			return nil
		}
		rec, ok := byID[id]
		if !ok {
			return nil
		}
		newName, ok := e.finalNameFor(item.FileID, id)
		if !ok {
			return nil
		}
		if !item.TimeStamp.After(rec.ModifiedTime) {
			e.logger.WithField("path", rec.Name).Info("Skipped stale offline rename, remote is newer")
			return nil
		}

		if _, err := e.remote.Rename(ctx, id, newName); err != nil {
			if models.IsNotFound(err) {
				return nil
			}
			return err
		}
		_ = e.sidecar.Rename(rec.Name, newName)
		rec.Name = newName
		rec.ModifiedTime = item.TimeStamp
		byID[id] = rec

	case models.ActionDelete:
		if strings.HasPrefix(id, models.SurrogatePrefix) {
			return nil
		}
		rec, ok := byID[id]
		if !ok {
			return nil
		}
		if !rec.ModifiedTime.Before(item.TimeStamp) {
			e.logger.WithField("path", rec.Name).Info("Skipped stale offline delete, remote is newer")
			return nil
		}

		if _, err := e.remote.Delete(ctx, id); err != nil {
			return err
		}
		_ = e.sidecar.Remove(rec.Name)
		delete(byID, id)
	}

	return nil
}

// finalNameFor resolves the file's recorded final local path, checking the
// original id first and the resolved remote id second.
func (e *Engine) finalNameFor(originalID, realID string) (string, bool) {
	if final, ok := e.log.FinalName(originalID); ok {
		return models.NormalizePath(final), true
	}
	if final, ok := e.log.FinalName(realID); ok {
		return models.NormalizePath(final), true
	}
	return "", false
}

// stampForPush records t as the file's push time before upload. Text content
// gets the inline tag (written back locally so both copies match); binaries
// get a sidecar entry.
func (e *Engine) stampForPush(path string, data []byte, t time.Time) []byte {
	if models.IsBinaryFile(path, data) {
		_ = e.sidecar.Set(path, t)
		return data
	}

	tagged := synctag.ApplyTimestamp(data, t)
	if err := e.store.Write(path, tagged); err == nil {
		e.markPulled(path, tagged)
	}
	return tagged
}

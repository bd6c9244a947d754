package state

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// Log is the in-memory view of the pending-operation queue. Every mutation is
// persisted through the backing Store before it is considered done, so the
// durable copy is always at least as advanced as what replay has observed.
type Log struct {
	store  Store
	logger *events.Logger

	mu            sync.Mutex
	items         []models.PendingSyncItem
	finalNames    map[string]string
	resolvedIDs   map[string]string
	nextSurrogate int
}

// NewLog creates a pending-operation log over the given store.
func NewLog(store Store, logger *events.Logger) *Log {
	return &Log{
		store:       store,
		logger:      logger.WithField("component", "pending_log"),
		finalNames:  make(map[string]string),
		resolvedIDs: make(map[string]string),
	}
}

// Load replaces the in-memory view with the persisted state.
func (l *Log) Load() error {
	state, err := l.store.Load()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = state.Items
	l.finalNames = state.FinalNames
	l.resolvedIDs = state.ResolvedIDs

	// Continue surrogate numbering past everything already issued.
	l.nextSurrogate = 0
	bump := func(id string) {
		n, ok := surrogateNumber(id)
		if ok && n > l.nextSurrogate {
			l.nextSurrogate = n
		}
	}
	for _, item := range l.items {
		bump(item.FileID)
	}
	for id := range l.finalNames {
		bump(id)
	}
	for id := range l.resolvedIDs {
		bump(id)
	}

	if len(l.items) > 0 {
		l.logger.WithField("count", len(l.items)).Info("Loaded pending operations")
	}
	return nil
}

// Len reports the number of queued items.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Items returns a copy of the queue in replay order.
func (l *Log) Items() []models.PendingSyncItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.PendingSyncItem(nil), l.items...)
}

// Front returns the next item to replay.
func (l *Log) Front() (models.PendingSyncItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return models.PendingSyncItem{}, false
	}
	return l.items[0], true
}

// Append queues an item and persists. Consecutive content edits to the same
// file collapse into the already-queued MODIFY: only the newest timestamp
// matters, and replay uploads current local content anyway. The collapse stops
// at any intervening item for the same file, which would change its identity
// or name.
func (l *Log) Append(item models.PendingSyncItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if item.Action == models.ActionModify {
		for i := len(l.items) - 1; i >= 0; i-- {
			prev := &l.items[i]
			if prev.FileID != item.FileID {
				continue
			}
			if prev.Action == models.ActionModify {
				prev.TimeStamp = item.TimeStamp
				prev.IsBinaryFile = item.IsBinaryFile
				return l.persistLocked()
			}
			break
		}
	}

	l.items = append(l.items, item)
	l.logger.WithFields(map[string]interface{}{
		"action":  string(item.Action),
		"file_id": item.FileID,
		"queued":  len(l.items),
	}).Debug("Queued pending operation")
	return l.persistLocked()
}

// PopFront removes the finished head item and persists.
func (l *Log) PopFront() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	l.items = l.items[1:]
	return l.persistLocked()
}

// SetFinalName records the file's current local path under its id.
func (l *Log) SetFinalName(fileID, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalNames[fileID] = path
	return l.persistLocked()
}

// FinalName returns the recorded local path for an id.
func (l *Log) FinalName(fileID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	path, ok := l.finalNames[fileID]
	return path, ok
}

// IDForFinalName returns the id whose recorded final path matches, or empty.
// Lets later offline events target a file already renamed in the same outage.
func (l *Log) IDForFinalName(path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range l.finalNames {
		if p == path {
			return id
		}
	}
	return ""
}

// RemoveAll drops every queued item and name record for the id. Used when a
// file that only ever existed locally is deleted before it reached the remote.
func (l *Log) RemoveAll(fileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.items[:0]
	for _, item := range l.items {
		if item.FileID != fileID {
			kept = append(kept, item)
		}
	}
	l.items = kept
	delete(l.finalNames, fileID)
	return l.persistLocked()
}

// ResolveSurrogate records the remote id assigned to a surrogate. Persisted
// immediately, before the upload item is popped, so a crash between the two
// steps leaves a resumable record instead of a duplicate upload.
func (l *Log) ResolveSurrogate(surrogateID, remoteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resolvedIDs[surrogateID] = remoteID
	if path, ok := l.finalNames[surrogateID]; ok {
		l.finalNames[remoteID] = path
	}
	return l.persistLocked()
}

// RealID maps a surrogate id to its assigned remote id, when known. Real ids
// and unresolved surrogates come back unchanged.
func (l *Log) RealID(fileID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if real, ok := l.resolvedIDs[fileID]; ok {
		return real
	}
	return fileID
}

// NewSurrogateID issues the next temporary id for an offline-created file.
func (l *Log) NewSurrogateID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSurrogate++
	return fmt.Sprintf("%s%d", models.SurrogatePrefix, l.nextSurrogate)
}

// Clear empties the queue and both maps after a completed drain.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil
	l.finalNames = make(map[string]string)
	l.resolvedIDs = make(map[string]string)
	l.nextSurrogate = 0
	return l.persistLocked()
}

// Close closes the backing store.
func (l *Log) Close() error {
	return l.store.Close()
}

func (l *Log) persistLocked() error {
	state := &PendingState{
		Items:       l.items,
		FinalNames:  l.finalNames,
		ResolvedIDs: l.resolvedIDs,
	}
	if err := l.store.Save(state); err != nil {
		return fmt.Errorf("persist pending log: %w", err)
	}
	return nil
}

func surrogateNumber(id string) (int, bool) {
	if !strings.HasPrefix(id, models.SurrogatePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, models.SurrogatePrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Package sync implements the reconciliation engine: periodic full refresh
// against the remote listing, live local event handling, offline queueing with
// ordered replay, and the fail-stop error governor.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"os"
	"strings"
	gosync "sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/remote"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/storage"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

// EventType classifies engine progress events.
type EventType string

const (
	EventOnline       EventType = "online"
	EventOffline      EventType = "offline"
	EventUploaded     EventType = "uploaded"
	EventDownloaded   EventType = "downloaded"
	EventDeletedLocal EventType = "deleted_local"
	EventQueued       EventType = "queued"
	EventReplayed     EventType = "replayed"
	EventDrained      EventType = "drained"
	EventHalted       EventType = "halted"
	EventNotice       EventType = "notice"
)

// Event is one progress notification, consumed by the CLI.
type Event struct {
	Type      EventType
	Path      string
	Message   string
	Err       error
	Timestamp time.Time
}

// TokenSource supplies a valid bearer credential before remote calls. The
// auth service implements it; tests substitute stubs.
type TokenSource interface {
	EnsureToken(ctx context.Context) error
}

// Engine reconciles the local vault with the remote store. All public
// operations are serialized; the engine is logically one cooperative task.
type Engine struct {
	remote  remote.Client
	store   storage.VaultStore
	log     *state.Log
	sidecar *synctag.Sidecar
	monitor *Monitor
	tokens  TokenSource
	logger  *events.Logger
	cfg     config.SyncConfig

	governor *Governor

	vaultID      string
	snapshotPath string
	ignored      []string

	// opMu serializes every reconciliation operation.
	opMu gosync.Mutex

	// mu guards the caches and guard sets below.
	mu gosync.Mutex

	// cloudFiles mirrors the last remote listing, keyed by normalized
	// path. Rebuilt wholesale on every refresh; a cache, never a source of
	// truth.
	cloudFiles map[string]models.RemoteFileRecord

	// renamedWhileOffline maps local paths of offline-created files to
	// their surrogate ids, so later offline events target one identity.
	renamedWhileOffline map[string]string

	// lastPulled holds content hashes of files the engine itself wrote,
	// so the resulting filesystem events are recognized as echoes.
	lastPulled map[string]string

	// In-flight paths, excluded from refresh deletion/download decisions.
	uploading map[string]struct{}
	renaming  map[string]struct{}
	deleting  map[string]struct{}

	activeFile string

	refreshing bool
	draining   bool

	debounceMu gosync.Mutex
	debounce   map[string]*time.Timer
	runCtx     context.Context

	eventsCh chan Event
}

// NewEngine creates a reconciliation engine. The vault id is set later by the
// bootstrap, once the remote folder is resolved.
func NewEngine(
	rc remote.Client,
	store storage.VaultStore,
	log *state.Log,
	sidecar *synctag.Sidecar,
	monitor *Monitor,
	cfg config.SyncConfig,
	snapshotPath string,
	ignored []string,
	logger *events.Logger,
) *Engine {
	e := &Engine{
		remote:              rc,
		store:               store,
		log:                 log,
		sidecar:             sidecar,
		monitor:             monitor,
		logger:              logger.WithField("service", "sync"),
		cfg:                 cfg,
		snapshotPath:        snapshotPath,
		cloudFiles:          make(map[string]models.RemoteFileRecord),
		renamedWhileOffline: make(map[string]string),
		lastPulled:          make(map[string]string),
		uploading:           make(map[string]struct{}),
		renaming:            make(map[string]struct{}),
		deleting:            make(map[string]struct{}),
		debounce:            make(map[string]*time.Timer),
		eventsCh:            make(chan Event, 128),
	}
	e.governor = NewGovernor(logger, func() {
		e.emit(Event{Type: EventHalted, Message: "too many sync errors; restart to resume"})
	})
	for _, p := range ignored {
		e.ignored = append(e.ignored, models.NormalizePath(p))
	}
	e.loadSnapshot()
	return e
}

// SetVault binds the engine to the resolved remote vault folder.
func (e *Engine) SetVault(vaultID string) {
	e.vaultID = vaultID
}

// SetTokenSource installs the credential refresher consulted before every
// remote operation.
func (e *Engine) SetTokenSource(ts TokenSource) {
	e.tokens = ts
}

// ensureToken refreshes the bearer token when it is near expiry, so a
// long-running session never presents an expired credential. An unreachable
// token endpoint flips the engine offline like any other network failure; a
// rejected credential surfaces to the caller without feeding the governor.
func (e *Engine) ensureToken(ctx context.Context) error {
	if e.tokens == nil || !e.monitor.Online() {
		return nil
	}
	if err := e.tokens.EnsureToken(ctx); err != nil {
		if models.IsNetworkError(err) {
			e.markOffline()
			return models.ErrOffline
		}
		return err
	}
	return nil
}

// Events returns the engine's progress stream.
func (e *Engine) Events() <-chan Event {
	return e.eventsCh
}

// Halted reports whether the error governor has fail-stopped the engine.
func (e *Engine) Halted() bool {
	return e.governor.Halted()
}

// Online reports connectivity belief.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// PendingCount reports queued offline operations.
func (e *Engine) PendingCount() int {
	return e.log.Len()
}

// Run drives the engine: periodic refresh plus drain-then-refresh on
// reconnect. Live events arrive through the router methods from the watcher
// goroutine; opMu keeps everything serialized.
func (e *Engine) Run(ctx context.Context) error {
	e.debounceMu.Lock()
	e.runCtx = ctx
	e.debounceMu.Unlock()
	e.monitor.Start(ctx)

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.RefreshAll(ctx); err != nil && !expectedErr(err) {
				e.logger.WithError(err).Debug("Scheduled refresh failed")
			}
		case <-e.monitor.Recovered():
			e.emit(Event{Type: EventOnline, Message: "connectivity restored"})
			if err := e.DrainPending(ctx); err != nil && !expectedErr(err) {
				e.logger.WithError(err).Warn("Pending drain failed")
			}
		}
	}
}

// expectedErr filters outcomes that have their own handling path and need no
// further logging.
func expectedErr(err error) bool {
	switch {
	case err == nil:
		return true
	case models.IsNetworkError(err):
		return true
	}
	for _, sentinel := range []error{models.ErrOffline, models.ErrHalted, models.ErrDrainInProgress} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// remoteFailure routes a failed remote call: network errors flip the engine
// offline and start the probe loop, everything else feeds the governor.
// Returns the error the operation should surface.
func (e *Engine) remoteFailure(op string, err error) error {
	if models.IsNetworkError(err) {
		e.markOffline()
		return models.ErrOffline
	}
	e.governor.Record(err)
	e.emit(Event{Type: EventNotice, Message: op + " failed", Err: err})
	return err
}

func (e *Engine) markOffline() {
	wasOnline := e.monitor.Online()
	e.monitor.MarkOffline()
	if wasOnline {
		e.emit(Event{Type: EventOffline, Message: "remote unreachable, queueing changes"})
	}
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case e.eventsCh <- ev:
	default:
		// Nobody is reading; progress events are advisory.
	}
}

// ignoredPath reports whether the path matches a blacklist prefix.
func (e *Engine) ignoredPath(path string) bool {
	for _, prefix := range e.ignored {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// cloudRecord looks up the cached listing entry for a path.
func (e *Engine) cloudRecord(path string) (models.RemoteFileRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cloudFiles[path]
	return rec, ok
}

func (e *Engine) setCloudRecord(rec models.RemoteFileRecord) {
	e.mu.Lock()
	e.cloudFiles[models.NormalizePath(rec.Name)] = rec
	e.mu.Unlock()
	e.persistSnapshot()
}

func (e *Engine) dropCloudRecord(path string) {
	e.mu.Lock()
	delete(e.cloudFiles, path)
	e.mu.Unlock()
	e.persistSnapshot()
}

// replaceListing swaps the whole cloud cache for a fresh listing.
func (e *Engine) replaceListing(records []models.RemoteFileRecord) {
	cloud := make(map[string]models.RemoteFileRecord, len(records))
	for _, r := range records {
		if r.IsFolder() {
			continue
		}
		cloud[models.NormalizePath(r.Name)] = r
	}
	e.mu.Lock()
	e.cloudFiles = cloud
	e.mu.Unlock()
	e.persistSnapshot()
}

// reloadListing refreshes the cloud cache after a successful mutation.
// Failures only leave the cache one cycle stale; the next refresh repairs it.
func (e *Engine) reloadListing(ctx context.Context) {
	records, err := e.remote.List(ctx, e.vaultID)
	if err != nil {
		e.logger.WithError(err).Debug("Listing reload failed")
		return
	}
	e.replaceListing(records)
}

// markPulled records the hash of content the engine wrote locally, so the
// watcher's echo of that write is suppressed.
func (e *Engine) markPulled(path string, data []byte) {
	e.mu.Lock()
	e.lastPulled[path] = contentHash(data)
	e.mu.Unlock()
}

func (e *Engine) isEcho(path string, data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPulled[path] == contentHash(data)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return string(sum[:])
}

func (e *Engine) setBusy(set map[string]struct{}, paths ...string) {
	e.mu.Lock()
	for _, p := range paths {
		set[p] = struct{}{}
	}
	e.mu.Unlock()
}

func (e *Engine) clearBusy(set map[string]struct{}, paths ...string) {
	e.mu.Lock()
	for _, p := range paths {
		delete(set, p)
	}
	e.mu.Unlock()
}

func (e *Engine) isBusy(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.uploading[path]; ok {
		return true
	}
	if _, ok := e.renaming[path]; ok {
		return true
	}
	_, ok := e.deleting[path]
	return ok
}

// Snapshot persistence. The cached listing is written out so a restart has a
// warm view before the first refresh completes. Plain write; losing it only
// costs one listing call.

func (e *Engine) persistSnapshot() {
	if e.snapshotPath == "" {
		return
	}
	e.mu.Lock()
	records := make([]models.RemoteFileRecord, 0, len(e.cloudFiles))
	for _, rec := range e.cloudFiles {
		records = append(records, rec)
	}
	e.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(e.snapshotPath, data, 0600); err != nil {
		e.logger.WithError(err).Debug("Failed to persist listing snapshot")
	}
}

func (e *Engine) loadSnapshot() {
	if e.snapshotPath == "" {
		return
	}
	data, err := os.ReadFile(e.snapshotPath)
	if err != nil {
		return
	}
	var records []models.RemoteFileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return
	}
	e.replaceListingNoPersist(records)
}

func (e *Engine) replaceListingNoPersist(records []models.RemoteFileRecord) {
	cloud := make(map[string]models.RemoteFileRecord, len(records))
	for _, r := range records {
		if r.IsFolder() {
			continue
		}
		cloud[models.NormalizePath(r.Name)] = r
	}
	e.mu.Lock()
	e.cloudFiles = cloud
	e.mu.Unlock()
}

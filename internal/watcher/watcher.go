// Package watcher turns filesystem notifications for the vault directory into
// engine event calls.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// renamePairWindow is how long a rename's old path waits for its new path to
// appear as a create. Past it, the rename is treated as a deletion.
const renamePairWindow = 500 * time.Millisecond

// Sink receives vault events. Implemented by the sync engine.
type Sink interface {
	FileCreated(ctx context.Context, path string) error
	FileRenamed(ctx context.Context, oldPath, newPath string) error
	FileDeleted(ctx context.Context, path string) error
	FileModified(path string)
}

// Watcher observes the vault directory recursively and forwards events.
type Watcher struct {
	baseDir string
	sink    Sink
	logger  *events.Logger

	fs *fsnotify.Watcher

	mu          sync.Mutex
	pendingFrom string
	pendingTmr  *time.Timer
}

// New creates a watcher over baseDir.
func New(baseDir string, sink Sink, logger *events.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		baseDir: abs,
		sink:    sink,
		logger:  logger.WithField("component", "watcher"),
		fs:      fs,
	}

	if err := w.addRecursive(abs); err != nil {
		fs.Close()
		return nil, err
	}
	return w, nil
}

// Run forwards events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.baseDir, ev.Name)
	if err != nil {
		return
	}
	path := models.NormalizePath(rel)
	if path == "" || hidden(path) || strings.HasPrefix(filepath.Base(ev.Name), ".drivesync-") {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New subtree: watch it; its files arrive as separate events.
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.WithError(err).Warn("Failed to watch new directory")
			}
			return
		}

		if from := w.takePendingRename(); from != "" {
			if err := w.sink.FileRenamed(ctx, from, path); err != nil {
				w.logger.WithError(err).WithField("path", path).Warn("Rename handling failed")
			}
			return
		}
		if err := w.sink.FileCreated(ctx, path); err != nil {
			w.logger.WithError(err).WithField("path", path).Warn("Create handling failed")
		}

	case ev.Op.Has(fsnotify.Write):
		w.sink.FileModified(path)

	case ev.Op.Has(fsnotify.Remove):
		if err := w.sink.FileDeleted(ctx, path); err != nil {
			w.logger.WithError(err).WithField("path", path).Warn("Delete handling failed")
		}

	case ev.Op.Has(fsnotify.Rename):
		// The notification only carries the old path; the new path shows
		// up as a Create moments later, or never, for a move out of the
		// vault.
		w.holdPendingRename(ctx, path)
	}
}

func (w *Watcher) holdPendingRename(ctx context.Context, from string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTmr != nil {
		w.pendingTmr.Stop()
		// Two renames in flight; resolve the older one as a delete.
		old := w.pendingFrom
		go func() {
			if err := w.sink.FileDeleted(ctx, old); err != nil {
				w.logger.WithError(err).WithField("path", old).Warn("Delete handling failed")
			}
		}()
	}

	w.pendingFrom = from
	w.pendingTmr = time.AfterFunc(renamePairWindow, func() {
		if stale := w.takePendingRename(); stale != "" {
			if err := w.sink.FileDeleted(ctx, stale); err != nil {
				w.logger.WithError(err).WithField("path", stale).Warn("Delete handling failed")
			}
		}
	})
}

func (w *Watcher) takePendingRename() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingTmr == nil {
		return ""
	}
	w.pendingTmr.Stop()
	w.pendingTmr = nil
	from := w.pendingFrom
	w.pendingFrom = ""
	return from
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.baseDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func hidden(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

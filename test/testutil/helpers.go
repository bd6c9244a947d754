// Package testutil provides shared helpers for integration tests and
// benchmarks.
package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/remote"
	"github.com/TheMichaelB/drivesync/internal/services/sync"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/storage"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

// NewTestLogger creates a silent logger for tests.
func NewTestLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

// Harness bundles an engine with its fakes and the state directory backing
// it, so tests can simulate process restarts by rebuilding over the same
// directory.
type Harness struct {
	Engine  *sync.Engine
	Monitor *sync.Monitor
	Remote  *remote.Fake
	Vault   *storage.MemStore
	Log     *state.Log

	StateDir string
}

// NewHarness builds an engine over fresh fakes and a new state directory.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return buildHarness(t, t.TempDir(), remote.NewFake(), storage.NewMemStore())
}

// Restart rebuilds the engine over the same state directory and remote,
// as a new process would after a crash.
func (h *Harness) Restart(t *testing.T) *Harness {
	t.Helper()
	return buildHarness(t, h.StateDir, h.Remote, h.Vault)
}

func buildHarness(t *testing.T, stateDir string, fakeRemote *remote.Fake, vault *storage.MemStore) *Harness {
	t.Helper()
	logger := NewTestLogger()

	jsonStore, err := state.NewJSONStore(filepath.Join(stateDir, "pending.json"), logger)
	if err != nil {
		t.Fatal(err)
	}
	log := state.NewLog(jsonStore, logger)
	if err := log.Load(); err != nil {
		t.Fatal(err)
	}

	sidecar := synctag.NewSidecar(filepath.Join(stateDir, "attachments.json"), logger)

	monitor := sync.NewMonitor(func(ctx context.Context) error { return nil }, time.Hour, logger)

	cfg := config.SyncConfig{
		RefreshInterval: time.Hour,
		ConflictMargin:  5 * time.Second,
		DebounceWindow:  40 * time.Millisecond,
		ProbeInterval:   time.Hour,
		MaxFileSize:     1 << 20,
	}

	engine := sync.NewEngine(
		fakeRemote, vault, log, sidecar, monitor,
		cfg, filepath.Join(stateDir, "listing.json"), nil, logger,
	)
	engine.SetVault("vault-1")

	return &Harness{
		Engine:   engine,
		Monitor:  monitor,
		Remote:   fakeRemote,
		Vault:    vault,
		Log:      log,
		StateDir: stateDir,
	}
}

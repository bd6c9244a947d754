// Package client assembles the application: transport, auth, remote store,
// vault storage, pending log, engine, and watcher, all from one config.
package client

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/remote"
	"github.com/TheMichaelB/drivesync/internal/services/auth"
	"github.com/TheMichaelB/drivesync/internal/services/sync"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/storage"
	"github.com/TheMichaelB/drivesync/internal/synctag"
	"github.com/TheMichaelB/drivesync/internal/transport"
	"github.com/TheMichaelB/drivesync/internal/watcher"
)

// Client is the assembled application.
type Client struct {
	cfg    *config.Config
	logger *events.Logger

	Transport transport.Transport
	Auth      *auth.Service
	Remote    remote.Client
	Store     *storage.LocalStore
	Sync      *sync.Service

	log     *state.Log
	watcher *watcher.Watcher
}

// New builds a client from config.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	tr := transport.New(&cfg.API, logger)
	authSvc := auth.NewService(tr, &cfg.Auth, logger)
	remoteClient := remote.NewDriveClient(&cfg.API, tr, logger)

	store, err := storage.NewLocalStore(cfg.Vault.Dir, cfg.Sync.MaxFileSize, logger)
	if err != nil {
		return nil, err
	}

	var pendingStore state.Store
	switch cfg.State.Backend {
	case "sqlite":
		pendingStore, err = state.NewSQLiteStore(cfg.PendingLogPath(), logger)
	default:
		pendingStore, err = state.NewJSONStore(cfg.PendingLogPath(), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open pending log: %w", err)
	}

	pendingLog := state.NewLog(pendingStore, logger)
	sidecar := synctag.NewSidecar(cfg.SidecarPath(), logger)

	monitor := sync.NewMonitor(tr.Ping, cfg.Sync.ProbeInterval, logger)

	engine := sync.NewEngine(
		remoteClient, store, pendingLog, sidecar, monitor,
		cfg.Sync, cfg.ListingSnapshotPath(), ignorePrefixes(cfg, store.BaseDir()),
		logger,
	)
	engine.SetTokenSource(authSvc)

	service := sync.NewService(authSvc, remoteClient, store, pendingLog, sidecar, engine, cfg, logger)

	return &Client{
		cfg:       cfg,
		logger:    logger,
		Transport: tr,
		Auth:      authSvc,
		Remote:    remoteClient,
		Store:     store,
		Sync:      service,
		log:       pendingLog,
	}, nil
}

// Watch starts the vault watcher feeding the engine; it runs until ctx is
// cancelled.
func (c *Client) Watch(ctx context.Context) error {
	w, err := watcher.New(c.cfg.Vault.Dir, c.Sync.Engine(), c.logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	c.watcher = w
	return w.Run(ctx)
}

// Close releases resources.
func (c *Client) Close() error {
	var firstErr error
	if err := c.log.Close(); err != nil {
		firstErr = err
	}
	if err := c.Transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ignorePrefixes collects vault-relative prefixes the engine must never sync:
// the configured blacklist plus any engine-owned files living inside the
// vault.
func ignorePrefixes(cfg *config.Config, vaultDir string) []string {
	prefixes := append([]string(nil), cfg.Sync.PathBlacklist...)

	for _, p := range []string{cfg.State.Dir, cfg.Auth.TokenFile, cfg.Log.File} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(vaultDir, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		prefixes = append(prefixes, filepath.ToSlash(rel))
	}
	return prefixes
}

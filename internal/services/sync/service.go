package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/remote"
	"github.com/TheMichaelB/drivesync/internal/services/auth"
	"github.com/TheMichaelB/drivesync/internal/state"
	"github.com/TheMichaelB/drivesync/internal/storage"
	"github.com/TheMichaelB/drivesync/internal/synctag"
)

// Service wires the engine to the remote store: it resolves the vault folder,
// replays anything queued from a previous run, and exposes the one-shot
// push/pull operations the CLI uses.
type Service struct {
	auth    *auth.Service
	remote  remote.Client
	store   storage.VaultStore
	log     *state.Log
	sidecar *synctag.Sidecar
	engine  *Engine
	cfg     *config.Config
	logger  *events.Logger

	rootID  string
	vaultID string
}

// NewService creates the sync service around an already-constructed engine.
func NewService(
	authSvc *auth.Service,
	rc remote.Client,
	store storage.VaultStore,
	log *state.Log,
	sidecar *synctag.Sidecar,
	engine *Engine,
	cfg *config.Config,
	logger *events.Logger,
) *Service {
	return &Service{
		auth:    authSvc,
		remote:  rc,
		store:   store,
		log:     log,
		sidecar: sidecar,
		engine:  engine,
		cfg:     cfg,
		logger:  logger.WithField("service", "sync"),
	}
}

// Engine exposes the reconciliation engine for the watcher and CLI.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Bootstrap prepares a session: authenticate, resolve the remote vault
// folder, load persisted state, replay the offline queue, and run the first
// refresh. Returns models.ErrVaultNotFound when the vault was never
// provisioned.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.auth.EnsureToken(ctx); err != nil {
		return err
	}

	if err := s.resolveVault(ctx, false); err != nil {
		return err
	}

	if err := s.log.Load(); err != nil {
		return err
	}
	if err := s.sidecar.Load(); err != nil {
		return err
	}

	if err := s.engine.DrainPending(ctx); err != nil && !expectedErr(err) {
		return err
	}
	return nil
}

// Provision creates the remote vault folder and pushes the whole local vault
// into it. Used once, on a clean install.
func (s *Service) Provision(ctx context.Context) error {
	if err := s.auth.EnsureToken(ctx); err != nil {
		return err
	}

	if err := s.resolveVault(ctx, true); err != nil {
		return err
	}

	infos, err := s.store.ListAll()
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"vault": s.cfg.VaultName(),
		"files": len(infos),
	}).Info("Provisioning remote vault")

	for _, info := range infos {
		if err := s.engine.PushFile(ctx, info.Path); err != nil {
			if errors.Is(err, models.ErrHalted) || errors.Is(err, models.ErrOffline) {
				return err
			}
			s.logger.WithError(err).WithField("path", info.Path).Warn("Initial upload failed")
		}
	}
	return nil
}

// Refresh runs one reconciliation pass on demand.
func (s *Service) Refresh(ctx context.Context) error {
	return s.engine.RefreshAll(ctx)
}

// UploadCurrent pushes one file's current content immediately.
func (s *Service) UploadCurrent(ctx context.Context, path string) error {
	return s.engine.PushFile(ctx, path)
}

// DownloadCurrent replaces one local file with the remote copy.
func (s *Service) DownloadCurrent(ctx context.Context, path string) error {
	if s.engine.Halted() {
		return models.ErrHalted
	}
	if !s.engine.Online() {
		return models.ErrOffline
	}
	if err := s.engine.ensureToken(ctx); err != nil {
		return err
	}

	path = models.NormalizePath(path)
	rec, ok := s.engine.cloudRecord(path)
	if !ok {
		records, err := s.remote.List(ctx, s.vaultID)
		if err != nil {
			return s.engine.remoteFailure("download listing", err)
		}
		s.engine.replaceListing(records)
		rec, ok = s.engine.cloudRecord(path)
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrRemoteNotFound, path)
		}
	}

	s.engine.opMu.Lock()
	defer s.engine.opMu.Unlock()
	if err := s.engine.downloadRecord(ctx, rec); err != nil {
		if models.IsNetworkError(err) {
			return s.engine.remoteFailure("download "+path, err)
		}
		return err
	}
	return nil
}

// Run drives the engine until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}

// resolveVault locates (or with provision set, creates) the remote root and
// vault folders, then binds the engine to the vault id.
func (s *Service) resolveVault(ctx context.Context, provision bool) error {
	rootName := s.cfg.Vault.RemoteRoot
	rootID, err := s.remote.FindFolder(ctx, rootName, "")
	if err != nil {
		if !models.IsNotFound(err) {
			return fmt.Errorf("resolve remote root: %w", err)
		}
		if !provision {
			return fmt.Errorf("remote root %q: %w", rootName, models.ErrVaultNotFound)
		}
		rootID, err = s.remote.CreateFolder(ctx, rootName, "")
		if err != nil {
			return fmt.Errorf("create remote root: %w", err)
		}
	}
	s.rootID = rootID

	vaultName := s.cfg.VaultName()
	vaultID, err := s.remote.FindFolder(ctx, vaultName, rootID)
	if err != nil {
		if !models.IsNotFound(err) {
			return fmt.Errorf("resolve vault folder: %w", err)
		}
		if !provision {
			return fmt.Errorf("vault %q: %w", vaultName, models.ErrVaultNotFound)
		}
		vaultID, err = s.remote.CreateFolder(ctx, vaultName, rootID)
		if err != nil {
			return fmt.Errorf("create vault folder: %w", err)
		}
	}

	s.vaultID = vaultID
	s.engine.SetVault(vaultID)
	s.logger.WithFields(map[string]interface{}{
		"vault":    vaultName,
		"vault_id": vaultID,
	}).Debug("Resolved remote vault")
	return nil
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/transport"
)

// Refresh the bearer token this long before it actually expires.
const expiryMargin = 2 * time.Minute

const refreshAttempts = 3

// Service exchanges the long-lived refresh credential for short-lived bearer
// tokens and keeps the transport supplied with a fresh one.
type Service struct {
	transport    transport.Transport
	tokenURL     string
	refreshToken string
	tokenFile    string
	logger       *events.Logger

	token *models.TokenInfo
}

// NewService creates an auth service.
func NewService(tr transport.Transport, cfg *config.AuthConfig, logger *events.Logger) *Service {
	return &Service{
		transport:    tr,
		tokenURL:     cfg.TokenURL,
		refreshToken: cfg.RefreshToken,
		tokenFile:    cfg.TokenFile,
		logger:       logger.WithField("service", "auth"),
	}
}

// SetRefreshToken replaces the stored refresh credential.
func (s *Service) SetRefreshToken(token string) {
	s.refreshToken = token
}

// HasCredential reports whether a refresh credential is configured.
func (s *Service) HasCredential() bool {
	return s.refreshToken != ""
}

// Token returns the cached bearer token, loading it from disk if needed.
func (s *Service) Token() (*models.TokenInfo, error) {
	if s.token != nil && !s.token.IsExpired() {
		return s.token, nil
	}
	if err := s.loadToken(); err == nil && s.token != nil && !s.token.IsExpired() {
		s.transport.SetToken(s.token.AccessToken)
		return s.token, nil
	}
	return nil, models.ErrNotAuthenticated
}

// EnsureToken guarantees the transport carries a token that will not expire
// imminently, refreshing when needed.
func (s *Service) EnsureToken(ctx context.Context) error {
	if token, err := s.Token(); err == nil && !token.ExpiresWithin(expiryMargin) {
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh exchanges the refresh credential for a new bearer token. Transient
// network failures are retried with backoff; a missing credential is a
// distinct, non-retryable outcome.
func (s *Service) Refresh(ctx context.Context) error {
	if s.refreshToken == "" {
		return models.ErrNoCredential
	}

	s.logger.Debug("Refreshing bearer token")

	req := map[string]string{
		"refresh_token": s.refreshToken,
		"grant_type":    "refresh_token",
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	var lastErr error
	delay := time.Second
	for attempt := 0; attempt < refreshAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.transport.PostJSON(ctx, s.tokenURL, req, &resp)
		if err == nil {
			break
		}
		lastErr = err

		if !models.IsNetworkError(err) {
			return &models.TokenError{Reason: "credential rejected", Err: err}
		}
		s.logger.WithError(err).Debug("Token endpoint unreachable, retrying")
	}

	if resp.AccessToken == "" {
		if lastErr != nil {
			return &models.TokenError{Reason: "network unreachable", Err: lastErr}
		}
		return &models.TokenError{Reason: "empty token response", Err: models.ErrNotAuthenticated}
	}

	expiry := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresIn == 0 {
		expiry = time.Now().Add(time.Hour)
	}

	s.token = &models.TokenInfo{
		AccessToken: resp.AccessToken,
		ExpiresAt:   expiry,
	}
	s.transport.SetToken(resp.AccessToken)

	if err := s.saveToken(); err != nil {
		s.logger.WithError(err).Warn("Failed to cache token")
	}

	s.logger.WithField("expires_at", expiry.Format(time.RFC3339)).Info("Token refreshed")
	return nil
}

func (s *Service) saveToken() error {
	if s.tokenFile == "" || s.token == nil {
		return nil
	}
	data, err := json.Marshal(s.token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return os.WriteFile(s.tokenFile, data, 0600)
}

func (s *Service) loadToken() error {
	if s.tokenFile == "" {
		return fmt.Errorf("no token file configured")
	}
	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var token models.TokenInfo
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	s.token = &token
	return nil
}

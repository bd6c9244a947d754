package auth_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/services/auth"
	"github.com/TheMichaelB/drivesync/internal/transport"
)

const tokenURL = "https://token.example/token"

func newAuthService(t *testing.T, refreshToken string) (*auth.Service, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)
	svc := auth.NewService(mock, &config.AuthConfig{
		TokenURL:     tokenURL,
		RefreshToken: refreshToken,
		TokenFile:    filepath.Join(t.TempDir(), "token.json"),
	}, logger)
	return svc, mock
}

func TestRefreshWithoutCredential(t *testing.T) {
	svc, _ := newAuthService(t, "")
	err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, models.ErrNoCredential)
}

func TestRefreshSuccessSetsTransportToken(t *testing.T) {
	svc, mock := newAuthService(t, "refresh-cred")
	mock.Respond("POST "+tokenURL, map[string]interface{}{
		"access_token": "bearer-xyz",
		"expires_in":   3600,
	})

	require.NoError(t, svc.Refresh(context.Background()))

	assert.Equal(t, "bearer-xyz", mock.GetToken())

	token, err := svc.Token()
	require.NoError(t, err)
	assert.Equal(t, "bearer-xyz", token.AccessToken)
	assert.False(t, token.IsExpired())
}

func TestRefreshCredentialRejected(t *testing.T) {
	svc, mock := newAuthService(t, "bad-cred")
	mock.Fail("POST "+tokenURL, &models.RemoteOperationError{
		Op: "POST", StatusCode: 400, Err: errors.New("invalid_grant"),
	})

	err := svc.Refresh(context.Background())
	require.Error(t, err)

	var tokenErr *models.TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "credential rejected", tokenErr.Reason)

	// Rejection is final; no retries.
	assert.Len(t, mock.Calls(), 1)
}

func TestRefreshNetworkFailureRetries(t *testing.T) {
	svc, mock := newAuthService(t, "cred")
	mock.Fail("POST "+tokenURL, &url.Error{Op: "Post", URL: tokenURL, Err: errors.New("refused")})

	err := svc.Refresh(context.Background())
	require.Error(t, err)

	var tokenErr *models.TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "network unreachable", tokenErr.Reason)
	assert.Len(t, mock.Calls(), 3, "network failures retried with backoff")
}

func TestEnsureTokenSkipsRefreshWhenFresh(t *testing.T) {
	svc, mock := newAuthService(t, "cred")
	mock.Respond("POST "+tokenURL, map[string]interface{}{
		"access_token": "bearer-1",
		"expires_in":   3600,
	})

	require.NoError(t, svc.EnsureToken(context.Background()))
	require.NoError(t, svc.EnsureToken(context.Background()))

	assert.Len(t, mock.Calls(), 1, "fresh token is not refreshed again")
}

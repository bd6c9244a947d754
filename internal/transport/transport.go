package transport

import (
	"context"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
)

// Transport is the HTTP layer beneath the remote store client. All methods
// take fully-formed URLs; the remote client owns endpoint construction.
type Transport interface {
	// JSON request helpers. out may be nil when the response body is
	// irrelevant.
	GetJSON(ctx context.Context, url string, out interface{}) error
	PostJSON(ctx context.Context, url string, body, out interface{}) error
	PatchJSON(ctx context.Context, url string, body, out interface{}) error

	// Raw content transfer.
	UploadBytes(ctx context.Context, url string, data []byte) error
	DownloadBytes(ctx context.Context, url string) ([]byte, error)

	// Delete issues a DELETE and returns the HTTP status code alongside
	// any error, so callers can treat 404 as "already absent".
	Delete(ctx context.Context, url string) (int, error)

	// Authentication
	SetToken(token string)
	GetToken() string

	// Ping checks plain network reachability of the API host. Any HTTP
	// response, including an error status, counts as reachable.
	Ping(ctx context.Context) error

	Close() error
}

// New creates the default HTTP transport.
func New(cfg *config.APIConfig, logger *events.Logger) Transport {
	return NewHTTPClient(cfg, logger)
}

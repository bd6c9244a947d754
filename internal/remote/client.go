// Package remote wraps the cloud storage API behind a small typed client.
// The API offers no change feed, no batch operations and no concurrency
// tokens; everything above this package is built around that absence.
package remote

import (
	"context"

	"github.com/TheMichaelB/drivesync/internal/models"
)

// Client is the remote store surface the sync engine consumes.
type Client interface {
	// List returns every object under parentID, following continuation
	// tokens until the listing is exhausted.
	List(ctx context.Context, parentID string) ([]models.RemoteFileRecord, error)

	// CreateFolder creates a folder and returns its id.
	CreateFolder(ctx context.Context, name, parentID string) (string, error)

	// Create creates a file, uploads data when non-nil, and returns the
	// assigned id.
	Create(ctx context.Context, name, parentID string, data []byte) (string, error)

	// ReplaceContent overwrites the object's content.
	ReplaceContent(ctx context.Context, id string, data []byte) error

	// Rename patches the object's name, returning its id.
	Rename(ctx context.Context, id, newName string) (string, error)

	// Delete removes an object. A missing object is not an error; it
	// reports existed=false.
	Delete(ctx context.Context, id string) (existed bool, err error)

	// GetContent fetches an object's name and bytes.
	GetContent(ctx context.Context, id string) (name string, data []byte, err error)

	// GetMetadata fetches an object's listing record.
	GetMetadata(ctx context.Context, id string) (models.RemoteFileRecord, error)

	// FindFolder locates a folder by name under parentID (empty parentID
	// searches everywhere). Returns models.ErrRemoteNotFound when absent.
	FindFolder(ctx context.Context, name, parentID string) (string, error)
}

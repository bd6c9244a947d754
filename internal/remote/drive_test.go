package remote_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/remote"
	"github.com/TheMichaelB/drivesync/internal/transport"
)

func newDriveClient(t *testing.T) (*remote.DriveClient, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)
	client := remote.NewDriveClient(&config.APIConfig{
		BaseURL:       "https://api.example/drive/v3",
		UploadBaseURL: "https://api.example/upload/drive/v3",
	}, mock, logger)
	return client, mock
}

func TestListParsesRecords(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Respond("GET https://api.example/drive/v3/files?", map[string]interface{}{
		"files": []map[string]string{
			{"id": "g-1", "name": "a.md", "modifiedTime": "2026-08-29T10:00:00Z", "mimeType": "text/markdown"},
			{"id": "g-2", "name": "folder", "modifiedTime": "2026-08-29T09:00:00Z", "mimeType": models.MimeFolder},
		},
	})

	records, err := client.List(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "g-1", records[0].ID)
	assert.Equal(t, "a.md", records[0].Name)
	assert.False(t, records[0].ModifiedTime.IsZero())
	assert.False(t, records[0].IsFolder())
	assert.True(t, records[1].IsFolder())

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "pageSize=1000")
	assert.Contains(t, calls[0], "trashed+%3D+false")
}

func TestDeleteMissingObjectIsNotAnError(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Fail("DELETE https://api.example/drive/v3/files/g-9", &models.RemoteOperationError{
		Op: "DELETE", StatusCode: 404, Err: models.ErrRemoteNotFound,
	})

	existed, err := client.Delete(context.Background(), "g-9")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDeleteExistingObject(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.RespondRaw("DELETE https://api.example/drive/v3/files/g-1", nil)

	existed, err := client.Delete(context.Background(), "g-1")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestFindFolderNotFound(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Respond("GET https://api.example/drive/v3/files?", map[string]interface{}{
		"files": []map[string]string{},
	})

	_, err := client.FindFolder(context.Background(), "obsidian", "")
	assert.ErrorIs(t, err, models.ErrRemoteNotFound)
}

func TestCreateUploadsContentAfterMetadata(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Respond("POST https://api.example/drive/v3/files", map[string]string{"id": "g-5"})
	mock.RespondRaw("UPLOAD https://api.example/upload/drive/v3/files/g-5", nil)

	id, err := client.Create(context.Background(), "note.md", "parent-1", []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, "g-5", id)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "POST "))
	assert.True(t, strings.HasPrefix(calls[1], "UPLOAD "))
	assert.Contains(t, calls[1], "uploadType=media")
}

func TestGetContentFetchesMetadataThenBytes(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Respond("GET https://api.example/drive/v3/files/g-1?fields=", map[string]string{
		"id": "g-1", "name": "note.md", "modifiedTime": "2026-08-29T10:00:00Z",
	})
	mock.RespondRaw("GET https://api.example/drive/v3/files/g-1?alt=media", []byte("file body"))

	name, data, err := client.GetContent(context.Background(), "g-1")
	require.NoError(t, err)
	assert.Equal(t, "note.md", name)
	assert.Equal(t, []byte("file body"), data)
}

func TestListPropagatesTransportErrors(t *testing.T) {
	client, mock := newDriveClient(t)
	mock.Fail("GET https://api.example/drive/v3/files?", errors.New("boom"))

	_, err := client.List(context.Background(), "parent-1")
	assert.Error(t, err)
}

package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
	"github.com/TheMichaelB/drivesync/internal/transport"
)

const listPageSize = 1000

// DriveClient implements Client against a Drive-v3-shaped API.
type DriveClient struct {
	transport transport.Transport
	baseURL   string
	uploadURL string
	logger    *events.Logger
}

// NewDriveClient creates a remote store client.
func NewDriveClient(cfg *config.APIConfig, tr transport.Transport, logger *events.Logger) *DriveClient {
	return &DriveClient{
		transport: tr,
		baseURL:   cfg.BaseURL,
		uploadURL: cfg.UploadBaseURL,
		logger:    logger.WithField("component", "remote_client"),
	}
}

// Wire types. modifiedTime arrives as RFC 3339 text.

type fileResource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime"`
	MimeType     string `json:"mimeType"`
}

type fileList struct {
	NextPageToken string         `json:"nextPageToken"`
	Files         []fileResource `json:"files"`
}

func (r fileResource) toRecord() models.RemoteFileRecord {
	mod, _ := time.Parse(time.RFC3339, r.ModifiedTime)
	return models.RemoteFileRecord{
		ID:           r.ID,
		Name:         r.Name,
		ModifiedTime: mod,
		MimeType:     r.MimeType,
	}
}

// List fetches the full listing under parentID, following page tokens.
func (c *DriveClient) List(ctx context.Context, parentID string) ([]models.RemoteFileRecord, error) {
	var records []models.RemoteFileRecord
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", parentID))
		q.Set("fields", "nextPageToken,files(id,name,modifiedTime,mimeType)")
		q.Set("pageSize", fmt.Sprint(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page fileList
		if err := c.transport.GetJSON(ctx, c.baseURL+"/files?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}

		for _, f := range page.Files {
			records = append(records, f.toRecord())
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.WithFields(map[string]interface{}{
		"parent": parentID,
		"count":  len(records),
	}).Debug("Listed remote files")

	return records, nil
}

// CreateFolder creates a folder and returns its id.
func (c *DriveClient) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	return c.createObject(ctx, name, parentID, models.MimeFolder, nil)
}

// Create creates a file and uploads its content.
func (c *DriveClient) Create(ctx context.Context, name, parentID string, data []byte) (string, error) {
	return c.createObject(ctx, name, parentID, "", data)
}

func (c *DriveClient) createObject(ctx context.Context, name, parentID, mimeType string, data []byte) (string, error) {
	meta := map[string]interface{}{"name": name}
	if mimeType != "" {
		meta["mimeType"] = mimeType
	}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}

	var created fileResource
	if err := c.transport.PostJSON(ctx, c.baseURL+"/files", meta, &created); err != nil {
		return "", fmt.Errorf("create %q: %w", name, err)
	}

	if data != nil {
		if err := c.ReplaceContent(ctx, created.ID, data); err != nil {
			return "", err
		}
	}

	return created.ID, nil
}

// ReplaceContent overwrites the object's bytes.
func (c *DriveClient) ReplaceContent(ctx context.Context, id string, data []byte) error {
	u := fmt.Sprintf("%s/files/%s?uploadType=media", c.uploadURL, url.PathEscape(id))
	if err := c.transport.UploadBytes(ctx, u, data); err != nil {
		return fmt.Errorf("replace content of %s: %w", id, err)
	}
	return nil
}

// Rename patches the object's name.
func (c *DriveClient) Rename(ctx context.Context, id, newName string) (string, error) {
	var updated fileResource
	u := fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(id))
	if err := c.transport.PatchJSON(ctx, u, map[string]string{"name": newName}, &updated); err != nil {
		return "", fmt.Errorf("rename %s: %w", id, err)
	}
	return updated.ID, nil
}

// Delete removes the object. Missing objects report existed=false, nil.
func (c *DriveClient) Delete(ctx context.Context, id string) (bool, error) {
	u := fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(id))
	_, err := c.transport.Delete(ctx, u)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return true, nil
}

// GetContent fetches the object's name and bytes.
func (c *DriveClient) GetContent(ctx context.Context, id string) (string, []byte, error) {
	meta, err := c.GetMetadata(ctx, id)
	if err != nil {
		return "", nil, err
	}

	u := fmt.Sprintf("%s/files/%s?alt=media", c.baseURL, url.PathEscape(id))
	data, err := c.transport.DownloadBytes(ctx, u)
	if err != nil {
		return "", nil, fmt.Errorf("download %s: %w", id, err)
	}

	return meta.Name, data, nil
}

// GetMetadata fetches the object's listing record.
func (c *DriveClient) GetMetadata(ctx context.Context, id string) (models.RemoteFileRecord, error) {
	u := fmt.Sprintf("%s/files/%s?fields=id,name,modifiedTime,mimeType", c.baseURL, url.PathEscape(id))

	var res fileResource
	if err := c.transport.GetJSON(ctx, u, &res); err != nil {
		return models.RemoteFileRecord{}, fmt.Errorf("get metadata of %s: %w", id, err)
	}
	return res.toRecord(), nil
}

// FindFolder locates a folder by name.
func (c *DriveClient) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false",
		models.MimeFolder, name)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("fields", "files(id,name)")

	var page fileList
	if err := c.transport.GetJSON(ctx, c.baseURL+"/files?"+q.Encode(), &page); err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}

	if len(page.Files) == 0 {
		return "", fmt.Errorf("find folder %q: %w", name, models.ErrRemoteNotFound)
	}
	return page.Files[0].ID, nil
}

package models

import (
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MimeFolder marks folder records in the remote listing.
const MimeFolder = "application/vnd.google-apps.folder"

// RemoteFileRecord is one entry of the remote listing. Name holds the full
// vault-relative path; it is the join key against local paths.
type RemoteFileRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	MimeType     string    `json:"mimeType"`
}

// IsFolder reports whether the record is a folder rather than a file.
func (r RemoteFileRecord) IsFolder() bool {
	return r.MimeType == MimeFolder
}

// TokenInfo is a cached bearer token with its expiry.
type TokenInfo struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the token has passed its expiry.
func (t *TokenInfo) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// ExpiresWithin reports whether the token expires within d.
func (t *TokenInfo) ExpiresWithin(d time.Duration) bool {
	return t.ExpiresAt.IsZero() || time.Until(t.ExpiresAt) < d
}

// NormalizePath canonicalizes a vault-relative path: forward slashes, no
// leading slash, NFC form. Local and remote names must agree byte-for-byte
// for the listing diff to work, and macOS hands out NFD paths.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(filepath.Clean(path), "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return norm.NFC.String(p)
}

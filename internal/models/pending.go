package models

import (
	"fmt"
	"strings"
	"time"
)

// PendingAction identifies the remote mutation a queued item stands for.
type PendingAction string

const (
	ActionUpload PendingAction = "UPLOAD"
	ActionModify PendingAction = "MODIFY"
	ActionRename PendingAction = "RENAME"
	ActionDelete PendingAction = "DELETE"
)

// SurrogatePrefix marks locally generated ids for files that have no remote
// id yet (created while offline).
const SurrogatePrefix = "tmp-"

// PendingSyncItem is one durable intent to mutate the remote store, recorded
// because connectivity was unavailable when the local event happened.
type PendingSyncItem struct {
	Action PendingAction `json:"action"`
	FileID string        `json:"fileID"`

	// TimeStamp is the wall-clock time of the local event. Replay compares
	// it against the remote modifiedTime to decide who wins.
	TimeStamp time.Time `json:"timeStamp"`

	// NewFileName is the local path at enqueue time. Required for UPLOAD.
	NewFileName string `json:"newFileName,omitempty"`

	IsBinaryFile bool `json:"isBinaryFile,omitempty"`
}

// IsSurrogate reports whether the item still references a locally generated
// id instead of a real remote one.
func (i PendingSyncItem) IsSurrogate() bool {
	return strings.HasPrefix(i.FileID, SurrogatePrefix)
}

// Validate checks the per-action required fields.
func (i PendingSyncItem) Validate() error {
	switch i.Action {
	case ActionUpload:
		if i.NewFileName == "" {
			return fmt.Errorf("%w: upload item missing file name", ErrInvalidConfig)
		}
	case ActionModify, ActionRename, ActionDelete:
	default:
		return fmt.Errorf("%w: unknown pending action %q", ErrInvalidConfig, i.Action)
	}
	if i.FileID == "" {
		return fmt.Errorf("%w: pending item missing file id", ErrInvalidConfig)
	}
	if i.TimeStamp.IsZero() {
		return fmt.Errorf("%w: pending item missing timestamp", ErrInvalidConfig)
	}
	return nil
}

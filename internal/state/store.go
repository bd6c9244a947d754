// Package state owns the durable pending-operation log: the only record of
// offline intent that survives a restart. Every in-memory view is a cache
// rebuilt from here.
package state

import (
	"errors"

	"github.com/TheMichaelB/drivesync/internal/models"
)

// Store persists the pending queue and its surrogate maps.
type Store interface {
	// Load reads the persisted state. A missing file yields an empty
	// state, not an error.
	Load() (*PendingState, error)

	// Save persists the full state.
	Save(state *PendingState) error

	// Reset removes all persisted state.
	Reset() error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateCorrupt = errors.New("pending log file is corrupt")
)

// PendingState is the serialized form of the pending-operation log.
type PendingState struct {
	// Items are replayed strictly in order.
	Items []models.PendingSyncItem `json:"pendingSyncItems"`

	// FinalNames maps a file id (surrogate or real) to the file's current
	// local path, so several offline operations against the same file
	// resolve to one identity.
	FinalNames map[string]string `json:"finalNamesForFileID"`

	// ResolvedIDs maps surrogate ids to remote ids assigned during
	// replay. Persisted before the finished item is popped, so a crashed
	// replay never uploads the same file twice.
	ResolvedIDs map[string]string `json:"resolvedFileIDs,omitempty"`
}

// NewPendingState returns an empty state.
func NewPendingState() *PendingState {
	return &PendingState{
		FinalNames:  make(map[string]string),
		ResolvedIDs: make(map[string]string),
	}
}

func (s *PendingState) normalize() {
	if s.FinalNames == nil {
		s.FinalNames = make(map[string]string)
	}
	if s.ResolvedIDs == nil {
		s.ResolvedIDs = make(map[string]string)
	}
}

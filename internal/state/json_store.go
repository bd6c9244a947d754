package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/drivesync/internal/events"
)

// JSONStore persists the pending log as a single JSON file with atomic
// replace-on-write. This is the default backend.
type JSONStore struct {
	path   string
	logger *events.Logger
}

// NewJSONStore creates a JSON-file pending-log store.
func NewJSONStore(path string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &JSONStore{
		path:   path,
		logger: logger.WithField("component", "json_pending_store"),
	}, nil
}

// Load reads the persisted pending state; a missing file is an empty log.
func (s *JSONStore) Load() (*PendingState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPendingState(), nil
		}
		return nil, fmt.Errorf("read pending log: %w", err)
	}

	var state PendingState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt queue must not take the whole engine down; the
		// backup from the previous persist is the fallback.
		if backup, berr := s.loadBackup(); berr == nil {
			s.logger.Warn("Pending log corrupt, loaded backup")
			return backup, nil
		}
		return nil, ErrStateCorrupt
	}

	state.normalize()
	return &state, nil
}

// Save writes the state atomically: temp file, fsync, rename.
func (s *JSONStore) Save(state *PendingState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending log: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to back up pending log")
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp pending log: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace pending log: %w", err)
	}

	return nil
}

// Reset removes the persisted log and its backup.
func (s *JSONStore) Reset() error {
	_ = os.Remove(s.path)
	_ = os.Remove(s.path + ".backup")
	return nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) loadBackup() (*PendingState, error) {
	data, err := os.ReadFile(s.path + ".backup")
	if err != nil {
		return nil, err
	}
	var state PendingState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	state.normalize()
	return &state, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

package synctag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// Sidecar tracks last push times for files that cannot carry an inline tag.
// It persists as a JSON map of vault-relative path to RFC 3339 time.
type Sidecar struct {
	path   string
	logger *events.Logger

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewSidecar creates a sidecar index persisted at path.
func NewSidecar(path string, logger *events.Logger) *Sidecar {
	return &Sidecar{
		path:    path,
		logger:  logger.WithField("component", "sidecar"),
		entries: make(map[string]time.Time),
	}
}

// Load reads the persisted index; a missing file is an empty index.
func (s *Sidecar) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read sidecar index: %w", err)
	}

	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		// A corrupt sidecar only costs deletion protection for binary
		// files; start over rather than failing the whole engine.
		s.logger.WithError(err).Warn("Sidecar index corrupt, starting empty")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]time.Time, len(raw))
	for p, v := range raw {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			s.entries[models.NormalizePath(p)] = t
		}
	}
	return nil
}

// Set records t as the file's last push time and persists.
func (s *Sidecar) Set(path string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[models.NormalizePath(path)] = t.UTC().Truncate(time.Second)
	return s.persistLocked()
}

// Get returns the recorded push time for the file.
func (s *Sidecar) Get(path string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[models.NormalizePath(path)]
	return t, ok
}

// Tracked reports whether the file has a recorded push time.
func (s *Sidecar) Tracked(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Remove drops the file's record and persists.
func (s *Sidecar) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := models.NormalizePath(path)
	if _, ok := s.entries[norm]; !ok {
		return nil
	}
	delete(s.entries, norm)
	return s.persistLocked()
}

// Rename moves the record to the file's new path.
func (s *Sidecar) Rename(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := models.NormalizePath(oldPath)
	t, ok := s.entries[from]
	if !ok {
		return nil
	}
	delete(s.entries, from)
	s.entries[models.NormalizePath(newPath)] = t
	return s.persistLocked()
}

func (s *Sidecar) persistLocked() error {
	raw := make(map[string]string, len(s.entries))
	for p, t := range s.entries {
		raw[p] = t.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create sidecar directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sidecar temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace sidecar index: %w", err)
	}
	return nil
}

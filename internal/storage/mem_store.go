package storage

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/models"
)

// MemStore is an in-memory VaultStore for tests.
type MemStore struct {
	mu    sync.Mutex
	files map[string]*memFile

	// Clock supplies mtimes for writes; defaults to time.Now.
	Clock func() time.Time
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMemStore creates an empty in-memory vault.
func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string]*memFile),
		Clock: time.Now,
	}
}

// Read returns the file's content.
func (s *MemStore) Read(p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[models.NormalizePath(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: file does not exist", p)
	}
	return append([]byte(nil), f.data...), nil
}

// Write stores content.
func (s *MemStore) Write(p string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[models.NormalizePath(p)] = &memFile{
		data:    append([]byte(nil), data...),
		modTime: s.Clock(),
	}
	return nil
}

// Delete removes the file; missing files are not an error.
func (s *MemStore) Delete(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, models.NormalizePath(p))
	return nil
}

// Move renames a file.
func (s *MemStore) Move(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := models.NormalizePath(oldPath)
	f, ok := s.files[from]
	if !ok {
		return fmt.Errorf("move %s: file does not exist", oldPath)
	}
	delete(s.files, from)
	s.files[models.NormalizePath(newPath)] = f
	return nil
}

// Exists reports whether the file is present.
func (s *MemStore) Exists(p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[models.NormalizePath(p)]
	return ok, nil
}

// Stat returns the file's metadata.
func (s *MemStore) Stat(p string) (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := models.NormalizePath(p)
	f, ok := s.files[norm]
	if !ok {
		return FileInfo{}, fmt.Errorf("stat %s: file does not exist", p)
	}
	return FileInfo{Path: norm, Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

// EnsureDir is a no-op; the in-memory vault has no directories.
func (s *MemStore) EnsureDir(string) error {
	return nil
}

// ListAll returns every file, sorted by path, hidden directories excluded.
func (s *MemStore) ListAll() ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []FileInfo
	for p, f := range s.files {
		if hiddenDir(p) {
			continue
		}
		files = append(files, FileInfo{Path: p, Size: int64(len(f.data)), ModTime: f.modTime})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// SetModTime adjusts the file's modification time.
func (s *MemStore) SetModTime(p string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[models.NormalizePath(p)]
	if !ok {
		return fmt.Errorf("set mtime of %s: file does not exist", p)
	}
	f.modTime = t
	return nil
}

func hiddenDir(p string) bool {
	dir := path.Dir(p)
	for dir != "." && dir != "/" {
		if strings.HasPrefix(path.Base(dir), ".") {
			return true
		}
		dir = path.Dir(dir)
	}
	return false
}

package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// LocalStore is the production VaultStore over a real directory.
type LocalStore struct {
	baseDir     string
	maxFileSize int64
	logger      *events.Logger
}

// NewLocalStore creates a store rooted at baseDir.
func NewLocalStore(baseDir string, maxFileSize int64, logger *events.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault directory: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrVaultNotFound, abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", models.ErrVaultNotFound, abs)
	}

	return &LocalStore{
		baseDir:     abs,
		maxFileSize: maxFileSize,
		logger:      logger.WithField("component", "vault_store"),
	}, nil
}

// BaseDir returns the absolute vault root.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// Read returns the file's content.
func (s *LocalStore) Read(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return nil, fmt.Errorf("file %s exceeds size limit (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Write stores content atomically via temp file and rename.
func (s *LocalStore) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".drivesync-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Delete removes the file and prunes empty parents up to the vault root.
func (s *LocalStore) Delete(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}

	s.pruneEmptyDirs(filepath.Dir(full))
	return nil
}

// Move renames the file, creating destination parents.
func (s *LocalStore) Move(oldPath, newPath string) error {
	oldFull, err := s.resolve(oldPath)
	if err != nil {
		return err
	}
	newFull, err := s.resolve(newPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", newPath, err)
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldPath, newPath, err)
	}

	s.pruneEmptyDirs(filepath.Dir(oldFull))
	return nil
}

// Exists reports whether the path names a regular file.
func (s *LocalStore) Exists(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// Stat returns the file's metadata.
func (s *LocalStore) Stat(path string) (FileInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return FileInfo{
		Path:    models.NormalizePath(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// EnsureDir creates the directory and its parents.
func (s *LocalStore) EnsureDir(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// ListAll walks the vault, skipping hidden directories.
func (s *LocalStore) ListAll() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(s.baseDir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if full != s.baseDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".drivesync-") {
			// Leftover temp from an interrupted atomic write.
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, full)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    models.NormalizePath(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault files: %w", err)
	}
	return files, nil
}

// SetModTime adjusts the file's modification time.
func (s *LocalStore) SetModTime(path string, t time.Time) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Chtimes(full, t, t); err != nil {
		return fmt.Errorf("set mtime of %s: %w", path, err)
	}
	return nil
}

// resolve maps a vault-relative path to an absolute one, rejecting anything
// that would escape the vault.
func (s *LocalStore) resolve(path string) (string, error) {
	clean := models.NormalizePath(path)
	if clean == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(clean, "\x00") {
		return "", fmt.Errorf("invalid path %q", path)
	}

	full := filepath.Join(s.baseDir, filepath.FromSlash(clean))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes vault", path)
	}
	return full, nil
}

// pruneEmptyDirs removes empty directories upward, stopping at the vault root.
func (s *LocalStore) pruneEmptyDirs(dir string) {
	for dir != s.baseDir && strings.HasPrefix(dir, s.baseDir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

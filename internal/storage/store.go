// Package storage provides access to the local vault directory. All paths are
// vault-relative, forward-slashed, and NFC-normalized.
package storage

import "time"

// FileInfo describes one vault file.
type FileInfo struct {
	// Path is vault-relative and normalized.
	Path    string
	Size    int64
	ModTime time.Time
}

// VaultStore abstracts the vault filesystem so the engine can run against a
// real directory or an in-memory fake.
type VaultStore interface {
	// Read returns the file's content.
	Read(path string) ([]byte, error)

	// Write stores content atomically, creating parent directories.
	Write(path string, data []byte) error

	// Delete removes the file. Missing files are not an error. Parent
	// directories left empty are pruned.
	Delete(path string) error

	// Move renames a file, creating the destination's parents.
	Move(oldPath, newPath string) error

	// Exists reports whether the path names a regular file.
	Exists(path string) (bool, error)

	// Stat returns the file's metadata.
	Stat(path string) (FileInfo, error)

	// EnsureDir creates the directory and its parents.
	EnsureDir(path string) error

	// ListAll walks the vault and returns every regular file. Hidden
	// directories (dot-prefixed) are skipped.
	ListAll() ([]FileInfo, error)

	// SetModTime adjusts the file's modification time.
	SetModTime(path string, t time.Time) error
}

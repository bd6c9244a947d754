package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `mapstructure:"api" json:"api"`

	// Authentication configuration
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Vault location
	Vault VaultConfig `mapstructure:"vault" json:"vault"`

	// Engine-owned local state
	State StateConfig `mapstructure:"state" json:"state"`

	// Sync behavior
	Sync SyncConfig `mapstructure:"sync" json:"sync"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// APIConfig for the remote store endpoints.
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url" json:"base_url"`
	UploadBaseURL string        `mapstructure:"upload_base_url" json:"upload_base_url"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`
	UserAgent     string        `mapstructure:"user_agent" json:"user_agent"`
}

// AuthConfig for token refresh.
type AuthConfig struct {
	// TokenURL exchanges the refresh token for a short-lived bearer token.
	TokenURL string `mapstructure:"token_url" json:"token_url"`

	// RefreshToken is the long-lived credential obtained at login.
	RefreshToken string `mapstructure:"refresh_token" json:"refresh_token,omitempty"`

	// TokenFile caches the bearer token between runs.
	TokenFile string `mapstructure:"token_file" json:"token_file"`
}

// VaultConfig locates the vault locally and remotely.
type VaultConfig struct {
	// Dir is the local vault root.
	Dir string `mapstructure:"dir" json:"dir"`

	// Name is the vault folder name in the remote store. Defaults to the
	// base name of Dir.
	Name string `mapstructure:"name" json:"name"`

	// RemoteRoot is the top-level remote folder holding all vaults.
	RemoteRoot string `mapstructure:"remote_root" json:"remote_root"`
}

// StateConfig for engine-owned persisted state.
type StateConfig struct {
	Dir string `mapstructure:"dir" json:"dir"`

	// Backend selects the pending-log store: "json" or "sqlite".
	Backend string `mapstructure:"backend" json:"backend"`
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	// RefreshInterval between full reconciliation passes.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" json:"refresh_interval"`

	// ConflictMargin absorbs clock skew between the embedded sync tag and
	// the remote modification timestamp. Applies uniformly to staleness
	// checks; raise it if tag writes and remote clocks drift further apart.
	ConflictMargin time.Duration `mapstructure:"conflict_margin" json:"conflict_margin"`

	// DebounceWindow coalesces bursty local edits into one upload.
	DebounceWindow time.Duration `mapstructure:"debounce_window" json:"debounce_window"`

	// ProbeInterval between connectivity probes while offline.
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval"`

	// BinaryAutoRefresh re-downloads stale attachments on open.
	BinaryAutoRefresh bool `mapstructure:"binary_auto_refresh" json:"binary_auto_refresh"`

	// PathBlacklist lists vault-relative prefixes that are never synced.
	PathBlacklist []string `mapstructure:"path_blacklist" json:"path_blacklist"`

	// MaxFileSize caps uploaded and downloaded files, in bytes.
	MaxFileSize int64 `mapstructure:"max_file_size" json:"max_file_size"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	File       string `mapstructure:"file" json:"file"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`

	// ErrorLog appends unexpected errors to errors.log in the state dir.
	ErrorLog bool `mapstructure:"error_log" json:"error_log"`

	// Verbose mirrors debug output to trace.log in the state dir.
	Verbose bool `mapstructure:"verbose" json:"verbose"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".drivesync"

	return &Config{
		API: APIConfig{
			BaseURL:       "https://www.googleapis.com/drive/v3",
			UploadBaseURL: "https://www.googleapis.com/upload/drive/v3",
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			UserAgent:     "drivesync/1.0",
		},
		Auth: AuthConfig{
			TokenURL:  "https://oauth2.googleapis.com/token",
			TokenFile: filepath.Join(dataDir, "token.json"),
		},
		Vault: VaultConfig{
			Dir:        ".",
			RemoteRoot: "obsidian",
		},
		State: StateConfig{
			Dir:     dataDir,
			Backend: "json",
		},
		Sync: SyncConfig{
			RefreshInterval:   5 * time.Second,
			ConflictMargin:    5 * time.Second,
			DebounceWindow:    2400 * time.Millisecond,
			ProbeInterval:     5 * time.Second,
			BinaryAutoRefresh: false,
			PathBlacklist:     []string{".obsidian/workspace"},
			MaxFileSize:       100 * 1024 * 1024,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.Auth.TokenURL == "" {
		return errors.New("auth.token_url is required")
	}
	if c.Vault.Dir == "" {
		return errors.New("vault.dir is required")
	}
	if c.Sync.RefreshInterval <= 0 {
		return errors.New("sync.refresh_interval must be positive")
	}
	if c.Sync.ConflictMargin < 0 {
		return errors.New("sync.conflict_margin cannot be negative")
	}
	if c.Sync.MaxFileSize <= 0 {
		return errors.New("sync.max_file_size must be positive")
	}

	switch c.State.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid state backend: %s", c.State.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true, "": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// VaultName returns the configured vault name, defaulting to the local
// directory's base name.
func (c *Config) VaultName() string {
	if c.Vault.Name != "" {
		return c.Vault.Name
	}
	abs, err := filepath.Abs(c.Vault.Dir)
	if err != nil {
		return filepath.Base(c.Vault.Dir)
	}
	return filepath.Base(abs)
}

// PendingLogPath is the location of the durable pending-operation log.
func (c *Config) PendingLogPath() string {
	if c.State.Backend == "sqlite" {
		return filepath.Join(c.State.Dir, "pending.db")
	}
	return filepath.Join(c.State.Dir, "pending.json")
}

// ListingSnapshotPath caches the last remote listing between runs.
func (c *Config) ListingSnapshotPath() string {
	return filepath.Join(c.State.Dir, "listing.json")
}

// SidecarPath tracks attachment sync times.
func (c *Config) SidecarPath() string {
	return filepath.Join(c.State.Dir, "attachments.json")
}

// ErrorLogPath is the append-only record of unexpected sync errors, written
// when log.error_log is set.
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.State.Dir, "errors.log")
}

// TraceLogPath mirrors the debug stream when log.verbose is set.
func (c *Config) TraceLogPath() string {
	return filepath.Join(c.State.Dir, "trace.log")
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.State.Dir}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}
	if c.Auth.TokenFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.TokenFile))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file (or default locations when
// empty), layered under DRIVESYNC_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("drivesync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/drivesync")
		v.AddConfigPath("$HOME/.drivesync")
	}

	v.SetEnvPrefix("DRIVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults plus env carry a full setup.
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Anchor relative state paths next to the vault, not the process cwd.
	if !filepath.IsAbs(cfg.State.Dir) {
		cfg.State.Dir = filepath.Join(cfg.Vault.Dir, cfg.State.Dir)
	}
	if cfg.Auth.TokenFile != "" && !filepath.IsAbs(cfg.Auth.TokenFile) {
		cfg.Auth.TokenFile = filepath.Join(cfg.Vault.Dir, cfg.Auth.TokenFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.upload_base_url", d.API.UploadBaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.user_agent", d.API.UserAgent)

	v.SetDefault("auth.token_url", d.Auth.TokenURL)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)

	v.SetDefault("vault.dir", d.Vault.Dir)
	v.SetDefault("vault.remote_root", d.Vault.RemoteRoot)

	v.SetDefault("state.dir", d.State.Dir)
	v.SetDefault("state.backend", d.State.Backend)

	v.SetDefault("sync.refresh_interval", d.Sync.RefreshInterval)
	v.SetDefault("sync.conflict_margin", d.Sync.ConflictMargin)
	v.SetDefault("sync.debounce_window", d.Sync.DebounceWindow)
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval)
	v.SetDefault("sync.binary_auto_refresh", d.Sync.BinaryAutoRefresh)
	v.SetDefault("sync.path_blacklist", d.Sync.PathBlacklist)
	v.SetDefault("sync.max_file_size", d.Sync.MaxFileSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.error_log", d.Log.ErrorLog)
	v.SetDefault("log.verbose", d.Log.Verbose)
}

// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// appDirName is the per-application directory name used under XDG paths.
const appDirName = "nexus"

// legacyDirName is the directory name used by earlier releases. Data found
// there is relocated on first run.
const legacyDirName = "nexus-notes"

// StorageConfig holds local storage settings
type StorageConfig struct {
	DataFolder string `yaml:"data_folder"` // Root for data/ and backups/ (default: XDG data dir)
}

// AutoBackupConfig holds scheduled backup settings
type AutoBackupConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Frequency   string `yaml:"frequency"`    // hourly, daily, weekly
	KeepBackups int    `yaml:"keep_backups"` // Most recent backups retained after trimming
}

// AutoSaveConfig holds debounced auto-save settings
type AutoSaveConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"` // Debounce window in milliseconds (default: 500)
}

// SyncConfig holds cloud synchronization settings
type SyncConfig struct {
	Provider string `yaml:"provider"` // Only "webdav" is supported
	Timeout  string `yaml:"timeout"`  // HTTP timeout (e.g., "30s")
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Config represents the application configuration
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	AutoBackup AutoBackupConfig `yaml:"auto_backup"`
	AutoSave   AutoSaveConfig   `yaml:"auto_save"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
	DBPath     string           `yaml:"db_path"` // Record store database (default: <data>/nexus.db)
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataFolder: GetDataDir(),
		},
		AutoBackup: AutoBackupConfig{
			Enabled:     false,
			Frequency:   "daily",
			KeepBackups: 10,
		},
		AutoSave: AutoSaveConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
		Sync: SyncConfig{
			Provider: "webdav",
			Timeout:  "30s",
		},
		DBPath: filepath.Join(GetDataDir(), "nexus.db"),
	}
}

// Load loads configuration from the specified path, or the default XDG path
// if empty. If the config file doesn't exist, it creates one with defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	// Apply defaults for unset fields
	if cfg.Storage.DataFolder == "" {
		cfg.Storage.DataFolder = GetDataDir()
	}
	cfg.Storage.DataFolder = ExpandPath(cfg.Storage.DataFolder)
	if cfg.AutoBackup.Frequency == "" {
		cfg.AutoBackup.Frequency = "daily"
	}
	if cfg.AutoBackup.KeepBackups == 0 {
		cfg.AutoBackup.KeepBackups = 10
	}
	if cfg.AutoSave.DebounceMs == 0 {
		cfg.AutoSave.DebounceMs = 500
	}
	if cfg.Sync.Provider == "" {
		cfg.Sync.Provider = "webdav"
	}
	if cfg.Sync.Timeout == "" {
		cfg.Sync.Timeout = "30s"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.Storage.DataFolder, "nexus.db")
	}
	cfg.DBPath = ExpandPath(cfg.DBPath)

	return cfg, nil
}

// save writes the configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use the embedded sample config which includes documentation comments
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.AutoBackup.Frequency {
	case "hourly", "daily", "weekly":
	default:
		return fmt.Errorf("invalid auto_backup.frequency: %q (must be hourly, daily or weekly)", c.AutoBackup.Frequency)
	}

	if c.AutoBackup.KeepBackups < 1 {
		return fmt.Errorf("auto_backup.keep_backups must be at least 1, got %d", c.AutoBackup.KeepBackups)
	}

	if c.AutoSave.DebounceMs < 0 {
		return fmt.Errorf("auto_save.debounce_ms must not be negative, got %d", c.AutoSave.DebounceMs)
	}

	if c.Sync.Provider != "webdav" {
		return fmt.Errorf("unknown sync.provider: %q", c.Sync.Provider)
	}

	if c.Sync.Timeout != "" {
		if _, err := time.ParseDuration(c.Sync.Timeout); err != nil {
			return fmt.Errorf("invalid duration for sync.timeout: %q", c.Sync.Timeout)
		}
	}

	return nil
}

// SyncTimeout returns the parsed sync timeout, defaulting to 30 seconds.
func (c *Config) SyncTimeout() time.Duration {
	if c.Sync.Timeout != "" {
		if d, err := time.ParseDuration(c.Sync.Timeout); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

// AutoSaveDebounce returns the parsed auto-save debounce window.
func (c *Config) AutoSaveDebounce() time.Duration {
	if c.AutoSave.DebounceMs > 0 {
		return time.Duration(c.AutoSave.DebounceMs) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// getXDGDir resolves a per-application directory under an XDG base dir.
func getXDGDir(envVar, fallbackPath, dirName string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, dirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, dirName)
	}
	return filepath.Join(home, fallbackPath, dirName)
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config", appDirName)
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"), appDirName)
}

// GetLegacyConfigDir returns the configuration directory used by earlier releases
func GetLegacyConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config", legacyDirName)
}

// GetLegacyDataDir returns the data directory used by earlier releases
func GetLegacyDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"), legacyDirName)
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	path = os.ExpandEnv(path)

	return path
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if cfg.AutoBackup.Frequency != "daily" {
		t.Errorf("expected default frequency daily, got %q", cfg.AutoBackup.Frequency)
	}
	if cfg.AutoSave.DebounceMs != 500 {
		t.Errorf("expected default debounce 500, got %d", cfg.AutoSave.DebounceMs)
	}
	if cfg.Sync.Provider != "webdav" {
		t.Errorf("expected default provider webdav, got %q", cfg.Sync.Provider)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  data_folder: /tmp/nexus-test
auto_backup:
  enabled: true
  frequency: hourly
  keep_backups: 3
sync:
  timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.AutoBackup.Enabled || cfg.AutoBackup.Frequency != "hourly" || cfg.AutoBackup.KeepBackups != 3 {
		t.Errorf("auto_backup not loaded: %+v", cfg.AutoBackup)
	}
	if cfg.Storage.DataFolder != "/tmp/nexus-test" {
		t.Errorf("storage not loaded: %+v", cfg.Storage)
	}
	if cfg.SyncTimeout() != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.SyncTimeout())
	}
	// Unset fields still get defaults.
	if cfg.AutoSave.DebounceMs != 500 {
		t.Errorf("expected default debounce for unset field, got %d", cfg.AutoSave.DebounceMs)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad frequency", func(c *Config) { c.AutoBackup.Frequency = "fortnightly" }, true},
		{"keep too low", func(c *Config) { c.AutoBackup.KeepBackups = 0 }, true},
		{"negative debounce", func(c *Config) { c.AutoSave.DebounceMs = -1 }, true},
		{"bad provider", func(c *Config) { c.Sync.Provider = "ftp" }, true},
		{"bad timeout", func(c *Config) { c.Sync.Timeout = "soon" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSyncTimeoutDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.SyncTimeout() != 30*time.Second {
		t.Errorf("expected 30s default, got %v", cfg.SyncTimeout())
	}
}

func TestAutoSaveDebounceDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.AutoSaveDebounce() != 500*time.Millisecond {
		t.Errorf("expected 500ms default, got %v", cfg.AutoSaveDebounce())
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GetSampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
}

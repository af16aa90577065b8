package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "checksync" {
		t.Errorf("expected Name=checksync, got %s", cfg.Name)
	}
	if cfg.Apply.Concurrency != 4 {
		t.Errorf("expected Concurrency=4, got %d", cfg.Apply.Concurrency)
	}
	if !cfg.Journal.Enabled {
		t.Error("expected journal enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("CHECKSYNC_LOG_LEVEL", "")
	t.Setenv("CHECKSYNC_JOURNAL", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Apply.Selector = ".item"
	cfg.Apply.Master = "master"
	cfg.Logging.Categories = map[string]bool{"watch": false}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Apply.Selector != ".item" || loaded.Apply.Master != "master" {
		t.Errorf("apply defaults not round-tripped: %+v", loaded.Apply)
	}
	if loaded.Logging.IsCategoryEnabled("watch") {
		t.Error("expected watch category disabled")
	}
	if !loaded.Logging.IsCategoryEnabled("apply") {
		t.Error("expected unlisted category enabled")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watch.Debounce != "300ms" {
		t.Errorf("expected default debounce, got %q", cfg.Watch.Debounce)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("apply:\n  selector: \".row\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Apply.Selector != ".row" {
		t.Errorf("expected selector .row, got %q", cfg.Apply.Selector)
	}
	if cfg.Apply.Concurrency != 4 {
		t.Errorf("expected default concurrency kept, got %d", cfg.Apply.Concurrency)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("apply: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetWatchDebounce(); got != 300*time.Millisecond {
		t.Errorf("debounce: got %v", got)
	}

	cfg.Watch.Debounce = "nonsense"
	if got := cfg.GetWatchDebounce(); got != 300*time.Millisecond {
		t.Errorf("bad debounce should fall back, got %v", got)
	}

	cfg.Browser.NavigationTimeout = "5s"
	if got := cfg.GetNavigationTimeout(); got != 5*time.Second {
		t.Errorf("navigation timeout: got %v", got)
	}

	cfg.Apply.Concurrency = 0
	if got := cfg.GetConcurrency(); got != 1 {
		t.Errorf("concurrency floor: got %d", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative concurrency", func(c *Config) { c.Apply.Concurrency = -1 }},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }},
		{"bad timeout", func(c *Config) { c.Browser.NavigationTimeout = "later" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its config, relative to the workspace.
const DefaultPath = ".checksync/config.yaml"

// Config holds all checksync configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Default selector / master for commands that omit them
	Apply ApplyConfig `yaml:"apply"`

	// File watching
	Watch WatchConfig `yaml:"watch"`

	// Run journal
	Journal JournalConfig `yaml:"journal"`

	// Browser sessions
	Browser BrowserConfig `yaml:"browser"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ApplyConfig configures document runs.
type ApplyConfig struct {
	Selector    string `yaml:"selector"`
	Master      string `yaml:"master"`
	Concurrency int    `yaml:"concurrency"` // files processed in parallel
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BrowserConfig configures Chrome for live-page toggling.
type BrowserConfig struct {
	DebuggerURL       string   `yaml:"debugger_url"`
	Launch            []string `yaml:"launch"`
	Headless          bool     `yaml:"headless"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	SessionStore      string   `yaml:"session_store"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "checksync",
		Version: "0.3.0",

		Apply: ApplyConfig{
			Concurrency: 4,
		},

		Watch: WatchConfig{
			Debounce: "300ms",
		},

		Journal: JournalConfig{
			Enabled: true,
			Path:    ".checksync/journal.db",
		},

		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: "30s",
			SessionStore:      ".checksync/browser/sessions.json",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Return defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("CHECKSYNC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("CHECKSYNC_JOURNAL"); path != "" {
		c.Journal.Path = path
		c.Journal.Enabled = path != "off"
	}
	if url := os.Getenv("CHECKSYNC_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if n := os.Getenv("CHECKSYNC_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Apply.Concurrency = v
		}
	}
}

// GetWatchDebounce returns the watcher debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 300*time.Millisecond)
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetConcurrency returns the number of files processed in parallel.
func (c *Config) GetConcurrency() int {
	if c.Apply.Concurrency <= 0 {
		return 1
	}
	return c.Apply.Concurrency
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Apply.Concurrency < 0 {
		return fmt.Errorf("apply.concurrency must not be negative (got %d)", c.Apply.Concurrency)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
		}
	}
	if c.Browser.NavigationTimeout != "" {
		if _, err := time.ParseDuration(c.Browser.NavigationTimeout); err != nil {
			return fmt.Errorf("invalid browser.navigation_timeout %q: %w", c.Browser.NavigationTimeout, err)
		}
	}
	return c.Logging.Validate()
}

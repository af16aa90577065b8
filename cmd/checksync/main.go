// Command checksync mirrors a master checkbox onto a group of checkboxes in
// HTML documents and live browser pages.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"checksync/internal/config"
	"checksync/internal/journal"
	"checksync/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose     bool
	workspace   string
	configPath  string
	journalPath string
	timeout     time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "checksync",
	Short: "Mirror a master checkbox onto a group of checkboxes",
	Long: `checksync copies the checked state of one "master" checkbox onto every
element matched by a CSS selector.

It works on HTML files (rewriting the checked attribute), on stdin/stdout,
and on live pages in Chrome. The copy is one-shot: later changes to single
checkboxes are never reconciled back to the master.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", `Journal database path, or "off"`)
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(browserCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and installs the logger.
func setup() error {
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		workspace = cwd
	}

	path := configPath
	if path == "" {
		path = filepath.Join(workspace, config.DefaultPath)
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg = loaded

	opts := logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Categories: cfg.Logging.Categories,
	}
	if verbose {
		opts.Level = "debug"
	}
	if cfg.Logging.File != "" {
		opts.Outputs = []string{resolve(cfg.Logging.File)}
	}
	built, err := logging.Build(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetBase(built, opts.Categories)
	logger = built

	if _, err := os.Stat(path); err == nil {
		logging.Boot("Loaded config %s", path)
	}
	for name := range cfg.Logging.Categories {
		if !logging.IsKnownCategory(name) {
			logging.BootWarn("Unknown logging category %q in %s", name, path)
		}
	}
	logger.Debug("Setup complete", zap.String("workspace", workspace), zap.String("level", opts.Level))
	return nil
}

// resolve makes p absolute against the workspace.
func resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// openJournal returns nil when journaling is disabled.
func openJournal() (*journal.Journal, error) {
	path := journalPath
	if path == "" {
		if !cfg.Journal.Enabled {
			return nil, nil
		}
		path = cfg.Journal.Path
	}
	if path == "off" {
		return nil, nil
	}
	if path != ":memory:" {
		path = resolve(path)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Name, cfg.Version)
		return nil
	},
}

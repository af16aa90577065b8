package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"checksync/internal/apply"
	"checksync/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch files...",
	Short: "Re-apply whenever a file changes",
	Long: `Applies once, then again every time one of the files is saved, until
interrupted. Each change is a fresh, independent run; the watcher's own
rewrite settles after one no-op pass.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	addRequestFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	req, err := request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, closeJournal, err := newRunner()
	if err != nil {
		return err
	}
	defer closeJournal()

	results, err := runner.ApplyFiles(ctx, args, req)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		logger.Warn("Initial apply had failures", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	w, err := watch.New(args, cfg.GetWatchDebounce(), func(ctx context.Context, path string) error {
		fr := runner.ApplyFile(ctx, path, req)
		if fr.Changed || fr.Err != nil {
			printResults(out, []apply.FileResult{fr})
		}
		return fr.Err
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Fprintf(out, "Watching %d file(s). Press Ctrl+C to stop\n", len(args))

	<-w.Done()
	w.Stop()

	stats := w.Stats()
	logger.Info("Watcher stopped",
		zap.Int("events", stats.Events),
		zap.Int("runs", stats.HandlerRuns),
		zap.Int("failures", stats.HandlerErrors))
	return nil
}

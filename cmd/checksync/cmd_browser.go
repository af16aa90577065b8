package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"checksync/internal/browser"
	"checksync/internal/journal"
	"checksync/internal/logging"
	"checksync/internal/toggle"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// browserCmd groups live-page commands.
var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Toggle checkboxes on live pages in Chrome",
}

var browserLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch Chrome and keep it running for other commands",
	Args:  cobra.NoArgs,
	RunE:  browserLaunch,
}

var browserSessionCmd = &cobra.Command{
	Use:   "session [url]",
	Short: "Open a page in the running browser",
	Args:  cobra.ExactArgs(1),
	RunE:  browserSession,
}

var browserAttachCmd = &cobra.Command{
	Use:   "attach [target-id]",
	Short: "Track a tab that is already open in the running browser",
	Args:  cobra.ExactArgs(1),
	RunE:  browserAttach,
}

var browserToggleCmd = &cobra.Command{
	Use:   "toggle [session-id]",
	Short: "Copy the master's checked state onto the selected checkboxes of a page",
	Args:  cobra.ExactArgs(1),
	RunE:  browserToggle,
}

var browserListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE:  browserList,
}

func init() {
	addRequestFlags(browserToggleCmd)

	browserCmd.AddCommand(browserLaunchCmd)
	browserCmd.AddCommand(browserSessionCmd)
	browserCmd.AddCommand(browserAttachCmd)
	browserCmd.AddCommand(browserToggleCmd)
	browserCmd.AddCommand(browserListCmd)
}

// getBrowserConfig converts the loaded config into the manager's config.
func getBrowserConfig() browser.Config {
	bc := browser.DefaultConfig()
	bc.DebuggerURL = cfg.Browser.DebuggerURL
	bc.Launch = cfg.Browser.Launch
	bc.Headless = cfg.Browser.Headless
	bc.ViewportWidth = cfg.Browser.ViewportWidth
	bc.ViewportHeight = cfg.Browser.ViewportHeight
	bc.NavigationTimeoutMs = int(cfg.GetNavigationTimeout().Milliseconds())
	if cfg.Browser.SessionStore != "" {
		bc.SessionStore = resolve(cfg.Browser.SessionStore)
	}
	return bc
}

func controlFile() string {
	return filepath.Join(workspace, ".checksync", "browser", "control.txt")
}

// connectedConfig returns a config pointing at the browser started by
// "browser launch", or an error when none is running.
func connectedConfig() (browser.Config, error) {
	bc := getBrowserConfig()
	if bc.DebuggerURL != "" {
		return bc, nil
	}
	data, err := os.ReadFile(controlFile())
	url := strings.TrimSpace(string(data))
	if err != nil || url == "" {
		return bc, errors.New("no browser running - use 'checksync browser launch' first")
	}
	bc.DebuggerURL = url
	return bc, nil
}

func browserLaunch(cmd *cobra.Command, args []string) error {
	logging.Browser("Launching browser")

	bc := getBrowserConfig()
	mgr := browser.NewSessionManager(bc)
	if err := mgr.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	control := controlFile()
	if err := os.MkdirAll(filepath.Dir(control), 0o755); err != nil {
		logging.BrowserWarn("failed to create browser dir: %v", err)
	} else if err := os.WriteFile(control, []byte(mgr.ControlURL()), 0o644); err != nil {
		logging.BrowserWarn("failed to write browser control file: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Browser launched. Control URL: %s\n", mgr.ControlURL())
	if bc.SessionStore != "" {
		fmt.Fprintf(out, "Session store: %s\n", bc.SessionStore)
	}
	fmt.Fprintln(out, "Press Ctrl+C to shutdown")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := os.Remove(control); err != nil && !os.IsNotExist(err) {
		logging.BrowserWarn("failed to remove browser control file: %v", err)
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		logging.BrowserWarn("failed to shutdown browser manager: %v", err)
	}
	return nil
}

func browserSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	bc, err := connectedConfig()
	if err != nil {
		return err
	}
	url := args[0]
	logger.Info("Creating browser session", zap.String("url", url), zap.String("browser", bc.DebuggerURL))

	mgr := browser.NewSessionManager(bc)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	// The page stays open for later toggle commands.
	defer mgr.Disconnect()

	session, err := mgr.CreateSession(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session created: %s\n", session.ID)
	fmt.Fprintf(out, "Target ID: %s\n", session.TargetID)
	fmt.Fprintf(out, "URL: %s\n", session.URL)
	fmt.Fprintf(out, "\nUse 'checksync browser toggle %s --selector S --master M' to apply\n", session.ID)
	return nil
}

func browserAttach(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	bc, err := connectedConfig()
	if err != nil {
		return err
	}
	mgr := browser.NewSessionManager(bc)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer mgr.Disconnect()

	session, err := mgr.Attach(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session attached: %s\n", session.ID)
	fmt.Fprintf(out, "Target ID: %s\n", session.TargetID)
	fmt.Fprintf(out, "URL: %s\n", session.URL)
	return nil
}

func browserToggle(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	req, err := request()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	bc, err := connectedConfig()
	if err != nil {
		return err
	}
	mgr := browser.NewSessionManager(bc)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer mgr.Disconnect()

	if _, found := mgr.GetSession(sessionID); !found {
		return unknownSession(cmd, mgr, sessionID)
	}

	res, toggleErr := mgr.Toggle(ctx, sessionID, req.Selector, req.MasterID)
	recordBrowserRun(ctx, sessionID, req.Selector, req.MasterID, res, toggleErr)
	if toggleErr != nil {
		return fmt.Errorf("session %s: %w", sessionID, toggleErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", okStyle.Render("SET "), sessionID,
		dimStyle.Render(fmt.Sprintf("%d → %s", res.Targets, checkedWord(res.Checked))))
	return nil
}

func unknownSession(cmd *cobra.Command, mgr *browser.SessionManager, sessionID string) error {
	sessions := mgr.List()
	if len(sessions) == 0 {
		return fmt.Errorf("session %q not found - no active sessions", sessionID)
	}
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Session %q not found. Available sessions:\n", sessionID)
	printSessions(out, sessions)
	return fmt.Errorf("session %q not found", sessionID)
}

// recordBrowserRun journals a live toggle. Journal failures are logged only.
func recordBrowserRun(ctx context.Context, sessionID, selector, masterID string, res toggle.Result, runErr error) {
	j, err := openJournal()
	if err != nil {
		logging.JournalDebug("journal unavailable: %v", err)
		return
	}
	if j == nil {
		return
	}
	defer j.Close()

	e := journal.Entry{
		Source:   "session:" + sessionID,
		Selector: selector,
		MasterID: masterID,
		Checked:  res.Checked,
		Targets:  res.Targets,
		Changed:  runErr == nil && res.Targets > 0,
	}
	if runErr != nil {
		e.Status = journal.StatusFailed
		e.Error = runErr.Error()
	}
	if _, err := j.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.JournalDebug("failed to record browser run: %v", err)
	}
}

func browserList(cmd *cobra.Command, args []string) error {
	bc := getBrowserConfig()
	if bc.SessionStore == "" {
		return errors.New("no session store configured (browser.session_store)")
	}
	// Reading the store needs no browser; Start would launch one.
	mgr := browser.NewSessionManager(bc)
	sessions, err := mgr.Stored()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no sessions"))
		return nil
	}
	printSessions(cmd.OutOrStdout(), sessions)
	return nil
}

func printSessions(out io.Writer, sessions []browser.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	for _, s := range sessions {
		fmt.Fprintf(out, "  %s  %s %s\n", s.ID, dimStyle.Render("["+s.Status+"]"), s.URL)
	}
}

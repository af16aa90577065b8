// Package browser runs the toggle operation against live pages in Chrome.
// A SessionManager owns the browser connection and the pages it opened;
// PageTree exposes one page's DOM as a toggle.Tree.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"checksync/internal/logging"
	"checksync/internal/toggle"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// Session describes the public metadata for a tracked browser page.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	SessionStore        string   `json:"session_store"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 800
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ErrNotConnected is returned when no browser is attached.
var ErrNotConnected = errors.New("browser not connected")

// SessionManager owns the Chrome connection and tracks active sessions.
type SessionManager struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string // WebSocket URL for DevTools
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	if err := m.loadSessionsLocked(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := launchWith(m.cfg.Launch, m.cfg.Headless)
		if err != nil {
			return err
		}
		controlURL = url
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Browser("Connected to Chrome at %s", controlURL)
	return nil
}

// launchWith starts the binary in launch[0] with the remaining entries as
// Chrome flags ("--name=value" or "--name").
func launchWith(launch []string, headless bool) (string, error) {
	bin := launch[0]
	l := launcher.New().Bin(bin).Headless(headless)
	for _, rawFlag := range launch[1:] {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}

	// Retry without the extra flags
	fallback := launcher.New().Bin(bin).Headless(headless)
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	logging.BrowserWarn("Launch flags rejected (%v), started %s without them", err, bin)
	return alt, nil
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.sessions {
		if record.page != nil {
			_ = record.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// Disconnect drops the connection and leaves Chrome and its pages running,
// so a later process can attach to the same sessions.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.browser = nil
	m.controlURL = ""
	for _, rec := range m.sessions {
		rec.page = nil
	}
}

// List returns metadata for all known sessions.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	return results
}

// CreateSession opens a new page on url and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}

	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		logging.BrowserWarn("page %s did not finish loading: %v", url, err)
	}

	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  now,
		LastActive: now,
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	if err := m.persistSessions(); err != nil {
		logging.BrowserWarn("failed to persist sessions: %v", err)
	}
	logging.Browser("Session %s opened on %s", meta.ID, url)
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  now,
		LastActive: now,
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	if err := m.persistSessions(); err != nil {
		logging.BrowserWarn("failed to persist sessions: %v", err)
	}
	return &meta, nil
}

// Page returns the page for a session, re-attaching to its target when the
// session was loaded from the store.
func (m *SessionManager) Page(ctx context.Context, sessionID string) (*rod.Page, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	var page *rod.Page
	if ok {
		page = rec.page
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	if page != nil {
		return page, nil
	}

	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.page != nil {
		return rec.page, nil
	}
	if m.browser == nil {
		return nil, ErrNotConnected
	}
	if rec.meta.TargetID == "" {
		return nil, fmt.Errorf("session %s has no target to attach to", sessionID)
	}
	page, err := m.browser.PageFromTarget(proto.TargetTargetID(rec.meta.TargetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", rec.meta.TargetID, err)
	}
	rec.page = page
	rec.meta.Status = "attached"
	logging.BrowserDebug("Re-attached session %s to target %s", sessionID, rec.meta.TargetID)
	return page, nil
}

// GetSession returns session metadata.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// Navigate navigates a session to a URL.
func (m *SessionManager) Navigate(ctx context.Context, sessionID, url string) error {
	page, err := m.Page(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	m.touch(sessionID, func(s *Session) { s.URL = url })
	return nil
}

// Toggle runs the toggle operation against a session's page.
func (m *SessionManager) Toggle(ctx context.Context, sessionID, selector, masterID string) (toggle.Result, error) {
	page, err := m.Page(ctx, sessionID)
	if err != nil {
		return toggle.Result{}, err
	}

	res, err := toggle.Apply(ctx, NewPageTree(page), selector, masterID)
	if err != nil {
		return res, err
	}
	m.touch(sessionID, nil)
	logging.BrowserDebug("Session %s: set %d targets to %v", sessionID, res.Targets, res.Checked)
	return res, nil
}

func (m *SessionManager) touch(sessionID string, update func(*Session)) {
	m.mu.Lock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.meta.LastActive = time.Now()
		if update != nil {
			update(&rec.meta)
		}
	}
	m.mu.Unlock()
	if err := m.persistSessions(); err != nil {
		logging.BrowserWarn("failed to persist sessions: %v", err)
	}
}

// persistSessions writes session metadata to disk.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessionsLocked loads persisted metadata. Caller must hold lock.
func (m *SessionManager) loadSessionsLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	for _, s := range sessions {
		if _, exists := m.sessions[s.ID]; exists {
			continue
		}
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}

// Stored loads the session store without connecting to a browser.
func (m *SessionManager) Stored() ([]Session, error) {
	m.mu.Lock()
	err := m.loadSessionsLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return m.List(), nil
}

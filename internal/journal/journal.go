// Package journal records toggle runs in a SQLite database so the CLI can
// show what it changed and when.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"checksync/internal/logging"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Entry is one recorded run.
type Entry struct {
	ID       string
	At       time.Time
	Source   string // file path, "-" for stdin, or a browser session id
	Selector string
	MasterID string
	Checked  bool
	Targets  int
	Changed  bool
	Status   string
	Error    string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	at         INTEGER NOT NULL,
	source     TEXT NOT NULL,
	selector   TEXT NOT NULL,
	master_id  TEXT NOT NULL,
	checked    INTEGER NOT NULL,
	targets    INTEGER NOT NULL,
	changed    INTEGER NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_at ON runs(at);
`

// Journal is a SQLite-backed run log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the journal at path. ":memory:" keeps it
// in process.
func Open(path string) (*Journal, error) {
	timer := logging.StartTimer(logging.CategoryJournal, "journal.Open")
	defer timer.Stop()

	created := false
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			created = true
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.JournalDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if created {
		logging.Journal("Created journal at %s", path)
	} else {
		logging.JournalDebug("Journal opened at %s", path)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e, filling ID, At and Status when empty.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
		if e.Error != "" {
			e.Status = StatusFailed
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, at, source, selector, master_id, checked, targets, changed, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixNano(), e.Source, e.Selector, e.MasterID,
		boolInt(e.Checked), e.Targets, boolInt(e.Changed), e.Status, e.Error)
	if err != nil {
		return e, fmt.Errorf("failed to record run: %w", err)
	}

	logging.JournalDebug("Recorded run %s (%s, %d targets)", e.ID, e.Source, e.Targets)
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, source, selector, master_id, checked, targets, changed, status, error
		 FROM runs ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e entryRow
		if err := rows.Scan(&e.ID, &e.At, &e.Source, &e.Selector, &e.MasterID,
			&e.Checked, &e.Targets, &e.Changed, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, e.entry())
	}
	return out, rows.Err()
}

// entryRow is the column layout of the runs table.
type entryRow struct {
	ID       string
	At       int64
	Source   string
	Selector string
	MasterID string
	Checked  int
	Targets  int
	Changed  int
	Status   string
	Error    string
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:       r.ID,
		At:       time.Unix(0, r.At),
		Source:   r.Source,
		Selector: r.Selector,
		MasterID: r.MasterID,
		Checked:  r.Checked != 0,
		Targets:  r.Targets,
		Changed:  r.Changed != 0,
		Status:   r.Status,
		Error:    r.Error,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package history journals apply runs and their events in a local SQLite
// database so past runs can be inspected with `buckle history`.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one journaled invocation.
type Run struct {
	ID         string
	Root       string
	Command    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Entry is one journaled event of a run.
type Entry struct {
	ID      int64
	RunID   string
	TS      time.Time
	Type    string
	Package string
	Attempt int
	Path    string
	Task    string
	Message string
	Error   string
}

// Store is a SQLite-backed run journal.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens (and creates, unless readOnly) the journal at path.
func Open(ctx context.Context, path string, readOnly bool) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS buckle_runs (
  run_id TEXT PRIMARY KEY,
  root TEXT NOT NULL,
  command TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS buckle_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  ts_ns INTEGER NOT NULL,
  type TEXT NOT NULL,
  package TEXT NOT NULL,
  attempt INTEGER NOT NULL,
  path TEXT NOT NULL,
  task TEXT NOT NULL,
  message TEXT NOT NULL,
  error TEXT NOT NULL,
  FOREIGN KEY (run_id) REFERENCES buckle_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_buckle_events_run_id_id ON buckle_events(run_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Begin records a new running run and returns its id.
func (s *Store) Begin(ctx context.Context, root, command string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO buckle_runs (run_id, root, command, status, error, started_at_ns, finished_at_ns)
VALUES (?, ?, ?, ?, '', ?, 0)
`, id, root, command, StatusRunning, now.UnixNano())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// Record appends an event to runID.
func (s *Store) Record(ctx context.Context, runID string, e Entry) error {
	ts := e.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO buckle_events (run_id, ts_ns, type, package, attempt, path, task, message, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, runID, ts.UnixNano(), e.Type, e.Package, e.Attempt, e.Path, e.Task, e.Message, e.Error)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Finish marks runID succeeded, or failed with runErr.
func (s *Store) Finish(ctx context.Context, runID string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE buckle_runs SET status = ?, error = ?, finished_at_ns = ? WHERE run_id = ?
`, status, msg, time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// Runs lists the newest runs first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, root, command, status, error, started_at_ns, finished_at_ns FROM buckle_runs ORDER BY started_at_ns DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Root, &r.Command, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Entries returns the events of runID in recording order. A unique id
// prefix is accepted.
func (s *Store) Entries(ctx context.Context, runID string) (string, []Entry, error) {
	id, err := s.resolveID(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, ts_ns, type, package, attempt, path, task, message, error
FROM buckle_events WHERE run_id = ? ORDER BY id
`, id)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.Type, &e.Package, &e.Attempt, &e.Path, &e.Task, &e.Message, &e.Error); err != nil {
			return "", nil, err
		}
		e.TS = fromNanos(ts)
		out = append(out, e)
	}
	return id, out, rows.Err()
}

func (s *Store) resolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM buckle_runs WHERE run_id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no run matches %q", prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("run id %q is ambiguous", prefix)
	}
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunSummary is one task run as recorded in the history database.
type RunSummary struct {
	RunID      string
	TaskName   string
	Keyword    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Attempts   int
	Processed  int
	Status     string
	LastError  string
}

// AttemptRow is one attempt inside a run.
type AttemptRow struct {
	Attempt int
	Account string
	Proxy   string
	Outcome string
	Error   string
}

// SQLiteStore keeps task run history in a SQLite database so progress and
// failures stay visible after the process exits.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// history tables exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_runs (
			run_id      TEXT PRIMARY KEY,
			task_name   TEXT NOT NULL,
			keyword     TEXT NOT NULL,
			started_at  DATETIME NOT NULL,
			finished_at DATETIME,
			attempts    INTEGER NOT NULL DEFAULT 0,
			processed   INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			last_error  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs (task_name, started_at)`,
		`CREATE TABLE IF NOT EXISTS task_attempts (
			run_id     TEXT NOT NULL,
			attempt    INTEGER NOT NULL,
			account    TEXT NOT NULL DEFAULT '',
			proxy      TEXT NOT NULL DEFAULT '',
			outcome    TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, attempt)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating history schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// StartRun inserts a run in the running state.
func (s *SQLiteStore) StartRun(runID, taskName, keyword string, startedAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO task_runs (run_id, task_name, keyword, started_at, status) VALUES (?, ?, ?, ?, ?)",
		runID, taskName, keyword, startedAt.UTC(), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}
	return nil
}

// RecordAttempt stores one attempt of a run. Re-recording an attempt is a no-op.
func (s *SQLiteStore) RecordAttempt(runID string, a AttemptRow) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO task_attempts (run_id, attempt, account, proxy, outcome, error) VALUES (?, ?, ?, ?, ?, ?)",
		runID, a.Attempt, a.Account, a.Proxy, a.Outcome, a.Error,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %d of run %s: %w", a.Attempt, runID, err)
	}
	return nil
}

// FinishRun closes a run with its final counts and status.
func (s *SQLiteStore) FinishRun(runID string, attempts, processed int, status, lastErr string, finishedAt time.Time) error {
	_, err := s.db.Exec(
		"UPDATE task_runs SET finished_at = ?, attempts = ?, processed = ?, status = ?, last_error = ? WHERE run_id = ?",
		finishedAt.UTC(), attempts, processed, status, lastErr, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs of a task, newest first.
func (s *SQLiteStore) RecentRuns(taskName string, limit int) ([]RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT run_id, task_name, keyword, started_at, finished_at, attempts, processed, status, last_error
		 FROM task_runs WHERE task_name = ? ORDER BY started_at DESC LIMIT ?`,
		taskName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs for %s: %w", taskName, err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.TaskName, &r.Keyword, &r.StartedAt, &finished,
			&r.Attempts, &r.Processed, &r.Status, &r.LastError); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Attempts returns the attempts recorded for a run, in order.
func (s *SQLiteStore) Attempts(runID string) ([]AttemptRow, error) {
	rows, err := s.db.Query(
		"SELECT attempt, account, proxy, outcome, error FROM task_attempts WHERE run_id = ? ORDER BY attempt",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attempts for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.Attempt, &a.Account, &a.Proxy, &a.Outcome, &a.Error); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Cleanup deletes runs (and their attempts) started before now - olderThan.
func (s *SQLiteStore) Cleanup(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UTC()
	if _, err := s.db.Exec(
		"DELETE FROM task_attempts WHERE run_id IN (SELECT run_id FROM task_runs WHERE started_at < ?)", cutoff,
	); err != nil {
		return fmt.Errorf("cleaning up attempts older than %v: %w", olderThan, err)
	}
	if _, err := s.db.Exec("DELETE FROM task_runs WHERE started_at < ?", cutoff); err != nil {
		return fmt.Errorf("cleaning up runs older than %v: %w", olderThan, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package store – sqlite_store.go persists ScheduledActions in a SQLite
// table, following the same schema-on-open / WAL-mode idiom the teacher
// uses for its central database, and the same save/load/delete shape the
// teacher uses for its cron job storage.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_actions (
    id                         TEXT PRIMARY KEY,
    command                    TEXT NOT NULL,
    trigger_time               TEXT NOT NULL,
    completion_mode            TEXT NOT NULL,
    retry_until                TEXT,
    status                     TEXT NOT NULL,
    attempt_count              INTEGER NOT NULL DEFAULT 0,
    last_attempt               TEXT,
    context                    TEXT NOT NULL DEFAULT '{}',
    recurring                  INTEGER NOT NULL DEFAULT 0,
    recurring_interval_seconds INTEGER NOT NULL DEFAULT 0,
    recurring_cron             TEXT NOT NULL DEFAULT '',
    recurring_until            TEXT,
    parent_recurring_id        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scheduled_actions_due
    ON scheduled_actions(status, trigger_time);
`

// allowedTransitions encodes invariant 1 from spec §3: status transitions
// are restricted to scheduled -> {active, expired}; active -> {completed,
// scheduled, expired}. No transition leaves completed or expired.
var allowedTransitions = map[Status]map[Status]bool{
	StatusScheduled: {StatusActive: true, StatusExpired: true},
	StatusActive:    {StatusCompleted: true, StatusScheduled: true, StatusExpired: true},
}

// SQLiteStore implements Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the scheduled-actions database at path,
// enabling WAL mode for concurrent read/write access from the engine and
// the dialogue loop.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/companion.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Insert assigns an id, sets status=scheduled, and persists the action.
// Enforces invariants 2 and 3 from spec §3 before writing.
func (s *SQLiteStore) Insert(a *Action) (string, error) {
	if a.Recurring && a.RecurringIntervalSeconds <= 0 && a.RecurringCron == "" {
		return "", fmt.Errorf("recurring action requires a positive interval or cron expression")
	}
	if a.RetryUntil != nil && a.RetryUntil.Before(a.TriggerTime) {
		return "", fmt.Errorf("retry_until must be >= trigger_time")
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = StatusScheduled

	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO scheduled_actions
			(id, command, trigger_time, completion_mode, retry_until, status,
			 attempt_count, last_attempt, context, recurring,
			 recurring_interval_seconds, recurring_cron, recurring_until,
			 parent_recurring_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Command, formatTime(a.TriggerTime), string(a.CompletionMode),
		nullableTime(a.RetryUntil), string(a.Status), a.AttemptCount,
		nullableTime(a.LastAttempt), string(ctxJSON), boolToInt(a.Recurring),
		a.RecurringIntervalSeconds, a.RecurringCron, nullableTime(a.RecurringUntil),
		a.ParentRecurringID,
	)
	if err != nil {
		return "", fmt.Errorf("insert action %q: %w", a.ID, err)
	}
	return a.ID, nil
}

// DueActions returns all rows with status in {scheduled, active} and
// trigger_time <= now, ordered by trigger_time ascending.
func (s *SQLiteStore) DueActions(now time.Time) ([]*Action, error) {
	rows, err := s.db.Query(`
		SELECT `+selectColumns+`
		FROM scheduled_actions
		WHERE status IN ('scheduled', 'active') AND trigger_time <= ?
		ORDER BY trigger_time ASC`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// UpdateStatus atomically transitions status, validating against the
// allowed-transition table. When attemptCount is non-nil it is stamped and
// LastAttempt is set to the current instant (invariant 4).
func (s *SQLiteStore) UpdateStatus(id string, status Status, attemptCount *int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT status FROM scheduled_actions WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("action %q not found", id)
		}
		return fmt.Errorf("read current status: %w", err)
	}

	if Status(current) != status {
		if !allowedTransitions[Status(current)][status] {
			return fmt.Errorf("invalid status transition %s -> %s for action %q", current, status, id)
		}
	}

	if attemptCount != nil {
		now := formatTime(time.Now())
		if _, err := tx.Exec(
			`UPDATE scheduled_actions SET status = ?, attempt_count = ?, last_attempt = ? WHERE id = ?`,
			string(status), *attemptCount, now, id,
		); err != nil {
			return fmt.Errorf("update status+attempt: %w", err)
		}
	} else {
		if _, err := tx.Exec(
			`UPDATE scheduled_actions SET status = ? WHERE id = ?`,
			string(status), id,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
	}

	return tx.Commit()
}

// Reschedule updates TriggerTime only.
func (s *SQLiteStore) Reschedule(id string, newTriggerTime time.Time) error {
	res, err := s.db.Exec(`UPDATE scheduled_actions SET trigger_time = ? WHERE id = ?`,
		formatTime(newTriggerTime), id)
	if err != nil {
		return fmt.Errorf("reschedule %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("action %q not found", id)
	}
	return nil
}

// ListAll returns every row, including terminal ones.
func (s *SQLiteStore) ListAll() ([]*Action, error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM scheduled_actions ORDER BY trigger_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// Get returns a single action by id.
func (s *SQLiteStore) Get(id string) (*Action, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM scheduled_actions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get action %q: %w", id, err)
	}
	defer rows.Close()
	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("action %q not found", id)
	}
	return actions[0], nil
}

// Delete removes a row permanently.
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete action %q: %w", id, err)
	}
	return nil
}

const selectColumns = `id, command, trigger_time, completion_mode, retry_until, status,
	       attempt_count, last_attempt, context, recurring,
	       recurring_interval_seconds, recurring_cron, recurring_until,
	       parent_recurring_id`

func scanActions(rows *sql.Rows) ([]*Action, error) {
	var result []*Action
	for rows.Next() {
		var (
			a           Action
			triggerTime string
			retryUntil  sql.NullString
			status      string
			lastAttempt sql.NullString
			ctxJSON     string
			recurring   int
			recurUntil  sql.NullString
			mode        string
		)
		if err := rows.Scan(
			&a.ID, &a.Command, &triggerTime, &mode, &retryUntil, &status,
			&a.AttemptCount, &lastAttempt, &ctxJSON, &recurring,
			&a.RecurringIntervalSeconds, &a.RecurringCron, &recurUntil,
			&a.ParentRecurringID,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, triggerTime)
		if err != nil {
			return nil, fmt.Errorf("parse trigger_time: %w", err)
		}
		a.TriggerTime = t
		a.CompletionMode = CompletionMode(mode)
		a.Status = Status(status)
		a.Recurring = recurring != 0

		if a.RetryUntil, err = parseNullableTime(retryUntil); err != nil {
			return nil, fmt.Errorf("parse retry_until: %w", err)
		}
		if a.LastAttempt, err = parseNullableTime(lastAttempt); err != nil {
			return nil, fmt.Errorf("parse last_attempt: %w", err)
		}
		if a.RecurringUntil, err = parseNullableTime(recurUntil); err != nil {
			return nil, fmt.Errorf("parse recurring_until: %w", err)
		}
		if ctxJSON != "" {
			if err := json.Unmarshal([]byte(ctxJSON), &a.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context: %w", err)
			}
		}

		result = append(result, &a)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package sqlite persists the download tracker in a local SQLite database.
// Every mark call is written through before it returns, so a crash at any
// point leaves a ledger the next run can resume from.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scotusdata/harvester/internal/harvest"
)

const schema = `
CREATE TABLE IF NOT EXISTS work_items (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	term       TEXT NOT NULL DEFAULT '',
	docket     TEXT NOT NULL DEFAULT '',
	page       INTEGER NOT NULL DEFAULT 0,
	url        TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_work_items_state ON work_items(state);
`

// Store implements harvest.Tracker on SQLite.
type Store struct {
	db     *sql.DB
	path   string
	clock  harvest.Clock
	logger *zap.Logger
}

// New opens (or creates) the tracker database under dataDir. Items left
// in_progress by a previous run are folded to failed so they re-enter the
// retry path instead of being lost.
func New(dataDir string, clock harvest.Clock, logger *zap.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("tracker data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tracker directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := filepath.Join(dataDir, "tracker.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening tracker database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tracker schema: %w", err)
	}

	s := &Store{db: db, path: dbPath, clock: clock, logger: logger}
	if err := s.recoverInterrupted(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) recoverInterrupted() error {
	res, err := s.db.Exec(
		`UPDATE work_items SET state = ?, reason = ?, updated_at = ? WHERE state = ?`,
		harvest.StateFailed, "interrupted", s.now(), harvest.StateInProgress,
	)
	if err != nil {
		return fmt.Errorf("recovering interrupted items: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("recovered interrupted work items", zap.Int64("count", n))
	}
	return nil
}

// now renders the current instant as RFC3339 text, the storage format for
// updated_at.
func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkPending registers a key, or re-queues a failed one. A succeeded key is
// left untouched so completed work never re-enters the queue.
func (s *Store) MarkPending(ctx context.Context, key harvest.WorkKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (key, kind, term, docket, page, url, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state      = excluded.state,
			reason     = '',
			updated_at = excluded.updated_at
		WHERE work_items.state != ?`,
		key.String(), key.Kind, key.Term, key.Docket, key.Page, key.URL,
		harvest.StatePending, s.now(), harvest.StateSucceeded,
	)
	if err != nil {
		return &harvest.TrackerError{Op: "mark_pending", Err: err}
	}
	return nil
}

// MarkInProgress records that an attempt for the key has started and bumps
// the attempt counter.
func (s *Store) MarkInProgress(ctx context.Context, key harvest.WorkKey) error {
	return s.setState(ctx, "mark_in_progress", key, harvest.StateInProgress, "", 1)
}

// MarkSucceeded records terminal success. Idempotent.
func (s *Store) MarkSucceeded(ctx context.Context, key harvest.WorkKey) error {
	return s.setState(ctx, "mark_succeeded", key, harvest.StateSucceeded, "", 0)
}

// MarkFailed records a failure with its reason.
func (s *Store) MarkFailed(ctx context.Context, key harvest.WorkKey, reason string) error {
	return s.setState(ctx, "mark_failed", key, harvest.StateFailed, reason, 0)
}

// setState upserts the record. Succeeded is terminal: the guard keeps any
// later mark from reviving a completed key.
func (s *Store) setState(ctx context.Context, op string, key harvest.WorkKey, state harvest.State, reason string, attemptDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (key, kind, term, docket, page, url, state, reason, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state      = excluded.state,
			reason     = excluded.reason,
			attempts   = work_items.attempts + ?,
			updated_at = excluded.updated_at
		WHERE work_items.state != ?`,
		key.String(), key.Kind, key.Term, key.Docket, key.Page, key.URL,
		state, reason, attemptDelta, s.now(), attemptDelta, harvest.StateSucceeded,
	)
	if err != nil {
		return &harvest.TrackerError{Op: op, Err: err}
	}
	return nil
}

// Snapshot reads the full ledger grouped by state.
func (s *Store) Snapshot(ctx context.Context) (harvest.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, term, docket, page, url, state, reason, attempts, updated_at
		FROM work_items ORDER BY updated_at, key`)
	if err != nil {
		return harvest.Snapshot{}, &harvest.TrackerError{Op: "snapshot", Err: err}
	}
	defer rows.Close()

	var snap harvest.Snapshot
	for rows.Next() {
		var rec harvest.Record
		var updatedAt string
		if err := rows.Scan(
			&rec.Key.Kind, &rec.Key.Term, &rec.Key.Docket, &rec.Key.Page, &rec.Key.URL,
			&rec.State, &rec.Reason, &rec.Attempts, &updatedAt,
		); err != nil {
			return harvest.Snapshot{}, &harvest.TrackerError{Op: "snapshot", Err: err}
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			rec.UpdatedAt = ts
		}
		switch rec.State {
		case harvest.StateSucceeded:
			snap.Succeeded = append(snap.Succeeded, rec)
		case harvest.StateFailed:
			snap.Failed = append(snap.Failed, rec)
		default:
			snap.Pending = append(snap.Pending, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return harvest.Snapshot{}, &harvest.TrackerError{Op: "snapshot", Err: err}
	}
	return snap, nil
}

// Stats returns per-state counts without materializing records.
func (s *Store) Stats(ctx context.Context) (map[harvest.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM work_items GROUP BY state`)
	if err != nil {
		return nil, &harvest.TrackerError{Op: "stats", Err: err}
	}
	defer rows.Close()

	counts := make(map[harvest.State]int)
	for rows.Next() {
		var st harvest.State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, &harvest.TrackerError{Op: "stats", Err: err}
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &harvest.TrackerError{Op: "stats", Err: err}
	}
	return counts, nil
}

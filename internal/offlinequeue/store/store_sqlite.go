package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"relief/internal/offlinequeue/models"
	"relief/internal/platform/sqlite"
	"relief/pkg/platform/sentinel"
)

// SchemaVersion is stamped into PRAGMA user_version.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	queued_at      TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('pending', 'failed')),
	failure_reason TEXT NOT NULL DEFAULT '',
	payload        BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_lease (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);`

// SQLite is the durable queue on the field device. Rows keep their insertion order
// through the autoincrement seq column.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the queue database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlite.Open(path, schema, SchemaVersion)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// NewSQLite wraps an already opened database. The schema must exist.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, e models.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_entries (id, queued_at, status, failure_reason, payload) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.QueuedAt.UTC().Format(time.RFC3339Nano), string(e.Status), e.FailureReason, []byte(e.Payload))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("append entry %s: %w", e.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("append entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queued_at, status, failure_reason, payload FROM queue_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var (
			e        models.Entry
			queuedAt string
			status   string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &queuedAt, &status, &e.FailureReason, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.QueuedAt, err = time.Parse(time.RFC3339Nano, queuedAt)
		if err != nil {
			return nil, fmt.Errorf("parse queued_at of %s: %w", e.ID, err)
		}
		e.Status = models.Status(status)
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Update rewrites status and failure reason. Payload and queue position never change.
func (s *SQLite) Update(ctx context.Context, e models.Entry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, failure_reason = ? WHERE id = ?`,
		string(e.Status), e.FailureReason, e.ID)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update entry %s: %w", e.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	return nil
}

// AcquireLease takes the single sync lease row for owner, or extends it when owner
// already holds it. An expired lease is taken over. The upsert is one statement, so
// two processes on the same file cannot both win.
func (s *SQLite) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sync_lease (id, owner, expires_at) VALUES (1, ?, ?)
ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE sync_lease.owner = excluded.owner OR sync_lease.expires_at <= ?`,
		owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (s *SQLite) ReleaseLease(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_lease WHERE id = 1 AND owner = ?`, owner); err != nil {
		return fmt.Errorf("release sync lease: %w", err)
	}
	return nil
}

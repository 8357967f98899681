package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relief/internal/offlinecache/models"
	"relief/internal/platform/sqlite"
	"relief/pkg/platform/sentinel"
)

// SchemaVersion is stamped into PRAGMA user_version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS cached_responses (
	cache        TEXT    NOT NULL,
	url          TEXT    NOT NULL,
	status       INTEGER NOT NULL,
	content_type TEXT    NOT NULL DEFAULT '',
	kind         TEXT    NOT NULL,
	body         BLOB    NOT NULL,
	stored_at    TEXT    NOT NULL,
	PRIMARY KEY (cache, url)
);`

// SQLite keeps the cache on the device so pages survive a restart while offline.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlite.Open(path, schema, SchemaVersion)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, cache, url string) (*models.CachedResponse, error) {
	var (
		resp     = models.CachedResponse{Cache: cache, URL: url}
		kind     string
		storedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, content_type, kind, body, stored_at FROM cached_responses WHERE cache = ? AND url = ?`,
		cache, url,
	).Scan(&resp.Status, &resp.ContentType, &kind, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached %s %s: %w", cache, url, err)
	}
	resp.Kind = models.Kind(kind)
	if resp.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt); err != nil {
		return nil, fmt.Errorf("parse stored_at: %w", err)
	}
	return &resp, nil
}

func (s *SQLite) Put(ctx context.Context, resp models.CachedResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_responses (cache, url, status, content_type, kind, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache, url) DO UPDATE SET
			status = excluded.status,
			content_type = excluded.content_type,
			kind = excluded.kind,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		resp.Cache, resp.URL, resp.Status, resp.ContentType, string(resp.Kind), resp.Body,
		resp.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put cached %s %s: %w", resp.Cache, resp.URL, err)
	}
	return nil
}

func (s *SQLite) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cache FROM cached_responses ORDER BY cache`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) Drop(ctx context.Context, cache string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_responses WHERE cache = ?`, cache); err != nil {
		return fmt.Errorf("drop cache %s: %w", cache, err)
	}
	return nil
}

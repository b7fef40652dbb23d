// Package index keeps document metadata (title, timestamps, view count and
// tags) in a SQLite database.
//
// The database is opened with a single connection and every multi-statement
// operation runs in one transaction, so a reader never observes a partially
// replaced tag set.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "modernc.org/sqlite" // database/sql driver
)

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	filename TEXT UNIQUE NOT NULL,
	title TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	view_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY(document_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at DESC, filename);
`

var (
	// ErrNotFound is returned when no metadata row exists for the document.
	ErrNotFound = errors.New("metadata not found")
	// ErrInvalidTag is returned for an empty tag name.
	ErrInvalidTag = errors.New("invalid tag name")
)

// Index is the metadata index.
type Index struct {
	db    *sql.DB
	clock clock
}

// Open opens or creates the SQLite database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	x := &Index{db: db}
	if err := x.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}

// Close closes the database.
func (x *Index) Close() error {
	if x.db == nil {
		return nil
	}
	return x.db.Close()
}

// DB returns the underlying database so other tables can share the
// connection.
func (x *Index) DB() *sql.DB {
	return x.db
}

func (x *Index) init(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	var v int
	err := x.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := x.db.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unsupported schema version %d, want %d", v, schemaVersion)
	}
	var last int64
	err = x.db.QueryRowContext(ctx, "SELECT MAX(COALESCE(MAX(created_at), 0), COALESCE(MAX(updated_at), 0)) FROM documents").Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to seed clock: %w", err)
	}
	x.clock.last = last
	return nil
}

// clock returns strictly increasing Unix nanosecond timestamps, even when the
// wall clock stalls or steps back.
type clock struct {
	mu   sync.Mutex
	last int64
}

func (c *clock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

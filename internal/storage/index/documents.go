package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DocumentMeta is the indexed metadata of one document.
type DocumentMeta struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ViewCount int64     `json:"view_count"`
	Tags      []string  `json:"tags"`
}

// DocumentInput describes a metadata write.
type DocumentInput struct {
	Filename string
	// Title replaces the stored title when non-nil.
	Title *string
	// Tags replaces the tag set when non-nil. An empty slice clears it.
	Tags *[]string
	// Fresh drops any stale row for Filename first so created_at restarts.
	Fresh bool
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Upsert inserts or updates the metadata row and returns its id.
//
// updated_at advances on every call. created_at is only set on insert.
func (x *Index) Upsert(ctx context.Context, in DocumentInput) (int64, error) {
	if in.Filename == "" {
		return 0, errors.New("filename is required")
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if in.Fresh {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE filename=?", in.Filename); err != nil {
			return 0, fmt.Errorf("failed to drop stale row: %w", err)
		}
	}
	var title sql.NullString
	if in.Title != nil && *in.Title != "" {
		title = sql.NullString{String: *in.Title, Valid: true}
	}
	now := x.clock.now()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents(filename, title, created_at, updated_at) VALUES(?1, ?2, ?3, ?3)
		ON CONFLICT(filename) DO UPDATE SET
			title = CASE WHEN ?4 THEN excluded.title ELSE documents.title END,
			updated_at = MAX(documents.updated_at, excluded.updated_at)
		RETURNING id
	`, in.Filename, title, now, in.Title != nil).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %q: %w", in.Filename, err)
	}
	if in.Tags != nil {
		if err := setTagsTx(ctx, tx, id, *in.Tags); err != nil {
			return 0, err
		}
	} else if in.Fresh {
		if err := purgeOrphanTags(ctx, tx); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the metadata of filename.
func (x *Index) Get(ctx context.Context, filename string) (*DocumentMeta, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.QueryContext(ctx, selectDocuments+" WHERE filename=?", filename)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%q: %w", filename, ErrNotFound)
	}
	if err := attachTags(ctx, tx, docs); err != nil {
		return nil, err
	}
	return docs[0], nil
}

// Delete removes the metadata row of filename and purges tags left without
// documents. It reports whether a row existed.
func (x *Index) Delete(ctx context.Context, filename string) (bool, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE filename=?", filename)
	if err != nil {
		return false, fmt.Errorf("failed to delete %q: %w", filename, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := purgeOrphanTags(ctx, tx); err != nil {
		return false, err
	}
	return n != 0, tx.Commit()
}

// List returns every document sorted by filename.
func (x *Index) List(ctx context.Context) ([]*DocumentMeta, error) {
	return x.queryDocuments(ctx, selectDocuments+" ORDER BY filename")
}

// ListRecent returns up to limit documents, most recently updated first.
func (x *Index) ListRecent(ctx context.Context, limit int) ([]*DocumentMeta, error) {
	if limit < 1 {
		return nil, nil
	}
	return x.queryDocuments(ctx, selectDocuments+" ORDER BY updated_at DESC, filename LIMIT ?", limit)
}

// ListByTag returns the filenames tagged with tag, sorted ascending.
//
// Tag names match exactly, including case.
func (x *Index) ListByTag(ctx context.Context, tag string) ([]string, error) {
	return x.queryStrings(ctx, `
		SELECT documents.filename
		FROM documents
		JOIN document_tags ON document_tags.document_id = documents.id
		JOIN tags ON tags.id = document_tags.tag_id
		WHERE tags.name = ?
		ORDER BY documents.filename`, tag)
}

// Filenames returns every indexed filename sorted ascending.
func (x *Index) Filenames(ctx context.Context) ([]string, error) {
	return x.queryStrings(ctx, "SELECT filename FROM documents ORDER BY filename")
}

// IncrementViewCount adds one to the view count of filename. updated_at is
// left untouched.
func (x *Index) IncrementViewCount(ctx context.Context, filename string) error {
	res, err := x.db.ExecContext(ctx, "UPDATE documents SET view_count = view_count + 1 WHERE filename=?", filename)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%q: %w", filename, ErrNotFound)
	}
	return nil
}

const maxBoundIDs = 500

const selectDocuments = "SELECT id, filename, title, created_at, updated_at, view_count FROM documents"

func (x *Index) queryDocuments(ctx context.Context, query string, args ...any) ([]*DocumentMeta, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if err := attachTags(ctx, tx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (x *Index) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]*DocumentMeta, error) {
	defer func() { _ = rows.Close() }()
	docs := []*DocumentMeta{}
	for rows.Next() {
		var d DocumentMeta
		var title sql.NullString
		var created, updated int64
		if err := rows.Scan(&d.ID, &d.Filename, &title, &created, &updated, &d.ViewCount); err != nil {
			return nil, err
		}
		d.Title = title.String
		d.CreatedAt = fromNanos(created)
		d.UpdatedAt = fromNanos(updated)
		d.Tags = []string{}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// attachTags fills Tags of every document, sorted by name.
func attachTags(ctx context.Context, q querier, docs []*DocumentMeta) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[int64]*DocumentMeta, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	query := `
		SELECT document_tags.document_id, tags.name
		FROM document_tags
		JOIN tags ON tags.id = document_tags.tag_id`
	var args []any
	// Large listings scan every association instead of binding one
	// parameter per document.
	if len(docs) <= maxBoundIDs {
		args = make([]any, 0, len(docs))
		for _, d := range docs {
			args = append(args, d.ID)
		}
		query += " WHERE document_tags.document_id IN (?" + strings.Repeat(",?", len(args)-1) + ")"
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY tags.name", args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if d := byID[id]; d != nil {
			d.Tags = append(d.Tags, name)
		}
	}
	return rows.Err()
}

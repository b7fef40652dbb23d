package index

import (
	"context"
	"database/sql"
	"fmt"
)

// TagCount is a tag and the number of documents carrying it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SetTags replaces the tag set of the document with id docID.
//
// Tags are created on first use and deleted once no document references
// them. updated_at advances.
func (x *Index) SetTags(ctx context.Context, docID int64, names []string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, "UPDATE documents SET updated_at = MAX(updated_at, ?) WHERE id=?", x.clock.now(), docID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	if err := setTagsTx(ctx, tx, docID, names); err != nil {
		return err
	}
	return tx.Commit()
}

// ListTags returns every tag with its document count, sorted by name.
func (x *Index) ListTags(ctx context.Context) ([]TagCount, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT tags.name, COUNT(document_tags.document_id)
		FROM tags
		LEFT JOIN document_tags ON tags.id = document_tags.tag_id
		GROUP BY tags.id
		ORDER BY tags.name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	tags := []TagCount{}
	for rows.Next() {
		var t TagCount
		if err := rows.Scan(&t.Name, &t.Count); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// PurgeOrphanTags deletes tags that no document references and returns how
// many were removed.
func (x *Index) PurgeOrphanTags(ctx context.Context) (int64, error) {
	res, err := x.db.ExecContext(ctx, purgeSQL)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const purgeSQL = "DELETE FROM tags WHERE NOT EXISTS (SELECT 1 FROM document_tags WHERE document_tags.tag_id = tags.id)"

func setTagsTx(ctx context.Context, tx *sql.Tx, docID int64, names []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_tags WHERE document_id=?", docID); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, name := range names {
		if name == "" {
			return ErrInvalidTag
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO tags(name) VALUES(?) ON CONFLICT(name) DO NOTHING", name); err != nil {
			return fmt.Errorf("failed to create tag %q: %w", name, err)
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name=?", name).Scan(&tagID); err != nil {
			return fmt.Errorf("failed to resolve tag %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO document_tags(document_id, tag_id) VALUES(?, ?)", docID, tagID); err != nil {
			return fmt.Errorf("failed to tag document: %w", err)
		}
	}
	return purgeOrphanTags(ctx, tx)
}

func purgeOrphanTags(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, purgeSQL); err != nil {
		return fmt.Errorf("failed to purge tags: %w", err)
	}
	return nil
}

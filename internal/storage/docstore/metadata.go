package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// MetadataUpdate is the input of UpdateMetadata. Nil fields are left
// unchanged.
type MetadataUpdate struct {
	Title *string
	Tags  *[]string
}

// UpdateMetadata changes the title and tags of a document without touching
// its content or history.
//
// The document must exist and have committed history.
func (s *Store) UpdateMetadata(ctx context.Context, name string, upd MetadataUpdate) (m *index.DocumentMeta, err error) {
	const op = "update_metadata"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	in := index.DocumentInput{Filename: name, Title: upd.Title}
	if upd.Tags != nil {
		t, msg := normalizeTags(*upd.Tags)
		if msg != "" {
			return nil, invalid(op, name, msg)
		}
		in.Tags = &t
	}

	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if err := s.requireCommitted(ctx, op, name); err != nil {
		return nil, err
	}
	if _, err := s.index.Upsert(ctx, in); err != nil {
		return nil, indexErr(op, name, err)
	}
	m, err = s.index.Get(ctx, name)
	if err != nil {
		return nil, indexErr(op, name, err)
	}
	return m, nil
}

// SetTags replaces the tag set of a document. An empty set clears it.
//
// Tags left without documents are deleted.
func (s *Store) SetTags(ctx context.Context, name string, tags []string) (m *index.DocumentMeta, err error) {
	const op = "set_tags"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	norm, msg := normalizeTags(tags)
	if msg != "" {
		return nil, invalid(op, name, msg)
	}

	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	cur, err := s.index.Get(ctx, name)
	switch {
	case err == nil:
		if err := s.index.SetTags(ctx, cur.ID, norm); err != nil {
			return nil, indexErr(op, name, err)
		}
	case errors.Is(err, index.ErrNotFound):
		if err := s.requireCommitted(ctx, op, name); err != nil {
			return nil, err
		}
		if _, err := s.index.Upsert(ctx, index.DocumentInput{Filename: name, Tags: &norm}); err != nil {
			return nil, indexErr(op, name, err)
		}
	default:
		return nil, indexErr(op, name, err)
	}
	m, err = s.index.Get(ctx, name)
	if err != nil {
		return nil, indexErr(op, name, err)
	}
	return m, nil
}

// requireCommitted fails unless the document file exists and HEAD tracks it,
// so a metadata row never points at a file absent from history.
func (s *Store) requireCommitted(ctx context.Context, op, name string) error {
	if !s.content.Exists(name) {
		return notFound(op, name)
	}
	ok, err := s.repo.Tracked(ctx, content.RelPath(name))
	if err != nil {
		return &Error{Kind: KindHistoryFailure, Op: op, Filename: name, Err: err}
	}
	if !ok {
		return &Error{Kind: KindNotFound, Op: op, Filename: name, Msg: "document has no committed history"}
	}
	return nil
}

package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// CreateRequest is the input of CreateDocument.
type CreateRequest struct {
	Filename string
	Content  string
	// Title defaults to the front matter title.
	Title *string
	// Tags defaults to the front matter tags when nil.
	Tags []string
}

// UpdateRequest is the input of UpdateDocument.
type UpdateRequest struct {
	Content string
	// Title is left unchanged when nil and not set in front matter.
	Title *string
	// Tags is left unchanged when nil and not set in front matter.
	Tags *[]string
}

// WriteResult describes a completed write.
type WriteResult struct {
	Filename string `json:"filename"`
	// Commit is empty when no commit was recorded.
	Commit   string              `json:"commit,omitempty"`
	Meta     *index.DocumentMeta `json:"metadata,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

// CreateDocument writes a new document and records "Create <name>.md".
//
// It fails with KindConflict when the document exists.
func (s *Store) CreateDocument(ctx context.Context, author git.Author, req CreateRequest) (res *WriteResult, err error) {
	const op = "create"
	start := time.Now()
	defer func() { s.record(ctx, op, start, warningsOf(res), err) }()

	name := req.Filename
	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	var tags *[]string
	if req.Tags != nil {
		t, msg := normalizeTags(req.Tags)
		if msg != "" {
			return nil, invalid(op, name, msg)
		}
		tags = &t
	}
	title, tags := fromFrontMatter([]byte(req.Content), req.Title, tags)

	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if s.content.Exists(name) {
		return nil, &Error{Kind: KindConflict, Op: op, Filename: name, Msg: "document already exists"}
	}
	return s.write(ctx, op, author, name, []byte(req.Content), "Create ", index.DocumentInput{Filename: name, Title: title, Tags: tags, Fresh: true})
}

// UpdateDocument replaces the content of an existing document and records
// "Update <name>.md".
//
// Writing identical content records no commit and returns a warning.
func (s *Store) UpdateDocument(ctx context.Context, author git.Author, name string, req UpdateRequest) (res *WriteResult, err error) {
	const op = "update"
	start := time.Now()
	defer func() { s.record(ctx, op, start, warningsOf(res), err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	tags := req.Tags
	if tags != nil {
		t, msg := normalizeTags(*tags)
		if msg != "" {
			return nil, invalid(op, name, msg)
		}
		tags = &t
	}
	title, tags := fromFrontMatter([]byte(req.Content), req.Title, tags)

	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if !s.content.Exists(name) {
		return nil, notFound(op, name)
	}
	return s.write(ctx, op, author, name, []byte(req.Content), "Update ", index.DocumentInput{Filename: name, Title: title, Tags: tags})
}

// write runs the content, history and metadata steps of create and update.
// The caller holds the filename lock.
func (s *Store) write(ctx context.Context, op string, author git.Author, name string, body []byte, verb string, in index.DocumentInput) (*WriteResult, error) {
	it, err := s.begin(op, name)
	if err != nil {
		return nil, &Error{Kind: KindStorageFailure, Op: op, Filename: name, Msg: "failed to journal write", Err: err}
	}
	if err := s.content.Write(name, body); err != nil {
		it.end(ctx, StageValidating, nil)
		return nil, contentErr(op, name, StageValidating, err)
	}

	res := &WriteResult{Filename: name}
	h, err := s.repo.Commit(ctx, author, content.RelPath(name), verb+content.RelPath(name))
	switch {
	case errors.Is(err, git.ErrNothingToCommit):
		res.Warnings = append(res.Warnings, "content matches the last commit; no commit recorded")
	case err != nil:
		it.end(ctx, StageContentWritten, err)
		return nil, &Error{Kind: KindHistoryFailure, Op: op, Filename: name, Stage: StageContentWritten, Err: err}
	default:
		res.Commit = h
	}

	if _, err := s.index.Upsert(ctx, in); err != nil {
		res.Warnings = append(res.Warnings, "metadata not updated: "+err.Error())
		it.end(ctx, StageHistoryCommitted, err)
		return res, nil
	}
	if m, err := s.index.Get(ctx, name); err == nil {
		res.Meta = m
	} else {
		res.Warnings = append(res.Warnings, "metadata not read back: "+err.Error())
	}
	it.end(ctx, StageDone, nil)
	return res, nil
}

// DeleteDocument removes a document and records "Delete <name>.md".
//
// Past versions stay readable through the history. A metadata failure is
// returned as a warning.
func (s *Store) DeleteDocument(ctx context.Context, author git.Author, name string) (res *WriteResult, err error) {
	const op = "delete"
	start := time.Now()
	defer func() { s.record(ctx, op, start, warningsOf(res), err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if !s.content.Exists(name) {
		return nil, notFound(op, name)
	}
	it, err := s.begin(op, name)
	if err != nil {
		return nil, &Error{Kind: KindStorageFailure, Op: op, Filename: name, Msg: "failed to journal write", Err: err}
	}
	if err := s.content.Delete(name); err != nil {
		it.end(ctx, StageValidating, nil)
		return nil, contentErr(op, name, StageValidating, err)
	}

	res = &WriteResult{Filename: name}
	h, err := s.repo.Remove(ctx, author, content.RelPath(name), "Delete "+content.RelPath(name))
	switch {
	case errors.Is(err, git.ErrFileNotFound), errors.Is(err, git.ErrNothingToCommit):
		res.Warnings = append(res.Warnings, "document had no committed history; no commit recorded")
	case err != nil:
		it.end(ctx, StageContentWritten, err)
		return nil, &Error{Kind: KindHistoryFailure, Op: op, Filename: name, Stage: StageContentWritten, Err: err}
	default:
		res.Commit = h
	}

	if _, err := s.index.Delete(ctx, name); err != nil {
		res.Warnings = append(res.Warnings, "metadata not deleted: "+err.Error())
		it.end(ctx, StageHistoryCommitted, err)
		return res, nil
	}
	it.end(ctx, StageDone, nil)
	return res, nil
}

// fromFrontMatter fills title and tags from the front matter of body when
// they were not given.
func fromFrontMatter(body []byte, title *string, tags *[]string) (*string, *[]string) {
	if title != nil && tags != nil {
		return title, tags
	}
	fm, ok := parseFrontMatter(body)
	if !ok {
		return title, tags
	}
	if title == nil && fm.Title != "" {
		title = &fm.Title
	}
	if tags == nil && fm.Tags != nil {
		if t, msg := normalizeTags(fm.Tags); msg == "" {
			tags = &t
		}
	}
	return title, tags
}

func warningsOf(res *WriteResult) []string {
	if res == nil {
		return nil
	}
	return res.Warnings
}

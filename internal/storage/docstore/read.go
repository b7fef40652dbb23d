package docstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// Document is the current state of a document.
type Document struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	// Meta is nil when the metadata could not be read.
	Meta *index.DocumentMeta `json:"metadata,omitempty"`
}

// Version is the content of a document as of one commit.
type Version struct {
	Filename string      `json:"filename"`
	Commit   *git.Commit `json:"commit"`
	Content  string      `json:"content"`
}

// minPrefixLen is the shortest commit id prefix GetVersionAtCommit accepts.
const minPrefixLen = 4

// GetDocument returns the current content of a document.
//
// The view count is incremented and the metadata attached on a best effort
// basis; neither can fail the read.
func (s *Store) GetDocument(ctx context.Context, name string) (doc *Document, err error) {
	const op = "get"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	body, err := s.content.Read(name)
	if err != nil {
		return nil, contentErr(op, name, StageValidating, err)
	}
	doc = &Document{Filename: name, Content: string(body)}

	mctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()
	if err := s.index.IncrementViewCount(mctx, name); err != nil && !errors.Is(err, index.ErrNotFound) {
		slog.WarnContext(ctx, "Failed to increment view count", "err", err, "filename", name)
	}
	if m, err := s.index.Get(mctx, name); err == nil {
		doc.Meta = m
	} else if !errors.Is(err, index.ErrNotFound) {
		slog.WarnContext(ctx, "Failed to read metadata", "err", err, "filename", name)
	}
	return doc, nil
}

// ListDocuments returns the metadata of every document whose filename
// matches the doublestar pattern. An empty pattern matches everything.
func (s *Store) ListDocuments(ctx context.Context, pattern string) (docs []*index.DocumentMeta, err error) {
	const op = "list"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, invalid(op, "", "invalid pattern")
	}
	all, err := s.index.List(ctx)
	if err != nil {
		return nil, indexErr(op, "", err)
	}
	if pattern == "" {
		return all, nil
	}
	docs = make([]*index.DocumentMeta, 0, len(all))
	for _, d := range all {
		if ok, _ := doublestar.Match(pattern, d.Filename); ok {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// GetHistory returns the commits that touched a document, newest first.
//
// It fails with KindNotFound when no commit ever touched it.
func (s *Store) GetHistory(ctx context.Context, name string) (commits []*git.Commit, err error) {
	const op = "history"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	commits, err = s.repo.History(ctx, content.RelPath(name))
	if err != nil {
		return nil, historyErr(op, name, err)
	}
	if len(commits) == 0 {
		return nil, &Error{Kind: KindNotFound, Op: op, Filename: name, Msg: "document has no history"}
	}
	return commits, nil
}

// GetVersionAtCommit returns the content of a document as recorded by the
// commit whose id starts with commit.
//
// The prefix is matched against the document's own history only. It fails
// with KindInvalidInput when the prefix is malformed or matches more than one
// commit, and with KindNotFound when it matches none or names the commit that
// deleted the document.
func (s *Store) GetVersionAtCommit(ctx context.Context, name, commit string) (v *Version, err error) {
	const op = "version"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	if len(commit) < minPrefixLen || !git.IsHexPrefix(commit) {
		return nil, invalid(op, name, "commit id must be 4 to 40 hex digits")
	}
	prefix := strings.ToLower(commit)
	history, err := s.repo.History(ctx, content.RelPath(name))
	if err != nil {
		return nil, historyErr(op, name, err)
	}
	var match *git.Commit
	for _, c := range history {
		if strings.HasPrefix(c.Hash, prefix) {
			if match != nil {
				return nil, invalid(op, name, "commit id prefix is ambiguous")
			}
			match = c
		}
	}
	if match == nil {
		return nil, &Error{Kind: KindNotFound, Op: op, Filename: name, Msg: "no commit " + commit + " in the document history"}
	}
	body, err := s.repo.FileAt(ctx, match.Hash, content.RelPath(name))
	if err != nil {
		return nil, historyErr(op, name, err)
	}
	return &Version{Filename: name, Commit: match, Content: string(body)}, nil
}

// ListByTag returns the filenames carrying tag, sorted ascending.
func (s *Store) ListByTag(ctx context.Context, tag string) (names []string, err error) {
	const op = "list_by_tag"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if _, msg := normalizeTags([]string{tag}); msg != "" {
		return nil, invalid(op, "", msg)
	}
	names, err = s.index.ListByTag(ctx, tag)
	if err != nil {
		return nil, indexErr(op, "", err)
	}
	return names, nil
}

// ListRecent returns up to limit documents, most recently updated first.
func (s *Store) ListRecent(ctx context.Context, limit int) (docs []*index.DocumentMeta, err error) {
	const op = "list_recent"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if limit < 1 {
		return nil, invalid(op, "", "limit must be at least 1")
	}
	docs, err = s.index.ListRecent(ctx, limit)
	if err != nil {
		return nil, indexErr(op, "", err)
	}
	return docs, nil
}

// ListTags returns every tag with its document count.
func (s *Store) ListTags(ctx context.Context) (tags []index.TagCount, err error) {
	const op = "list_tags"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	tags, err = s.index.ListTags(ctx)
	if err != nil {
		return nil, indexErr(op, "", err)
	}
	return tags, nil
}

// GetMetadata returns the indexed metadata of a document.
func (s *Store) GetMetadata(ctx context.Context, name string) (m *index.DocumentMeta, err error) {
	const op = "get_metadata"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if msg := ValidateFilename(name); msg != "" {
		return nil, invalid(op, name, msg)
	}
	m, err = s.index.Get(ctx, name)
	if err != nil {
		return nil, indexErr(op, name, err)
	}
	return m, nil
}

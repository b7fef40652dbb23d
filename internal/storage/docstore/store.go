// Package docstore keeps document content, git history and the metadata
// index consistent.
//
// Every write follows the same steps: validate, write the content file,
// commit it, then update the metadata index. A per-filename lock is held
// across the steps so two writes to the same document never interleave.
// Once the content file is touched the write runs to completion even if the
// caller's context is canceled.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maruel/gitwiki/internal/metrics"
	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
	"github.com/maruel/gitwiki/internal/storage/journal"
	"github.com/maruel/ksid"
)

// metaTimeout bounds the best-effort metadata work done on reads.
const metaTimeout = 200 * time.Millisecond

// Store is the document store.
type Store struct {
	content *content.Store
	repo    *git.Repo
	index   *index.Index
	journal *journal.Journal
	metrics *metrics.Metrics

	locks keyLock
	owned bool
}

// New returns a Store over already opened components. j and m may be nil.
//
// The caller keeps ownership of the components; Close is a no-op.
func New(c *content.Store, r *git.Repo, x *index.Index, j *journal.Journal, m *metrics.Metrics) *Store {
	return &Store{content: c, repo: r, index: x, journal: j, metrics: m}
}

// Options configures Open.
type Options struct {
	// DataDir holds pages/, index.db and journal.jsonl.
	DataDir string
	// AuthorName and AuthorEmail are the committer identity.
	AuthorName  string
	AuthorEmail string
	Metrics     *metrics.Metrics
}

// Open opens or creates every component under opts.DataDir.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	c, err := content.New(filepath.Join(opts.DataDir, "pages"))
	if err != nil {
		return nil, err
	}
	r, err := git.Open(ctx, c.Root(), opts.AuthorName, opts.AuthorEmail)
	if err != nil {
		return nil, err
	}
	x, err := index.Open(ctx, filepath.Join(opts.DataDir, "index.db"))
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	j, err := journal.Open(filepath.Join(opts.DataDir, "journal.jsonl"))
	if err != nil {
		_ = x.Close()
		_ = r.Close()
		return nil, err
	}
	s := New(c, r, x, j, opts.Metrics)
	s.owned = true
	return s, nil
}

// Close stops the history writer and closes the index when the Store was
// created by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return errors.Join(s.repo.Close(), s.index.Close())
}

// DB returns the metadata database so other tables can share it.
func (s *Store) DB() *sql.DB {
	return s.index.DB()
}

// Content returns the content store.
func (s *Store) Content() *content.Store {
	return s.content
}

// intent tracks one journaled write.
type intent struct {
	j  *journal.Journal
	id ksid.ID
}

func (s *Store) begin(op, filename string) (intent, error) {
	if s.journal == nil {
		return intent{}, nil
	}
	id, err := s.journal.Begin(op, filename)
	if err != nil {
		return intent{}, err
	}
	return intent{j: s.journal, id: id}, nil
}

// end closes the intent when cause is nil and records the failure otherwise.
func (i intent) end(ctx context.Context, stage Stage, cause error) {
	if i.j == nil {
		return
	}
	if err := i.j.End(i.id, stage.String(), cause); err != nil {
		slog.ErrorContext(ctx, "Failed to write journal", "err", err, "id", i.id)
	}
}

// record emits the metrics and logs of a finished operation.
func (s *Store) record(ctx context.Context, op string, start time.Time, warnings []string, err error) {
	result := "ok"
	switch {
	case err != nil:
		if k := KindOf(err); k != 0 {
			result = k.String()
		} else {
			result = "error"
		}
	case len(warnings) != 0:
		result = "warning"
		s.metrics.RecordWarning(op)
	}
	s.metrics.RecordStoreOperation(op, result, time.Since(start))
	switch k := KindOf(err); {
	case err == nil:
	case k == KindStorageFailure || k == KindHistoryFailure || k == KindIndexFailure:
		slog.ErrorContext(ctx, "Document store operation failed", "op", op, "err", err)
	default:
		slog.DebugContext(ctx, "Document store operation rejected", "op", op, "err", err)
	}
	for _, w := range warnings {
		slog.WarnContext(ctx, "Document store operation degraded", "op", op, "warning", w)
	}
}

// indexErr maps a metadata index error.
func indexErr(op, filename string, err error) error {
	if errors.Is(err, index.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Filename: filename, Err: err}
	}
	if errors.Is(err, index.ErrInvalidTag) {
		return &Error{Kind: KindInvalidInput, Op: op, Filename: filename, Err: err}
	}
	return &Error{Kind: KindIndexFailure, Op: op, Filename: filename, Err: err}
}

// historyErr maps a history engine error on a read.
func historyErr(op, filename string, err error) error {
	switch {
	case errors.Is(err, git.ErrFileNotFound), errors.Is(err, git.ErrCommitNotFound), errors.Is(err, git.ErrNoCommits):
		return &Error{Kind: KindNotFound, Op: op, Filename: filename, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &Error{Kind: KindHistoryFailure, Op: op, Filename: filename, Err: err}
	}
}

// contentErr maps a content store error.
func contentErr(op, filename string, stage Stage, err error) error {
	if errors.Is(err, content.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Filename: filename, Stage: stage, Err: err}
	}
	return &Error{Kind: KindStorageFailure, Op: op, Filename: filename, Stage: stage, Err: err}
}

func notFound(op, filename string) error {
	return &Error{Kind: KindNotFound, Op: op, Filename: filename, Msg: "document does not exist"}
}

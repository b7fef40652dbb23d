package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
	"github.com/maruel/gitwiki/internal/storage/journal"
)

// ReconcileReport counts the repairs made by Reconcile.
type ReconcileReport struct {
	// Committed is the number of content files committed because they were
	// untracked or differed from HEAD.
	Committed int `json:"committed"`
	// Removed is the number of tracked files missing on disk whose removal
	// was committed.
	Removed int `json:"removed"`
	// MetadataCreated is the number of metadata rows created for files
	// lacking one.
	MetadataCreated int `json:"metadata_created"`
	// MetadataDeleted is the number of metadata rows deleted because their
	// file is gone.
	MetadataDeleted int `json:"metadata_deleted"`
	// TagsPurged is the number of tags deleted for having no documents.
	TagsPurged int64 `json:"tags_purged"`
	// Errors lists the documents that could not be repaired.
	Errors []string `json:"errors,omitempty"`
}

// Reconcile brings history and metadata in line with the content directory.
//
// Every document found on disk, in HEAD, in the index or in the write
// journal is checked. Files that changed outside the store are committed as
// "Reconcile <name>.md", metadata rows are created or deleted to match the
// files, orphan tags are purged and completed journal intents are dropped.
func (s *Store) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	names := map[string]struct{}{}
	for name, err := range s.content.List() {
		if err != nil {
			return nil, &Error{Kind: KindStorageFailure, Op: "reconcile", Err: err}
		}
		names[name] = struct{}{}
	}
	tracked, err := s.repo.TrackedFiles(ctx)
	if err != nil {
		return nil, &Error{Kind: KindHistoryFailure, Op: "reconcile", Err: err}
	}
	for _, f := range tracked {
		if name, ok := strings.CutSuffix(f, content.Ext); ok && ValidateFilename(name) == "" {
			names[name] = struct{}{}
		}
	}
	indexed, err := s.index.Filenames(ctx)
	if err != nil {
		return nil, indexErr("reconcile", "", err)
	}
	for _, name := range indexed {
		names[name] = struct{}{}
	}
	if s.journal != nil {
		for _, e := range s.journal.Pending() {
			if ValidateFilename(e.Filename) == "" {
				names[e.Filename] = struct{}{}
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	slices.Sort(sorted)
	rep, err := s.ReconcileFiles(ctx, sorted)
	if err != nil {
		return nil, err
	}
	if s.journal != nil {
		if err := s.journal.Compact(); err != nil {
			slog.ErrorContext(ctx, "Failed to compact journal", "err", err)
		}
	}
	return rep, nil
}

// ReconcileFiles runs the repairs of Reconcile on the named documents only.
func (s *Store) ReconcileFiles(ctx context.Context, names []string) (rep *ReconcileReport, err error) {
	const op = "reconcile"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	// Only intents open before the repair started are closed by it. A write
	// that begins once a name is unlocked again owns its own intent.
	var pending []journal.Entry
	if s.journal != nil {
		for _, e := range s.journal.Pending() {
			if slices.Contains(names, e.Filename) {
				pending = append(pending, e)
			}
		}
	}
	rep = &ReconcileReport{}
	failed := map[string]bool{}
	for _, name := range names {
		if msg := ValidateFilename(name); msg != "" {
			continue
		}
		if err := s.reconcileOne(ctx, name, rep); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			failed[name] = true
			rep.Errors = append(rep.Errors, err.Error())
			slog.ErrorContext(ctx, "Failed to reconcile document", "err", err, "filename", name)
		}
	}
	if rep.TagsPurged, err = s.index.PurgeOrphanTags(ctx); err != nil {
		return nil, indexErr(op, "", err)
	}
	s.endIntents(ctx, pending, failed)
	s.metrics.RecordRepairs("committed", rep.Committed)
	s.metrics.RecordRepairs("removed", rep.Removed)
	s.metrics.RecordRepairs("metadata_created", rep.MetadataCreated)
	s.metrics.RecordRepairs("metadata_deleted", rep.MetadataDeleted)
	s.metrics.RecordRepairs("tags_purged", int(rep.TagsPurged))
	if rep.Committed+rep.Removed+rep.MetadataCreated+rep.MetadataDeleted != 0 {
		slog.InfoContext(ctx, "Reconciled documents", "committed", rep.Committed, "removed", rep.Removed,
			"metadata_created", rep.MetadataCreated, "metadata_deleted", rep.MetadataDeleted)
	}
	return rep, nil
}

// endIntents closes the given intents except those of failed documents.
func (s *Store) endIntents(ctx context.Context, pending []journal.Entry, failed map[string]bool) {
	if s.journal == nil {
		return
	}
	for _, e := range pending {
		if failed[e.Filename] {
			continue
		}
		if err := s.journal.End(e.ID, "reconciled", nil); err != nil {
			slog.ErrorContext(ctx, "Failed to write journal", "err", err, "id", e.ID)
		}
	}
}

func (s *Store) reconcileOne(ctx context.Context, name string, rep *ReconcileReport) error {
	unlock, err := s.locks.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	rel := content.RelPath(name)
	onDisk := s.content.Exists(name)
	_, err = s.repo.Commit(ctx, git.Author{}, rel, "Reconcile "+rel)
	switch {
	case err == nil:
		if onDisk {
			rep.Committed++
		} else {
			rep.Removed++
		}
	case errors.Is(err, git.ErrNothingToCommit), errors.Is(err, git.ErrFileNotFound):
	default:
		return fmt.Errorf("%s: %w", name, err)
	}

	_, err = s.index.Get(ctx, name)
	switch {
	case err == nil:
		if !onDisk {
			if _, err := s.index.Delete(ctx, name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			rep.MetadataDeleted++
		}
	case errors.Is(err, index.ErrNotFound):
		if onDisk {
			in := index.DocumentInput{Filename: name}
			if body, err := s.content.Read(name); err == nil {
				in.Title, in.Tags = fromFrontMatter(body, nil, nil)
			}
			if _, err := s.index.Upsert(ctx, in); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			rep.MetadataCreated++
		}
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

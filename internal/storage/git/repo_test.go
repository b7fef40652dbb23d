package git

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestRepo(t *testing.T) (*Repo, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(t.Context(), dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, dir
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestRepo(t *testing.T) {
	t.Parallel()

	t.Run("Init", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			t.Fatalf(".git directory not created: %v", err)
		}
		if _, err := r.Head(t.Context()); !errors.Is(err, ErrNoCommits) {
			t.Errorf("Head() = %v, want ErrNoCommits", err)
		}
		if _, err := r.History(t.Context(), "a.md"); !errors.Is(err, ErrNoCommits) {
			t.Errorf("History() = %v, want ErrNoCommits", err)
		}
		n, err := r.CommitCount(t.Context())
		if err != nil || n != 0 {
			t.Errorf("CommitCount() = %d, %v; want 0, nil", n, err)
		}
		// Reopen an existing repository.
		r2, err := Open(t.Context(), dir, "Test User", "test@example.com")
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		_ = r2.Close()
	})

	t.Run("CommitAndHistory", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		ctx := t.Context()
		author := Author{Name: "Author", Email: "author@example.com"}

		writeFile(t, dir, "intro.md", "# Hi")
		h1, err := r.Commit(ctx, author, "intro.md", "Create intro.md")
		if err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		if !IsFullHash(h1) {
			t.Fatalf("Commit() returned %q", h1)
		}
		writeFile(t, dir, "other.md", "x")
		if _, err := r.Commit(ctx, author, "other.md", "Create other.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		writeFile(t, dir, "intro.md", "# Hello")
		h2, err := r.Commit(ctx, Author{}, "intro.md", "Update intro.md")
		if err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}

		history, err := r.History(ctx, "intro.md")
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("len(History()) = %d, want 2", len(history))
		}
		if history[0].Hash != h2 || history[1].Hash != h1 {
			t.Errorf("History() order = %s, %s; want %s, %s", history[0].Hash, history[1].Hash, h2, h1)
		}
		if history[0].Message != "Update intro.md" {
			t.Errorf("Message = %q", history[0].Message)
		}
		if history[0].Author != "Test User" {
			t.Errorf("empty author should default, got %q", history[0].Author)
		}
		if history[1].Author != "Author" || history[1].AuthorEmail != "author@example.com" {
			t.Errorf("Author = %q <%s>", history[1].Author, history[1].AuthorEmail)
		}

		got, err := r.FileAt(ctx, h1, "intro.md")
		if err != nil {
			t.Fatalf("FileAt() failed: %v", err)
		}
		if string(got) != "# Hi" {
			t.Errorf("FileAt(h1) = %q, want %q", got, "# Hi")
		}
		if _, err := r.FileAt(ctx, h1, "missing.md"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("FileAt(missing) = %v, want ErrFileNotFound", err)
		}
		if _, err := r.FileAt(ctx, "0123456789012345678901234567890123456789", "intro.md"); !errors.Is(err, ErrCommitNotFound) {
			t.Errorf("FileAt(unknown) = %v, want ErrCommitNotFound", err)
		}
		if _, err := r.FileAt(ctx, "abc", "intro.md"); !errors.Is(err, ErrCommitNotFound) {
			t.Errorf("FileAt(short) = %v, want ErrCommitNotFound", err)
		}
		n, err := r.CommitCount(ctx)
		if err != nil || n != 3 {
			t.Errorf("CommitCount() = %d, %v; want 3, nil", n, err)
		}
		files, err := r.TrackedFiles(ctx)
		if err != nil {
			t.Fatalf("TrackedFiles() failed: %v", err)
		}
		if len(files) != 2 {
			t.Errorf("TrackedFiles() = %v", files)
		}
	})

	t.Run("NothingToCommit", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		ctx := t.Context()
		writeFile(t, dir, "a.md", "same")
		if _, err := r.Commit(ctx, Author{}, "a.md", "Create a.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		writeFile(t, dir, "a.md", "same")
		if _, err := r.Commit(ctx, Author{}, "a.md", "Update a.md"); !errors.Is(err, ErrNothingToCommit) {
			t.Fatalf("Commit() = %v, want ErrNothingToCommit", err)
		}
		if _, err := r.Commit(ctx, Author{}, "never.md", "Create never.md"); !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("Commit(missing) = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("RemoveAndRecreate", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		ctx := t.Context()
		writeFile(t, dir, "a.md", "v1")
		if _, err := r.Commit(ctx, Author{}, "a.md", "Create a.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		if err := os.Remove(filepath.Join(dir, "a.md")); err != nil {
			t.Fatal(err)
		}
		hd, err := r.Remove(ctx, Author{}, "a.md", "Delete a.md")
		if err != nil {
			t.Fatalf("Remove() failed: %v", err)
		}
		if ok, err := r.Tracked(ctx, "a.md"); err != nil || ok {
			t.Errorf("Tracked() = %v, %v; want false", ok, err)
		}
		if _, err := r.Remove(ctx, Author{}, "a.md", "Delete a.md"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("Remove() twice = %v, want ErrFileNotFound", err)
		}
		if _, err := r.FileAt(ctx, hd, "a.md"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("FileAt(deletion) = %v, want ErrFileNotFound", err)
		}
		writeFile(t, dir, "a.md", "v2")
		if _, err := r.Commit(ctx, Author{}, "a.md", "Create a.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		history, err := r.History(ctx, "a.md")
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		want := []string{"Create a.md", "Delete a.md", "Create a.md"}
		if len(history) != len(want) {
			t.Fatalf("len(History()) = %d, want %d", len(history), len(want))
		}
		for i, c := range history {
			if c.Message != want[i] {
				t.Errorf("History()[%d] = %q, want %q", i, c.Message, want[i])
			}
		}
	})

	t.Run("CommitStagesDeletion", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		ctx := t.Context()
		writeFile(t, dir, "a.md", "v1")
		if _, err := r.Commit(ctx, Author{}, "a.md", "Create a.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		if err := os.Remove(filepath.Join(dir, "a.md")); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Commit(ctx, Author{}, "a.md", "Delete a.md"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		if ok, _ := r.Tracked(ctx, "a.md"); ok {
			t.Error("a.md still tracked")
		}
	})

	t.Run("ConcurrentCommits", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		ctx := t.Context()
		names := []string{"a.md", "b.md", "c.md", "d.md", "e.md", "f.md"}
		var wg sync.WaitGroup
		errs := make(chan error, len(names))
		for _, n := range names {
			writeFile(t, dir, n, n)
			wg.Go(func() {
				if _, err := r.Commit(ctx, Author{}, n, "Create "+n); err != nil {
					errs <- err
				}
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("Commit() failed: %v", err)
		}
		n, err := r.CommitCount(ctx)
		if err != nil || n != len(names) {
			t.Errorf("CommitCount() = %d, %v; want %d", n, err, len(names))
		}
		for _, name := range names {
			h, err := r.History(ctx, name)
			if err != nil || len(h) != 1 {
				t.Errorf("History(%s) = %d commits, %v", name, len(h), err)
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		t.Parallel()
		r, dir := newTestRepo(t)
		writeFile(t, dir, "a.md", "x")
		if err := r.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
		if _, err := r.Commit(t.Context(), Author{}, "a.md", "Create a.md"); !errors.Is(err, ErrClosed) {
			t.Errorf("Commit() after Close() = %v, want ErrClosed", err)
		}
	})
}

func TestIsHexPrefix(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]bool{
		"":         false,
		"abcd":     true,
		"ABCD0123": true,
		"xyz1":     false,
		"0123456789abcdef0123456789abcdef01234567":  true,
		"0123456789abcdef0123456789abcdef012345678": false,
	} {
		if got := IsHexPrefix(s); got != want {
			t.Errorf("IsHexPrefix(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestRepoError(t *testing.T) {
	t.Parallel()
	inner := errors.New("disk full")
	var err error = &RepoError{Op: "commit", Err: inner}
	if !errors.Is(err, ErrRepository) || !errors.Is(err, inner) {
		t.Errorf("errors.Is() failed on %v", err)
	}
	if err.Error() != "git commit: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

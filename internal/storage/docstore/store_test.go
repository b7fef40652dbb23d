package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/gitwiki/internal/metrics"
	"github.com/maruel/gitwiki/internal/storage/content"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
	"github.com/maruel/gitwiki/internal/storage/journal"
)

var testAuthor = git.Author{Name: "Alice", Email: "alice@example.com"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.Context(), Options{
		DataDir:     t.TempDir(),
		AuthorName:  "gitwiki",
		AuthorEmail: "gitwiki@localhost",
		Metrics:     metrics.New(),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T {
	return &v
}

func assertKind(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want kind %s", err, want.Kind)
	}
}

func assertNoOrphanTags(t *testing.T, s *Store) {
	t.Helper()
	tags, err := s.ListTags(t.Context())
	if err != nil {
		t.Fatalf("ListTags() failed: %v", err)
	}
	for _, tag := range tags {
		if tag.Count == 0 {
			t.Errorf("tag %q has no documents", tag.Name)
		}
	}
}

func TestIntroScenario(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	res, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "intro", Content: "# Hello", Tags: []string{"draft"}})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if res.Commit == "" || len(res.Warnings) != 0 {
		t.Fatalf("CreateDocument() = %+v", res)
	}
	first := res.Commit

	names, err := s.ListByTag(ctx, "draft")
	if err != nil {
		t.Fatalf("ListByTag() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"intro"}, names); diff != "" {
		t.Errorf("ListByTag(draft) mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.UpdateDocument(ctx, testAuthor, "intro", UpdateRequest{Content: "# Hello v2"}); err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	history, err := s.GetHistory(ctx, "intro")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(GetHistory()) = %d, want 2", len(history))
	}
	if history[0].Message != "Update intro.md" || history[1].Message != "Create intro.md" {
		t.Errorf("messages = %q, %q", history[0].Message, history[1].Message)
	}
	if history[0].Author != "Alice" || history[0].AuthorEmail != "alice@example.com" {
		t.Errorf("author = %q <%s>", history[0].Author, history[0].AuthorEmail)
	}

	if _, err := s.SetTags(ctx, "intro", []string{}); err != nil {
		t.Fatalf("SetTags() failed: %v", err)
	}
	names, err = s.ListByTag(ctx, "draft")
	if err != nil {
		t.Fatalf("ListByTag() failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("ListByTag(draft) = %v, want empty", names)
	}
	tags, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("ListTags() = %v, want no tags", tags)
	}

	if _, err := s.DeleteDocument(ctx, testAuthor, "intro"); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	_, err = s.GetDocument(ctx, "intro")
	assertKind(t, err, ErrNotFound)

	v, err := s.GetVersionAtCommit(ctx, "intro", first)
	if err != nil {
		t.Fatalf("GetVersionAtCommit() failed: %v", err)
	}
	if v.Content != "# Hello" {
		t.Errorf("GetVersionAtCommit() = %q, want %q", v.Content, "# Hello")
	}
}

func TestCreateReadUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	body := "line one\n\ttabs and ünïcode\r\nno trailing newline"
	res, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "notes 2024", Content: body, Title: ptr("Notes"), Tags: []string{"b", "a", "b"}})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if res.Meta == nil || res.Meta.Title != "Notes" {
		t.Fatalf("Meta = %+v", res.Meta)
	}
	if diff := cmp.Diff([]string{"a", "b"}, res.Meta.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}

	doc, err := s.GetDocument(ctx, "notes 2024")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Content != body {
		t.Errorf("GetDocument() = %q, want %q", doc.Content, body)
	}
	if doc.Meta == nil || doc.Meta.ViewCount != 1 {
		t.Errorf("Meta = %+v, want view count 1", doc.Meta)
	}

	_, err = s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "notes 2024", Content: "x"})
	assertKind(t, err, ErrConflict)
	_, err = s.UpdateDocument(ctx, testAuthor, "missing", UpdateRequest{Content: "x"})
	assertKind(t, err, ErrNotFound)
	_, err = s.DeleteDocument(ctx, testAuthor, "missing")
	assertKind(t, err, ErrNotFound)

	// Title and tags survive an update that does not name them.
	up, err := s.UpdateDocument(ctx, testAuthor, "notes 2024", UpdateRequest{Content: "changed"})
	if err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	if up.Meta.Title != "Notes" || len(up.Meta.Tags) != 2 {
		t.Errorf("Meta after update = %+v", up.Meta)
	}
	if !up.Meta.UpdatedAt.After(res.Meta.UpdatedAt) || !up.Meta.CreatedAt.Equal(res.Meta.CreatedAt) {
		t.Errorf("timestamps: create %+v update %+v", res.Meta, up.Meta)
	}

	// Same content: no commit, warning.
	same, err := s.UpdateDocument(ctx, testAuthor, "notes 2024", UpdateRequest{Content: "changed"})
	if err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	if same.Commit != "" || len(same.Warnings) != 1 {
		t.Errorf("UpdateDocument(same) = %+v", same)
	}
	history, err := s.GetHistory(ctx, "notes 2024")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("len(GetHistory()) = %d, want 2", len(history))
	}
}

func TestHistoryAndVersions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	const n = 5
	if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "doc", Content: "v0"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	// Interleave commits on another document; they must not show up.
	if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "other", Content: "o"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	for i := 1; i < n; i++ {
		if _, err := s.UpdateDocument(ctx, testAuthor, "doc", UpdateRequest{Content: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatalf("UpdateDocument() failed: %v", err)
		}
	}
	history, err := s.GetHistory(ctx, "doc")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != n {
		t.Fatalf("len(GetHistory()) = %d, want %d", len(history), n)
	}
	for i := 1; i < len(history); i++ {
		if history[i].CommitDate.After(history[i-1].CommitDate) {
			t.Errorf("history not newest first at %d", i)
		}
	}
	for i, c := range history {
		want := fmt.Sprintf("v%d", n-1-i)
		for range 2 {
			v, err := s.GetVersionAtCommit(ctx, "doc", c.Hash)
			if err != nil {
				t.Fatalf("GetVersionAtCommit() failed: %v", err)
			}
			if v.Content != want {
				t.Errorf("GetVersionAtCommit(%s) = %q, want %q", c.Hash[:7], v.Content, want)
			}
		}
		// Short prefixes resolve too.
		v, err := s.GetVersionAtCommit(ctx, "doc", c.Hash[:12])
		if err != nil || v.Content != want {
			t.Errorf("GetVersionAtCommit(prefix) = %v, %v", v, err)
		}
	}

	_, err = s.GetVersionAtCommit(ctx, "doc", "zzzz")
	assertKind(t, err, ErrInvalidInput)
	_, err = s.GetVersionAtCommit(ctx, "doc", "ab")
	assertKind(t, err, ErrInvalidInput)
	_, err = s.GetVersionAtCommit(ctx, "doc", "0000000000000000000000000000000000000000")
	assertKind(t, err, ErrNotFound)
	_, err = s.GetHistory(ctx, "never")
	assertKind(t, err, ErrNotFound)
}

func TestDeleteRecreate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	first, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "a", Content: "one", Tags: []string{"t"}})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	del, err := s.DeleteDocument(ctx, testAuthor, "a")
	if err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	if del.Commit == "" {
		t.Error("DeleteDocument() recorded no commit")
	}
	_, err = s.GetMetadata(ctx, "a")
	assertKind(t, err, ErrNotFound)
	assertNoOrphanTags(t, s)

	// The deletion commit has no content for the file.
	_, err = s.GetVersionAtCommit(ctx, "a", del.Commit)
	assertKind(t, err, ErrNotFound)

	second, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "a", Content: "two"})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if !second.Meta.CreatedAt.After(first.Meta.CreatedAt) {
		t.Errorf("created_at %v not after %v", second.Meta.CreatedAt, first.Meta.CreatedAt)
	}
	if len(second.Meta.Tags) != 0 {
		t.Errorf("re-created document inherited tags %v", second.Meta.Tags)
	}
	history, err := s.GetHistory(ctx, "a")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("len(GetHistory()) = %d, want 3", len(history))
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	for _, name := range []string{"", ".hidden", "a/b", `a\b`, "a\x00b", " pad", "tab\tname", string(make([]byte, 129))} {
		_, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: name, Content: "x"})
		assertKind(t, err, ErrInvalidInput)
	}
	_, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "ok", Content: "x", Tags: []string{""}})
	assertKind(t, err, ErrInvalidInput)
	_, err = s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "ok", Content: "x", Tags: []string{" x"}})
	assertKind(t, err, ErrInvalidInput)
	_, err = s.ListRecent(ctx, 0)
	assertKind(t, err, ErrInvalidInput)
	_, err = s.ListDocuments(ctx, "[")
	assertKind(t, err, ErrInvalidInput)
	_, err = s.Search(ctx, "  ")
	assertKind(t, err, ErrInvalidInput)
	_, err = s.ListByTag(ctx, "")
	assertKind(t, err, ErrInvalidInput)
	if s.Content().Exists("ok") {
		t.Error("rejected create wrote content")
	}
}

func TestMetadataOperations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.UpdateMetadata(ctx, "missing", MetadataUpdate{Title: ptr("x")})
	assertKind(t, err, ErrNotFound)
	_, err = s.SetTags(ctx, "missing", []string{"x"})
	assertKind(t, err, ErrNotFound)

	for _, n := range []string{"a", "b", "c"} {
		if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: n, Content: n}); err != nil {
			t.Fatalf("CreateDocument() failed: %v", err)
		}
	}
	m, err := s.UpdateMetadata(ctx, "a", MetadataUpdate{Title: ptr("Alpha"), Tags: &[]string{"go", "db"}})
	if err != nil {
		t.Fatalf("UpdateMetadata() failed: %v", err)
	}
	if m.Title != "Alpha" {
		t.Errorf("Title = %q", m.Title)
	}
	if diff := cmp.Diff([]string{"db", "go"}, m.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
	history, _ := s.GetHistory(ctx, "a")
	if len(history) != 1 {
		t.Errorf("metadata update committed: %d commits", len(history))
	}
	if _, err := s.SetTags(ctx, "b", []string{"go"}); err != nil {
		t.Fatalf("SetTags() failed: %v", err)
	}
	tags, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() failed: %v", err)
	}
	if diff := cmp.Diff([]index.TagCount{{Name: "db", Count: 1}, {Name: "go", Count: 2}}, tags); diff != "" {
		t.Errorf("ListTags() mismatch (-want +got):\n%s", diff)
	}

	recent, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}
	var got []string
	for _, d := range recent {
		got = append(got, d.Filename)
	}
	if diff := cmp.Diff([]string{"b", "a"}, got); diff != "" {
		t.Errorf("ListRecent() mismatch (-want +got):\n%s", diff)
	}

	docs, err := s.ListDocuments(ctx, "{a,c}")
	if err != nil {
		t.Fatalf("ListDocuments() failed: %v", err)
	}
	got = got[:0]
	for _, d := range docs {
		got = append(got, d.Filename)
	}
	if diff := cmp.Diff([]string{"a", "c"}, got); diff != "" {
		t.Errorf("ListDocuments() mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.DeleteDocument(ctx, testAuthor, "a"); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	assertNoOrphanTags(t, s)
	tags, _ = s.ListTags(ctx)
	if diff := cmp.Diff([]index.TagCount{{Name: "go", Count: 1}}, tags); diff != "" {
		t.Errorf("ListTags() after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestFrontMatter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	body := "---\ntitle: From Header\ntags: [x, y]\n---\n# Body\n"
	res, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "fm", Content: body})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if res.Meta.Title != "From Header" {
		t.Errorf("Title = %q", res.Meta.Title)
	}
	if diff := cmp.Diff([]string{"x", "y"}, res.Meta.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
	doc, _ := s.GetDocument(ctx, "fm")
	if doc.Content != body {
		t.Errorf("content not stored verbatim: %q", doc.Content)
	}
	// Explicit values win over the header.
	up, err := s.UpdateDocument(ctx, testAuthor, "fm", UpdateRequest{Content: body + "more", Title: ptr("Explicit")})
	if err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	if up.Meta.Title != "Explicit" {
		t.Errorf("Title = %q, want Explicit", up.Meta.Title)
	}
}

func TestParseFrontMatter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want *frontMatter
	}{
		{"none", "# Title\n", nil},
		{"unterminated", "---\ntitle: x\n", nil},
		{"invalid", "---\ntitle: [\n---\n", nil},
		{"crlf", "---\r\ntitle: T\r\n---\r\nbody", &frontMatter{Title: "T"}},
		{"tags", "---\ntags:\n  - a\n  - b\n---\n", &frontMatter{Tags: []string{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFrontMatter([]byte(tt.in))
			if ok != (tt.want != nil) {
				t.Fatalf("parseFrontMatter() ok = %v", ok)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseFrontMatter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	docs := map[string]string{
		"a": "Go is fun.\nI like go and GO.",
		"b": "Nothing here",
		"c": "  golang rocks  \n",
	}
	for n, body := range docs {
		if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: n, Content: body}); err != nil {
			t.Fatalf("CreateDocument() failed: %v", err)
		}
	}
	got, err := s.Search(ctx, "GO")
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	want := []SearchResult{
		{Filename: "a", Matches: 3, Preview: "Go is fun."},
		{Filename: "c", Matches: 1, Preview: "golang rocks"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}
	got, err = s.Search(ctx, "absent")
	if err != nil || len(got) != 0 {
		t.Errorf("Search(absent) = %v, %v", got, err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "shared", Content: "start"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := range writers {
		wg.Go(func() {
			if _, err := s.UpdateDocument(ctx, testAuthor, "shared", UpdateRequest{Content: fmt.Sprintf("writer %d", i), Tags: &[]string{fmt.Sprintf("w%d", i)}}); err != nil {
				errs <- err
			}
		})
		wg.Go(func() {
			if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: fmt.Sprintf("doc%d", i), Content: "x", Tags: []string{"common"}}); err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("write failed: %v", err)
	}
	history, err := s.GetHistory(ctx, "shared")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != writers+1 {
		t.Errorf("len(GetHistory()) = %d, want %d", len(history), writers+1)
	}
	// The last commit and the file agree.
	doc, err := s.GetDocument(ctx, "shared")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	v, err := s.GetVersionAtCommit(ctx, "shared", history[0].Hash)
	if err != nil {
		t.Fatalf("GetVersionAtCommit() failed: %v", err)
	}
	if v.Content != doc.Content {
		t.Errorf("HEAD content %q != file %q", v.Content, doc.Content)
	}
	if len(doc.Meta.Tags) != 1 {
		t.Errorf("Tags = %v, want exactly one writer's tag", doc.Meta.Tags)
	}
	names, _ := s.ListByTag(ctx, "common")
	if len(names) != writers {
		t.Errorf("ListByTag(common) = %d names, want %d", len(names), writers)
	}
	assertNoOrphanTags(t, s)
}

func TestCanceledBeforeLock(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	unlock, err := s.locks.lock(t.Context(), "busy")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "busy", Content: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateDocument() = %v, want context.Canceled", err)
	}
	unlock()
	if s.Content().Exists("busy") {
		t.Error("canceled create wrote content")
	}
}

func TestHistoryFailureAndReconcile(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dir := t.TempDir()
	c, err := content.New(filepath.Join(dir, "pages"))
	if err != nil {
		t.Fatalf("content.New() failed: %v", err)
	}
	repo, err := git.Open(ctx, c.Root(), "gitwiki", "gitwiki@localhost")
	if err != nil {
		t.Fatalf("git.Open() failed: %v", err)
	}
	x, err := index.Open(ctx, filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("index.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	j, err := journal.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("journal.Open() failed: %v", err)
	}
	s := New(c, repo, x, j, nil)
	if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: "a", Content: "v1"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	// A closed repository makes the commit step fail after the content write.
	_ = repo.Close()
	_, err = s.UpdateDocument(ctx, testAuthor, "a", UpdateRequest{Content: "v2"})
	assertKind(t, err, ErrHistoryFailure)
	var se *Error
	if !errors.As(err, &se) || se.Stage != StageContentWritten {
		t.Fatalf("error = %#v, want Stage content_written", err)
	}
	if b, _ := c.Read("a"); string(b) != "v2" {
		t.Errorf("content = %q, want v2 kept", b)
	}
	if p := j.Pending(); len(p) != 1 || p[0].Filename != "a" {
		t.Fatalf("Pending() = %+v", p)
	}

	// Restart and reconcile.
	repo2, err := git.Open(ctx, c.Root(), "gitwiki", "gitwiki@localhost")
	if err != nil {
		t.Fatalf("git.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = repo2.Close() })
	s = New(c, repo2, x, j, nil)
	rep, err := s.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if rep.Committed != 1 || len(rep.Errors) != 0 {
		t.Errorf("Reconcile() = %+v", rep)
	}
	history, err := s.GetHistory(ctx, "a")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 2 || history[0].Message != "Reconcile a.md" {
		t.Errorf("history = %d commits, head %q", len(history), history[0].Message)
	}
	if p := j.Pending(); len(p) != 0 {
		t.Errorf("Pending() after reconcile = %+v", p)
	}
}

func TestReconcileExternalChanges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	for _, n := range []string{"kept", "gone", "edited"} {
		if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: n, Content: n, Tags: []string{n}}); err != nil {
			t.Fatalf("CreateDocument() failed: %v", err)
		}
	}
	root := s.Content().Root()
	if err := os.WriteFile(filepath.Join(root, "edited.md"), []byte("edited outside"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "gone.md")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "new.md"), []byte("---\ntitle: New\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := s.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	want := &ReconcileReport{Committed: 2, Removed: 1, MetadataCreated: 1, MetadataDeleted: 1}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("Reconcile() mismatch (-want +got):\n%s", diff)
	}
	m, err := s.GetMetadata(ctx, "new")
	if err != nil {
		t.Fatalf("GetMetadata() failed: %v", err)
	}
	if m.Title != "New" {
		t.Errorf("Title = %q, want New", m.Title)
	}
	_, err = s.GetMetadata(ctx, "gone")
	assertKind(t, err, ErrNotFound)

	// A second pass has nothing left to do.
	rep, err = s.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if diff := cmp.Diff(&ReconcileReport{}, rep); diff != "" {
		t.Errorf("second Reconcile() mismatch (-want +got):\n%s", diff)
	}
	assertNoOrphanTags(t, s)
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()
	err := &Error{Kind: KindHistoryFailure, Op: "update", Filename: "a", Stage: StageContentWritten, Err: git.ErrClosed}
	if got, want := err.Error(), "update a: history_failure after content_written: repository closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrHistoryFailure) || errors.Is(err, ErrNotFound) || !errors.Is(err, git.ErrClosed) {
		t.Error("errors.Is() mismatch")
	}
	if KindOf(fmt.Errorf("wrapped: %w", err)) != KindHistoryFailure {
		t.Error("KindOf() did not unwrap")
	}
}

func TestMetadataFailureIsWarning(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dir := t.TempDir()
	c, err := content.New(filepath.Join(dir, "pages"))
	if err != nil {
		t.Fatalf("content.New() failed: %v", err)
	}
	repo, err := git.Open(ctx, c.Root(), "gitwiki", "gitwiki@localhost")
	if err != nil {
		t.Fatalf("git.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	x, err := index.Open(ctx, filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("index.Open() failed: %v", err)
	}
	j, err := journal.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("journal.Open() failed: %v", err)
	}
	s := New(c, repo, x, j, nil)
	for _, n := range []string{"a", "b"} {
		if _, err := s.CreateDocument(ctx, testAuthor, CreateRequest{Filename: n, Content: "v1"}); err != nil {
			t.Fatalf("CreateDocument(%s) failed: %v", n, err)
		}
	}

	// The commit stands when the index fails afterwards.
	if err := x.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	res, err := s.UpdateDocument(ctx, testAuthor, "a", UpdateRequest{Content: "v2"})
	if err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	if res.Commit == "" || len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "metadata not updated") {
		t.Errorf("UpdateDocument() = %+v", res)
	}
	res, err = s.DeleteDocument(ctx, testAuthor, "b")
	if err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	if res.Commit == "" || len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "metadata not deleted") {
		t.Errorf("DeleteDocument() = %+v", res)
	}

	doc, err := s.GetDocument(ctx, "a")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Content != "v2" {
		t.Errorf("Content = %q, want v2", doc.Content)
	}
	history, err := s.GetHistory(ctx, "a")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 2 || history[0].Message != "Update a.md" {
		t.Errorf("history = %+v", history)
	}
	_, err = s.GetDocument(ctx, "b")
	assertKind(t, err, ErrNotFound)
	// Both writes stay pending so reconcile repairs the metadata.
	if p := j.Pending(); len(p) != 2 {
		t.Errorf("Pending() = %+v, want 2 intents", p)
	}
}

func TestEndIntentsKeepsLaterWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("journal.Open() failed: %v", err)
	}
	s := &Store{journal: j}
	if _, err := j.Begin("update", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Begin("update", "b"); err != nil {
		t.Fatal(err)
	}
	snapshot := j.Pending()
	// A write to a starts after the repair took its snapshot.
	later, err := j.Begin("update", "a")
	if err != nil {
		t.Fatal(err)
	}
	s.endIntents(t.Context(), snapshot, map[string]bool{"b": true})
	p := j.Pending()
	if len(p) != 2 || p[0].Filename != "b" || p[1].ID != later {
		t.Fatalf("Pending() = %+v, want b and the later write to a", p)
	}
}

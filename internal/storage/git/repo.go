// Implements the history engine on go-git (pure Go, no git binary dependency).

package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Repo records one commit per document change in a git repository whose
// worktree is the content directory.
//
// Commits are applied one at a time by a single writer goroutine. go-git
// storage is not safe for concurrent use so every read also holds mu, which
// serializes history reads against commits.
type Repo struct {
	dir          string
	defaultName  string
	defaultEmail string
	repo         *gogit.Repository

	mu sync.Mutex

	reqs      chan *request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type request struct {
	author Author
	path   string
	msg    string
	remove bool
	reply  chan result
}

type result struct {
	hash string
	err  error
}

// Open opens the repository at dir, initializing it when needed.
//
// defaultName and defaultEmail are the committer identity and the author
// identity used when a change does not name one.
func Open(_ context.Context, dir, defaultName, defaultEmail string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, &RepoError{Op: "init", Err: err}
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, &RepoError{Op: "config", Err: err}
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, &RepoError{Op: "config", Err: err}
		}
	} else if err != nil {
		return nil, &RepoError{Op: "open", Err: err}
	}
	r := &Repo{
		dir:          dir,
		defaultName:  defaultName,
		defaultEmail: defaultEmail,
		repo:         repo,
		reqs:         make(chan *request),
		done:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

// Close stops the writer goroutine. Pending Commit calls return ErrClosed.
func (r *Repo) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}

// Dir returns the worktree directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Commit stages path as it is in the worktree and records a commit.
//
// A tracked path missing from the worktree is staged as a deletion. It
// returns ErrNothingToCommit when the staged state matches HEAD and
// ErrFileNotFound when path is neither in the worktree nor tracked.
func (r *Repo) Commit(ctx context.Context, author Author, path, msg string) (string, error) {
	return r.submit(ctx, &request{author: author, path: path, msg: msg})
}

// Remove stages the deletion of path and records a commit.
//
// It returns ErrFileNotFound when path is not tracked.
func (r *Repo) Remove(ctx context.Context, author Author, path, msg string) (string, error) {
	return r.submit(ctx, &request{author: author, path: path, msg: msg, remove: true})
}

// submit hands req to the writer. ctx is only honored until the writer
// accepts the request; after that the commit runs to completion.
func (r *Repo) submit(ctx context.Context, req *request) (string, error) {
	req.reply = make(chan result, 1)
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", ErrClosed
	}
	res := <-req.reply
	return res.hash, res.err
}

func (r *Repo) loop() {
	defer r.wg.Done()
	for {
		select {
		case req := <-r.reqs:
			h, err := r.apply(req)
			req.reply <- result{hash: h, err: err}
		case <-r.done:
			return
		}
	}
}

func (r *Repo) apply(req *request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return "", &RepoError{Op: "worktree", Err: err}
	}
	if req.remove {
		if _, err := w.Remove(req.path); err != nil {
			if errors.Is(err, index.ErrEntryNotFound) {
				return "", fmt.Errorf("%s: %w", req.path, ErrFileNotFound)
			}
			return "", &RepoError{Op: "remove", Err: err}
		}
	} else if err := w.AddWithOptions(&gogit.AddOptions{Path: req.path, SkipStatus: true}); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, index.ErrEntryNotFound) {
			return "", fmt.Errorf("%s: %w", req.path, ErrFileNotFound)
		}
		return "", &RepoError{Op: "add", Err: err}
	}

	changed, err := r.stagedChange(req.path)
	if err != nil {
		return "", err
	}
	if !changed {
		return "", ErrNothingToCommit
	}

	name := req.author.Name
	email := req.author.Email
	if name == "" {
		name = r.defaultName
	}
	if email == "" {
		email = r.defaultEmail
	}
	now := time.Now()
	h, err := w.Commit(req.msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  now,
		},
		Committer: &object.Signature{
			Name:  r.defaultName,
			Email: r.defaultEmail,
			When:  now,
		},
	})
	if err != nil {
		return "", &RepoError{Op: "commit", Err: err}
	}
	return h.String(), nil
}

// stagedChange reports whether the index entry of path differs from HEAD.
func (r *Repo) stagedChange(path string) (bool, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return false, &RepoError{Op: "index", Err: err}
	}
	var staged plumbing.Hash
	inIndex := false
	if e, err := idx.Entry(path); err == nil {
		staged, inIndex = e.Hash, true
	} else if !errors.Is(err, index.ErrEntryNotFound) {
		return false, &RepoError{Op: "index", Err: err}
	}
	var committed plumbing.Hash
	inHead := false
	head, err := r.headCommit()
	switch {
	case errors.Is(err, ErrNoCommits):
	case err != nil:
		return false, err
	default:
		if committed, inHead, err = entryAt(head, path); err != nil {
			return false, err
		}
	}
	return inIndex != inHead || staged != committed, nil
}

// History returns the commits that changed path, newest first.
//
// A commit is included when the blob of path differs from its first parent,
// including additions and deletions, or when it is a root commit containing
// path. It returns ErrNoCommits when HEAD is unborn.
func (r *Repo) History(ctx context.Context, path string) ([]*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	iter, err := r.repo.Log(&gogit.LogOptions{From: head.Hash})
	if err != nil {
		return nil, &RepoError{Op: "log", Err: err}
	}
	defer iter.Close()

	var commits []*Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, ok, err := entryAt(c, path)
		if err != nil {
			return err
		}
		if c.NumParents() == 0 {
			if ok {
				commits = append(commits, toCommit(c))
			}
			return storer.ErrStop
		}
		p, err := c.Parent(0)
		if err != nil {
			return &RepoError{Op: "log", Err: err}
		}
		ph, pok, err := entryAt(p, path)
		if err != nil {
			return err
		}
		if ok != pok || h != ph {
			commits = append(commits, toCommit(c))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// FileAt returns the content of path as recorded in the commit hash.
//
// hash must be a full 40 hex digit commit id.
func (r *Repo) FileAt(ctx context.Context, hash, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !IsFullHash(hash) {
		return nil, fmt.Errorf("%q: %w", hash, ErrCommitNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.repo.CommitObject(plumbing.NewHash(hash))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", hash, ErrCommitNotFound)
	}
	if err != nil {
		return nil, &RepoError{Op: "commit", Err: err}
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s at %s: %w", path, hash[:7], ErrFileNotFound)
	}
	if err != nil {
		return nil, &RepoError{Op: "tree", Err: err}
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, &RepoError{Op: "blob", Err: err}
	}
	defer func() { _ = reader.Close() }()
	b, err := io.ReadAll(reader)
	if err != nil {
		return nil, &RepoError{Op: "blob", Err: err}
	}
	return b, nil
}

// Head returns the id of the HEAD commit.
func (r *Repo) Head(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.headCommit()
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

// CommitCount returns the total number of commits reachable from HEAD.
func (r *Repo) CommitCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.headCommit()
	if errors.Is(err, ErrNoCommits) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	iter, err := r.repo.Log(&gogit.LogOptions{From: head.Hash})
	if err != nil {
		return 0, &RepoError{Op: "log", Err: err}
	}
	defer iter.Close()
	n := 0
	err = iter.ForEach(func(*object.Commit) error {
		n++
		return ctx.Err()
	})
	return n, err
}

// Tracked reports whether path is present in the HEAD tree.
func (r *Repo) Tracked(_ context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.headCommit()
	if errors.Is(err, ErrNoCommits) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, ok, err := entryAt(head, path)
	return ok, err
}

// TrackedFiles returns the regular files at the top level of the HEAD tree.
func (r *Repo) TrackedFiles(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.headCommit()
	if errors.Is(err, ErrNoCommits) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := head.Tree()
	if err != nil {
		return nil, &RepoError{Op: "tree", Err: err}
	}
	var out []string
	for _, e := range t.Entries {
		if e.Mode.IsFile() {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

func (r *Repo) headCommit() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoCommits
	}
	if err != nil {
		return nil, &RepoError{Op: "head", Err: err}
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, &RepoError{Op: "head", Err: err}
	}
	return c, nil
}

// entryAt returns the blob hash of path in the tree of c.
func entryAt(c *object.Commit, path string) (plumbing.Hash, bool, error) {
	t, err := c.Tree()
	if err != nil {
		return plumbing.ZeroHash, false, &RepoError{Op: "tree", Err: err}
	}
	e, err := t.FindEntry(path)
	if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, &RepoError{Op: "tree", Err: err}
	}
	if !e.Mode.IsFile() {
		return plumbing.ZeroHash, false, nil
	}
	return e.Hash, true, nil
}

func toCommit(c *object.Commit) *Commit {
	subject, body, _ := strings.Cut(c.Message, "\n")
	return &Commit{
		Hash:           c.Hash.String(),
		Message:        subject,
		Body:           strings.TrimSpace(body),
		Author:         c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthorDate:     c.Author.When,
		Committer:      c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommitDate:     c.Committer.When,
	}
}

// IsFullHash reports whether s is a 40 hex digit object id.
func IsFullHash(s string) bool {
	return len(s) == 40 && IsHexPrefix(s)
}

// IsHexPrefix reports whether s is non-empty lowercase or uppercase hex.
func IsHexPrefix(s string) bool {
	if s == "" || len(s) > 40 {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Defines the shared types and errors of the history engine.

package git

import (
	"errors"
	"time"
)

var (
	// ErrFileNotFound is returned when the file is not tracked at the requested revision.
	ErrFileNotFound = errors.New("file not found")
	// ErrCommitNotFound is returned when the commit id does not resolve to a commit.
	ErrCommitNotFound = errors.New("commit not found")
	// ErrNoCommits is returned by history reads on a repository without commits.
	ErrNoCommits = errors.New("repository has no commits")
	// ErrNothingToCommit is returned when staging the file produced no change
	// relative to HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrClosed is returned once the repository is closed.
	ErrClosed = errors.New("repository closed")
	// ErrRepository matches every *RepoError with errors.Is.
	ErrRepository = errors.New("repository error")
)

// RepoError wraps an unexpected failure of the underlying git storage.
type RepoError struct {
	Op  string
	Err error
}

func (e *RepoError) Error() string {
	return "git " + e.Op + ": " + e.Err.Error()
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRepository.
func (e *RepoError) Is(target error) bool {
	return target == ErrRepository
}

// Author identifies who made a change.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is one entry of a file's history.
type Commit struct {
	Hash           string    `json:"hash"`
	Message        string    `json:"message"`
	Body           string    `json:"body,omitempty"`
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"author_email"`
	AuthorDate     time.Time `json:"author_date"`
	Committer      string    `json:"committer"`
	CommitterEmail string    `json:"committer_email"`
	CommitDate     time.Time `json:"commit_date"`
}

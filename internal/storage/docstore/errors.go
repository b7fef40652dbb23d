package docstore

import (
	"errors"
	"strings"
)

// Kind classifies a document store failure.
type Kind int

const (
	// KindNotFound means the document, version or metadata does not exist.
	KindNotFound Kind = iota + 1
	// KindConflict means the document already exists.
	KindConflict
	// KindInvalidInput means a filename, tag, pattern, limit or commit id is
	// malformed.
	KindInvalidInput
	// KindStorageFailure means the content directory failed.
	KindStorageFailure
	// KindHistoryFailure means the git repository failed.
	KindHistoryFailure
	// KindIndexFailure means the metadata index failed.
	KindIndexFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindStorageFailure:
		return "storage_failure"
	case KindHistoryFailure:
		return "history_failure"
	case KindIndexFailure:
		return "index_failure"
	default:
		return "unknown"
	}
}

// Sentinels matching every *Error of the corresponding kind with errors.Is.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrStorageFailure = &Error{Kind: KindStorageFailure}
	ErrHistoryFailure = &Error{Kind: KindHistoryFailure}
	ErrIndexFailure   = &Error{Kind: KindIndexFailure}
)

// Stage is a step of the write state machine.
type Stage int

const (
	// StageValidating is the initial stage; nothing was written yet.
	StageValidating Stage = iota
	// StageContentWritten means the content file was written or deleted.
	StageContentWritten
	// StageHistoryCommitted means the change was committed.
	StageHistoryCommitted
	// StageMetadataSynced means the metadata index was updated.
	StageMetadataSynced
	// StageDone means the write completed.
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageContentWritten:
		return "content_written"
	case StageHistoryCommitted:
		return "history_committed"
	case StageMetadataSynced:
		return "metadata_synced"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Error is returned by every Store operation.
//
// Stage is the last stage reached before the failure. For a write that
// failed at StageContentWritten the content file holds the new body but no
// commit records it.
type Error struct {
	Kind     Kind
	Op       string
	Stage    Stage
	Filename string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Filename != "" {
			b.WriteString(" ")
			b.WriteString(e.Filename)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Stage != StageValidating {
		b.WriteString(" after ")
		b.WriteString(e.Stage.String())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func invalid(op, filename, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Filename: filename, Msg: msg}
}

package docstore

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	maxFilenameLen = 128
	maxTagLen      = 64
)

// ValidateFilename checks that name can be used as a document name.
//
// A name is 1 to 128 characters of valid UTF-8 without path separators,
// control characters or a leading dot.
func ValidateFilename(name string) string {
	switch {
	case name == "":
		return "filename is required"
	case !utf8.ValidString(name):
		return "filename must be valid UTF-8"
	case utf8.RuneCountInString(name) > maxFilenameLen:
		return "filename is too long"
	case strings.HasPrefix(name, "."):
		return "filename must not start with a dot"
	case strings.ContainsAny(name, `/\`):
		return "filename must not contain a path separator"
	case strings.TrimSpace(name) != name:
		return "filename must not start or end with whitespace"
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "filename must not contain control characters"
	}
	return ""
}

// normalizeTags validates tags and drops duplicates, keeping the first
// occurrence order. Tag names are case-sensitive.
func normalizeTags(tags []string) ([]string, string) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		switch {
		case t == "":
			return nil, "tag must not be empty"
		case strings.TrimSpace(t) != t:
			return nil, "tag must not start or end with whitespace"
		case !utf8.ValidString(t) || strings.IndexFunc(t, unicode.IsControl) >= 0:
			return nil, "tag must not contain control characters"
		case utf8.RuneCountInString(t) > maxTagLen:
			return nil, "tag is too long"
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, ""
}

// keyLock serializes work per key. Entries are dropped once unused.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

// lock blocks until key is free or ctx is done.
func (k *keyLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyEntry{}
	}
	e := k.locks[key]
	if e == nil {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.release(key, e)
		}, nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}
}

func (k *keyLock) release(key string, e *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e.refs--; e.refs == 0 {
		delete(k.locks, key)
	}
}

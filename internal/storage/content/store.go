// Package content stores document bodies as markdown files in a single flat
// directory.
//
// The directory is the authoritative source of document existence: a document
// exists if and only if <root>/<name>.md exists.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// Ext is the file extension appended to every document name.
const Ext = ".md"

// ErrNotFound is returned when the document file does not exist.
var ErrNotFound = errors.New("document not found")

// Store reads and writes document files under a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute content directory.
func (s *Store) Root() string {
	return s.root
}

// RelPath returns the path of the document file relative to the root.
func RelPath(name string) string {
	return name + Ext
}

// Path returns the absolute path of the document file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, RelPath(name))
}

// Exists reports whether the document file is present.
func (s *Store) Exists(name string) bool {
	fi, err := os.Stat(s.Path(name))
	return err == nil && fi.Mode().IsRegular()
}

// Read returns the document body.
func (s *Store) Read(name string) ([]byte, error) {
	b, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", RelPath(name), ErrNotFound)
	}
	return b, err
}

// Write replaces the document body.
//
// The file is written to a temporary file in the same directory and renamed
// in place, so concurrent readers see either the old or the new body.
func (s *Store) Write(name string, body []byte) error {
	p := s.Path(name)
	if err := atomic.WriteFile(p, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to write %s: %w", RelPath(name), err)
	}
	// New files inherit the temp file mode (0o600).
	if err := os.Chmod(p, 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", RelPath(name), err)
	}
	return nil
}

// Delete removes the document file.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", RelPath(name), ErrNotFound)
	}
	return err
}

// List yields the names of all documents in directory order.
//
// Hidden entries, subdirectories and files without the .md extension are
// skipped.
func (s *Store) List() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f, err := os.Open(s.root)
		if err != nil {
			yield("", err)
			return
		}
		defer func() { _ = f.Close() }()
		for {
			entries, err := f.ReadDir(256)
			for _, e := range entries {
				if name, ok := documentName(e); ok {
					if !yield(name, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

// NameFromPath returns the document name for a file path inside the content
// directory, or false if the path is not a document file.
func (s *Store) NameFromPath(p string) (string, bool) {
	if filepath.Dir(p) != s.root {
		return "", false
	}
	base := filepath.Base(p)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, Ext) || len(base) == len(Ext) {
		return "", false
	}
	return strings.TrimSuffix(base, Ext), true
}

func documentName(e fs.DirEntry) (string, bool) {
	n := e.Name()
	if !e.Type().IsRegular() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, Ext) || len(n) == len(Ext) {
		return "", false
	}
	return strings.TrimSuffix(n, Ext), true
}

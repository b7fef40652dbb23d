package docstore

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/maruel/gitwiki/internal/storage/content"
)

// maxPreviewLen caps the preview line, in runes.
const maxPreviewLen = 200

// SearchResult is one document matching a search.
type SearchResult struct {
	Filename string `json:"filename"`
	Matches  int    `json:"matches"`
	// Preview is the trimmed line holding the first match.
	Preview string `json:"preview"`
}

// Search scans the current content of every document for query, ignoring
// case. Results are sorted by match count, then filename.
func (s *Store) Search(ctx context.Context, query string) (results []SearchResult, err error) {
	const op = "search"
	start := time.Now()
	defer func() { s.record(ctx, op, start, nil, err) }()

	if strings.TrimSpace(query) == "" {
		return nil, invalid(op, "", "query is required")
	}
	q := strings.ToLower(query)
	results = []SearchResult{}
	for name, err := range s.content.List() {
		if err != nil {
			return nil, &Error{Kind: KindStorageFailure, Op: op, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := s.content.Read(name)
		if errors.Is(err, content.ErrNotFound) {
			// Deleted since listed.
			continue
		}
		if err != nil {
			slog.WarnContext(ctx, "Failed to read document for search", "err", err, "filename", name)
			continue
		}
		if r, ok := match(name, string(body), q); ok {
			results = append(results, r)
		}
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Matches, a.Matches); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	})
	return results, nil
}

// match counts the occurrences of the lowercase query q in body.
func match(name, body, q string) (SearchResult, bool) {
	r := SearchResult{Filename: name}
	for line := range strings.Lines(body) {
		n := strings.Count(strings.ToLower(line), q)
		if n == 0 {
			continue
		}
		if r.Matches == 0 {
			r.Preview = preview(line)
		}
		r.Matches += n
	}
	return r, r.Matches != 0
}

func preview(line string) string {
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxPreviewLen {
		return string(r[:maxPreviewLen]) + "…"
	}
	return line
}

// Package journal records document write intents in an append-only JSONL
// file so interrupted writes can be found and repaired after a crash.
package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/natefinch/atomic"
)

// StageBegin marks a new intent.
const StageBegin = "begin"

// Entry is one line of the journal.
type Entry struct {
	ID       ksid.ID   `json:"id"`
	Op       string    `json:"op"`
	Filename string    `json:"filename"`
	Stage    string    `json:"stage"`
	Time     time.Time `json:"time"`
	Err      string    `json:"err,omitempty"`
}

// Journal is the write intent log.
//
// An intent stays pending from Begin until End is called without an error.
// A failed End keeps it pending so reconcile can finish the write.
type Journal struct {
	path string

	mu      sync.Mutex
	pending map[ksid.ID]Entry
	order   []ksid.ID
	// torn is set when the file does not end with a newline.
	torn bool
}

// Open loads the journal at path, creating the directory when needed.
//
// A torn trailing line left by a crash is ignored.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	j := &Journal{path: path, pending: map[ksid.ID]Entry{}}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) load() error {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal %s: %w", j.path, err)
	}
	j.torn = len(b) != 0 && b[len(b)-1] != '\n'
	for i, line := range bytes.Split(b, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping unreadable journal line", "path", j.path, "line", i+1, "err", err)
			continue
		}
		j.apply(e)
	}
	return nil
}

func (j *Journal) apply(e Entry) {
	switch {
	case e.Stage == StageBegin:
		if _, ok := j.pending[e.ID]; !ok {
			j.order = append(j.order, e.ID)
		}
		j.pending[e.ID] = e
	case e.Err == "":
		delete(j.pending, e.ID)
	}
}

// Begin records a new intent and returns its id.
func (j *Journal) Begin(op, filename string) (ksid.ID, error) {
	e := Entry{ID: ksid.NewID(), Op: op, Filename: filename, Stage: StageBegin, Time: time.Now().UTC()}
	if err := j.append(e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

// End records the final stage of an intent. A nil cause closes the intent.
func (j *Journal) End(id ksid.ID, stage string, cause error) error {
	j.mu.Lock()
	begin, ok := j.pending[id]
	j.mu.Unlock()
	if !ok {
		return nil
	}
	e := Entry{ID: id, Op: begin.Op, Filename: begin.Filename, Stage: stage, Time: time.Now().UTC()}
	if cause != nil {
		e.Err = cause.Error()
	}
	return j.append(e)
}

// Pending returns the open intents in the order they began.
func (j *Journal) Pending() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.pending))
	for _, id := range j.order {
		if e, ok := j.pending[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Compact rewrites the file to hold only the open intents.
func (j *Journal) Compact() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var buf bytes.Buffer
	order := make([]ksid.ID, 0, len(j.pending))
	for _, id := range j.order {
		e, ok := j.pending[id]
		if !ok {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
		order = append(order, id)
	}
	if err := atomic.WriteFile(j.path, &buf); err != nil {
		return fmt.Errorf("failed to compact journal: %w", err)
	}
	j.order = slices.Clip(order)
	j.torn = false
	return nil
}

func (j *Journal) append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.torn {
		data = append([]byte{'\n'}, data...)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal for append: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	j.torn = false
	j.apply(e)
	return nil
}

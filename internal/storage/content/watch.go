package content

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reports documents changed outside of the Store.
//
// fn is called with the sorted names of documents touched since the last
// call, once no event was received for delay. Watch blocks until ctx is
// canceled and a callback in progress has returned.
func (s *Store) Watch(ctx context.Context, delay time.Duration, fn func(ctx context.Context, names []string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(s.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.root, err)
	}
	d := debouncer{delay: delay, pending: map[string]struct{}{}}
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name, ok := s.NameFromPath(ev.Name)
			if !ok {
				continue
			}
			d.add(name, func(names []string) { fn(ctx, names) })
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.ErrorContext(ctx, "Content watcher error", "err", err)
		}
	}
}

// debouncer coalesces bursts of events into a single callback.
type debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	stopped bool
	running sync.WaitGroup
}

func (d *debouncer) add(name string, fn func([]string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[name] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		names := make([]string, 0, len(d.pending))
		for n := range d.pending {
			names = append(names, n)
		}
		clear(d.pending)
		d.running.Add(1)
		d.mu.Unlock()
		defer d.running.Done()
		if len(names) != 0 {
			slices.Sort(names)
			fn(names)
		}
	})
}

// stop cancels the pending callback and waits for a running one to return.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.running.Wait()
}

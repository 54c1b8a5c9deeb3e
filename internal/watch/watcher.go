package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Generation is a monotonically increasing fence used by the graph engine to
// order invalidation relative to session start (§4.B "Ordering").
type Generation uint64

// InvalidationEvent names one batch of changed paths, at-least-once
// delivered, deduplicated within the debounce window (§4.B "Event delivery").
type InvalidationEvent struct {
	Generation Generation
	Paths      []string
}

// Sink receives invalidation events. internal/session wires this to the
// graph engine's DrainAndInvalidate.
type Sink interface {
	Invalidate(ctx context.Context, ev InvalidationEvent)
}

// Watcher is a single-writer, multi-reader fsnotify-backed source of
// invalidation events (§4.B). Debouncing follows the same
// record-then-flush-on-tick shape as a settle-window file watcher: events
// are recorded into a per-path last-seen map and flushed once they have
// been quiet for debounceDur.
type Watcher struct {
	root        string
	fsw         *fsnotify.Watcher
	debounceDur time.Duration

	mu        sync.Mutex
	pending   map[string]time.Time
	generation Generation

	sink Sink
	log  zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a Watcher rooted at root. It does not start watching
// until Start is called.
func NewWatcher(root string, sink Sink, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:        root,
		fsw:         fsw,
		debounceDur: 200 * time.Millisecond,
		pending:     make(map[string]time.Time),
		sink:        sink,
		log:         log,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start recursively registers the build root with fsnotify and begins the
// event loop in a goroutine. Start is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if base == ".git" {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = time.Now()
	w.mu.Unlock()

	if ev.Op&fsnotify.Create != 0 {
		if fi, statErr := os.Stat(ev.Name); statErr == nil && fi.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for p, t := range w.pending {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, p)
			delete(w.pending, p)
		}
	}
	if len(settled) == 0 {
		w.mu.Unlock()
		return
	}
	w.generation++
	gen := w.generation
	w.mu.Unlock()

	w.sink.Invalidate(ctx, InvalidationEvent{Generation: gen, Paths: settled})
}

// CurrentGeneration returns the last generation number emitted, used by a
// session to fence its start against in-flight invalidation (§5 "Cross-session
// staleness").
func (w *Watcher) CurrentGeneration() Generation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

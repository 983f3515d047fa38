package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into one reindex.
const DefaultDebounce = 250 * time.Millisecond

// Watcher feeds filesystem change notifications into the indexer's
// freshness path. It adds nothing semantically: every consumer still goes
// through EnsureFresh, the watcher just makes the common case cheap by
// reindexing in the background instead of on the next query.
type Watcher struct {
	indexer  *Indexer
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher over the indexer's project root.
func NewWatcher(idx *Indexer, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		indexer:  idx,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Start watches the project tree until ctx is cancelled. It returns after
// setting up the recursive watch; events are handled on a background
// goroutine. Watch setup failures are returned; per-event failures are
// logged and dropped.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	root := w.indexer.Root()
	// fsnotify has no recursive mode; watch every directory.
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if rel != "." && w.indexer.walker.excluded(rel+"/") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
	if err != nil {
		_ = fw.Close()
		return err
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				w.handle(ctx, fw, ev)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.indexer.Root(), ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// New directories need their own watch.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.indexer.walker.excluded(rel + "/") {
				_ = fw.Add(ev.Name)
			}
			return
		}
	}

	if !w.indexer.walker.Matches(rel) {
		return
	}

	w.mu.Lock()
	w.pending[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
	} else {
		w.timer.Reset(w.debounce)
	}
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 || ctx.Err() != nil {
		return
	}
	res := w.indexer.EnsureFresh(ctx, paths...)
	if res.FilesIndexed+res.FilesRemoved > 0 {
		w.logger.Debug("watcher reindexed", "indexed", res.FilesIndexed, "removed", res.FilesRemoved)
	}
}

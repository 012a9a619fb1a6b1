package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reindexDebounce is the delay before reindexing after memory file changes.
// Editors emit several events per save and indexing touches the database,
// so we wait for the burst to settle.
const reindexDebounce = 1500 * time.Millisecond

// Watcher monitors MEMORY.md and the memory/ directory and reindexes
// through the manager when markdown files change.
type Watcher struct {
	mgr    *Manager
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// debounce state
	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// NewWatcher creates a memory file watcher for the manager's workspace.
func NewWatcher(mgr *Manager) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		mgr: mgr,
		fsw: fsw,
	}, nil
}

// Start begins watching the workspace for memory file changes.
func (w *Watcher) Start(ctx context.Context) error {
	workspace := w.mgr.Workspace()
	watched := 0

	// Workspace root covers MEMORY.md itself.
	if err := w.fsw.Add(workspace); err != nil {
		slog.Warn("memory watcher: cannot watch workspace", "path", workspace, "error", err)
	} else {
		watched++
	}

	// memory/ and its subdirectories hold the long-term notes.
	memDir := filepath.Join(workspace, "memory")
	_ = filepath.WalkDir(memDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if addErr := w.fsw.Add(path); addErr == nil {
			watched++
		}
		return nil
	})

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	slog.Info("memory watcher started", "watched", watched)
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("memory watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	// New directory under memory/ needs its own watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.underMemoryDir(path) {
				_ = w.fsw.Add(path)
			}
			return
		}
	}

	if !w.relevant(path) {
		return
	}

	w.scheduleReindex(ctx)
}

// relevant reports whether a changed path affects the memory index:
// MEMORY.md at the workspace root, or any .md file under memory/.
func (w *Watcher) relevant(path string) bool {
	workspace := w.mgr.Workspace()
	if path == filepath.Join(workspace, "MEMORY.md") {
		return true
	}
	if !strings.EqualFold(filepath.Ext(path), ".md") {
		return false
	}
	return w.underMemoryDir(path)
}

func (w *Watcher) underMemoryDir(path string) bool {
	memDir := filepath.Join(w.mgr.Workspace(), "memory")
	rel, err := filepath.Rel(memDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// scheduleReindex debounces reindex runs.
func (w *Watcher) scheduleReindex(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reindexDebounce, func() {
		w.flush(ctx)
	})
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := w.mgr.IndexAll(ctx); err != nil {
		slog.Warn("memory reindex failed", "error", err)
		return
	}
	slog.Info("memory reindexed", "chunks", w.mgr.ChunkCount(), "took", time.Since(start).Round(time.Millisecond))
}

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/config"
	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/indexer"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/fsnotify/fsnotify"
)

type Indexer interface {
	IndexFile(ctx context.Context, path string) (*indexer.FileResult, error)
	Remove(path string) (bool, error)
}

type change struct {
	path   string
	remove bool
}

type pendingChange struct {
	remove bool
	timer  *time.Timer
}

// Watcher bridges fsnotify events to the indexing service. Raw events go
// through a bounded channel so the OS callback path never blocks, and rapid
// repeated events on one path are debounced into a single re-index.
type Watcher struct {
	watcher  *fsnotify.Watcher
	indexer  Indexer
	cfg      *config.Config
	debounce time.Duration

	running bool
	mu      sync.Mutex
	done    chan struct{}

	changes chan change

	pendingMu sync.Mutex
	pending   map[string]*pendingChange
}

func New(idx Indexer, cfg *config.Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, "failed to create watcher", err)
	}

	debounce := time.Duration(cfg.DebounceMillis) * time.Millisecond
	if debounce <= 0 {
		debounce = time.Second
	}

	return &Watcher{
		watcher:  w,
		indexer:  idx,
		cfg:      cfg,
		debounce: debounce,
		done:     make(chan struct{}),
		changes:  make(chan change, 1024),
		pending:  make(map[string]*pendingChange),
	}, nil
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	if w.watcher == nil {
		nw, err := fsnotify.NewWatcher()
		if err != nil {
			w.mu.Unlock()
			return errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, "failed to create watcher", err)
		}
		w.watcher = nw
		w.done = make(chan struct{})
		w.changes = make(chan change, 1024)
	}

	w.running = true
	w.mu.Unlock()

	go w.eventLoop()
	go w.changeLoop()
	log.Infof("watcher started")
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil

	w.pendingMu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	log.Infof("watcher stopped")
	return err
}

func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Watch registers root and every directory below it. Satisfies
// indexer.Monitor.
func (w *Watcher) Watch(root string) error {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, "watcher not started", nil)
	}

	watchCount := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				log.Debugf("permission denied: %s", path)
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			log.Warnf("failed to add watch for %s: %v", path, err)
			return nil
		}
		watchCount++
		return nil
	})

	log.Infof("added %d directory watches under %s", watchCount, root)
	return err
}

func (w *Watcher) eventLoop() {
	w.mu.Lock()
	watcher := w.watcher
	done := w.done
	w.mu.Unlock()
	if watcher == nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("watcher error: %v", err)
		}
	}
}

// handleEvent stays cheap: classify and enqueue. Anything slow happens on
// the change loop.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Op&fsnotify.Create == fsnotify.Create {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.mu.Lock()
			watcher := w.watcher
			w.mu.Unlock()
			if watcher != nil {
				if err := watcher.Add(path); err != nil {
					log.Debugf("failed to watch new dir %s: %v", path, err)
				}
			}
			return
		}
	}

	remove := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if !remove && !w.cfg.IsSupported(path) {
		return
	}

	select {
	case w.changes <- change{path: path, remove: remove}:
	default:
		log.Warnf("watch event queue full, dropping event for %s", path)
	}
}

func (w *Watcher) changeLoop() {
	w.mu.Lock()
	done := w.done
	changes := w.changes
	w.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case c := <-changes:
			w.scheduleChange(c)
		}
	}
}

// scheduleChange defers processing by the debounce window. A later event on
// the same path within the window supersedes the earlier one.
func (w *Watcher) scheduleChange(c change) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if p, ok := w.pending[c.path]; ok {
		p.remove = c.remove
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingChange{remove: c.remove}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.processChange(c.path)
	})
	w.pending[c.path] = p
}

func (w *Watcher) processChange(path string) {
	w.pendingMu.Lock()
	p, ok := w.pending[path]
	delete(w.pending, path)
	w.pendingMu.Unlock()
	if !ok {
		return
	}

	if p.remove {
		if _, err := w.indexer.Remove(path); err != nil {
			log.Debugf("failed to remove %s from index: %v", path, err)
		}
		return
	}

	if _, err := w.indexer.IndexFile(context.Background(), path); err != nil {
		log.Debugf("failed to index %s: %v", path, err)
	}
}

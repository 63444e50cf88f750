package session

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"tally-go/internal/tally"
)

// Watcher reloads the session whenever its file changes and emits the new
// value. It watches the parent directory because Save replaces the file by
// rename, which drops a watch on the file itself.
type Watcher struct {
	store   *FileStore
	logger  tally.Logger
	watcher *fsnotify.Watcher

	sessions chan *tally.Session
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a Watcher for store. It must be started with Start.
func NewWatcher(store *FileStore, logger tally.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		store:    store,
		logger:   logger,
		watcher:  fw,
		sessions: make(chan *tally.Session, 8),
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the session file's directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and closes the Sessions and Errors channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.sessions)
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Sessions emits the reloaded session after each change to the file.
func (w *Watcher) Sessions() <-chan *tally.Session {
	return w.sessions
}

// Errors emits failures to watch or reload.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
				continue
			}

			sess, err := w.store.Load()
			if err != nil {
				// A half-written file shows up as a decode error; the
				// rename that follows triggers another reload.
				w.logger.Debug("session reload failed", "error", err)
				continue
			}
			w.logger.Debug("session file changed", "op", event.Op.String(), "signed_in", sess.SignedIn)
			select {
			case w.sessions <- sess:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

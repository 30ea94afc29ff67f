package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher turns file-system writes to the settings file into configuration
// change events. The parent directory is watched rather than the file
// itself so that editors which replace the file on save keep the watch
// alive.
type Watcher struct {
	store  *Store
	fs     *fsnotify.Watcher
	events chan Event
	logger *zap.Logger

	mu   sync.Mutex
	prev File

	closeOnce sync.Once
	done      chan struct{}
}

func NewWatcher(store *Store, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(store.ConfigPath)); err != nil {
		fs.Close()
		return nil, err
	}
	w := &Watcher{
		store:  store,
		fs:     fs,
		events: make(chan Event, 8),
		logger: logger,
		done:   make(chan struct{}),
	}
	if snapshot, err := store.load(); err == nil {
		w.prev = snapshot
	}
	go w.run()
	return w, nil
}

// Events delivers one Event per observed settings change.
func (w *Watcher) Events() <-chan Event { return w.events }

func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fs.Close()
}

func (w *Watcher) run() {
	base := filepath.Base(w.store.ConfigPath)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.store.load()
	if err != nil {
		w.logger.Warn("settings reload failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	sections := diff(w.prev, next)
	w.prev = next
	w.mu.Unlock()
	if len(sections) == 0 {
		return
	}
	select {
	case w.events <- Event{Sections: sections}:
	case <-w.done:
	}
}

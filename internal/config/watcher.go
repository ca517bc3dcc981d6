package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events most editors emit when
// saving a file (write-temp, rename, chmod) into one reload.
const debounceDelay = 500 * time.Millisecond

// Watcher watches the config file and reloads the Manager snapshot when
// it changes. A failed reload is logged and the previous snapshot stays
// active.
//
// The parent directory is watched rather than the file itself, because
// editors that save via rename replace the inode and a file-level watch
// goes stale after the first save.
type Watcher struct {
	watcher *fsnotify.Watcher
	manager *Manager
	name    string // base name of the config file
	logger  *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// NewWatcher starts watching the manager's config file for changes.
func NewWatcher(manager *Manager, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(manager.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	cw := &Watcher{
		watcher: w,
		manager: manager,
		name:    filepath.Base(manager.Path()),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	go cw.loop()

	logger.Debug("config watcher started", "path", manager.Path())
	return cw, nil
}

func (cw *Watcher) loop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != cw.name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.logger.Debug("config file changed",
				"file", event.Name,
				"op", event.Op.String(),
			)
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", "error", err)

		case <-cw.stopCh:
			return
		}
	}
}

// scheduleReload resets the debounce timer.
func (cw *Watcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped {
		return
	}
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(debounceDelay, cw.fireReload)
}

func (cw *Watcher) fireReload() {
	if err := cw.manager.Reload(); err != nil {
		cw.logger.Warn("config reload failed, keeping previous config",
			"path", cw.manager.Path(),
			"error", err,
		)
	}
}

// Close stops the watcher. Safe to call more than once.
func (cw *Watcher) Close() error {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return nil
	}
	cw.stopped = true
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()

	close(cw.stopCh)
	return cw.watcher.Close()
}

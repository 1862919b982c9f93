package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the config file via fsnotify and delivers reloaded,
// validated configs. Invalid edits are reported and skipped, keeping the
// last good config in effect.
type Watcher struct {
	path   string
	logger *slog.Logger

	updates chan *RelayConfig

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a config file watcher.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		updates: make(chan *RelayConfig, 1),
	}
}

// Updates delivers each successfully reloaded config.
func (w *Watcher) Updates() <-chan *RelayConfig {
	return w.updates
}

// Run watches the config file until ctx is cancelled. Editors often
// replace rather than write the file, so the parent directory is watched
// and events are filtered by name.
func (w *Watcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher: create failed", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher: watch failed", "dir", dir, "error", err)
		return
	}

	w.logger.Info("config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: error", "error", err)
		}
	}
}

// debounceReload coalesces the event bursts editors produce on save.
func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadAndValidate(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "error", err)
		return
	}

	select {
	case w.updates <- cfg:
		w.logger.Info("config reloaded", "path", w.path)
	default:
		w.logger.Warn("config update dropped, consumer lagging")
	}
}

package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// debounceWindow coalesces the write+rename event bursts editors and the
// atomic Save produce into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and delivers the
// fresh config on Changes. The watch is on the parent directory because the
// atomic save replaces the file inode, which silences a direct file watch.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan Config

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewWatcher starts watching the config file's directory.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		changes: make(chan Config, 1),
		closeCh: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes delivers each successfully reloaded config.
func (w *Watcher) Changes() <-chan Config {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			cfgLog.Debug("watch_error", slog.String("error", err.Error()))
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
				continue
			}
			cfgLog.Info("config_reloaded", slog.String("path", w.path))
			select {
			case w.changes <- cfg:
			default:
				// Drop when the consumer is behind; the next change
				// will carry the latest state anyway.
			}
		}
	}
}

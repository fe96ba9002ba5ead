package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher implements spec.md §4.7's config watcher: it polls the
// file's modification time at the configured interval and reparses on
// change, keeping the previous config on a parse error. A
// fsnotify-backed file-system watch is layered on top purely to
// schedule an out-of-band poll sooner than the next tick — every
// reload still goes through the same poll-then-reparse path, so the
// observable contract (and the "within one watcher interval" bound
// scenario S7 exercises) is unchanged even if fsnotify never fires.
type Watcher struct {
	path        string
	interval    time.Duration
	onChange    func(Config)
	lastModTime time.Time
}

// NewWatcher builds a Watcher for path. If path is empty, Run blocks
// on shutdown and does nothing else, per spec.md §4.7's "no config
// file configured" case.
func NewWatcher(path string, interval time.Duration, onChange func(Config)) *Watcher {
	w := &Watcher{path: path, interval: interval, onChange: onChange}
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			w.lastModTime = info.ModTime()
		}
	}
	return w
}

// Run drives the watcher until shutdown fires.
func (w *Watcher) Run(shutdown <-chan struct{}) {
	if w.path == "" {
		<-shutdown
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	fsEvents := w.startFsNotify(shutdown)

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			w.poll()
		case <-fsEvents:
			w.poll()
		}
	}
}

// poll re-stats the file and, if its modification time advanced,
// reparses and applies the new config.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Error("config: stat failed during watch, keeping previous config", "path", w.path, "error", err)
		return
	}
	if !info.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = info.ModTime()

	cfg, _, err := Load(w.path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	slog.Info("config: reloaded", "path", w.path, "backends", len(cfg.Backends), "strategy", cfg.Strategy)
	w.onChange(cfg)
}

// startFsNotify watches the config file's directory (editors commonly
// replace a file via rename-into-place, which a direct file watch
// would miss) and returns a channel that receives a signal whenever an
// event names this file. Failure to start fsnotify is non-fatal — the
// poll ticker alone still satisfies the spec's contract — so it is
// logged and an always-empty channel is returned instead.
func (w *Watcher) startFsNotify(shutdown <-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config: fsnotify unavailable, relying on poll interval only", "error", err)
		return out
	}

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		slog.Warn("config: fsnotify watch failed, relying on poll interval only", "dir", dir, "error", err)
		fsw.Close()
		return out
	}

	name := filepath.Base(w.path)
	go func() {
		defer fsw.Close()
		for {
			select {
			case <-shutdown:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

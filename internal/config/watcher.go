package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reload is handed to the watcher callback after the config file changed.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// stamp identifies one version of the config file on disk.
type stamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls the kiosk config file and swaps in each valid edit. Invalid
// edits are logged once and the running config stays in place. Edits that
// only touch comments or formatting replace the config silently.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	mu      sync.Mutex
	current *Config
	seen    stamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it. onReload may be
// nil. Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current returns the newest valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r, ok := w.poll(); ok && w.onReload != nil {
				w.onReload(r)
			}
		}
	}
}

// poll reports a reload when the file holds a new valid config.
func (w *Watcher) poll() (Reload, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return Reload{}, false
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return Reload{}, false
	}

	cfg, st, err := w.read()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		// Remember the broken version so it is reported once.
		w.seen.mtime, w.seen.size = st.mtime, st.size
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return Reload{}, false
	}
	prevSum := w.seen.sum
	w.seen = st
	if st.sum == prevSum {
		return Reload{}, false
	}

	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	if r.Diff.Empty() {
		slog.Debug("config watcher: file rewritten without effective changes", "path", w.path)
		return Reload{}, false
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"content", r.Diff.ContentChanged, "restart", r.Diff.Restart)
	return r, true
}

// read parses and validates the file. The stamp carries mtime and size even
// when the content is invalid.
func (w *Watcher) read() (*Config, stamp, error) {
	var st stamp
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, st, err
	}
	st.mtime, st.size = info.ModTime(), info.Size()
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, st, err
	}
	cfg, err := parse(data, true)
	if err != nil {
		return nil, st, err
	}
	st.sum = sha256.Sum256(data)
	return cfg, st, nil
}

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultWatchInterval is the polling interval used when none is configured.
const DefaultWatchInterval = 5 * time.Second

// Watcher monitors a config file for changes and calls a callback when a
// valid new version appears. It polls the file's modification time and size,
// and only reparses when they change; a SHA-256 of the content filters out
// touches that left the bytes identical. An invalid edit is logged and the
// previous config stays current.
type Watcher struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	lastStat fileStamp
	lastHash [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

type fileStamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchFS sets the filesystem the file is read from. Defaults to the OS
// filesystem.
func WithWatchFS(fs afero.Fs) WatcherOption {
	return func(w *Watcher) { w.fs = fs }
}

// NewWatcher creates a config file watcher and loads the initial config
// immediately. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		fs:       afero.NewOsFs(),
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, stamp, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastStat = stamp
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled or [Watcher.Stop] is called.
// It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// Stop ends [Watcher.Run]. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// check reloads the file when its stamp changed and fires onChange when the
// content differs and validates.
func (w *Watcher) check() {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.lastStat
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
		return
	}

	cfg, hash, stamp, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastStat = stamp
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash reads, parses and validates the file, returning the config with
// the content hash and file stamp.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, fileStamp, error) {
	var zero [sha256.Size]byte

	info, err := w.fs.Stat(w.path)
	if err != nil {
		return nil, zero, fileStamp{}, err
	}
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return nil, zero, fileStamp{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, fileStamp{}, err
	}
	return cfg, sha256.Sum256(data), fileStamp{mtime: info.ModTime(), size: info.Size()}, nil
}

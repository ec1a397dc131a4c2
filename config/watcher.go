package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// FileWatcher polls a file's modification time. Mounted ConfigMaps are
// swapped through symlinks, which inotify-based watchers miss.
type FileWatcher struct {
	path     string
	interval time.Duration
	lastMod  time.Time
	logger   *slog.Logger
}

func NewFileWatcher(path string, interval time.Duration, logger *slog.Logger) *FileWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{path: path, interval: interval, logger: logger}
}

// Watch calls onChange whenever the file's mtime advances, until ctx is done.
func (w *FileWatcher) Watch(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	w.logger.Info("Config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				// Gone for a moment during a symlink swap.
				continue
			}
			if info.ModTime().After(w.lastMod) {
				w.logger.Info("Config file changed, reloading...", "path", w.path)
				w.lastMod = info.ModTime()
				onChange()
			}
		}
	}
}

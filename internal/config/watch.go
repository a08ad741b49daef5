package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor's atomic
// write-rename dance produces into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watch blocks until ctx is done, invoking onChange with the freshly loaded
// server list every time the file at path is created, rewritten, or
// replaced. The watch is attached to the parent directory so rename-based
// saves keep being observed. A reload that fails to parse is logged and
// skipped; the previous server list stays in effect at the caller.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(map[string]ServerConfig)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			servers, err := LoadServers(path)
			if err != nil {
				logger.Warn("config watch: reload failed, keeping previous server list", "path", path, "error", err)
				continue
			}
			logger.Info("config watch: server list reloaded", "path", path, "servers", len(servers))
			onChange(servers)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch: watcher error", "error", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config file whenever it changes and passes every valid
// result to onChange. Invalid edits are logged and skipped. The directory is
// watched rather than the file so editors that replace the file by rename
// are picked up. Watch returns once the watcher is set up; it stops when ctx
// ends.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config watcher: %w", err)
	}
	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		reload := func() {
			cfg, err := Load(path, true)
			if err != nil {
				slog.Warn("config reload failed", "path", path, "err", err)
				return
			}
			slog.Info("config reloaded", "path", path)
			onChange(cfg)
		}
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
	return nil
}

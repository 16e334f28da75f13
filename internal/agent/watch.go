package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever the profile file changes, until ctx is
// done. A file that fails to parse leaves the previous profiles in place.
// The parent directory is watched so that editors replacing the file by
// rename are picked up.
func (c *Catalog) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profile watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				profiles, err := readProfiles(abs)
				if err != nil {
					logger.Warn("agent profile reload failed", "path", abs, "error", err)
					continue
				}
				c.Replace(profiles)
				logger.Info("agent profiles reloaded", "path", abs, "agents", len(profiles))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("agent profile watcher error", "error", err)
			}
		}
	}()
	return nil
}

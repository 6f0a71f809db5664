package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the status cache in sync with the snapshot file until ctx is
// cancelled. It watches the parent directory because the snapshot is
// replaced by rename, which drops a watch on the file itself.
func (s *Server) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.statusPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating status watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck // best-effort close
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	// Prime the cache; a missing snapshot just means no run yet.
	if err := s.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("loading status snapshot", "error", err)
	}

	target := filepath.Clean(s.statusPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("reloading status snapshot", "error", err)
				continue
			}
			s.logger.Debug("status snapshot reloaded", "path", target)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("status watcher error", "error", err)
		}
	}
}


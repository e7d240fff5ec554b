// Package watch wraps fsnotify for the two places a long-lived colony
// process needs to notice external filesystem changes without polling:
// colony.yml edits (hot reload) and task-queue writes from other processes.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/config"
)

// Config watches the colony.yml at path and invokes apply with each newly
// validated configuration. An edit that fails to parse or validate is
// logged and the previous good config stays in effect. Blocks until ctx is
// cancelled.
func Config(ctx context.Context, path string, logger *slog.Logger, apply func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating config watcher", err)
	}
	defer watcher.Close()

	// Watch the containing directory: editors commonly replace the file
	// (rename+create), which drops a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "watching "+dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				if logger != nil {
					logger.Warn("config reload failed, keeping previous config", "error", err)
				}
				continue
			}
			if errs := config.Validate(cfg); len(errs) > 0 {
				if logger != nil {
					for _, e := range errs {
						logger.Warn("config reload rejected", "error", e)
					}
				}
				continue
			}
			if logger != nil {
				logger.Info("config reloaded", "path", path)
			}
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Warn("config watcher error", "error", err)
			}
		}
	}
}

// Tasks watches every status folder under tasksDir and invokes onEvent for
// each create/write/remove/rename, so a long-running process notices task
// transitions made by other processes (or arriving via git pull) without
// polling. Blocks until ctx is cancelled.
func Tasks(ctx context.Context, tasksDir string, logger *slog.Logger, onEvent func(fsnotify.Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating task watcher", err)
	}
	defer watcher.Close()

	for _, status := range []string{"pending", "claimed", "in_progress", "blocked", "completed", "cancelled"} {
		dir := filepath.Join(tasksDir, status)
		if err := watcher.Add(dir); err != nil {
			if logger != nil {
				logger.Warn("not watching task folder", "dir", dir, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			onEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Warn("task watcher error", "error", err)
			}
		}
	}
}

package target

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the targets file into a Registry whenever it changes. An
// invalid file is logged and the previous targets stay in place.
type Watcher struct {
	Path     string
	Registry *Registry
	Checks   []Check
	Logger   *slog.Logger

	// OnReload is called after every successful reload.
	OnReload func(targets map[string]*Target)
}

// Run watches until ctx is done. The containing directory is watched rather
// than the file, since editors and config management replace files by
// renaming over them.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	path, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve targets file path: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	logger.Info("watching targets file", "path", path)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("targets watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload(path, logger)
		}
	}
}

func (w *Watcher) reload(path string, logger *slog.Logger) {
	targets, err := LoadConfig(path, w.Checks...)
	if err != nil {
		logger.Error("targets file reload failed, keeping previous targets", "path", path, "error", err)
		return
	}

	w.Registry.Replace(targets)
	logger.Info("targets reloaded", "path", path, "count", len(targets))

	if w.OnReload != nil {
		w.OnReload(targets)
	}
}

package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces the burst of events an editor save produces
const DefaultDebounce = 250 * time.Millisecond

// Watcher re-applies a catalog file when it changes
type Watcher struct {
	applier  *Applier
	path     string
	debounce time.Duration
	logger   logrus.FieldLogger

	// applied receives the outcome of every reload; tests read it
	applied chan error
}

// NewWatcher creates a watcher for path
func NewWatcher(applier *Applier, path string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		applier:  applier,
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   applier.logger.WithField("catalog", path),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file so atomic rename-on-save is seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching resource catalog for changes")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Catalog watcher error")
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	_, err := w.applier.ApplyFile(ctx, w.path)
	if err != nil {
		// the previous catalog stays in effect
		w.logger.WithError(err).Error("Failed to reload resource catalog")
	}
	if w.applied != nil {
		select {
		case w.applied <- err:
		default:
		}
	}
}

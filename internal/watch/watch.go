// Package watch turns writes to a database file by any process into change
// events for every registered table.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/livesql/internal/schema"
)

// DefaultDebounce is how long the file must be quiet before a change is
// published.
const DefaultDebounce = 200 * time.Millisecond

// Resources lists the identifiers notified on a file change.
// *schema.Registry implements it.
type Resources interface {
	BaseIDs() []schema.ResourceID
}

// ResourceList is a fixed set of identifiers.
type ResourceList []schema.ResourceID

// BaseIDs returns the list.
func (l ResourceList) BaseIDs() []schema.ResourceID { return l }

// Notifier receives change events. *notify.Bus implements it.
type Notifier interface {
	NotifyChange(id schema.ResourceID)
}

// Watcher watches a database file and its -wal and -journal companions.
type Watcher struct {
	path      string
	resources Resources
	notifier  Notifier
	debounce  time.Duration
}

// New creates a watcher for the database at path.
func New(path string, resources Resources, notifier Notifier) *Watcher {
	return &Watcher{
		path:      path,
		resources: resources,
		notifier:  notifier,
		debounce:  DefaultDebounce,
	}
}

// WithDebounce sets the debounce duration.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Files returns the absolute paths whose writes count as a change.
func (w *Watcher) Files() ([]string, error) {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", w.path, err)
	}
	return []string{abs, abs + "-wal", abs + "-journal"}, nil
}

// Watch blocks until ctx is cancelled, publishing one change per table
// after each burst of writes.
func (w *Watcher) Watch(ctx context.Context) error {
	files, err := w.Files()
	if err != nil {
		return err
	}
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	defer watcher.Close()

	// The directory is watched so replaced and newly created files are seen.
	dir := filepath.Dir(files[0])
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("watching database", "path", files[0])

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stopTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !fileSet[abs] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.publish(abs)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "path", files[0], "error", err)

		case <-ctx.Done():
			stopTimer()
			return ctx.Err()
		}
	}
}

func (w *Watcher) publish(file string) {
	ids := w.resources.BaseIDs()
	slog.Debug("database changed", "file", file, "tables", len(ids))
	for _, id := range ids {
		w.notifier.NotifyChange(id)
	}
}

package templates

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is notified when templates on disk change.
type Invalidator interface {
	Invalidate()
}

// Watcher watches a template directory tree and invalidates a cache on any
// change to a template file.
type Watcher struct {
	dir     string
	target  Invalidator
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	changes atomic.Int64
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, target Invalidator, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, target: target, watcher: fsw, logger: logger}, nil
}

// Start adds watches below dir and processes events until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}
	go w.processEvents(ctx)
	w.logger.Info("Template watcher started", "dir", w.dir)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Changes returns the number of template changes seen.
func (w *Watcher) Changes() int64 {
	return w.changes.Load()
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch template directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Template watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatchesRecursive(event.Name); err != nil {
				w.logger.Warn("Failed to watch new template directory", "path", event.Name, "error", err)
			}
			w.invalidate(event)
			return
		}
	}

	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".yaml", ".yml":
		w.invalidate(event)
	}
}

func (w *Watcher) invalidate(event fsnotify.Event) {
	w.changes.Add(1)
	w.target.Invalidate()
	w.logger.Debug("Template change detected", "path", event.Name, "op", event.Op.String())
}

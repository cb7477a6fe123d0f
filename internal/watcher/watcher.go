// Package watcher signals debounced changes to a single file.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/devteam/internal/log"
)

// DefaultDebounce coalesces editor save bursts into one change.
const DefaultDebounce = 500 * time.Millisecond

// Config holds watcher options.
type Config struct {
	Path     string
	Debounce time.Duration
}

// Watcher reports writes to Config.Path. The parent directory is watched so
// editors that replace the file by rename are still seen.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
}

// New creates a watcher for cfg.Path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Path, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{fs: fsw, path: abs, debounce: cfg.Debounce}, nil
}

// Watch starts watching and returns a channel that receives one value per
// debounced burst of changes. The channel holds at most one pending signal
// and is closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		_ = w.fs.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	changes := make(chan struct{}, 1)
	go w.loop(ctx, changes)
	return changes, nil
}

func (w *Watcher) loop(ctx context.Context, changes chan<- struct{}) {
	defer close(changes)
	defer func() { _ = w.fs.Close() }()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			select {
			case changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatch, "File watch error", "path", w.path, "error", err)
		}
	}
}

// relevant reports writes and creates of the watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	return err == nil && name == w.path
}

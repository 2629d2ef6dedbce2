// Package watcher triggers index rebuilds when the documents directory changes.
package watcher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/logger"
)

const DefaultDebounce = 2 * time.Second

type WatcherConfig struct {
	Dir string
	// Debounce collapses bursts of events into one change.
	Debounce time.Duration
	// OnChange runs after a quiet period following changes to supported files.
	OnChange func(ctx context.Context) error
	Logger   *zap.Logger
}

// Watcher monitors one directory, non-recursively.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// New starts watching config.Dir, creating it when missing.
func New(config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("watcher needs an OnChange callback")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watched directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(config.Dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", config.Dir, err)
	}

	return &Watcher{
		config:  config,
		watcher: w,
		logger:  logger.OrNop(config.Logger).Named("watcher"),
	}, nil
}

// Run delivers debounced changes until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// fire is nil while no change is pending
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("document changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			fire = time.After(w.config.Debounce)

		case <-fire:
			fire = nil
			if err := w.config.OnChange(ctx); err != nil {
				w.logger.Error("rebuild after change failed", zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops watching without waiting for Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func relevant(event fsnotify.Event) bool {
	if !loader.Supported(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

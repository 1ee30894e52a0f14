package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reseeds the store whenever the catalog file is written, until ctx
// is done. The directory is watched so editors that replace the file by
// rename are picked up too.
func Watch(ctx context.Context, path string, store Adder, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			entries, err := Load(abs)
			if err != nil {
				logger.Warn("Catalog reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			created, err := Seed(ctx, store, entries, logger)
			if err != nil {
				logger.Warn("Catalog reseed failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("Catalog reloaded", zap.String("path", abs), zap.Int("created", created))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Catalog watcher error", zap.Error(err))
		}
	}
}

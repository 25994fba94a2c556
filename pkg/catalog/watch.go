package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch drops the cached data sets whenever one of the catalog files in dir
// changes. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.log.Debug("watching catalog", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			switch name := filepath.Base(event.Name); name {
			case StoriesFile, PromptsFile:
				c.log.Info("catalog changed", zap.String("file", name), zap.String("op", event.Op.String()))
				_ = c.Close()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("catalog watcher", zap.Error(err))
		}
	}
}

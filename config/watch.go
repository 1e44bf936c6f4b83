package config

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/framegraph"
)

// Watch calls fn with freshly loaded options every time the file at path is
// written or replaced, until ctx is done. Load errors are passed to fn with
// nil options and do not stop the watch.
//
// The parent directory is watched so editors that save through a rename are
// seen too.
func Watch(ctx context.Context, path string, fn func(*Options, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "config: watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: watch")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "config: watch %s", path)
	}
	framegraph.Logger().Info("config: watching", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			o, err := Load(abs)
			if err != nil {
				framegraph.Logger().Warn("config: reload failed", "path", abs, "err", err)
			} else {
				framegraph.Logger().Info("config: options reloaded", "path", abs)
			}
			fn(o, err)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			framegraph.Logger().Warn("config: watcher error", "err", err)
		}
	}
}

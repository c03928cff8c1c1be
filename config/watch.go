package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/logging"
)

// Watch reloads the configuration whenever a file of this loader's mode is
// written, created or renamed inside BasePath, and calls onChange after each
// successful reload. It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, logger logging.Logger, onChange func(*Loader)) error {
	if logger == nil {
		logger = logging.Nop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInternal, "create config watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(l.opts.BasePath); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInvalid, "watch "+l.opts.BasePath)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if !l.watches(evt.Name) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Warn("config reload failed", zap.String("file", evt.Name), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("file", evt.Name))
			if onChange != nil {
				onChange(l)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (l *Loader) watches(path string) bool {
	clean := filepath.Clean(path)
	for _, candidate := range candidatePaths(l.opts) {
		if filepath.Clean(candidate) == clean {
			return true
		}
	}
	return false
}

// candidatePaths lists every file the loader would read if it existed.
func candidatePaths(opts Options) []string {
	names := []string{opts.FileName, opts.FileName + ".local"}
	for _, alias := range opts.Mode.aliases() {
		names = append(names, opts.FileName+"."+alias, opts.FileName+"."+alias+".local")
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(opts.BasePath, name+"."+opts.FileType)
	}
	return paths
}

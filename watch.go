package mongrel2

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// watchFile posts EventRestart whenever path is written, created or renamed
// over. The parent directory is watched so editors that replace the file
// keep triggering restarts.
func (h *Handler) watchFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watch %s", path)
	}
	h.logger.Info("watching file for changes", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Info("watched file changed", "path", target, "op", ev.Op.String())
			h.Post(EventRestart)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("file watcher error", "path", target, "error", err)
		}
	}
}

package prediction

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the service when one of the artifact files changes.
// Directories are watched rather than files so atomic replace-by-rename
// from export scripts is seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	reload   func() error
	files    map[string]bool
	debounce time.Duration
	logger   *zap.Logger

	pending   bool
	lastEvent time.Time
}

// NewWatcher 创建模型文件监听器
func NewWatcher(reload func() error, paths []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no artifact paths to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		reload:   reload,
		files:    make(map[string]bool, len(paths)),
		debounce: debounce,
		logger:   logger,
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		logger.Info("watching model directory", zap.String("dir", dir))
	}
	return w, nil
}

// Run 处理文件事件直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("model watcher error", zap.Error(err))

		case <-ticker.C:
			if w.pending && time.Since(w.lastEvent) >= w.debounce {
				w.pending = false
				if err := w.reload(); err != nil {
					w.logger.Warn("reload after file change failed", zap.Error(err))
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || !w.files[abs] {
		return
	}
	w.logger.Debug("model file changed", zap.String("file", abs), zap.String("op", event.Op.String()))
	w.pending = true
	w.lastEvent = time.Now()
}

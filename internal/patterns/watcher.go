package patterns

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce is how long the watcher waits for writes to settle.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads a pattern file when it changes on disk and hands every
// valid snapshot to onChange. An invalid file is logged and ignored; the
// caller keeps its previous registry.
type Watcher struct {
	path     string
	onChange func(*Registry)
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, onChange func(*Registry), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultReloadDebounce,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file, so editors that replace the file on save are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pattern watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pattern watcher error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadFile(w.path)
	if err != nil {
		registryReloads.WithLabelValues("rejected").Inc()
		w.logger.Warn("rejected pattern reload; keeping previous registry",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	registryReloads.WithLabelValues("applied").Inc()
	w.logger.Info("pattern registry reloaded",
		zap.String("path", w.path), zap.Int("patterns", reg.Len()))
	w.onChange(reg)
}

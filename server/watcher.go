package server

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"LnSPoll/core/catalogue"
	"LnSPoll/logger"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// CatalogueWatcher watches the audio root and its language folders and calls
// onChange once a burst of file events has settled.
type CatalogueWatcher struct {
	root     string
	debounce time.Duration
	onChange func()
}

// NewCatalogueWatcher 创建音频目录监听器
func NewCatalogueWatcher(root string, onChange func()) *CatalogueWatcher {
	return &CatalogueWatcher{root: root, debounce: watchDebounce, onChange: onChange}
}

func (w *CatalogueWatcher) addDirs(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !catalogue.IsHidden(e.Name()) {
			if err := watcher.Add(filepath.Join(w.root, e.Name())); err != nil {
				logger.Warn("[Watcher] failed to watch folder", logger.String("dir", e.Name()), logger.ErrorField(err))
			}
		}
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (w *CatalogueWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirs(watcher); err != nil {
		return err
	}
	logger.Info("[Watcher] watching audio catalogue",
		logger.String("root", w.root),
		logger.Strings("dirs", watcher.WatchList()))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// 新建的语言目录也需要监听
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.root) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !catalogue.IsHidden(fi.Name()) {
					if err := watcher.Add(event.Name); err != nil {
						logger.Warn("[Watcher] failed to watch folder", logger.String("dir", event.Name), logger.ErrorField(err))
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Watcher] watcher error", logger.ErrorField(err))

		case <-timer.C:
			w.onChange()

		case <-ctx.Done():
			return nil
		}
	}
}

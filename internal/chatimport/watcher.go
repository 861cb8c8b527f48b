package chatimport

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

// Watcher enqueues an import job for every .txt file dropped into the
// session's import directory.
type Watcher struct {
	db      *store.DB
	dir     string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a directory watcher for dir.
func NewWatcher(db *store.DB, dir string, logger *zap.Logger) *Watcher {
	return &Watcher{db: db, dir: dir, logger: logger}
}

// Start begins watching the import directory.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	w.logger.Info("watching import directory", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !evt.Has(fsnotify.Create) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(evt.Name), ".txt") {
				continue
			}
			id, err := w.db.EnqueueImportJob(evt.Name, "")
			if err != nil {
				w.logger.Error("enqueue import failed", zap.String("file", evt.Name), zap.Error(err))
				continue
			}
			w.logger.Info("import queued", zap.Int64("job_id", id), zap.String("file", evt.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("import watcher error", zap.Error(err))
		}
	}
}

package server

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// BuildWatcher watches the dev content root and bumps the server
// globals when files change, so the status feed can tell connected
// browsers to reload.
type BuildWatcher struct {
	globals *ServerGlobals
	watcher *fsnotify.Watcher
	log     logrus.FieldLogger
	done    chan struct{}
}

// StartBuildWatcher begins watching root (recursively) for changes.
func StartBuildWatcher(root string, globals *ServerGlobals, log logrus.FieldLogger) (*BuildWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &BuildWatcher{
		globals: globals,
		watcher: watcher,
		log:     log,
		done:    make(chan struct{}),
	}
	go w.run()

	log.Infof("[watch] live reload enabled for %s", root)
	return w, nil
}

func (w *BuildWatcher) run() {
	// Coalesce event bursts from a single build into one version bump.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				_ = w.watcher.Add(ev.Name)
			}
			w.globals.SetStatus("Reloading...", false)
			if pending == nil {
				pending = time.AfterFunc(100*time.Millisecond, w.bump)
			} else {
				pending.Reset(100 * time.Millisecond)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("[watch] watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *BuildWatcher) bump() {
	version := w.globals.IncVersion()
	w.globals.ClearStatus()
	w.log.Debugf("[watch] content changed, version now %d", version)
}

func (w *BuildWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

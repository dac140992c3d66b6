// Package confwatcher watches the configuration file for changes.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// changes closer together than this are coalesced into one signal.
const rateLimit = 1 * time.Second

// ConfWatcher signals rewrites of the configuration file. The parent
// directory is watched instead of the file itself, since most editors
// and configmap mounts replace the file through a rename.
type ConfWatcher struct {
	FilePath string

	watcher *fsnotify.Watcher
	target  string

	// out
	chChanged chan struct{}
	done      chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	_, err := os.Stat(w.FilePath)
	if err != nil {
		return err
	}

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.target, _ = filepath.Abs(w.FilePath)

	err = w.watcher.Add(filepath.Dir(w.target))
	if err != nil {
		w.watcher.Close()
		return err
	}

	w.chChanged = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	go func() {
		for range w.chChanged {
		}
	}()
	w.watcher.Close()
	<-w.done
}

// resolved follows symlinks, so that swapping the link target counts
// as a change even when no event names the file directly.
func (w *ConfWatcher) resolved() string {
	p, _ := filepath.EvalSymlinks(w.FilePath)
	return p
}

func (w *ConfWatcher) isRewrite(ev fsnotify.Event) bool {
	p, _ := filepath.Abs(ev.Name)
	return p == w.target && ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastSignal time.Time
	lastResolved := w.resolved()

outer:
	for {
		select {
		case ev := <-w.watcher.Events:
			if time.Since(lastSignal) < rateLimit {
				continue
			}

			cur := w.resolved()
			if cur == "" {
				// file is gone; keep waiting for it to reappear
				lastResolved = ""
				continue
			}

			if cur != lastResolved || w.isRewrite(ev) {
				lastResolved = cur

				// give the writer time to finish
				time.Sleep(10 * time.Millisecond)

				lastSignal = time.Now()
				w.chChanged <- struct{}{}
			}

		case <-w.watcher.Errors:
			break outer
		}
	}

	close(w.chChanged)
}

// Watch returns a channel that receives a value whenever the
// configuration file changes.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.chChanged
}

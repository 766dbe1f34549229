package watch

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Notify is a Watcher that arms itself from fsnotify events and only falls
// back to a stat comparison once an event for the artifact has been seen.
// The directory is watched rather than the file because editors and build
// tools replace artifacts by rename, which detaches a file-level watch.
type Notify struct {
	stat  *Stat
	fw    *fsnotify.Watcher
	armed atomic.Bool
	done  chan struct{}
}

// NewNotify returns an fsnotify-accelerated watcher for path.
func NewNotify(path string) (*Notify, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Notify{
		stat: NewStat(path),
		fw:   fw,
		done: make(chan struct{}),
	}
	// Arm once so the first Poll after construction behaves like Stat.
	w.armed.Store(true)
	go w.run(filepath.Clean(path))
	return w, nil
}

func (w *Notify) run(path string) {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.armed.Store(true)
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			// Degrade to a stat check if the event stream misbehaves.
			w.armed.Store(true)
		case <-w.done:
			return
		}
	}
}

// Poll reports a change only after an event armed the watcher and the stat
// comparison confirms it.
func (w *Notify) Poll() (bool, error) {
	if !w.armed.Load() {
		return false, nil
	}
	changed, err := w.stat.Poll()
	if err != nil {
		return false, err
	}
	if !changed {
		// Event was noise (an artifact event that left size and mtime
		// unchanged, or an event-stream error); disarm until the next one.
		w.armed.Store(false)
	}
	return changed, nil
}

// Commit records the baseline and disarms until the next event.
func (w *Notify) Commit() error {
	if err := w.stat.Commit(); err != nil {
		return err
	}
	w.armed.Store(false)
	return nil
}

// Close stops the event goroutine and releases the fsnotify watcher.
func (w *Notify) Close() error {
	close(w.done)
	return w.fw.Close()
}

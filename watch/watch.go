package watch

import (
	"os"
	"time"
)

// Watcher reports whether the artifact differs from the committed baseline.
//
// Poll returns true when the artifact changed since the last Commit. Commit
// records the artifact's current metadata as the new baseline, typically
// right after a successful load of that exact file.
type Watcher interface {
	Poll() (bool, error)
	Commit() error
	Close() error
}

// Stat watches an artifact by polling os.Stat and comparing last-write time
// and size. The zero baseline (never committed) reports any existing file as
// changed.
type Stat struct {
	path    string
	modTime time.Time
	size    int64
	seen    bool
}

// NewStat returns a stat-based watcher for path.
func NewStat(path string) *Stat {
	return &Stat{path: path}
}

// Poll compares the artifact's current metadata against the baseline. A stat
// failure (artifact mid-rebuild or deleted) reports no change so the caller
// does not burn a generation on a vanished file.
func (w *Stat) Poll() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if !w.seen {
		return true, nil
	}
	return !info.ModTime().Equal(w.modTime) || info.Size() != w.size, nil
}

// Commit records the artifact's current metadata as the loaded baseline.
func (w *Stat) Commit() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.modTime = info.ModTime()
	w.size = info.Size()
	w.seen = true
	return nil
}

// Close is a no-op; Stat holds no resources.
func (w *Stat) Close() error { return nil }

// Path returns the watched artifact path.
func (w *Stat) Path() string { return w.path }

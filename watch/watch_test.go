package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArtifact(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

// bumpMtime advances the file's mtime by a full second so the test does not
// depend on filesystem timestamp granularity.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	mt := info.ModTime().Add(time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestStat_FirstPollReportsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w := NewStat(path)
	changed, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if !changed {
		t.Error("uncommitted watcher should report an existing file as changed")
	}
}

func TestStat_CommitThenQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w := NewStat(path)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	for i := 0; i < 3; i++ {
		changed, err := w.Poll()
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		if changed {
			t.Fatal("no change expected after commit")
		}
	}
}

func TestStat_DetectsMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w := NewStat(path)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	bumpMtime(t, path)

	changed, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if !changed {
		t.Error("mtime bump not detected")
	}
}

func TestStat_DetectsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w := NewStat(path)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	// Same mtime, different size.
	info, _ := os.Stat(path)
	writeArtifact(t, path, []byte("version two"))
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	changed, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if !changed {
		t.Error("size change not detected")
	}
}

func TestStat_MissingFileIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w := NewStat(path)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	changed, err := w.Poll()
	if err == nil {
		t.Error("expected stat error for missing file")
	}
	if changed {
		t.Error("missing file must not report a change")
	}
}

func TestNotify_DetectsRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w, err := NewNotify(path)
	if err != nil {
		t.Fatalf("NewNotify error: %v", err)
	}
	defer w.Close()

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	changed, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if changed {
		t.Fatal("no change expected right after commit")
	}

	writeArtifact(t, path, []byte("version two"))
	bumpMtime(t, path)

	// The event is delivered asynchronously; poll until armed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		changed, err = w.Poll()
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		if changed || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !changed {
		t.Error("rewrite not detected through fsnotify")
	}
}

func TestNotify_IgnoresNeighborFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guest.wasm")
	writeArtifact(t, path, []byte("v1"))

	w, err := NewNotify(path)
	if err != nil {
		t.Fatalf("NewNotify error: %v", err)
	}
	defer w.Close()

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	writeArtifact(t, filepath.Join(dir, "other.wasm"), []byte("noise"))
	time.Sleep(50 * time.Millisecond)

	changed, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if changed {
		t.Error("neighbor write must not report a change")
	}
}

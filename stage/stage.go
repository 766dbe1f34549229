package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/hotload/errors"
)

// sidecarExt is the debug companion copied alongside the artifact when it
// exists (source maps for wasm builds).
const sidecarExt = ".map"

// VersionPath computes the per-generation path for an artifact: the version
// number is appended to the stem and the extension is preserved. tempDir
// overrides the directory; empty means next to the artifact.
func VersionPath(artifact string, version uint32, tempDir string) string {
	dir := filepath.Dir(artifact)
	if tempDir != "" {
		dir = tempDir
	}
	base := filepath.Base(artifact)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", stem, version, ext))
}

// sidecarPath is the artifact path with its extension replaced by sidecarExt.
func sidecarPath(artifact string) string {
	ext := filepath.Ext(artifact)
	return strings.TrimSuffix(artifact, ext) + sidecarExt
}

// Stage copies the artifact (and its sidecar, when present) to the
// per-generation path for version and returns that path. Any copy failure is
// a BadImage error; a partially written destination is removed.
func Stage(artifact string, version uint32, tempDir string) (string, error) {
	dst := VersionPath(artifact, version, tempDir)
	if err := copyFile(artifact, dst); err != nil {
		os.Remove(dst)
		return "", errors.BadImage(errors.PhaseStage, fmt.Sprintf("stage generation %d", version), err)
	}

	// Debug sidecars ride along on a best-effort basis.
	if src := sidecarPath(artifact); fileExists(src) {
		_ = copyFile(src, sidecarPath(dst))
	}
	return dst, nil
}

// Remove deletes the staged copy (and sidecar) for version. Missing files
// are not an error; a crashing host may already have lost them.
func Remove(artifact string, version uint32, tempDir string) {
	dst := VersionPath(artifact, version, tempDir)
	os.Remove(dst)
	os.Remove(sidecarPath(dst))
}

// Sweep deletes staged copies for all generations in [1, upTo]. Close uses it
// to delete the copies a context created.
func Sweep(artifact string, upTo uint32, tempDir string) {
	for v := uint32(1); v <= upTo; v++ {
		Remove(artifact, v, tempDir)
	}
}

// SweepLeftovers removes every staged copy whose name matches the artifact's
// generation pattern, regardless of number. Used at Open when no upper bound
// is known.
func SweepLeftovers(artifact string, tempDir string) error {
	dir := filepath.Dir(artifact)
	if tempDir != "" {
		dir = tempDir
	}
	base := filepath.Base(artifact)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isGenerationName(name, stem, ext) || isGenerationName(name, stem, sidecarExt) {
			os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// isGenerationName reports whether name is stem + digits + ext.
func isGenerationName(name, stem, ext string) bool {
	if !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, ext) {
		return false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, stem), ext)
	if mid == "" {
		return false
	}
	for _, r := range mid {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

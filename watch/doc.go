// Package watch detects that a guest artifact was rewritten on disk.
//
// The default Stat watcher compares last-write time and size against the
// baseline recorded at the last successful load. That is enough to catch a
// rebuild without reading the file, and a spurious double detection is
// harmless because reloading an identical artifact is idempotent.
//
// Notify wraps Stat with an fsnotify subscription on the artifact's
// directory so that hosts pumping at high frequency skip the stat syscall on
// quiet frames. Events only arm the next poll; the stat comparison remains
// the source of truth.
//
// Hosts should write the artifact atomically (write to a temp name, then
// rename) so a poll never observes a half-written file.
package watch

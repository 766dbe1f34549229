package state

import (
	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/errors"
	"github.com/wippyai/hotload/wasmscan"
)

// Memory is the slice of a live guest generation that snapshots need.
// engine.Image satisfies it.
type Memory interface {
	Region() hotload.StateRegion
	ReadState() ([]byte, error)
	WriteState(data []byte) error
	ReadRange(base, length uint32) ([]byte, error)
	WriteRange(base uint32, data []byte) error
}

// Magic tags the snapshot format so a snapshot from a different build
// of this library is never restored into a guest.
const Magic uint32 = 0x68_6C_73_31 // "hls1"

// Fingerprint identifies the shape of a state region. Two generations
// are state-compatible when their fingerprints match; the base may move
// between builds, only the length is load-bearing.
type Fingerprint struct {
	Magic  uint32
	Length uint32
}

// Matches reports whether a snapshot taken under f can be restored into
// a region shaped like r.
func (f Fingerprint) Matches(r hotload.StateRegion) bool {
	return f.Magic == Magic && f.Length == r.Length
}

// Range is one copied span of linear memory outside the declared region.
type Range struct {
	Offset uint32
	Bytes  []byte
}

// Snapshot is a captured state region, owned by the snapshot (the bytes
// are copies, not views into guest memory).
type Snapshot struct {
	Version     uint32
	Fingerprint Fingerprint
	Bytes       []byte
	Ranges      []Range
}

// Capture reads the declared state region of a live generation. A guest
// with no declared region yields a snapshot with no bytes; restoring it
// later is a no-op.
func Capture(m Memory, version uint32) (*Snapshot, error) {
	region := m.Region()
	snap := &Snapshot{
		Version:     version,
		Fingerprint: Fingerprint{Magic: Magic, Length: region.Length},
	}
	if region.Empty() {
		return snap, nil
	}
	data, err := m.ReadState()
	if err != nil {
		return nil, errors.New(errors.PhaseCapture, hotload.Segfault).
			Version(version).Cause(err).Detail("read state region").Build()
	}
	snap.Bytes = data
	return snap, nil
}

// Restore writes a snapshot into a freshly loaded generation. A nil
// snapshot and an empty snapshot are both no-ops. A region whose shape
// no longer matches the fingerprint is a StateInvalidated error and the
// target is left untouched.
func Restore(m Memory, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	region := m.Region()
	if !snap.Fingerprint.Matches(region) {
		return errors.StateInvalidated(region.Length, snap.Fingerprint.Length)
	}
	if len(snap.Bytes) == 0 {
		return nil
	}
	if err := m.WriteState(snap.Bytes); err != nil {
		return errors.New(errors.PhaseRestore, hotload.Segfault).
			Version(snap.Version).Cause(err).Detail("write state region").Build()
	}
	return nil
}

// CaptureRanges copies the given static ranges out of a live generation.
// Ranges the generation's memory cannot serve are skipped; a rebuilt
// guest may have shrunk its memory.
func CaptureRanges(m Memory, segs []wasmscan.Segment) []Range {
	var out []Range
	for _, s := range segs {
		data, err := m.ReadRange(s.Offset, s.Length)
		if err != nil || data == nil {
			continue
		}
		out = append(out, Range{Offset: s.Offset, Bytes: data})
	}
	return out
}

// RestoreRanges writes captured ranges into a freshly loaded generation.
// Best effort, like the capture side.
func RestoreRanges(m Memory, ranges []Range) {
	for _, r := range ranges {
		_ = m.WriteRange(r.Offset, r.Bytes)
	}
}

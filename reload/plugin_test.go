package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/errors"
	"github.com/wippyai/hotload/internal/guestgen"
	"github.com/wippyai/hotload/watch"
)

// writeArtifact assembles g and writes it over path. Each call should use
// a distinct Padding so the stat watcher sees the size change without
// waiting out filesystem timestamp granularity.
func writeArtifact(t *testing.T, path string, g guestgen.Guest) {
	t.Helper()
	if err := os.WriteFile(path, g.Build(), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func newArtifact(t *testing.T, g guestgen.Guest) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.wasm")
	writeArtifact(t, path, g)
	return path
}

func open(t *testing.T, path string, opts ...Option) *Plugin {
	t.Helper()
	opts = append(opts, WithWatcher(watch.NewStat(path)))
	p, err := Open(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func mustUpdate(t *testing.T, p *Plugin, want int32) {
	t.Helper()
	ret, err := p.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ret != want {
		t.Fatalf("Update = %d, want %d", ret, want)
	}
	checkInvariants(t, p)
}

func checkInvariants(t *testing.T, p *Plugin) {
	t.Helper()
	if p.closed || p.dead {
		return
	}
	if p.Version > p.LastWorkingVersion {
		t.Errorf("version %d > last working %d", p.Version, p.LastWorkingVersion)
	}
	if p.LastWorkingVersion > p.NextVersion-1 {
		t.Errorf("last working %d > next-1 %d", p.LastWorkingVersion, p.NextVersion-1)
	}
}

// counterTrap is a counter-shaped guest whose chosen entry faults, so
// rollback restores cleanly into the same region shape.
func counterTrap(on hotload.OpCode, action guestgen.Action, padding int) guestgen.Guest {
	g := guestgen.CounterGuest(0)
	g.Padding = padding
	op := guestgen.Op{Action: action}
	switch on {
	case hotload.OpLoad:
		g.OnLoad = op
	case hotload.OpStep:
		g.OnStep = op
	case hotload.OpUnload:
		g.OnUnload = op
	}
	return g
}

func TestFirstLoad(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)

	if p.Version != 1 || p.NextVersion != 2 {
		t.Fatalf("after open: version=%d next=%d", p.Version, p.NextVersion)
	}
	mustUpdate(t, p, 1)
	if p.LastWorkingVersion != 1 {
		t.Errorf("last working = %d, want 1", p.LastWorkingVersion)
	}
	if p.Failure != hotload.None {
		t.Errorf("failure = %v, want None", p.Failure)
	}
}

func TestStateCarriedAcrossReload(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(10))
	p := open(t, path)

	mustUpdate(t, p, 11)
	mustUpdate(t, p, 12)

	// Rebuild: fresh seed, same shape. The carried counter must win over
	// the new artifact's initializer.
	g := guestgen.CounterGuest(0)
	g.Padding = 8
	writeArtifact(t, path, g)

	mustUpdate(t, p, 13)
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
	mustUpdate(t, p, 14)
}

func TestStepFaultRollsBack(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(10))
	p := open(t, path)

	mustUpdate(t, p, 11)
	mustUpdate(t, p, 12)
	writeArtifact(t, path, func() guestgen.Guest {
		g := guestgen.CounterGuest(0)
		g.Padding = 4
		return g
	}())
	mustUpdate(t, p, 13) // now generation 2

	writeArtifact(t, path, counterTrap(hotload.OpStep, guestgen.TrapOOBLoad, 8))
	ret, err := p.Update(context.Background())
	if ret != -1 || err == nil {
		t.Fatalf("faulting update = (%d, %v), want (-1, error)", ret, err)
	}
	if p.Failure != hotload.Segfault {
		t.Errorf("failure = %v, want Segfault", p.Failure)
	}
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
	checkInvariants(t, p)

	// The rolled-back generation runs against the state captured before
	// the faulting step.
	mustUpdate(t, p, 14)
	if p.Failure != hotload.None {
		t.Errorf("failure not cleared: %v", p.Failure)
	}
}

func TestLoadFaultKeepsVersion(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)

	mustUpdate(t, p, 1)
	writeArtifact(t, path, func() guestgen.Guest {
		g := guestgen.CounterGuest(0)
		g.Padding = 8
		return g
	}())
	mustUpdate(t, p, 2) // generation 2

	writeArtifact(t, path, counterTrap(hotload.OpLoad, guestgen.TrapOOBLoad, 16))
	ret, err := p.Update(context.Background())
	if ret != -2 || err == nil {
		t.Fatalf("faulting update = (%d, %v), want (-2, error)", ret, err)
	}
	if p.Failure != hotload.Segfault {
		t.Errorf("failure = %v, want Segfault", p.Failure)
	}
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
	if p.NextVersion != 4 {
		t.Errorf("next version = %d, want 4", p.NextVersion)
	}
	checkInvariants(t, p)

	// Recovery: a fixed rebuild loads as a strictly higher generation.
	writeArtifact(t, path, func() guestgen.Guest {
		g := guestgen.CounterGuest(0)
		g.Padding = 24
		return g
	}())
	mustUpdate(t, p, 3)
	if p.Version != 4 {
		t.Errorf("recovered version = %d, want 4", p.Version)
	}
}

func TestUnloadFaultRollsBack(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)
	mustUpdate(t, p, 1)

	// Generation 2 carries the counter but cannot be unloaded.
	writeArtifact(t, path, counterTrap(hotload.OpUnload, guestgen.TrapOOBLoad, 8))
	mustUpdate(t, p, 2)
	mustUpdate(t, p, 3)

	writeArtifact(t, path, func() guestgen.Guest {
		g := guestgen.CounterGuest(0)
		g.Padding = 16
		return g
	}())
	ret, err := p.Update(context.Background())
	if ret != -2 || err == nil {
		t.Fatalf("faulting update = (%d, %v), want (-2, error)", ret, err)
	}
	if p.Failure != hotload.Segfault {
		t.Errorf("failure = %v, want Segfault", p.Failure)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	checkInvariants(t, p)

	// The change is still pending; the next pump reloads from the rolled
	// back generation, carrying the state captured before the fault. The
	// aborted transaction never staged anything, so no generation number
	// was consumed.
	mustUpdate(t, p, 4)
	if p.Version != 3 {
		t.Errorf("version = %d, want 3", p.Version)
	}
}

func TestStateShapeChangeInvalidates(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(5))
	p := open(t, path)
	mustUpdate(t, p, 6)

	// The rebuild grows the declared region.
	writeArtifact(t, path, guestgen.Guest{
		StateBase: 16,
		StateLen:  8,
		OnStep:    guestgen.Op{Action: guestgen.Counter},
	})
	ret, err := p.Update(context.Background())
	if ret != -2 || err == nil {
		t.Fatalf("update = (%d, %v), want (-2, error)", ret, err)
	}
	if p.Failure != hotload.StateInvalidated {
		t.Errorf("failure = %v, want StateInvalidated", p.Failure)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	checkInvariants(t, p)
}

func TestUnloadVetoKeepsGeneration(t *testing.T) {
	g := guestgen.CounterGuest(0)
	g.OnUnload = guestgen.Op{Action: guestgen.ReturnConst, Const: 7}
	path := newArtifact(t, g)
	p := open(t, path)
	mustUpdate(t, p, 1)

	next := guestgen.CounterGuest(0)
	next.Padding = 8
	writeArtifact(t, path, next)
	ret, err := p.Update(context.Background())
	if ret != -2 || err == nil {
		t.Fatalf("update = (%d, %v), want (-2, error)", ret, err)
	}
	if p.Failure != hotload.User {
		t.Errorf("failure = %v, want User", p.Failure)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	if p.NextVersion != 2 {
		t.Errorf("next version = %d, want 2 (no attempt made)", p.NextVersion)
	}
}

func TestFirstGenerationStepFaultIsFatal(t *testing.T) {
	path := newArtifact(t, counterTrap(hotload.OpStep, guestgen.TrapUnreachable, 0))
	p := open(t, path)

	ret, err := p.Update(context.Background())
	if ret != -1 || err == nil {
		t.Fatalf("update = (%d, %v), want (-1, error)", ret, err)
	}
	if p.Failure != hotload.IllegalOp {
		t.Errorf("failure = %v, want IllegalOp", p.Failure)
	}

	// No earlier generation exists; the plugin is dead and keeps
	// reporting the terminal error.
	ret, err = p.Update(context.Background())
	if ret != -2 || err == nil {
		t.Fatalf("dead update = (%d, %v), want (-2, error)", ret, err)
	}
	ret2, err2 := p.Update(context.Background())
	if ret2 != ret || err2 != err {
		t.Error("dead plugin must keep returning the same failure")
	}
}

func TestOpenFailures(t *testing.T) {
	t.Run("missing artifact", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Open(context.Background(), filepath.Join(dir, "absent.wasm"))
		if err == nil {
			t.Fatal("expected error")
		}
		if errors.KindOf(err) != hotload.InitialFailure {
			t.Errorf("kind = %v, want InitialFailure", errors.KindOf(err))
		}
		assertNoStagedFiles(t, dir)
	})

	t.Run("load trap", func(t *testing.T) {
		path := newArtifact(t, counterTrap(hotload.OpLoad, guestgen.TrapUnreachable, 0))
		_, err := Open(context.Background(), path)
		if errors.KindOf(err) != hotload.InitialFailure {
			t.Errorf("kind = %v, want InitialFailure", errors.KindOf(err))
		}
		assertNoStagedFiles(t, filepath.Dir(path))
	})

	t.Run("load veto", func(t *testing.T) {
		g := guestgen.Guest{OnLoad: guestgen.Op{Action: guestgen.ReturnConst, Const: 1}}
		path := newArtifact(t, g)
		_, err := Open(context.Background(), path)
		if errors.KindOf(err) != hotload.InitialFailure {
			t.Errorf("kind = %v, want InitialFailure", errors.KindOf(err))
		}
	})
}

func assertNoStagedFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "guest.wasm" && e.Name() != "absent.wasm" {
			t.Errorf("leftover staged file %q", e.Name())
		}
	}
}

func TestCloseLeavesNoStagedFiles(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	dir := filepath.Dir(path)

	t.Run("without updates", func(t *testing.T) {
		p := open(t, path)
		if err := p.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		assertNoStagedFiles(t, dir)
	})

	t.Run("after updates and reload", func(t *testing.T) {
		p := open(t, path)
		mustUpdate(t, p, 1)
		g := guestgen.CounterGuest(0)
		g.Padding = 8
		writeArtifact(t, path, g)
		mustUpdate(t, p, 2)
		if err := p.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		assertNoStagedFiles(t, dir)

		if p.Version != 0 || p.NextVersion != 0 || p.LastWorkingVersion != 0 {
			t.Error("public fields not zeroed by Close")
		}
		if _, err := p.Update(context.Background()); err == nil {
			t.Error("Update after Close must fail")
		}
	})
}

func TestCloseFaultReported(t *testing.T) {
	g := guestgen.CounterGuest(0)
	g.OnUnload = guestgen.Op{Action: guestgen.TrapUnreachable}
	path := newArtifact(t, g)

	p, err := Open(context.Background(), path, WithWatcher(watch.NewStat(path)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(context.Background()); err == nil {
		t.Error("expected fault from the final unload")
	}
	// Cleanup still happened.
	assertNoStagedFiles(t, filepath.Dir(path))
}

func TestNoChangeKeepsGeneration(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)

	for i := int32(1); i <= 5; i++ {
		mustUpdate(t, p, i)
		if p.Version != 1 {
			t.Fatalf("version drifted to %d without artifact change", p.Version)
		}
	}
}

func TestReentrantUpdateIgnored(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)

	p.inUpdate = true
	ret, err := p.Update(context.Background())
	if ret != 0 || err != nil {
		t.Errorf("re-entrant update = (%d, %v), want (0, nil)", ret, err)
	}
	p.inUpdate = false

	mustUpdate(t, p, 1)
}

func TestModeDisable(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(10))
	p := open(t, path, WithMode(hotload.ModeDisable))

	mustUpdate(t, p, 11)
	mustUpdate(t, p, 12)

	g := guestgen.CounterGuest(0)
	g.Padding = 8
	writeArtifact(t, path, g)

	// Pure fresh load: the new artifact's own seed wins.
	mustUpdate(t, p, 1)
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
}

// undeclaredCounter keeps its counter in plain static data without
// declaring a state region.
func undeclaredCounter(seed uint32, padding int) guestgen.Guest {
	return guestgen.Guest{
		StateBase: 64,
		StateInit: []byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)},
		OnStep:    guestgen.Op{Action: guestgen.Counter},
		Padding:   padding,
	}
}

func TestModeUnsafeCarriesUndeclaredStatics(t *testing.T) {
	path := newArtifact(t, undeclaredCounter(10, 0))
	p := open(t, path, WithMode(hotload.ModeUnsafe))

	mustUpdate(t, p, 11)
	mustUpdate(t, p, 12)

	writeArtifact(t, path, undeclaredCounter(100, 8))
	mustUpdate(t, p, 13)
}

func TestModeSafeDropsUndeclaredStatics(t *testing.T) {
	path := newArtifact(t, undeclaredCounter(10, 0))
	p := open(t, path)

	mustUpdate(t, p, 11)
	mustUpdate(t, p, 12)

	writeArtifact(t, path, undeclaredCounter(100, 8))
	mustUpdate(t, p, 101)
}

func TestNextVersionMonotone(t *testing.T) {
	path := newArtifact(t, guestgen.CounterGuest(0))
	p := open(t, path)

	last := p.NextVersion
	step := func() {
		if _, err := p.Update(context.Background()); err == nil {
			checkInvariants(t, p)
		}
		if p.NextVersion < last {
			t.Fatalf("next version went backward: %d -> %d", last, p.NextVersion)
		}
		last = p.NextVersion
	}

	step()
	g := guestgen.CounterGuest(0)
	g.Padding = 8
	writeArtifact(t, path, g)
	step()
	writeArtifact(t, path, counterTrap(hotload.OpLoad, guestgen.TrapOOBLoad, 16))
	step()
	writeArtifact(t, path, func() guestgen.Guest {
		g := guestgen.CounterGuest(0)
		g.Padding = 24
		return g
	}())
	step()
}

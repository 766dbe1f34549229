package reload

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/engine"
	"github.com/wippyai/hotload/errors"
	"github.com/wippyai/hotload/stage"
	"github.com/wippyai/hotload/state"
	"github.com/wippyai/hotload/wasmscan"
	"github.com/wippyai/hotload/watch"
)

// Plugin drives the lifecycle of one guest artifact. The exported fields
// mirror what guests and hosts observe; they are read-only for callers
// except Userdata, which is passed through to every guest call untouched.
//
// A Plugin is not safe for concurrent use. All calls must come from the
// same goroutine.
type Plugin struct {
	// Userdata is handed to the guest entry point on every call.
	Userdata uint32

	// Version is the generation currently live. Decremented on rollback.
	Version uint32

	// NextVersion is the generation number the next load attempt will
	// consume. It never decreases; failed attempts burn their number.
	NextVersion uint32

	// LastWorkingVersion is the highest generation that completed at
	// least one successful step.
	LastWorkingVersion uint32

	// Failure is the classification of the most recent fault, cleared to
	// None by the next fully successful Update.
	Failure hotload.FailureKind

	artifact string
	tempDir  string
	mode     hotload.Mode
	log      *zap.Logger

	eng     *engine.Engine
	watcher watch.Watcher

	img *engine.Image

	// prevSnap is the newest snapshot captured at a successful unload; it
	// belongs to fallbackGen. pendingSnap is captured at the start of the
	// current Update and outlives a faulting step.
	prevSnap    *state.Snapshot
	pendingSnap *state.Snapshot
	fallbackGen uint32

	// initialSegs are the constant-offset data segments of the very first
	// artifact, recorded once for unsafe-mode transfer.
	initialSegs []wasmscan.Segment

	inUpdate bool
	dead     bool
	lastErr  error
	closed   bool
}

// Option configures a Plugin at Open.
type Option func(*Plugin)

// WithMode selects the cross-generation transfer policy. ModeSafe is the
// default.
func WithMode(m hotload.Mode) Option {
	return func(p *Plugin) { p.mode = m }
}

// WithTempDir places staged per-generation copies in dir instead of next
// to the artifact.
func WithTempDir(dir string) Option {
	return func(p *Plugin) { p.tempDir = dir }
}

// WithLogger installs a logger. A no-op logger is the default.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) {
		if l != nil {
			p.log = l
		}
	}
}

// WithWatcher replaces the artifact watcher. The default watches the
// artifact's directory for rewrite events and falls back to polling file
// metadata when the platform watcher cannot start.
func WithWatcher(w watch.Watcher) Option {
	return func(p *Plugin) { p.watcher = w }
}

// WithUserdata sets the opaque value handed to every guest call.
func WithUserdata(v uint32) Option {
	return func(p *Plugin) { p.Userdata = v }
}

// Open stages and loads the first generation of the artifact at path.
// On failure nothing is left behind: staged copies are removed and the
// returned error carries InitialFailure.
func Open(ctx context.Context, path string, opts ...Option) (*Plugin, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := &Plugin{
		artifact:    path,
		mode:        hotload.ModeSafe,
		log:         zap.NewNop(),
		NextVersion: 1,
	}
	for _, opt := range opts {
		opt(p)
	}

	// A previous host may have crashed without cleaning up.
	_ = stage.SweepLeftovers(path, p.tempDir)

	if p.watcher == nil {
		if w, err := watch.NewNotify(path); err == nil {
			p.watcher = w
		} else {
			p.watcher = watch.NewStat(path)
		}
	}

	p.eng = engine.Acquire(ctx)

	gen := p.NextVersion
	p.NextVersion++
	img, err := p.loadGeneration(ctx, gen)
	if err != nil {
		stage.Remove(path, gen, p.tempDir)
		_ = p.watcher.Close()
		engine.Release(ctx, p.eng)
		return nil, errors.Initial(err)
	}
	p.img = img
	p.Version = gen

	if p.mode == hotload.ModeUnsafe {
		p.recordInitialSegments(stage.VersionPath(path, gen, p.tempDir))
	}

	if err := p.watcher.Commit(); err != nil {
		p.log.Warn("watch baseline", zap.Error(err))
	}

	p.log.Info("opened",
		zap.String("artifact", path),
		zap.Uint32("generation", gen),
		zap.Stringer("mode", p.mode))
	return p, nil
}

// LoadSafe is Open under the name older hosts use.
func LoadSafe(ctx context.Context, path string, opts ...Option) (*Plugin, error) {
	return Open(ctx, path, opts...)
}

// recordInitialSegments notes the writable static ranges of the first
// generation. Scan failures leave the list empty; the artifact already
// compiled, so this only skips the unsafe extra transfer.
func (p *Plugin) recordInitialSegments(stagedPath string) {
	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return
	}
	mod, err := wasmscan.Scan(data)
	if err != nil {
		return
	}
	p.initialSegs = mod.Segments
}

// Update is the single pumping operation. It polls for an artifact
// rewrite, runs the reload transaction when one is seen, then issues one
// STEP to the live guest and returns the guest's value.
//
// A faulting step returns -1; a failed reload transaction returns -2. In
// both cases the error describes the failure, Failure is set, and the
// previous working generation is live again (unless rollback itself
// failed, after which every Update returns the same terminal error).
func (p *Plugin) Update(ctx context.Context) (int32, error) {
	if p.closed {
		return -2, errors.New(errors.PhaseClose, hotload.None).Detail("plugin is closed").Build()
	}
	if p.dead {
		return -2, p.lastErr
	}
	if p.inUpdate {
		// A rewrite observed while a transaction is still on the stack
		// waits for the next pump.
		return 0, nil
	}
	p.inUpdate = true
	defer func() { p.inUpdate = false }()

	if p.mode != hotload.ModeDisable {
		snap, err := state.Capture(p.img, p.Version)
		if err == nil {
			p.pendingSnap = snap
		}
	}

	changed, err := p.watcher.Poll()
	if err != nil {
		// A half-written artifact or a stat race must not burn a
		// generation; try again next pump.
		p.log.Debug("watch poll", zap.Error(err))
		changed = false
	}
	if changed {
		if err := p.reload(ctx); err != nil {
			return -2, err
		}
	}

	steppedGen := p.Version
	ret, callErr := p.img.Call(ctx, steppedGen, p.Userdata, hotload.OpStep)
	if callErr != nil {
		kind := engine.Classify(callErr)
		p.Failure = kind
		p.log.Warn("step fault",
			zap.Uint32("generation", steppedGen),
			zap.Stringer("kind", kind),
			zap.Error(callErr))
		stepErr := errors.Fault(errors.PhaseStep, kind, steppedGen, callErr)
		p.rollback(ctx, stepErr)
		return -1, stepErr
	}

	p.Failure = hotload.None
	if p.Version > p.LastWorkingVersion {
		p.LastWorkingVersion = p.Version
	}
	return ret, nil
}

// reload runs the unload/stage/load transaction. On return with an error
// the plugin is either rolled back to the last working generation or
// dead; Failure is set either way.
func (p *Plugin) reload(ctx context.Context) error {
	oldGen := p.Version

	ret, err := p.img.Call(ctx, oldGen, p.Userdata, hotload.OpUnload)
	if err != nil {
		kind := engine.Classify(err)
		p.Failure = kind
		ferr := errors.Fault(errors.PhaseUnload, kind, oldGen, err)
		p.rollback(ctx, ferr)
		return ferr
	}
	if ret != 0 {
		// The guest vetoed the transition. Nothing was torn down; keep
		// running it and retry on the next pump.
		p.Failure = hotload.User
		return errors.User(errors.PhaseUnload, oldGen, ret)
	}

	var ranges []state.Range
	if p.mode != hotload.ModeDisable {
		snap, err := state.Capture(p.img, oldGen)
		if err != nil {
			kind := errors.KindOf(err)
			p.Failure = kind
			p.rollback(ctx, err)
			return err
		}
		p.prevSnap = snap
	}
	if p.mode == hotload.ModeUnsafe {
		ranges = state.CaptureRanges(p.img, p.initialSegs)
	}
	p.fallbackGen = oldGen

	_ = p.img.Close(ctx)
	p.img = nil

	gen := p.NextVersion
	p.NextVersion++

	fail := func(err error) error {
		kind := errors.KindOf(err)
		p.Failure = kind
		p.log.Warn("reload failed",
			zap.Uint32("generation", gen),
			zap.Stringer("kind", kind),
			zap.Error(err))
		p.rollback(ctx, err)
		return err
	}

	if _, err := stage.Stage(p.artifact, gen, p.tempDir); err != nil {
		return fail(err)
	}
	img, err := engine.LoadImage(ctx, p.eng, stage.VersionPath(p.artifact, gen, p.tempDir))
	if err != nil {
		return fail(err)
	}

	if p.mode != hotload.ModeDisable {
		if err := state.Restore(img, p.prevSnap); err != nil {
			_ = img.Close(ctx)
			return fail(err)
		}
	}
	if p.mode == hotload.ModeUnsafe {
		state.RestoreRanges(img, ranges)
	}

	ret, err = img.Call(ctx, gen, p.Userdata, hotload.OpLoad)
	if err != nil {
		kind := engine.Classify(err)
		_ = img.Close(ctx)
		ferr := errors.Fault(errors.PhaseLoad, kind, gen, err)
		p.Failure = kind
		p.log.Warn("load fault",
			zap.Uint32("generation", gen),
			zap.Stringer("kind", kind),
			zap.Error(err))
		p.rollback(ctx, ferr)
		return ferr
	}
	if ret != 0 {
		_ = img.Close(ctx)
		return fail(errors.User(errors.PhaseLoad, gen, ret))
	}

	p.img = img
	p.Version = gen
	// The start-of-update snapshot belongs to the generation that just
	// went away; the unload-time capture is the fresher fallback now.
	p.pendingSnap = nil
	if err := p.watcher.Commit(); err != nil {
		p.log.Debug("watch commit", zap.Error(err))
	}
	p.log.Info("reloaded",
		zap.Uint32("generation", gen),
		zap.Uint32("replaced", oldGen))
	return nil
}

// loadGeneration stages generation gen, instantiates it, and issues LOAD.
// Used for the initial load, where there is no snapshot to restore.
func (p *Plugin) loadGeneration(ctx context.Context, gen uint32) (*engine.Image, error) {
	if _, err := stage.Stage(p.artifact, gen, p.tempDir); err != nil {
		return nil, err
	}
	img, err := engine.LoadImage(ctx, p.eng, stage.VersionPath(p.artifact, gen, p.tempDir))
	if err != nil {
		return nil, err
	}
	ret, err := img.Call(ctx, gen, p.Userdata, hotload.OpLoad)
	if err != nil {
		kind := engine.Classify(err)
		_ = img.Close(ctx)
		return nil, errors.Fault(errors.PhaseLoad, kind, gen, err)
	}
	if ret != 0 {
		_ = img.Close(ctx)
		return nil, errors.User(errors.PhaseLoad, gen, ret)
	}
	return img, nil
}

// rollback returns the plugin to the generation that owns prevSnap. The
// freshest snapshot whose shape still matches wins: the one captured at
// the start of this Update if possible, else the unload-time snapshot.
// A fault inside rollback itself leaves the plugin dead.
func (p *Plugin) rollback(ctx context.Context, cause error) {
	if p.img != nil {
		_ = p.img.Close(ctx)
		p.img = nil
	}

	target := p.fallbackGen
	if target == 0 {
		// The first generation faulted before any unload ever captured a
		// snapshot; there is nothing to return to.
		p.die(errors.Unrecoverable(p.Failure, cause))
		return
	}

	img, err := engine.LoadImage(ctx, p.eng, stage.VersionPath(p.artifact, target, p.tempDir))
	if err != nil {
		p.die(errors.Unrecoverable(hotload.BadImage, err))
		return
	}

	if p.mode != hotload.ModeDisable {
		restored := false
		if p.pendingSnap != nil {
			if rerr := state.Restore(img, p.pendingSnap); rerr == nil {
				restored = true
			}
		}
		if !restored && p.prevSnap != nil {
			_ = state.Restore(img, p.prevSnap)
		}
	}

	ret, err := img.Call(ctx, target, p.Userdata, hotload.OpLoad)
	if err != nil {
		kind := engine.Classify(err)
		_ = img.Close(ctx)
		p.die(errors.Unrecoverable(kind, err))
		return
	}
	if ret != 0 {
		_ = img.Close(ctx)
		p.die(errors.Unrecoverable(hotload.User, errors.User(errors.PhaseRollback, target, ret)))
		return
	}

	p.img = img
	p.Version = target
	p.log.Info("rolled back", zap.Uint32("generation", target))
}

func (p *Plugin) die(err error) {
	p.dead = true
	p.lastErr = err
	p.log.Error("unrecoverable", zap.Error(err))
}

// Close issues a final UNLOAD to the live guest, tears the instance
// down, deletes the staged copies this plugin created, and zeroes the
// public fields. A guest fault during the final UNLOAD is reported but
// does not stop the cleanup.
func (p *Plugin) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true

	var closeErr error
	if p.img != nil {
		if _, err := p.img.Call(ctx, p.Version, p.Userdata, hotload.OpUnload); err != nil {
			closeErr = errors.Fault(errors.PhaseClose, engine.Classify(err), p.Version, err)
		}
		_ = p.img.Close(ctx)
		p.img = nil
	}

	stage.Sweep(p.artifact, p.NextVersion, p.tempDir)
	if p.watcher != nil {
		_ = p.watcher.Close()
	}
	engine.Release(ctx, p.eng)

	p.prevSnap = nil
	p.pendingSnap = nil
	p.Version = 0
	p.NextVersion = 0
	p.LastWorkingVersion = 0
	p.Failure = hotload.None

	p.log.Info("closed", zap.String("artifact", p.artifact))
	return closeErr
}

package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
)

// Engine wraps a wazero runtime shared by every open context in the
// process. Acquire and Release manage its lifetime.
type Engine struct {
	runtime wazero.Runtime
}

var (
	sharedMu  sync.Mutex
	shared    *Engine
	sharedRef int
)

// Acquire returns the process-wide engine, creating it on the first call.
// Every Acquire must be paired with exactly one Release.
func Acquire(ctx context.Context) *Engine {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedRef == 0 {
		shared = &Engine{
			runtime: wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		}
		Logger().Debug("created shared runtime")
	}
	sharedRef++
	return shared
}

// Release drops one reference. The last release closes the runtime and
// its compilation cache.
func Release(ctx context.Context, e *Engine) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if e != shared || sharedRef == 0 {
		return
	}
	sharedRef--
	if sharedRef == 0 {
		_ = shared.runtime.Close(ctx)
		shared = nil
		Logger().Debug("closed shared runtime")
	}
}

// Runtime exposes the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

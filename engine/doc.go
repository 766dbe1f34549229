// Package engine owns the interaction with the wazero runtime: a shared,
// refcounted runtime that outlives any single guest, loading a staged
// artifact into a live Image, and classifying the traps an image raises
// into failure kinds.
//
// The runtime is process-global and reference counted. Every open context
// calls Acquire and pairs it with Release on close; the compilation cache
// and runtime survive as long as at least one context holds a reference,
// so reloading the same artifact across contexts does not recompile it.
//
// An Image is one instantiated generation of a guest. It resolves the
// entry point, discovers the guest's declared state region from its
// exported globals, and mediates every call and memory access until the
// generation is closed.
package engine

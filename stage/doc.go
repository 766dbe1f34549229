// Package stage manages the per-generation on-disk copies of a guest
// artifact.
//
// The original artifact is never loaded directly. Every generation gets its
// own copy, named by appending the generation number to the artifact stem
// (guest.wasm -> guest3.wasm), so the user can rebuild the original while an
// earlier generation's copy is still mapped, and so rollback can re-map an
// older generation from disk.
//
// Staged copies are disposable: Sweep removes the ones a context created,
// and SweepLeftovers clears leftovers from a host that crashed before
// cleaning up.
package stage

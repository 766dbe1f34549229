// Package wasmscan reads just enough of the core WebAssembly binary format
// to answer two questions about a guest artifact without instantiating it:
// which names it exports, and where its active data segments initialize
// linear memory.
//
// The export table lets a caller check for the guest entry point without
// compiling the artifact; the runtime itself resolves the entry point when
// engine.LoadImage instantiates the guest and does not consult this table.
// The data-segment ranges are the writable static regions recorded from the
// initial generation for ModeUnsafe transfer.
//
// Everything else in the binary (types, code, tables, custom sections) is
// skipped over by section size.
package wasmscan

// Package hotload provides a live-reloading runtime for WebAssembly guest
// modules embedded in long-running Go hosts.
//
// A host links this library, points it at a guest artifact on disk, and pumps
// it from its main loop. The runtime detects that the artifact was rewritten,
// loads the new generation without restarting the host, and carries a declared
// region of the guest's linear memory from the previous generation into the
// new one. When a guest faults (out-of-bounds access, unreachable, divide by
// zero, stack exhaustion) during any entry point, the runtime converts the
// fault into a typed error, rolls back to the previous working generation,
// restores that generation's state snapshot, and keeps running.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	hotload/            Root package with the OpCode, FailureKind and Mode
//	                    types shared by every layer
//	├── reload/         High-level API: Open, Update, Close on a Plugin
//	├── engine/         wazero integration: shared runtime, image mapping,
//	                    fault classification
//	├── state/          State-region snapshot capture and restore
//	├── stage/          Per-generation artifact staging on disk
//	├── watch/          Artifact change detection (stat poll, fsnotify)
//	├── wasmscan/       Minimal WASM binary inspection
//	└── errors/         Structured error types for debugging
//
// # Quick Start
//
// Open a guest and pump it:
//
//	p, err := reload.Open(ctx, "guest.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	for {
//	    ret, err := p.Update(ctx)
//	    if err != nil {
//	        log.Printf("guest fault %v, now at version %d", p.Failure, p.Version)
//	    } else if ret < 0 {
//	        break
//	    }
//	    time.Sleep(100 * time.Millisecond)
//	}
//
// Rebuilding guest.wasm while the host runs triggers a reload on the next
// Update; the declared state region survives the swap.
//
// # Guest ABI
//
// A guest is a core WebAssembly module exporting a single entry point:
//
//	cr_main: (func (param $version i32) (param $userdata i32) (param $op i32) (result i32))
//
// with op one of LOAD=0, STEP=1, UNLOAD=2, CLOSE=3. On STEP a return of 0
// means continue and a negative value asks the host to stop; other values are
// passed through opaquely. A non-zero return from LOAD or UNLOAD aborts the
// reload transaction with a User failure.
//
// A guest that wants state to survive reloads exports two immutable i32
// globals naming a region of its linear memory:
//
//	cr_state:     byte offset of the region
//	cr_state_len: byte length of the region
//
// The runtime treats the region as an opaque blob. Generations whose region
// length differs fail the reload with StateInvalidated and roll back; the
// guest is then expected to be rebuilt with a compatible layout.
//
// # Concurrency
//
// A Plugin is single-threaded: all calls must come from one goroutine,
// typically the host's main loop. The guest entry point is invoked
// synchronously and must return before the next Update. There is no watchdog;
// an infinitely looping guest hangs the host.
package hotload

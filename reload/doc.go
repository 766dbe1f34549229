// Package reload is the controller that ties the runtime together: it
// owns one guest artifact per Plugin, detects rewrites of the artifact,
// drives the unload/stage/load/restore transaction, and rolls back to
// the last working generation when anything in that transaction or in a
// guest step faults.
//
// The host drives a Plugin from a single goroutine:
//
//	p, err := reload.Open(ctx, "guest.wasm")
//	if err != nil { ... }
//	defer p.Close(ctx)
//	for {
//		ret, err := p.Update(ctx)
//		if err != nil {
//			// guest faulted and was rolled back; p.Failure says why
//			continue
//		}
//		if ret < 0 {
//			break // guest asked the host to stop
//		}
//	}
//
// Update never panics for any condition the runtime handles: a faulting
// guest turns into a negative return plus an error, and the previous
// generation keeps running.
package reload

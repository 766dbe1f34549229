// Package errors provides the structured error type used throughout hotload.
//
// Every error carries a Phase (where in the plugin lifecycle it occurred) and
// a Kind (the hotload.FailureKind classification). Errors compare by
// Phase+Kind under errors.Is, so callers can match classes of failure without
// string inspection:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseRestore, Kind: hotload.StateInvalidated}) {
//	    // incompatible state layout, old generation still live
//	}
//
// Convenience constructors cover the common cases (BadImage, Fault, User,
// StateInvalidated); the Builder handles the rest.
package errors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/wippyai/hotload"
)

// As is errors.As re-exported so callers need only one errors import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is errors.Is re-exported so callers need only one errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// Phase indicates where in the plugin lifecycle the error occurred
type Phase string

const (
	PhaseOpen     Phase = "open"     // initial load
	PhaseWatch    Phase = "watch"    // artifact change detection
	PhaseStage    Phase = "stage"    // per-generation copy
	PhaseLoad     Phase = "load"     // mapping and LOAD call
	PhaseCapture  Phase = "capture"  // state snapshot at unload
	PhaseRestore  Phase = "restore"  // state snapshot into new image
	PhaseStep     Phase = "step"     // STEP call
	PhaseUnload   Phase = "unload"   // UNLOAD call
	PhaseRollback Phase = "rollback" // return to the last working generation
	PhaseClose    Phase = "close"    // context teardown
)

// Error is the structured error type used throughout the runtime.
type Error struct {
	Cause   error
	Phase   Phase
	Kind    hotload.FailureKind
	Version uint32 // generation the error concerns, 0 when not applicable
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(e.Kind.String())

	if e.Version != 0 {
		fmt.Fprintf(&b, " (gen %d)", e.Version)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind hotload.FailureKind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Version sets the generation number the error concerns
func (b *Builder) Version(v uint32) *Builder {
	b.err.Version = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadImage creates an error for an artifact that could not be staged, mapped
// or resolved.
func BadImage(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   hotload.BadImage,
		Detail: detail,
		Cause:  cause,
	}
}

// Fault wraps a classified guest fault.
func Fault(phase Phase, kind hotload.FailureKind, version uint32, cause error) *Error {
	return &Error{
		Phase:   phase,
		Kind:    kind,
		Version: version,
		Detail:  "guest fault",
		Cause:   cause,
	}
}

// User creates an error for a guest that vetoed a transition by returning
// non-zero from LOAD or UNLOAD.
func User(phase Phase, version uint32, ret int32) *Error {
	return &Error{
		Phase:   phase,
		Kind:    hotload.User,
		Version: version,
		Detail:  fmt.Sprintf("guest returned %d", ret),
	}
}

// StateInvalidated creates an error for an incompatible state-region layout.
func StateInvalidated(haveLen, wantLen uint32) *Error {
	return &Error{
		Phase:  PhaseRestore,
		Kind:   hotload.StateInvalidated,
		Detail: fmt.Sprintf("state region is %d bytes, snapshot is %d", haveLen, wantLen),
	}
}

// Initial creates the fatal error reported when the very first load fails.
func Initial(cause error) *Error {
	return &Error{
		Phase:  PhaseOpen,
		Kind:   hotload.InitialFailure,
		Detail: "initial load",
		Cause:  cause,
	}
}

// Unrecoverable creates the error a dead context keeps reporting after a
// failed rollback.
func Unrecoverable(kind hotload.FailureKind, cause error) *Error {
	return &Error{
		Phase:  PhaseRollback,
		Kind:   kind,
		Detail: "rollback failed, context is dead",
		Cause:  cause,
	}
}

// KindOf extracts the FailureKind from any error, or OtherException for
// errors produced outside this package.
func KindOf(err error) hotload.FailureKind {
	if err == nil {
		return hotload.None
	}
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return hotload.OtherException
}

package engine

import (
	stderrors "errors"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/hotload"
)

// Classify maps a trap raised by a guest call to a failure kind. The
// runtime reports traps as errors whose messages name the trap reason;
// wazero does not export sentinel values for them, so this matches on
// the message text of the error chain.
func Classify(err error) hotload.FailureKind {
	if err == nil {
		return hotload.None
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return hotload.Abort
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "out of bounds memory access"):
		return hotload.Segfault
	case strings.Contains(msg, "call stack exhausted"):
		return hotload.Segfault
	case strings.Contains(msg, "unreachable"):
		return hotload.IllegalOp
	case strings.Contains(msg, "integer divide by zero"),
		strings.Contains(msg, "integer overflow"),
		strings.Contains(msg, "invalid conversion to integer"):
		return hotload.Arithmetic
	case strings.Contains(msg, "unaligned atomic"):
		return hotload.Misalign
	default:
		return hotload.OtherException
	}
}

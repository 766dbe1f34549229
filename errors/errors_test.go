package errors

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/hotload"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "phase and kind only",
			err:  &Error{Phase: PhaseStep, Kind: hotload.Segfault},
			want: "[step] segfault",
		},
		{
			name: "with version and detail",
			err:  &Error{Phase: PhaseLoad, Kind: hotload.BadImage, Version: 3, Detail: "missing cr_main"},
			want: "[load] bad_image (gen 3): missing cr_main",
		},
		{
			name: "with cause",
			err:  &Error{Phase: PhaseStage, Kind: hotload.BadImage, Detail: "copy", Cause: stderrors.New("disk full")},
			want: "[stage] bad_image: copy (caused by: disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := Fault(PhaseStep, hotload.Segfault, 2, stderrors.New("oob"))

	if !Is(err, &Error{Phase: PhaseStep, Kind: hotload.Segfault}) {
		t.Error("expected match on same phase and kind")
	}
	if Is(err, &Error{Phase: PhaseLoad, Kind: hotload.Segfault}) {
		t.Error("unexpected match on different phase")
	}
	if Is(err, &Error{Phase: PhaseStep, Kind: hotload.Arithmetic}) {
		t.Error("unexpected match on different kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := BadImage(PhaseLoad, "compile", cause)

	if !Is(err, cause) {
		t.Error("expected unwrap to reach the cause")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseRestore, hotload.StateInvalidated).
		Version(4).
		Detail("length %d != %d", 8, 12).
		Build()

	if err.Phase != PhaseRestore {
		t.Errorf("phase = %v", err.Phase)
	}
	if err.Kind != hotload.StateInvalidated {
		t.Errorf("kind = %v", err.Kind)
	}
	if err.Version != 4 {
		t.Errorf("version = %d", err.Version)
	}
	if !strings.Contains(err.Detail, "8 != 12") {
		t.Errorf("detail = %q", err.Detail)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != hotload.None {
		t.Errorf("KindOf(nil) = %v", got)
	}
	if got := KindOf(stderrors.New("plain")); got != hotload.OtherException {
		t.Errorf("KindOf(plain) = %v", got)
	}
	if got := KindOf(StateInvalidated(8, 12)); got != hotload.StateInvalidated {
		t.Errorf("KindOf(state) = %v", got)
	}

	// wrapped errors still classify
	wrapped := New(PhaseUnload, hotload.Abort).Cause(stderrors.New("exit(3)")).Build()
	if got := KindOf(wrapped); got != hotload.Abort {
		t.Errorf("KindOf(wrapped) = %v", got)
	}
}

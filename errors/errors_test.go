package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "class and method",
			err: &Error{
				Phase:  PhaseBind,
				Kind:   KindNotFound,
				Class:  "example:echo/model#echo-slave",
				Method: "do-step",
				Detail: "export not found",
			},
			contains: []string{"[bind]", "not_found", "method do-step", "'example:echo/model#echo-slave'", "export not found"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "allocation", "memory full", "caused by", "underlying error"},
		},
		{
			name:     "path",
			err:      &Error{Phase: PhaseEncode, Kind: KindInvalidUTF8, Path: []string{"set-string", "values", "2"}},
			contains: []string{"at set-string.values.2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := GuestTrap("c", "m", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := MethodNotFound("a", "b")
	if !errors.Is(err, &Error{Phase: PhaseBind, Kind: KindNotFound}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseLoad, Kind: KindNotFound}) {
		t.Error("unexpected match on different phase")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid input", InvalidInput(PhaseEncode, "length mismatch"), false},
		{"wrapped invalid input", fmt.Errorf("get-real: %w", InvalidInput(PhaseEncode, "x")), false},
		{"class not found", ClassNotFound("x"), true},
		{"guest trap", GuestTrap("x", "y", errors.New("unreachable")), true},
		{"foreign", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseCall, KindGuestTrap).
		Class("k").
		Method("get-real").
		Value(3).
		Detail("ref %d", 3).
		Build()

	if err.Class != "k" || err.Method != "get-real" || err.Detail != "ref 3" || err.Value != 3 {
		t.Errorf("unexpected error: %+v", err)
	}
}

func TestClassNotFoundMessage(t *testing.T) {
	err := ClassNotFound("acme:vessel/model#vessel")
	if !strings.Contains(err.Error(), "acme:vessel/model#vessel") {
		t.Errorf("message %q does not name the class", err.Error())
	}
}

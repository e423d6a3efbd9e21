package errors

import (
	"errors"
	"io"
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
			name: "full error",
			err: &Error{
				Phase:    PhaseValidate,
				Kind:     KindTypeMismatch,
				Path:     []string{"func[2]", "+0x14"},
				Expected: "i32",
				Actual:   "f64",
				Detail:   "operand of i32.add",
			},
			contains: []string{"[validate]", "type_mismatch", "func[2].+0x14", "expected i32", "got f64", "operand of i32.add"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindMalformed,
			},
			contains: []string{"[decode]", "malformed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseResource,
				Kind:   KindLimitExceeded,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[resource]", "limit_exceeded", "memory full", "caused by", "underlying error"},
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
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindMalformed,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseValidate,
		Kind:  KindTypeMismatch,
		Path:  []string{"func[0]"},
	}

	if !err.Is(&Error{Phase: PhaseValidate, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseValidate, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}
	if err.Is(&Error{}) {
		t.Error("empty target should not match")
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is should match the phase sentinel")
	}
	if errors.Is(err, ErrDecode) {
		t.Error("validation error should not match ErrDecode")
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"decode", Decode("code", 10, io.ErrUnexpectedEOF), ErrDecode},
		{"validation", Validation([]string{"func[0]"}, "type mismatch"), ErrValidation},
		{"resource", LimitExceeded("memory", 10, 5), ErrResource},
		{"not found", NotFound(PhaseRuntime, "export", "fib"), ErrNotFound},
		{"link", linkError("env", "f"), ErrLink},
		{"trap", NewTrap(TrapUnreachable, "f"), ErrTrap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseValidate, KindTypeMismatch).
		Path("func[1]", "+0x3").
		Expected("i32").
		Actual("i64").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "i64").
		Build()

	if err.Phase != PhaseValidate {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseValidate)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "func[1]" || err.Path[1] != "+0x3" {
		t.Errorf("Path = %v, want [func[1] +0x3]", err.Path)
	}
	if err.Expected != "i32" || err.Actual != "i64" {
		t.Errorf("Expected=%v Actual=%v", err.Expected, err.Actual)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got i64" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Decode", func(t *testing.T) {
		err := Decode("type", 17, io.ErrUnexpectedEOF)
		if err.Phase != PhaseDecode || err.Kind != KindMalformed {
			t.Errorf("Phase=%v Kind=%v", err.Phase, err.Kind)
		}
		if err.Value != 17 {
			t.Errorf("Value = %v, want 17", err.Value)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Error("cause should be reachable through errors.Is")
		}
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		err := InvalidUTF8(PhaseDecode, []string{"export"}, []byte{0xff, 0xfe})
		if err.Kind != KindInvalidUTF8 {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidUTF8)
		}
	})

	t.Run("LimitExceeded", func(t *testing.T) {
		err := LimitExceeded("memory", 70000, 65536)
		if err.Kind != KindLimitExceeded {
			t.Errorf("Kind = %v, want %v", err.Kind, KindLimitExceeded)
		}
		if !strings.Contains(err.Detail, "70000") {
			t.Errorf("Detail = %v, should contain request", err.Detail)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseDecode, "simd")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("Config", func(t *testing.T) {
		err := Config("decode", errors.New("bad key"))
		if err.Phase != PhaseConfig {
			t.Errorf("Phase = %v, want %v", err.Phase, PhaseConfig)
		}
	})
}

func linkError(module, name string) *LinkError {
	err := &LinkError{}
	err.Add(module, name, "")
	return err
}

func TestLinkError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := linkError("env", "log_i32")
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Module != "env" {
			t.Errorf("module = %q, want env", err.Imports[0].Module)
		}
		if err.Imports[0].Name != "log_i32" {
			t.Errorf("name = %q, want log_i32", err.Imports[0].Name)
		}
	})

	t.Run("grouped by module", func(t *testing.T) {
		err := &LinkError{}
		err.Add("env", "a", "")
		err.Add("math", "b", "expected func, got memory")
		err.Add("env", "c", "")

		msg := err.Error()
		for _, s := range []string{"3 import(s)", "env:", "math:", "- a", "- c", "expected func, got memory"} {
			if !strings.Contains(msg, s) {
				t.Errorf("message %q should contain %q", msg, s)
			}
		}
		if strings.Index(msg, "- c") > strings.Index(msg, "math:") {
			t.Error("imports of the same module should be listed together")
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		msg := (&LinkError{}).Error()
		if !strings.Contains(msg, "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := linkError("env", "f")
		if !errors.Is(err, &LinkError{}) {
			t.Error("errors.Is should match LinkError")
		}
		if errors.Is(err, ErrDecode) {
			t.Error("LinkError should not match ErrDecode")
		}
	})
}

func TestTrap(t *testing.T) {
	trap := NewTrap(TrapIntegerDivideByZero, "div")
	if !strings.Contains(trap.Error(), "integer divide by zero") {
		t.Errorf("message = %q", trap.Error())
	}
	if !strings.Contains(trap.Error(), "div") {
		t.Errorf("message should name the function: %q", trap.Error())
	}

	var wrapped error = Wrap(PhaseRuntime, KindInstantiation, trap, "start function")
	if got := TrapCodeOf(wrapped); got != TrapIntegerDivideByZero {
		t.Errorf("TrapCodeOf = %v, want %v", got, TrapIntegerDivideByZero)
	}
	if !errors.Is(wrapped, &Trap{Code: TrapIntegerDivideByZero}) {
		t.Error("errors.Is should match trap code")
	}
	if errors.Is(trap, &Trap{Code: TrapUnreachable}) {
		t.Error("errors.Is should not match a different trap code")
	}
	if TrapCodeOf(errors.New("x")) != 0 {
		t.Error("non-trap should yield zero code")
	}
	if TrapCode(200).String() != "unknown trap" {
		t.Error("out of range code should be unknown")
	}
}

func TestDemangleRust(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "log_i32",
			expected: "log_i32",
		},
		{
			input:    "_ZN4core3ptr8write_fn17ha1b2c3d4e5f67890E",
			expected: "core::ptr::write_fn",
		},
		{
			input:    "_ZN3fib4host5print17h0123456789abcdefE",
			expected: "fib::host::print",
		},
		{
			input:    "_ZN99x",
			expected: "_ZN99x",
		},
	}

	for _, tt := range tests {
		name := tt.input
		if len(name) > 30 {
			name = name[:30]
		}
		t.Run(name, func(t *testing.T) {
			result := demangleRust(tt.input)
			if result != tt.expected {
				t.Errorf("demangleRust(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

package errors

import "strings"

// TrapCode identifies why guest execution stopped.
type TrapCode uint8

const (
	TrapUnreachable TrapCode = iota + 1
	TrapOutOfBoundsMemoryAccess
	TrapOutOfBoundsTableAccess
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversion
	TrapIndirectCallTypeMismatch
	TrapUninitializedElement
	TrapCallStackExhausted
	TrapFuelExhausted
	TrapHostFunction
)

var trapNames = [...]string{
	TrapUnreachable:              "unreachable",
	TrapOutOfBoundsMemoryAccess:  "out of bounds memory access",
	TrapOutOfBoundsTableAccess:   "out of bounds table access",
	TrapIntegerDivideByZero:      "integer divide by zero",
	TrapIntegerOverflow:          "integer overflow",
	TrapInvalidConversion:        "invalid conversion to integer",
	TrapIndirectCallTypeMismatch: "indirect call type mismatch",
	TrapUninitializedElement:     "uninitialized element",
	TrapCallStackExhausted:       "call stack exhausted",
	TrapFuelExhausted:            "fuel exhausted",
	TrapHostFunction:             "host function error",
}

func (c TrapCode) String() string {
	if int(c) < len(trapNames) && trapNames[c] != "" {
		return trapNames[c]
	}
	return "unknown trap"
}

// Trap is returned when guest code traps. It unwinds only the call that
// produced it; the store stays usable.
type Trap struct {
	Cause error
	Func  string
	Code  TrapCode
}

// NewTrap creates a trap raised while executing fn.
func NewTrap(code TrapCode, fn string) *Trap {
	return &Trap{Code: code, Func: fn}
}

func (t *Trap) Error() string {
	var b strings.Builder
	b.WriteString("[runtime] trap: ")
	b.WriteString(t.Code.String())
	if t.Func != "" {
		b.WriteString(" in ")
		b.WriteString(t.Func)
	}
	if t.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(t.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is matches another Trap with the same code (zero code matches any),
// ErrTrap, and runtime-phase trap Errors.
func (t *Trap) Is(target error) bool {
	switch v := target.(type) {
	case *Trap:
		return v.Code == 0 || v.Code == t.Code
	case *Error:
		return (v.Phase == "" || v.Phase == PhaseRuntime) && v.Kind == KindTrap
	}
	return false
}

// TrapCodeOf extracts the trap code from err, or 0 if err is not a trap.
func TrapCodeOf(err error) TrapCode {
	var t *Trap
	if As(err, &t) {
		return t.Code
	}
	return 0
}

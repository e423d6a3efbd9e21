package wasm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a typed WebAssembly value. Bits holds the raw representation:
// integers zero-extended, floats as IEEE-754 bits, references as an
// opaque non-zero handle (0 is null).
type Value struct {
	Bits uint64
	Type ValType
}

// I32 makes an i32 value.
func I32(v int32) Value { return Value{Type: ValI32, Bits: uint64(uint32(v))} }

// I64 makes an i64 value.
func I64(v int64) Value { return Value{Type: ValI64, Bits: uint64(v)} }

// F32 makes an f32 value.
func F32(v float32) Value { return Value{Type: ValF32, Bits: uint64(math.Float32bits(v))} }

// F64 makes an f64 value.
func F64(v float64) Value { return Value{Type: ValF64, Bits: math.Float64bits(v)} }

// ExternRef makes an externref value from a host handle. Handle 0 is null.
func ExternRef(handle uint64) Value { return Value{Type: ValExternRef, Bits: handle} }

// NullRef makes a null reference of type t.
func NullRef(t ValType) Value { return Value{Type: t} }

// I32 returns the value as int32.
func (v Value) I32() int32 { return int32(uint32(v.Bits)) }

// U32 returns the value as uint32.
func (v Value) U32() uint32 { return uint32(v.Bits) }

// I64 returns the value as int64.
func (v Value) I64() int64 { return int64(v.Bits) }

// F32 returns the value as float32.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// F64 returns the value as float64.
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

// IsNull reports whether v is a null reference.
func (v Value) IsNull() bool { return v.Type.IsRef() && v.Bits == 0 }

func (v Value) String() string {
	switch v.Type {
	case ValI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case ValI64:
		return strconv.FormatInt(v.I64(), 10)
	case ValF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case ValF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case ValFuncRef, ValExternRef:
		if v.Bits == 0 {
			return "null"
		}
		return fmt.Sprintf("%s:%d", v.Type, v.Bits)
	}
	return fmt.Sprintf("?%#x", v.Bits)
}

// ParseValue parses text into a value of type t. Integers accept decimal
// and 0x hex, and i32 also accepts unsigned values up to 2^32-1. "null"
// yields a null reference.
func ParseValue(t ValType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case ValI32:
		if n, err := strconv.ParseInt(s, 0, 32); err == nil {
			return I32(int32(n)), nil
		}
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse i32 %q: %w", s, err)
		}
		return Value{Type: ValI32, Bits: n}, nil
	case ValI64:
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return I64(n), nil
		}
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse i64 %q: %w", s, err)
		}
		return Value{Type: ValI64, Bits: n}, nil
	case ValF32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse f32 %q: %w", s, err)
		}
		return F32(float32(f)), nil
	case ValF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse f64 %q: %w", s, err)
		}
		return F64(f), nil
	case ValFuncRef, ValExternRef:
		if s == "null" {
			return NullRef(t), nil
		}
		if t == ValExternRef {
			n, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return Value{}, fmt.Errorf("parse externref %q: %w", s, err)
			}
			return ExternRef(n), nil
		}
		return Value{}, fmt.Errorf("funcref arguments must be null")
	}
	return Value{}, fmt.Errorf("unknown value type %s", t)
}

package wasm_test

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func TestValueAccessors(t *testing.T) {
	if v := wasm.I32(-1); v.Bits != 0xFFFFFFFF || v.I32() != -1 || v.U32() != math.MaxUint32 {
		t.Errorf("I32(-1) = %+v", v)
	}
	if v := wasm.I64(-2); v.I64() != -2 {
		t.Errorf("I64(-2) = %+v", v)
	}
	if v := wasm.F32(2.5); v.F32() != 2.5 || v.Type != wasm.ValF32 {
		t.Errorf("F32(2.5) = %+v", v)
	}
	if v := wasm.F64(-0.5); v.F64() != -0.5 {
		t.Errorf("F64(-0.5) = %+v", v)
	}
	if !wasm.NullRef(wasm.ValFuncRef).IsNull() {
		t.Error("NullRef should be null")
	}
	if wasm.ExternRef(7).IsNull() {
		t.Error("ExternRef(7) should not be null")
	}
	if wasm.I32(0).IsNull() {
		t.Error("numeric zero is not a null reference")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    wasm.Value
		want string
	}{
		{wasm.I32(-5), "-5"},
		{wasm.I64(1 << 40), "1099511627776"},
		{wasm.F32(1.5), "1.5"},
		{wasm.F64(0.1), "0.1"},
		{wasm.NullRef(wasm.ValExternRef), "null"},
		{wasm.ExternRef(3), "externref:3"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     wasm.ValType
		in      string
		want    uint64
		wantErr bool
	}{
		{"i32 decimal", wasm.ValI32, "42", 42, false},
		{"i32 negative", wasm.ValI32, "-1", 0xFFFFFFFF, false},
		{"i32 unsigned", wasm.ValI32, "4294967295", 0xFFFFFFFF, false},
		{"i32 hex", wasm.ValI32, "0x10", 16, false},
		{"i32 overflow", wasm.ValI32, "4294967296", 0, true},
		{"i64 negative", wasm.ValI64, "-1", math.MaxUint64, false},
		{"i64 unsigned max", wasm.ValI64, "18446744073709551615", math.MaxUint64, false},
		{"f32", wasm.ValF32, "1.5", uint64(math.Float32bits(1.5)), false},
		{"f64 inf", wasm.ValF64, "inf", math.Float64bits(math.Inf(1)), false},
		{"f64 garbage", wasm.ValF64, "abc", 0, true},
		{"externref null", wasm.ValExternRef, "null", 0, false},
		{"externref handle", wasm.ValExternRef, "9", 9, false},
		{"funcref handle", wasm.ValFuncRef, "1", 0, true},
		{"trims space", wasm.ValI32, "  7 ", 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := wasm.ParseValue(tt.typ, tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseValue: %v", err)
			}
			if v.Type != tt.typ || v.Bits != tt.want {
				t.Errorf("got %+v, want bits %#x", v, tt.want)
			}
		})
	}
}

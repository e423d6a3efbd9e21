package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func u32(v int32) uint64 { return uint64(uint32(v)) }

func TestNumericBinary(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		a, b uint64
		want uint64
		trap errors.TrapCode
	}{
		{"i32.sub wraps", wasm.OpI32Sub, 0, 1, 0xFFFFFFFF, 0},
		{"i32.mul wraps", wasm.OpI32Mul, 0x10000, 0x10000, 0, 0},
		{"i32.div_u", wasm.OpI32DivU, 0xFFFFFFFF, 2, 0x7FFFFFFF, 0},
		{"i32.rem_u by zero", wasm.OpI32RemU, 1, 0, 0, errors.TrapIntegerDivideByZero},
		{"i32.shl masks count", wasm.OpI32Shl, 1, 33, 2, 0},
		{"i32.shr_s", wasm.OpI32ShrS, u32(-8), 1, u32(-4), 0},
		{"i32.shr_u", wasm.OpI32ShrU, u32(-8), 1, 0x7FFFFFFC, 0},
		{"i32.rotl", wasm.OpI32Rotl, 0x80000001, 1, 3, 0},
		{"i32.lt_s", wasm.OpI32LtS, u32(-1), 0, 1, 0},
		{"i32.lt_u", wasm.OpI32LtU, u32(-1), 0, 0, 0},
		{"i64.div_s overflow", wasm.OpI64DivS, 1 << 63, math.MaxUint64, 0, errors.TrapIntegerOverflow},
		{"i64.rem_s min by -1", wasm.OpI64RemS, 1 << 63, math.MaxUint64, 0, 0},
		{"i64.shr_u masks count", wasm.OpI64ShrU, 1 << 63, 127, 1, 0},
		{"i64.rotr", wasm.OpI64Rotr, 1, 1, 1 << 63, 0},
		{"i64.ge_u", wasm.OpI64GeU, 1 << 63, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := []uint64{tt.a, tt.b}
			sp, trap := numeric(tt.op, st, 2)
			assert.Equal(t, tt.trap, trap)
			if tt.trap == 0 {
				assert.Equal(t, 1, sp)
				assert.Equal(t, tt.want, st[0])
			}
		})
	}
}

func TestNumericUnary(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		in   uint64
		want uint64
	}{
		{"i32.clz zero", wasm.OpI32Clz, 0, 32},
		{"i32.ctz", wasm.OpI32Ctz, 8, 3},
		{"i32.popcnt", wasm.OpI32Popcnt, 0xFF, 8},
		{"i32.extend8_s", wasm.OpI32Extend8S, 0x80, 0xFFFFFF80},
		{"i64.extend32_s", wasm.OpI64Extend32S, 0x80000000, 0xFFFFFFFF80000000},
		{"i64.extend_i32_u", wasm.OpI64ExtendI32U, 0xFFFFFFFF, 0xFFFFFFFF},
		{"i64.extend_i32_s", wasm.OpI64ExtendI32S, 0xFFFFFFFF, math.MaxUint64},
		{"i32.wrap_i64", wasm.OpI32WrapI64, 0x1_0000_0002, 2},
		{"f32.neg keeps NaN payload", wasm.OpF32Neg, 0x7FC00001, 0xFFC00001},
		{"f64.abs", wasm.OpF64Abs, math.Float64bits(-2), math.Float64bits(2)},
		{"f32.reinterpret", wasm.OpF32ReinterpretI32, 0x3F800000, 0x3F800000},
		{"f64.convert_i64_u", wasm.OpF64ConvertI64U, math.MaxUint64, math.Float64bits(18446744073709551615.0)},
		{"f32.demote", wasm.OpF32DemoteF64, math.Float64bits(1.5), uint64(math.Float32bits(1.5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := []uint64{tt.in}
			sp, trap := numeric(tt.op, st, 1)
			assert.Zero(t, trap)
			assert.Equal(t, 1, sp)
			assert.Equal(t, tt.want, st[0])
		})
	}
}

func TestFloatCompareNaN(t *testing.T) {
	nan := math.Float64bits(math.NaN())
	for _, op := range []byte{wasm.OpF64Eq, wasm.OpF64Lt, wasm.OpF64Gt, wasm.OpF64Le, wasm.OpF64Ge} {
		st := []uint64{nan, nan}
		numeric(op, st, 2)
		assert.Equal(t, uint64(0), st[0], wasm.OpName(op))
	}
	st := []uint64{nan, nan}
	numeric(wasm.OpF64Ne, st, 2)
	assert.Equal(t, uint64(1), st[0])
}

func TestTruncSat(t *testing.T) {
	f32bits := func(f float32) uint64 { return uint64(math.Float32bits(f)) }
	tests := []struct {
		sub  uint32
		in   uint64
		want uint64
	}{
		{wasm.MiscI32TruncSatF32S, f32bits(-3e9), 0x80000000},
		{wasm.MiscI32TruncSatF32U, f32bits(5e9), 0xFFFFFFFF},
		{wasm.MiscI32TruncSatF64U, math.Float64bits(-1), 0},
		{wasm.MiscI64TruncSatF64S, math.Float64bits(math.Inf(-1)), 1 << 63},
		{wasm.MiscI64TruncSatF64S, math.Float64bits(-7.9), uint64(math.MaxUint64 - 6)},
		{wasm.MiscI64TruncSatF32S, f32bits(float32(math.NaN())), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncSat(tt.sub, tt.in), wasm.MiscName(tt.sub))
	}
}

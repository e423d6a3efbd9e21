package interp

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(v uint64) float32     { return math.Float32frombits(uint32(v)) }
func f64(v uint64) float64     { return math.Float64frombits(v) }
func fromF32(f float32) uint64 { return uint64(math.Float32bits(f)) }

const (
	signBit32  = 1 << 31
	signBit64  = 1 << 63
	quietBit32 = 1 << 22
	quietBit64 = 1 << 51
)

// numeric executes a stack-only numeric instruction and returns the new
// stack pointer.
func numeric(op byte, st []uint64, sp int) (int, errors.TrapCode) {
	switch {
	case op == wasm.OpI32Eqz:
		st[sp-1] = b2u(uint32(st[sp-1]) == 0)
		return sp, 0
	case op == wasm.OpI64Eqz:
		st[sp-1] = b2u(st[sp-1] == 0)
		return sp, 0
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU:
		st[sp-2] = b2u(i32Compare(op, uint32(st[sp-2]), uint32(st[sp-1])))
		return sp - 1, 0
	case op >= wasm.OpI64Eq && op <= wasm.OpI64GeU:
		st[sp-2] = b2u(i64Compare(op, st[sp-2], st[sp-1]))
		return sp - 1, 0
	case op >= wasm.OpF32Eq && op <= wasm.OpF32Ge:
		st[sp-2] = b2u(floatCompare(op-wasm.OpF32Eq, float64(f32(st[sp-2])), float64(f32(st[sp-1]))))
		return sp - 1, 0
	case op >= wasm.OpF64Eq && op <= wasm.OpF64Ge:
		st[sp-2] = b2u(floatCompare(op-wasm.OpF64Eq, f64(st[sp-2]), f64(st[sp-1])))
		return sp - 1, 0

	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt,
		op == wasm.OpI32Extend8S, op == wasm.OpI32Extend16S:
		st[sp-1] = uint64(i32Unary(op, uint32(st[sp-1])))
		return sp, 0
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		r, trap := i32Binary(op, uint32(st[sp-2]), uint32(st[sp-1]))
		st[sp-2] = uint64(r)
		return sp - 1, trap
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt,
		op >= wasm.OpI64Extend8S && op <= wasm.OpI64Extend32S:
		st[sp-1] = i64Unary(op, st[sp-1])
		return sp, 0
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		r, trap := i64Binary(op, st[sp-2], st[sp-1])
		st[sp-2] = r
		return sp - 1, trap

	case op >= wasm.OpF32Abs && op <= wasm.OpF32Sqrt:
		st[sp-1] = f32Unary(op, st[sp-1])
		return sp, 0
	case op >= wasm.OpF32Add && op <= wasm.OpF32Copysign:
		st[sp-2] = f32Binary(op, st[sp-2], st[sp-1])
		return sp - 1, 0
	case op >= wasm.OpF64Abs && op <= wasm.OpF64Sqrt:
		st[sp-1] = f64Unary(op, st[sp-1])
		return sp, 0
	case op >= wasm.OpF64Add && op <= wasm.OpF64Copysign:
		st[sp-2] = f64Binary(op, st[sp-2], st[sp-1])
		return sp - 1, 0

	case op >= wasm.OpI32WrapI64 && op <= wasm.OpF64ReinterpretI64:
		r, trap := convert(op, st[sp-1])
		st[sp-1] = r
		return sp, trap
	}
	return sp, errors.TrapUnreachable
}

func i32Compare(op byte, a, b uint32) bool {
	switch op {
	case wasm.OpI32Eq:
		return a == b
	case wasm.OpI32Ne:
		return a != b
	case wasm.OpI32LtS:
		return int32(a) < int32(b)
	case wasm.OpI32LtU:
		return a < b
	case wasm.OpI32GtS:
		return int32(a) > int32(b)
	case wasm.OpI32GtU:
		return a > b
	case wasm.OpI32LeS:
		return int32(a) <= int32(b)
	case wasm.OpI32LeU:
		return a <= b
	case wasm.OpI32GeS:
		return int32(a) >= int32(b)
	default:
		return a >= b
	}
}

func i64Compare(op byte, a, b uint64) bool {
	switch op {
	case wasm.OpI64Eq:
		return a == b
	case wasm.OpI64Ne:
		return a != b
	case wasm.OpI64LtS:
		return int64(a) < int64(b)
	case wasm.OpI64LtU:
		return a < b
	case wasm.OpI64GtS:
		return int64(a) > int64(b)
	case wasm.OpI64GtU:
		return a > b
	case wasm.OpI64LeS:
		return int64(a) <= int64(b)
	case wasm.OpI64LeU:
		return a <= b
	case wasm.OpI64GeS:
		return int64(a) >= int64(b)
	default:
		return a >= b
	}
}

// floatCompare takes the offset of the opcode from eq: eq ne lt gt le ge.
// f32 operands are widened exactly, so one implementation serves both.
func floatCompare(rel byte, a, b float64) bool {
	switch rel {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a > b
	case 4:
		return a <= b
	default:
		return a >= b
	}
}

func i32Unary(op byte, a uint32) uint32 {
	switch op {
	case wasm.OpI32Clz:
		return uint32(bits.LeadingZeros32(a))
	case wasm.OpI32Ctz:
		return uint32(bits.TrailingZeros32(a))
	case wasm.OpI32Popcnt:
		return uint32(bits.OnesCount32(a))
	case wasm.OpI32Extend8S:
		return uint32(int32(int8(a)))
	default:
		return uint32(int32(int16(a)))
	}
}

func i32Binary(op byte, a, b uint32) (uint32, errors.TrapCode) {
	switch op {
	case wasm.OpI32Add:
		return a + b, 0
	case wasm.OpI32Sub:
		return a - b, 0
	case wasm.OpI32Mul:
		return a * b, 0
	case wasm.OpI32DivS:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, errors.TrapIntegerOverflow
		}
		return uint32(int32(a) / int32(b)), 0
	case wasm.OpI32DivU:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return a / b, 0
	case wasm.OpI32RemS:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int32(b) == -1 {
			return 0, 0
		}
		return uint32(int32(a) % int32(b)), 0
	case wasm.OpI32RemU:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return a % b, 0
	case wasm.OpI32And:
		return a & b, 0
	case wasm.OpI32Or:
		return a | b, 0
	case wasm.OpI32Xor:
		return a ^ b, 0
	case wasm.OpI32Shl:
		return a << (b & 31), 0
	case wasm.OpI32ShrS:
		return uint32(int32(a) >> (b & 31)), 0
	case wasm.OpI32ShrU:
		return a >> (b & 31), 0
	case wasm.OpI32Rotl:
		return bits.RotateLeft32(a, int(b&31)), 0
	default:
		return bits.RotateLeft32(a, -int(b&31)), 0
	}
}

func i64Unary(op byte, a uint64) uint64 {
	switch op {
	case wasm.OpI64Clz:
		return uint64(bits.LeadingZeros64(a))
	case wasm.OpI64Ctz:
		return uint64(bits.TrailingZeros64(a))
	case wasm.OpI64Popcnt:
		return uint64(bits.OnesCount64(a))
	case wasm.OpI64Extend8S:
		return uint64(int64(int8(a)))
	case wasm.OpI64Extend16S:
		return uint64(int64(int16(a)))
	default:
		return uint64(int64(int32(a)))
	}
}

func i64Binary(op byte, a, b uint64) (uint64, errors.TrapCode) {
	switch op {
	case wasm.OpI64Add:
		return a + b, 0
	case wasm.OpI64Sub:
		return a - b, 0
	case wasm.OpI64Mul:
		return a * b, 0
	case wasm.OpI64DivS:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, errors.TrapIntegerOverflow
		}
		return uint64(int64(a) / int64(b)), 0
	case wasm.OpI64DivU:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return a / b, 0
	case wasm.OpI64RemS:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int64(b) == -1 {
			return 0, 0
		}
		return uint64(int64(a) % int64(b)), 0
	case wasm.OpI64RemU:
		if b == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return a % b, 0
	case wasm.OpI64And:
		return a & b, 0
	case wasm.OpI64Or:
		return a | b, 0
	case wasm.OpI64Xor:
		return a ^ b, 0
	case wasm.OpI64Shl:
		return a << (b & 63), 0
	case wasm.OpI64ShrS:
		return uint64(int64(a) >> (b & 63)), 0
	case wasm.OpI64ShrU:
		return a >> (b & 63), 0
	case wasm.OpI64Rotl:
		return bits.RotateLeft64(a, int(b&63)), 0
	default:
		return bits.RotateLeft64(a, -int(b&63)), 0
	}
}

// f32 rounding ops go through float64, which is exact for every float32
// input and rounds back without error.
func f32Unary(op byte, v uint64) uint64 {
	switch op {
	case wasm.OpF32Abs:
		return v &^ signBit32
	case wasm.OpF32Neg:
		return v ^ signBit32
	case wasm.OpF32Ceil:
		return fromF32(float32(math.Ceil(float64(f32(v)))))
	case wasm.OpF32Floor:
		return fromF32(float32(math.Floor(float64(f32(v)))))
	case wasm.OpF32Trunc:
		return fromF32(float32(math.Trunc(float64(f32(v)))))
	case wasm.OpF32Nearest:
		return fromF32(float32(math.RoundToEven(float64(f32(v)))))
	default:
		return fromF32(float32(math.Sqrt(float64(f32(v)))))
	}
}

func f32Binary(op byte, av, bv uint64) uint64 {
	a, b := f32(av), f32(bv)
	switch op {
	case wasm.OpF32Add:
		return fromF32(a + b)
	case wasm.OpF32Sub:
		return fromF32(a - b)
	case wasm.OpF32Mul:
		return fromF32(a * b)
	case wasm.OpF32Div:
		return fromF32(a / b)
	case wasm.OpF32Min, wasm.OpF32Max:
		switch {
		case a != a:
			return uint64(uint32(av) | quietBit32)
		case b != b:
			return uint64(uint32(bv) | quietBit32)
		case op == wasm.OpF32Min:
			return fromF32(min(a, b))
		default:
			return fromF32(max(a, b))
		}
	default:
		return av&^signBit32 | bv&signBit32
	}
}

func f64Unary(op byte, v uint64) uint64 {
	switch op {
	case wasm.OpF64Abs:
		return v &^ signBit64
	case wasm.OpF64Neg:
		return v ^ signBit64
	case wasm.OpF64Ceil:
		return math.Float64bits(math.Ceil(f64(v)))
	case wasm.OpF64Floor:
		return math.Float64bits(math.Floor(f64(v)))
	case wasm.OpF64Trunc:
		return math.Float64bits(math.Trunc(f64(v)))
	case wasm.OpF64Nearest:
		return math.Float64bits(math.RoundToEven(f64(v)))
	default:
		return math.Float64bits(math.Sqrt(f64(v)))
	}
}

func f64Binary(op byte, av, bv uint64) uint64 {
	a, b := f64(av), f64(bv)
	switch op {
	case wasm.OpF64Add:
		return math.Float64bits(a + b)
	case wasm.OpF64Sub:
		return math.Float64bits(a - b)
	case wasm.OpF64Mul:
		return math.Float64bits(a * b)
	case wasm.OpF64Div:
		return math.Float64bits(a / b)
	case wasm.OpF64Min, wasm.OpF64Max:
		switch {
		case a != a:
			return av | quietBit64
		case b != b:
			return bv | quietBit64
		case op == wasm.OpF64Min:
			return math.Float64bits(min(a, b))
		default:
			return math.Float64bits(max(a, b))
		}
	default:
		return av&^signBit64 | bv&signBit64
	}
}

func convert(op byte, v uint64) (uint64, errors.TrapCode) {
	switch op {
	case wasm.OpI32WrapI64:
		return uint64(uint32(v)), 0
	case wasm.OpI32TruncF32S:
		return truncI32S(float64(f32(v)))
	case wasm.OpI32TruncF32U:
		return truncI32U(float64(f32(v)))
	case wasm.OpI32TruncF64S:
		return truncI32S(f64(v))
	case wasm.OpI32TruncF64U:
		return truncI32U(f64(v))
	case wasm.OpI64ExtendI32S:
		return uint64(int64(int32(v))), 0
	case wasm.OpI64ExtendI32U:
		return uint64(uint32(v)), 0
	case wasm.OpI64TruncF32S:
		return truncI64S(float64(f32(v)))
	case wasm.OpI64TruncF32U:
		return truncI64U(float64(f32(v)))
	case wasm.OpI64TruncF64S:
		return truncI64S(f64(v))
	case wasm.OpI64TruncF64U:
		return truncI64U(f64(v))
	case wasm.OpF32ConvertI32S:
		return fromF32(float32(int32(v))), 0
	case wasm.OpF32ConvertI32U:
		return fromF32(float32(uint32(v))), 0
	case wasm.OpF32ConvertI64S:
		return fromF32(float32(int64(v))), 0
	case wasm.OpF32ConvertI64U:
		return fromF32(float32(v)), 0
	case wasm.OpF32DemoteF64:
		return fromF32(float32(f64(v))), 0
	case wasm.OpF64ConvertI32S:
		return math.Float64bits(float64(int32(v))), 0
	case wasm.OpF64ConvertI32U:
		return math.Float64bits(float64(uint32(v))), 0
	case wasm.OpF64ConvertI64S:
		return math.Float64bits(float64(int64(v))), 0
	case wasm.OpF64ConvertI64U:
		return math.Float64bits(float64(v)), 0
	case wasm.OpF64PromoteF32:
		return math.Float64bits(float64(f32(v))), 0
	}
	// reinterpretations keep the bits
	return v, 0
}

func truncate(f float64) (float64, errors.TrapCode) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	return math.Trunc(f), 0
}

func truncI32S(f float64) (uint64, errors.TrapCode) {
	t, trap := truncate(f)
	if trap != 0 {
		return 0, trap
	}
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(uint32(int32(t))), 0
}

func truncI32U(f float64) (uint64, errors.TrapCode) {
	t, trap := truncate(f)
	if trap != 0 {
		return 0, trap
	}
	if t < 0 || t > math.MaxUint32 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(uint32(t)), 0
}

func truncI64S(f float64) (uint64, errors.TrapCode) {
	t, trap := truncate(f)
	if trap != 0 {
		return 0, trap
	}
	if t < math.MinInt64 || t >= 1<<63 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(int64(t)), 0
}

func truncI64U(f float64) (uint64, errors.TrapCode) {
	t, trap := truncate(f)
	if trap != 0 {
		return 0, trap
	}
	if t < 0 || t >= 1<<64 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(t), 0
}

// truncSat implements the saturating conversions, indexed by 0xFC
// sub-opcode 0 through 7.
func truncSat(sub uint32, v uint64) uint64 {
	var f float64
	if sub&2 == 0 {
		f = float64(f32(v))
	} else {
		f = f64(v)
	}
	switch sub {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF64S:
		switch {
		case math.IsNaN(f):
			return 0
		case f <= math.MinInt32:
			return 0x80000000
		case f >= math.MaxInt32:
			return math.MaxInt32
		}
		return uint64(uint32(int32(f)))
	case wasm.MiscI32TruncSatF32U, wasm.MiscI32TruncSatF64U:
		switch {
		case math.IsNaN(f), f <= 0:
			return 0
		case f >= math.MaxUint32:
			return math.MaxUint32
		}
		return uint64(uint32(f))
	case wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF64S:
		switch {
		case math.IsNaN(f):
			return 0
		case f <= math.MinInt64:
			return 1 << 63
		case f >= 1<<63:
			return math.MaxInt64
		}
		return uint64(int64(f))
	default:
		switch {
		case math.IsNaN(f), f <= 0:
			return 0
		case f >= 1<<64:
			return math.MaxUint64
		}
		return uint64(f)
	}
}

package validator

import "github.com/wippyai/wasm-interp/wasm"

// sig is the operand signature of an instruction with no immediates and
// no side effects on control flow.
type sig struct {
	in  []wasm.ValType
	out wasm.ValType
}

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
	f64 = wasm.ValF64
)

// numeric holds the signature of every plain numeric opcode; a zero out
// marks opcodes that are not numeric.
var numeric [256]sig

func setRange(lo, hi byte, s sig) {
	for op := int(lo); op <= int(hi); op++ {
		numeric[op] = s
	}
}

func init() {
	unop := func(t wasm.ValType) sig { return sig{in: []wasm.ValType{t}, out: t} }
	binop := func(t wasm.ValType) sig { return sig{in: []wasm.ValType{t, t}, out: t} }
	testop := func(t wasm.ValType) sig { return sig{in: []wasm.ValType{t}, out: i32} }
	relop := func(t wasm.ValType) sig { return sig{in: []wasm.ValType{t, t}, out: i32} }
	cvt := func(from, to wasm.ValType) sig { return sig{in: []wasm.ValType{from}, out: to} }

	numeric[wasm.OpI32Eqz] = testop(i32)
	setRange(wasm.OpI32Eq, wasm.OpI32GeU, relop(i32))
	numeric[wasm.OpI64Eqz] = testop(i64)
	setRange(wasm.OpI64Eq, wasm.OpI64GeU, relop(i64))
	setRange(wasm.OpF32Eq, wasm.OpF32Ge, relop(f32))
	setRange(wasm.OpF64Eq, wasm.OpF64Ge, relop(f64))

	setRange(wasm.OpI32Clz, wasm.OpI32Popcnt, unop(i32))
	setRange(wasm.OpI32Add, wasm.OpI32Rotr, binop(i32))
	setRange(wasm.OpI64Clz, wasm.OpI64Popcnt, unop(i64))
	setRange(wasm.OpI64Add, wasm.OpI64Rotr, binop(i64))
	setRange(wasm.OpF32Abs, wasm.OpF32Sqrt, unop(f32))
	setRange(wasm.OpF32Add, wasm.OpF32Copysign, binop(f32))
	setRange(wasm.OpF64Abs, wasm.OpF64Sqrt, unop(f64))
	setRange(wasm.OpF64Add, wasm.OpF64Copysign, binop(f64))

	numeric[wasm.OpI32WrapI64] = cvt(i64, i32)
	setRange(wasm.OpI32TruncF32S, wasm.OpI32TruncF32U, cvt(f32, i32))
	setRange(wasm.OpI32TruncF64S, wasm.OpI32TruncF64U, cvt(f64, i32))
	setRange(wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U, cvt(i32, i64))
	setRange(wasm.OpI64TruncF32S, wasm.OpI64TruncF32U, cvt(f32, i64))
	setRange(wasm.OpI64TruncF64S, wasm.OpI64TruncF64U, cvt(f64, i64))
	setRange(wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U, cvt(i32, f32))
	setRange(wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U, cvt(i64, f32))
	numeric[wasm.OpF32DemoteF64] = cvt(f64, f32)
	setRange(wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U, cvt(i32, f64))
	setRange(wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U, cvt(i64, f64))
	numeric[wasm.OpF64PromoteF32] = cvt(f32, f64)
	numeric[wasm.OpI32ReinterpretF32] = cvt(f32, i32)
	numeric[wasm.OpI64ReinterpretF64] = cvt(f64, i64)
	numeric[wasm.OpF32ReinterpretI32] = cvt(i32, f32)
	numeric[wasm.OpF64ReinterpretI64] = cvt(i64, f64)

	setRange(wasm.OpI32Extend8S, wasm.OpI32Extend16S, unop(i32))
	setRange(wasm.OpI64Extend8S, wasm.OpI64Extend32S, unop(i64))
}

// truncSat holds the signatures of the saturating truncations, indexed by
// 0xFC sub-opcode.
var truncSat = [8]sig{
	{in: []wasm.ValType{f32}, out: i32},
	{in: []wasm.ValType{f32}, out: i32},
	{in: []wasm.ValType{f64}, out: i32},
	{in: []wasm.ValType{f64}, out: i32},
	{in: []wasm.ValType{f32}, out: i64},
	{in: []wasm.ValType{f32}, out: i64},
	{in: []wasm.ValType{f64}, out: i64},
	{in: []wasm.ValType{f64}, out: i64},
}

// memAccess describes a load or store: the natural width in bytes and the
// value type moved.
type memAccess struct {
	width uint32
	typ   wasm.ValType
	store bool
}

var memOps = map[byte]memAccess{
	wasm.OpI32Load:    {4, i32, false},
	wasm.OpI64Load:    {8, i64, false},
	wasm.OpF32Load:    {4, f32, false},
	wasm.OpF64Load:    {8, f64, false},
	wasm.OpI32Load8S:  {1, i32, false},
	wasm.OpI32Load8U:  {1, i32, false},
	wasm.OpI32Load16S: {2, i32, false},
	wasm.OpI32Load16U: {2, i32, false},
	wasm.OpI64Load8S:  {1, i64, false},
	wasm.OpI64Load8U:  {1, i64, false},
	wasm.OpI64Load16S: {2, i64, false},
	wasm.OpI64Load16U: {2, i64, false},
	wasm.OpI64Load32S: {4, i64, false},
	wasm.OpI64Load32U: {4, i64, false},
	wasm.OpI32Store:   {4, i32, true},
	wasm.OpI64Store:   {8, i64, true},
	wasm.OpF32Store:   {4, f32, true},
	wasm.OpF64Store:   {8, f64, true},
	wasm.OpI32Store8:  {1, i32, true},
	wasm.OpI32Store16: {2, i32, true},
	wasm.OpI64Store8:  {1, i64, true},
	wasm.OpI64Store16: {2, i64, true},
	wasm.OpI64Store32: {4, i64, true},
}

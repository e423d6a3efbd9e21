package wasm

import (
	"fmt"
	"math"
)

// ConstExprInstr decodes a constant expression, which must be exactly one
// instruction followed by end.
func ConstExprInstr(expr []byte) (Instruction, error) {
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return Instruction{}, err
	}
	if len(instrs) != 2 || instrs[1].Opcode != OpEnd {
		return Instruction{}, fmt.Errorf("constant expression must be a single instruction, got %d", len(instrs)-1)
	}
	return instrs[0], nil
}

// ConstExprType returns the result type of a constant instruction given
// the global types visible to it.
func ConstExprType(instr Instruction, globals []GlobalType) (ValType, error) {
	switch instr.Opcode {
	case OpI32Const:
		return ValI32, nil
	case OpI64Const:
		return ValI64, nil
	case OpF32Const:
		return ValF32, nil
	case OpF64Const:
		return ValF64, nil
	case OpRefNull:
		return instr.Imm.(RefNullImm).Type, nil
	case OpRefFunc:
		return ValFuncRef, nil
	case OpGlobalGet:
		idx := instr.Imm.(GlobalImm).GlobalIdx
		if int(idx) >= len(globals) {
			return 0, fmt.Errorf("unknown global %d", idx)
		}
		if globals[idx].Mutable {
			return 0, fmt.Errorf("constant expression required: global %d is mutable", idx)
		}
		return globals[idx].ValType, nil
	}
	return 0, fmt.Errorf("constant expression required, got %s", instr.Name())
}

func constExpr(instr Instruction) []byte {
	return EncodeInstructions([]Instruction{instr, {Opcode: OpEnd}})
}

// ConstI32 encodes the constant expression (i32.const v).
func ConstI32(v int32) []byte {
	return constExpr(Instruction{Opcode: OpI32Const, Imm: I32Imm{Value: v}})
}

// ConstI64 encodes the constant expression (i64.const v).
func ConstI64(v int64) []byte {
	return constExpr(Instruction{Opcode: OpI64Const, Imm: I64Imm{Value: v}})
}

// ConstF32 encodes the constant expression (f32.const v).
func ConstF32(v float32) []byte {
	return constExpr(Instruction{Opcode: OpF32Const, Imm: F32Imm{Bits: math.Float32bits(v)}})
}

// ConstF64 encodes the constant expression (f64.const v).
func ConstF64(v float64) []byte {
	return constExpr(Instruction{Opcode: OpF64Const, Imm: F64Imm{Bits: math.Float64bits(v)}})
}

// ConstGlobal encodes the constant expression (global.get idx).
func ConstGlobal(idx uint32) []byte {
	return constExpr(Instruction{Opcode: OpGlobalGet, Imm: GlobalImm{GlobalIdx: idx}})
}

// ConstRefFunc encodes the constant expression (ref.func idx).
func ConstRefFunc(idx uint32) []byte {
	return constExpr(Instruction{Opcode: OpRefFunc, Imm: RefFuncImm{FuncIdx: idx}})
}

// ConstRefNull encodes the constant expression (ref.null t).
func ConstRefNull(t ValType) []byte {
	return constExpr(Instruction{Opcode: OpRefNull, Imm: RefNullImm{Type: t}})
}

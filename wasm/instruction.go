package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

var (
	// ErrUnknownOpcode is returned for opcodes outside the instruction set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrUnsupported is returned for encodings of proposals this runtime
	// does not implement (SIMD, threads, exceptions, ...).
	ErrUnsupported = errors.New("unsupported feature")

	// ErrZeroByte is returned when a reserved immediate byte is not zero.
	ErrZeroByte = errors.New("zero byte expected")
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    any
	Offset uint32 // byte offset within the function body, 0 for built code
	Opcode byte
}

// BlockImm holds the block type for block, loop and if.
type BlockImm struct {
	Type int64 // BlockTypeEmpty, a negative value type code, or a type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32 // log2 of the alignment hint
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of an f32.const so NaN payloads survive.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bits of an f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the reference type for ref.null
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// DecodeInstructions decodes a sequence of instructions from raw bytes.
// The whole input is consumed; no nesting checks are made.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		instr, err := decodeInstruction(r, 0)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch vt := ValType(b); vt {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExternRef:
		return vt, nil
	case 0x7B:
		return 0, fmt.Errorf("v128: %w", ErrUnsupported)
	}
	return 0, fmt.Errorf("malformed value type 0x%02x", b)
}

func readRefType(r *binary.Reader) (ValType, error) {
	vt, err := readValType(r)
	if err != nil {
		return 0, err
	}
	if !vt.IsRef() {
		return 0, fmt.Errorf("malformed reference type 0x%02x", byte(vt))
	}
	return vt, nil
}

func readZeroByte(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0 {
		return ErrZeroByte
	}
	return nil
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	if align >= 64 {
		// bit 6 selects a memory index: multi-memory
		return MemoryImm{}, fmt.Errorf("memory index in memarg: %w", ErrUnsupported)
	}
	offset, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Offset: offset, Align: align}, nil
}

// decodeInstruction reads one instruction. base is the absolute position
// of the function body, so Offset is body-relative.
func decodeInstruction(r *binary.Reader, base int) (Instruction, error) {
	instr := Instruction{Offset: uint32(r.Position() - base)}
	op, err := r.ReadByte()
	if err != nil {
		return instr, err
	}
	instr.Opcode = op

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:

	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS33()
		if err != nil {
			return instr, err
		}
		if bt < 0 {
			switch bt {
			case BlockTypeEmpty, BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64, BlockTypeFunc, BlockTypeExt:
			default:
				return instr, fmt.Errorf("malformed block type %d", bt)
			}
		}
		instr.Imm = BlockImm{Type: bt}

	case OpBr, OpBrIf:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadCount(1)
		if err != nil {
			return instr, err
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpSelectType:
		count, err := r.ReadCount(1)
		if err != nil {
			return instr, err
		}
		types := make([]ValType, count)
		for i := range types {
			if types[i], err = readValType(r); err != nil {
				return instr, err
			}
		}
		instr.Imm = SelectTypeImm{Types: types}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		imm, err := readMemArg(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case OpMemorySize, OpMemoryGrow:
		if err := readZeroByte(r); err != nil {
			return instr, err
		}

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		bits, err := r.ReadU32LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Bits: bits}

	case OpF64Const:
		bits, err := r.ReadU64LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Bits: bits}

	case OpRefNull:
		vt, err := readRefType(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = RefNullImm{Type: vt}

	case OpRefFunc:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: idx}

	case OpPrefixMisc:
		imm, err := decodeMisc(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case 0x06, 0x07, 0x08, 0x09, 0x0A, 0x18, 0x19, 0x1F:
		return instr, fmt.Errorf("exception handling opcode 0x%02x: %w", op, ErrUnsupported)
	case 0x12, 0x13, 0x14, 0x15:
		return instr, fmt.Errorf("tail call opcode 0x%02x: %w", op, ErrUnsupported)
	case 0xFB, 0xFD, 0xFE:
		return instr, fmt.Errorf("prefix 0x%02x: %w", op, ErrUnsupported)

	default:
		if op >= OpI32Eqz && op <= OpI64Extend32S {
			// numeric instructions carry no immediates
			break
		}
		return instr, fmt.Errorf("0x%02x: %w", op, ErrUnknownOpcode)
	}

	return instr, nil
}

func decodeMisc(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: sub}

	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:

	case MiscMemoryInit:
		dataIdx, err := r.ReadU32()
		if err != nil {
			return imm, err
		}
		if err := readZeroByte(r); err != nil {
			return imm, err
		}
		imm.Operands = []uint32{dataIdx}

	case MiscDataDrop:
		dataIdx, err := r.ReadU32()
		if err != nil {
			return imm, err
		}
		imm.Operands = []uint32{dataIdx}

	case MiscMemoryCopy:
		if err := readZeroByte(r); err != nil {
			return imm, err
		}
		if err := readZeroByte(r); err != nil {
			return imm, err
		}

	case MiscMemoryFill:
		if err := readZeroByte(r); err != nil {
			return imm, err
		}

	case MiscTableGrow, MiscTableSize, MiscTableFill:
		tableIdx, err := r.ReadU32()
		if err != nil {
			return imm, err
		}
		imm.Operands = []uint32{tableIdx}

	case MiscTableInit, MiscElemDrop, MiscTableCopy:
		return imm, fmt.Errorf("%s: %w", MiscName(sub), ErrUnsupported)

	default:
		return imm, fmt.Errorf("0xfc %d: %w", sub, ErrUnknownOpcode)
	}
	return imm, nil
}

// encodeInstructionTo writes a single instruction.
func encodeInstructionTo(w *binary.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		w.WriteS64(imm.Type)
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case SelectTypeImm:
		w.WriteU32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			w.Byte(byte(t))
		}
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case TableImm:
		w.WriteU32(imm.TableIdx)
	case MemoryImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteU32LE(imm.Bits)
	case F64Imm:
		w.WriteU64LE(imm.Bits)
	case RefNullImm:
		w.Byte(byte(imm.Type))
	case RefFuncImm:
		w.WriteU32(imm.FuncIdx)
	case MiscImm:
		w.WriteU32(imm.SubOpcode)
		switch imm.SubOpcode {
		case MiscMemoryInit:
			w.WriteU32(imm.Operands[0])
			w.Byte(0)
		case MiscMemoryCopy:
			w.Byte(0)
			w.Byte(0)
		case MiscMemoryFill:
			w.Byte(0)
		default:
			for _, o := range imm.Operands {
				w.WriteU32(o)
			}
		}
	}

	if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
		w.Byte(0)
	}
}

// EncodeInstructions encodes instructions into their binary form.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for i := range instrs {
		encodeInstructionTo(w, &instrs[i])
	}
	return w.Bytes()
}

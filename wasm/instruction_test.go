package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func TestInstructionRoundTrip(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: 3}},
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 1}},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1, 2}, Default: 0}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 300}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 2, TableIdx: 0}},
		{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValExternRef}}},
		{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: 5}},
		{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 1}},
		{Opcode: wasm.OpTableGet, Imm: wasm.TableImm{TableIdx: 0}},
		{Opcode: wasm.OpI64Load32U, Imm: wasm.MemoryImm{Offset: 1 << 20, Align: 2}},
		{Opcode: wasm.OpMemoryGrow},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: math.MinInt32}},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: math.MaxInt64}},
		{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: 0x7FC00001}},
		{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: 0xFFF8000000000001}},
		{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: wasm.ValFuncRef}},
		{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: 9}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscI64TruncSatF64U}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscDataDrop, Operands: []uint32{3}}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscTableGrow, Operands: []uint32{0}}},
		{Opcode: wasm.OpI32Extend16S},
		{Opcode: wasm.OpEnd},
	}

	code := wasm.EncodeInstructions(instrs)
	decoded, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if len(decoded) != len(instrs) {
		t.Fatalf("decoded %d instructions, want %d", len(decoded), len(instrs))
	}
	for i := range instrs {
		if decoded[i].Opcode != instrs[i].Opcode {
			t.Errorf("[%d] opcode = %s, want %s", i, decoded[i].Name(), instrs[i].Name())
			continue
		}
		got, want := decoded[i].Imm, instrs[i].Imm
		if !reflect.DeepEqual(got, want) {
			t.Errorf("[%d] %s imm = %#v, want %#v", i, instrs[i].Name(), got, want)
		}
	}

	if again := wasm.EncodeInstructions(decoded); !bytes.Equal(again, code) {
		t.Error("re-encoding should be byte-identical")
	}
}

func TestDecodeInstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"unknown", []byte{0xD5}, wasm.ErrUnknownOpcode},
		{"unknown misc", []byte{0xFC, 0x20}, wasm.ErrUnknownOpcode},
		{"table.init", []byte{0xFC, 0x0C, 0x00, 0x00}, wasm.ErrUnsupported},
		{"table.copy", []byte{0xFC, 0x0E, 0x00, 0x00}, wasm.ErrUnsupported},
		{"try", []byte{0x06, 0x40}, wasm.ErrUnsupported},
		{"return_call", []byte{0x12, 0x00}, wasm.ErrUnsupported},
		{"atomics prefix", []byte{0xFE, 0x00}, wasm.ErrUnsupported},
		{"multi-memory memarg", []byte{0x28, 0x40, 0x01, 0x00}, wasm.ErrUnsupported},
		{"memory.fill nonzero", []byte{0xFC, 0x0B, 0x01}, wasm.ErrZeroByte},
		{"memory.copy nonzero", []byte{0xFC, 0x0A, 0x00, 0x01}, wasm.ErrZeroByte},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeInstructionTruncated(t *testing.T) {
	for _, code := range [][]byte{
		{0x41},
		{0x42, 0x80},
		{0x43, 0x00, 0x00},
		{0x44, 0x00, 0x00, 0x00, 0x00},
		{0x0E, 0x02, 0x00},
		{0x28, 0x02},
	} {
		if _, err := wasm.DecodeInstructions(code); err == nil {
			t.Errorf("% x: expected error", code)
		}
	}
}

func TestBlockTypeValidation(t *testing.T) {
	// 0x7B (v128) is not a valid block type here
	if _, err := wasm.DecodeInstructions([]byte{0x02, 0x7B}); err == nil {
		t.Error("expected error for v128 block type")
	}
	instrs, err := wasm.DecodeInstructions([]byte{0x02, 0x70, 0x0B})
	if err != nil {
		t.Fatalf("funcref block type: %v", err)
	}
	if got := instrs[0].Imm.(wasm.BlockImm).Type; got != wasm.BlockTypeFunc {
		t.Errorf("block type = %d, want %d", got, wasm.BlockTypeFunc)
	}
}

func TestOpName(t *testing.T) {
	if got := wasm.OpName(wasm.OpI32Add); got != "i32.add" {
		t.Errorf("OpName(i32.add) = %q", got)
	}
	if got := wasm.MiscName(wasm.MiscMemoryFill); got != "memory.fill" {
		t.Errorf("MiscName(memory.fill) = %q", got)
	}
	instr := wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF32S}}
	if got := instr.Name(); got != "i32.trunc_sat_f32_s" {
		t.Errorf("Name() = %q", got)
	}
}

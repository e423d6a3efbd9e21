// Package wasmtest builds small WebAssembly modules for tests.
//
// Imports must be added before functions so function indices stay stable.
package wasmtest

import (
	"math"

	"github.com/wippyai/wasm-interp/wasm"
)

// Builder assembles a wasm.Module.
type Builder struct {
	m wasm.Module
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// Types is shorthand for a value type list.
func Types(ts ...wasm.ValType) []wasm.ValType {
	return ts
}

// Type adds (or reuses) a function type and returns its index.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	return b.m.AddType(wasm.FuncType{Params: params, Results: results})
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []wasm.ValType) uint32 {
	idx := uint32(b.m.NumImportedFuncs())
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.Type(params, results)},
	})
	return idx
}

// ImportMemory adds a memory import.
func (b *Builder) ImportMemory(module, name string, min uint32, max *uint32) {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}}},
	})
}

// ImportTable adds a table import.
func (b *Builder) ImportTable(module, name string, elem wasm.ValType, min uint32, max *uint32) {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: elem, Limits: wasm.Limits{Min: min, Max: max}}},
	})
}

// ImportGlobal adds a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, t wasm.ValType, mutable bool) uint32 {
	idx := uint32(b.m.NumImportedGlobals())
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: t, Mutable: mutable}},
	})
	return idx
}

// Func adds a function and returns its index in the function index space.
// The trailing end is appended.
func (b *Builder) Func(params, results, locals []wasm.ValType, code ...wasm.Instruction) uint32 {
	idx := uint32(b.m.NumImportedFuncs() + len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.Type(params, results))

	body := wasm.FuncBody{Instrs: append(code, End())}
	for _, l := range locals {
		body.Locals = append(body.Locals, wasm.LocalEntry{Count: 1, ValType: l})
	}
	b.m.Code = append(b.m.Code, body)
	return idx
}

// Export exports an item.
func (b *Builder) Export(name string, kind byte, idx uint32) *Builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: kind, Idx: idx})
	return b
}

// ExportFunc exports a function.
func (b *Builder) ExportFunc(name string, idx uint32) *Builder {
	return b.Export(name, wasm.KindFunc, idx)
}

// Memory declares a memory.
func (b *Builder) Memory(min uint32, max *uint32) *Builder {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}})
	return b
}

// Table declares a table and returns its index.
func (b *Builder) Table(elem wasm.ValType, min uint32, max *uint32) uint32 {
	idx := uint32(b.m.NumImportedTables() + len(b.m.Tables))
	b.m.Tables = append(b.m.Tables, wasm.TableType{ElemType: elem, Limits: wasm.Limits{Min: min, Max: max}})
	return idx
}

// Global declares a global and returns its index.
func (b *Builder) Global(t wasm.ValType, mutable bool, init []byte) uint32 {
	idx := uint32(b.m.NumImportedGlobals() + len(b.m.Globals))
	b.m.Globals = append(b.m.Globals, wasm.Global{Type: wasm.GlobalType{ValType: t, Mutable: mutable}, Init: init})
	return idx
}

// Elem adds an active funcref element segment.
func (b *Builder) Elem(table uint32, offset int32, funcs ...uint32) *Builder {
	e := wasm.Element{Offset: wasm.ConstI32(offset), FuncIdxs: funcs, Type: wasm.ValFuncRef, TableIdx: table}
	if table != 0 {
		e.Flags = 2
	}
	b.m.Elements = append(b.m.Elements, e)
	return b
}

// Declare adds a declarative element segment, which makes funcs valid
// ref.func targets.
func (b *Builder) Declare(funcs ...uint32) *Builder {
	b.m.Elements = append(b.m.Elements, wasm.Element{Flags: 3, FuncIdxs: funcs, Type: wasm.ValFuncRef})
	return b
}

// Data adds an active data segment.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: wasm.ConstI32(offset), Init: data})
	return b
}

// PassiveData adds a passive data segment and returns its index.
func (b *Builder) PassiveData(data []byte) uint32 {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Flags: 1, Init: data})
	return uint32(len(b.m.Data) - 1)
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.m.Start = &idx
	return b
}

// Module returns the assembled module. A data count section is emitted
// whenever data segments exist.
func (b *Builder) Module() *wasm.Module {
	m := b.m
	if len(m.Data) > 0 {
		n := uint32(len(m.Data))
		m.DataCount = &n
	}
	return &m
}

// Bytes returns the encoded module.
func (b *Builder) Bytes() []byte {
	return b.Module().Encode()
}

// Op is an instruction without immediates.
func Op(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }

func End() wasm.Instruction         { return Op(wasm.OpEnd) }
func Else() wasm.Instruction        { return Op(wasm.OpElse) }
func Return() wasm.Instruction      { return Op(wasm.OpReturn) }
func Drop() wasm.Instruction        { return Op(wasm.OpDrop) }
func Unreachable() wasm.Instruction { return Op(wasm.OpUnreachable) }

func Block(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func Loop(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func If(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func Br(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: label}}
}

func BrIf(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: label}}
}

func BrTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

func Call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func CallIndirect(typeIdx, table uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx, TableIdx: table}}
}

func Select() wasm.Instruction { return Op(wasm.OpSelect) }

func SelectT(t wasm.ValType) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{t}}}
}

func LocalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalTee(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: i}}
}

func GlobalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func GlobalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func TableGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableGet, Imm: wasm.TableImm{TableIdx: i}}
}

func TableSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableSet, Imm: wasm.TableImm{TableIdx: i}}
}

// Mem is a load or store with the given alignment exponent and offset.
func Mem(op byte, align, offset uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{Align: align, Offset: offset}}
}

func I32Const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func I64Const(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func F32Const(v float32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}}
}

func F64Const(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}}
}

func RefNull(t wasm.ValType) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: t}}
}

func RefFunc(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: i}}
}

func MemorySize() wasm.Instruction { return Op(wasm.OpMemorySize) }
func MemoryGrow() wasm.Instruction { return Op(wasm.OpMemoryGrow) }

// Misc is a 0xFC-prefixed instruction.
func Misc(sub uint32, operands ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: sub, Operands: operands}}
}

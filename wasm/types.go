package wasm

import "strings"

// Module represents a parsed WebAssembly module
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index per defined function
	Tables         []TableType
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Start          *uint32
	Elements       []Element
	Code           []FuncBody
	Data           []DataSegment
	DataCount      *uint32
	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two function types are structurally identical.
func (f FuncType) Equal(o FuncType) bool {
	return valTypesEqual(f.Params, o.Params) && valTypesEqual(f.Results, o.Results)
}

// String renders the signature as "(i32, i32) -> (i64)".
func (f FuncType) String() string {
	return "(" + joinTypes(f.Params) + ") -> (" + joinTypes(f.Results) + ")"
}

func joinTypes(ts []ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// IsNum reports whether v is one of the four numeric types.
func (v ValType) IsNum() bool {
	return v == ValI32 || v == ValI64 || v == ValF32 || v == ValF64
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExternRef
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits in pages.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// Within reports whether l satisfies the import requirement req:
// l.Min >= req.Min, and if req has a maximum then l has one no larger.
func (l Limits) Within(req Limits) bool {
	if l.Min < req.Min {
		return false
	}
	if req.Max == nil {
		return true
	}
	return l.Max != nil && *l.Max <= *req.Max
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Init []byte // constant expression including the trailing end opcode
	Type GlobalType
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element segment modes.
const (
	ElemModeActive byte = iota
	ElemModePassive
	ElemModeDeclarative
)

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	Type     ValType
}

// Mode returns ElemModeActive, ElemModePassive or ElemModeDeclarative.
func (e *Element) Mode() byte {
	switch {
	case e.Flags&0x01 == 0:
		return ElemModeActive
	case e.Flags&0x02 == 0:
		return ElemModePassive
	default:
		return ElemModeDeclarative
	}
}

// UsesExprs reports whether the segment stores init expressions instead of
// function indices.
func (e *Element) UsesExprs() bool {
	return e.Flags&0x04 != 0
}

// Len returns the number of entries in the segment.
func (e *Element) Len() int {
	if e.UsesExprs() {
		return len(e.Exprs)
	}
	return len(e.FuncIdxs)
}

// FuncBody represents a function's local declarations and bytecode.
// Code holds the raw body (without locals, including the final end);
// Instrs holds the decoded instructions. The encoder uses Code when
// present and Instrs otherwise.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
	Instrs []Instruction
}

// NumLocals returns the number of declared locals, excluding parameters.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsPassive reports whether the segment is only used by memory.init.
func (d *DataSegment) IsPassive() bool {
	return d.Flags == 1
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int { return m.countImports(KindFunc) }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int { return m.countImports(KindGlobal) }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int { return m.countImports(KindTable) }

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int { return m.countImports(KindMemory) }

// FuncTypeIndices returns the type index of every function in the
// function index space, imports first.
func (m *Module) FuncTypeIndices() []uint32 {
	idxs := make([]uint32, 0, len(m.Imports)+len(m.Funcs))
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			idxs = append(idxs, imp.Desc.TypeIdx)
		}
	}
	return append(idxs, m.Funcs...)
}

// GlobalTypes returns the type of every global in the global index space.
func (m *Module) GlobalTypes() []GlobalType {
	gts := make([]GlobalType, 0, len(m.Imports)+len(m.Globals))
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal && imp.Desc.Global != nil {
			gts = append(gts, *imp.Desc.Global)
		}
	}
	for _, g := range m.Globals {
		gts = append(gts, g.Type)
	}
	return gts
}

// TableTypes returns the type of every table in the table index space.
func (m *Module) TableTypes() []TableType {
	tts := make([]TableType, 0, len(m.Tables)+1)
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable && imp.Desc.Table != nil {
			tts = append(tts, *imp.Desc.Table)
		}
	}
	return append(tts, m.Tables...)
}

// MemoryTypes returns the type of every memory in the memory index space.
func (m *Module) MemoryTypes() []MemoryType {
	mts := make([]MemoryType, 0, len(m.Memories)+1)
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			mts = append(mts, *imp.Desc.Memory)
		}
	}
	return append(mts, m.Memories...)
}

// GetFuncType returns the type of a function by its index
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if funcIdx == 0 {
				return m.typeAt(imp.Desc.TypeIdx)
			}
			funcIdx--
		}
		return nil
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[localIdx])
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

// ExportNamed returns the export with the given name.
func (m *Module) ExportNamed(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

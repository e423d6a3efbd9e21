package wasm

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Parsing errors returned by ParseModule, wrapped in a decode-phase
// *errors.Error.
var (
	ErrInvalidMagic   = errors.Plain("magic header not detected")
	ErrInvalidVersion = errors.Plain("unknown binary version")
	ErrSectionSize    = errors.Plain("section size mismatch")
	ErrSectionOrder   = errors.Plain("unexpected section order")
	ErrFuncCodeCount  = errors.Plain("function and code section have inconsistent lengths")
	ErrDataCount      = errors.Plain("data count and data section have inconsistent lengths")
	ErrNoDataCount    = errors.Plain("data count section required")
	ErrTooManyLocals  = errors.Plain("too many locals")
	ErrFunctionEnd    = errors.Plain("unexpected end of function body")
)

// maxLocals bounds the declared locals of one function.
const maxLocals = 50000

var sectionNames = [...]string{
	SectionCustom:    "custom",
	SectionType:      "type",
	SectionImport:    "import",
	SectionFunction:  "function",
	SectionTable:     "table",
	SectionMemory:    "memory",
	SectionGlobal:    "global",
	SectionExport:    "export",
	SectionStart:     "start",
	SectionElement:   "element",
	SectionCode:      "code",
	SectionData:      "data",
	SectionDataCount: "datacount",
}

// SectionName returns the name of a section ID.
func SectionName(id byte) string {
	if int(id) < len(sectionNames) {
		return sectionNames[id]
	}
	return fmt.Sprintf("section(%d)", id)
}

// ParseModule parses a WebAssembly binary module. It never panics on
// malformed input; every failure is a decode-phase *errors.Error carrying
// the section and byte offset.
func ParseModule(data []byte) (*Module, error) {
	// decoded byte fields alias the input
	data = bytes.Clone(data)
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil || magic != Magic {
		return nil, errors.Decode("header", 0, ErrInvalidMagic)
	}
	version, err := r.ReadU32LE()
	if err != nil || version != Version {
		return nil, errors.Decode("header", 4, ErrInvalidVersion)
	}

	m := &Module{}
	var lastOrder int

	for r.Len() > 0 {
		start := r.Position()
		sectionID, _ := r.ReadByte()

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, errors.Decode("section", start, fmt.Errorf("malformed section id %d", sectionID))
			}
			if order <= lastOrder {
				return nil, errors.Decode(SectionName(sectionID), start, ErrSectionOrder)
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, errors.Decode(SectionName(sectionID), r.Position(), err)
		}
		sr, err := r.Sub(size)
		if err != nil {
			return nil, errors.Decode(SectionName(sectionID), start, err)
		}

		if err := parseSection(sectionID, sr, m); err != nil {
			return nil, errors.Decode(SectionName(sectionID), sr.Position(), err)
		}
		if sr.Len() != 0 {
			return nil, errors.Decode(SectionName(sectionID), sr.Position(), ErrSectionSize)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, errors.Decode("code", len(data), ErrFuncCodeCount)
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return nil, errors.Decode("data", len(data), ErrDataCount)
	}

	return m, nil
}

func parseSection(id byte, r *binary.Reader, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		return parseStartSection(r, m)
	case SectionElement:
		return parseElementSection(r, m)
	case SectionCode:
		return parseCodeSection(r, m)
	case SectionData:
		return parseDataSection(r, m)
	case SectionDataCount:
		return parseDataCountSection(r, m)
	}
	return fmt.Errorf("malformed section id %d", id)
}

// sectionOrder returns the canonical position of a section ID, or 0 for
// unknown IDs. Data count sits between element and code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	}
	return 0
}

// readName reads a name, reporting bad UTF-8 as an InvalidUTF8 error that
// carries the encoded bytes.
func readName(r *binary.Reader, path ...string) (string, error) {
	mark := r.Mark()
	name, err := r.ReadName()
	if errors.Is(err, binary.ErrInvalidUTF8) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, path, r.Since(mark))
	}
	return name, err
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := readName(r, "custom")
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadCount(1)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeForm {
			return fmt.Errorf("type %d: malformed type form 0x%02x", i, form)
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	var lim Limits
	switch flags {
	case 0x00, 0x01:
	case 0x02, 0x03:
		return lim, fmt.Errorf("shared memory: %w", ErrUnsupported)
	case 0x04, 0x05, 0x06, 0x07:
		return lim, fmt.Errorf("64-bit limits: %w", ErrUnsupported)
	default:
		return lim, fmt.Errorf("malformed limits flags 0x%02x", flags)
	}
	if lim.Min, err = r.ReadU32(); err != nil {
		return lim, err
	}
	if flags == 0x01 {
		max, err := r.ReadU32()
		if err != nil {
			return lim, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	et, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	lim, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: lim}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("malformed mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(4)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Module, err = readName(r, "import", "module"); err != nil {
			return err
		}
		if imp.Name, err = readName(r, "import", "name"); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = kind

		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			lim, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: lim}
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return fmt.Errorf("import %d: malformed import kind 0x%02x", i, kind)
		}
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		if m.Memories[i].Limits, err = readLimits(r); err != nil {
			return err
		}
	}
	return nil
}

// readConstExpr reads instructions up to and including the first end and
// returns their raw bytes.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	mark := r.Mark()
	for {
		instr, err := decodeInstruction(r, 0)
		if err != nil {
			return nil, err
		}
		if instr.Opcode == OpEnd {
			return r.Since(mark), nil
		}
	}
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		if m.Globals[i].Type, err = readGlobalType(r); err != nil {
			return err
		}
		if m.Globals[i].Init, err = readConstExpr(r); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		exp := &m.Exports[i]
		if exp.Name, err = readName(r, "export"); err != nil {
			return err
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if exp.Kind > KindGlobal {
			return fmt.Errorf("export %q: malformed export kind 0x%02x", exp.Name, exp.Kind)
		}
		if exp.Idx, err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		if err := parseElement(r, &m.Elements[i]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func parseElement(r *binary.Reader, elem *Element) error {
	flags, err := r.ReadU32()
	if err != nil {
		return err
	}
	if flags > 7 {
		return fmt.Errorf("malformed element flags %d", flags)
	}
	elem.Flags = flags
	elem.Type = ValFuncRef

	// bit 0: passive or declarative; bit 1: explicit table index (when
	// active) or declarative (when not); bit 2: expressions
	if flags&0x03 == 0x02 {
		if elem.TableIdx, err = r.ReadU32(); err != nil {
			return err
		}
	}
	if flags&0x01 == 0 {
		if elem.Offset, err = readConstExpr(r); err != nil {
			return err
		}
	}
	if flags&0x03 != 0 {
		if flags&0x04 == 0 {
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			if kind != ElemKindFuncRef {
				return fmt.Errorf("malformed element kind 0x%02x", kind)
			}
		} else if elem.Type, err = readRefType(r); err != nil {
			return err
		}
	}

	n, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	if flags&0x04 == 0 {
		elem.FuncIdxs = make([]uint32, n)
		for j := range elem.FuncIdxs {
			if elem.FuncIdxs[j], err = r.ReadU32(); err != nil {
				return err
			}
		}
		return nil
	}
	elem.Exprs = make([][]byte, n)
	for j := range elem.Exprs {
		if elem.Exprs[j], err = readConstExpr(r); err != nil {
			return err
		}
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		br, err := r.Sub(size)
		if err != nil {
			return fmt.Errorf("func body %d: %w", i, err)
		}
		if err := parseFuncBody(br, &m.Code[i], m.DataCount != nil); err != nil {
			return fmt.Errorf("func body %d: %w", i, err)
		}
	}
	return nil
}

func parseFuncBody(r *binary.Reader, body *FuncBody, hasDataCount bool) error {
	groups, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	body.Locals = make([]LocalEntry, groups)
	var total uint64
	for i := range body.Locals {
		if body.Locals[i].Count, err = r.ReadU32(); err != nil {
			return err
		}
		total += uint64(body.Locals[i].Count)
		if total > maxLocals {
			return ErrTooManyLocals
		}
		if body.Locals[i].ValType, err = readValType(r); err != nil {
			return err
		}
	}

	base := r.Position()
	mark := r.Mark()
	instrs := make([]Instruction, 0, r.Len()/2)
	depth := 0
	for {
		if r.Len() == 0 {
			return ErrFunctionEnd
		}
		instr, err := decodeInstruction(r, base)
		if err != nil {
			return err
		}
		instrs = append(instrs, instr)

		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			depth--
		case OpPrefixMisc:
			sub := instr.Imm.(MiscImm).SubOpcode
			if (sub == MiscMemoryInit || sub == MiscDataDrop) && !hasDataCount {
				return ErrNoDataCount
			}
		}
		if depth < 0 {
			break
		}
	}
	if r.Len() != 0 {
		return ErrSectionSize
	}

	body.Code = r.Since(mark)
	body.Instrs = instrs
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.Flags, err = r.ReadU32(); err != nil {
			return err
		}
		switch seg.Flags {
		case 0:
		case 1:
		case 2:
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data %d: malformed data segment flags %d", i, seg.Flags)
		}
		if seg.Flags != 1 {
			if seg.Offset, err = readConstExpr(r); err != nil {
				return fmt.Errorf("data %d: %w", i, err)
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.ReadBytes(int(n)); err != nil {
			return fmt.Errorf("data %d: %w", i, err)
		}
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

package validator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// unknown is the operand type produced by popping from a polymorphic
// (unreachable) stack.
const unknown wasm.ValType = 0

const maxLocals = 50000

// Validate checks the module structure and every function body, and
// returns the lowered code. It either validates all bodies or returns the
// first error; there is no partial result.
func Validate(m *wasm.Module) (*Compiled, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	v := &funcValidator{
		types:   m.Types,
		funcs:   m.FuncTypeIndices(),
		globals: m.GlobalTypes(),
		tables:  m.TableTypes(),
		hasMem:  len(m.MemoryTypes()) > 0,
		refs:    m.ReferencedFuncs(),
	}
	if m.DataCount != nil {
		v.hasDataCount = true
		v.dataCount = *m.DataCount
	}

	c := &Compiled{Module: m, Funcs: make([]Func, len(m.Code))}
	imported := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		v.funcIdx = imported + uint32(i)
		if err := v.function(&m.Code[i], m.Types[m.Funcs[i]], &c.Funcs[i]); err != nil {
			return nil, err
		}
	}

	Logger().Debug("module validated",
		zap.Int("functions", len(c.Funcs)),
		zap.Int("imports", len(m.Imports)))
	return c, nil
}

type ctrl struct {
	in, out     []wasm.ValType
	patches     []patch
	height      int
	start       int // loop: first op of the body
	ifAt        int // if: the op awaiting its else/end target, -1 otherwise
	op          byte
	unreachable bool
}

// patch is a forward branch waiting for its block's end pc. table < 0
// means Code[op], otherwise BrTables[table][entry].
type patch struct {
	op    int
	table int
	entry int
}

type funcValidator struct {
	types        []wasm.FuncType
	funcs        []uint32
	globals      []wasm.GlobalType
	tables       []wasm.TableType
	refs         map[uint32]bool
	hasMem       bool
	hasDataCount bool
	dataCount    uint32

	funcIdx uint32
	offset  uint32
	fn      *Func
	locals  []wasm.ValType
	vals    []wasm.ValType
	ctrls   []ctrl
	popped  []wasm.ValType
}

func (v *funcValidator) path() []string {
	return []string{fmt.Sprintf("func[%d]", v.funcIdx), fmt.Sprintf("+%#x", v.offset)}
}

func (v *funcValidator) fail(format string, args ...any) error {
	return errors.New(errors.PhaseValidate, errors.KindInvalid).
		Path(v.path()...).
		Detail(format, args...).
		Build()
}

func (v *funcValidator) mismatch(want, got wasm.ValType) error {
	return errors.TypeMismatch(errors.PhaseValidate, v.path(), want.String(), got.String())
}

func (v *funcValidator) function(body *wasm.FuncBody, ft wasm.FuncType, out *Func) error {
	v.offset = 0
	if body.NumLocals() > maxLocals {
		return v.fail("too many locals: %d", body.NumLocals())
	}

	instrs := body.Instrs
	if len(instrs) == 0 && len(body.Code) > 0 {
		var err error
		if instrs, err = wasm.DecodeInstructions(body.Code); err != nil {
			return v.fail("%v", err)
		}
	}

	*out = Func{Type: ft, Code: make([]Op, 0, len(instrs))}
	for _, l := range body.Locals {
		for j := uint32(0); j < l.Count; j++ {
			out.Locals = append(out.Locals, l.ValType)
		}
	}
	v.fn = out
	v.locals = append(append(v.locals[:0], ft.Params...), out.Locals...)
	v.vals = v.vals[:0]
	v.ctrls = append(v.ctrls[:0], ctrl{out: ft.Results, ifAt: -1})

	for i := range instrs {
		v.offset = instrs[i].Offset
		if len(v.ctrls) == 0 {
			return v.fail("instructions after the end of the function")
		}
		if err := v.step(&instrs[i]); err != nil {
			return err
		}
	}
	if len(v.ctrls) != 0 {
		return v.fail("unexpected end of function body")
	}
	return nil
}

func (v *funcValidator) top() *ctrl {
	return &v.ctrls[len(v.ctrls)-1]
}

func (v *funcValidator) label(n uint32) *ctrl {
	return &v.ctrls[len(v.ctrls)-1-int(n)]
}

func (v *funcValidator) checkLabel(n uint32) error {
	if int(n) >= len(v.ctrls) {
		return v.fail("unknown label %d", n)
	}
	return nil
}

func labelTypes(c *ctrl) []wasm.ValType {
	if c.op == wasm.OpLoop {
		return c.in
	}
	return c.out
}

func (v *funcValidator) push(t wasm.ValType) {
	v.vals = append(v.vals, t)
	if len(v.vals) > v.fn.MaxStack {
		v.fn.MaxStack = len(v.vals)
	}
}

func (v *funcValidator) pushAll(ts []wasm.ValType) {
	for _, t := range ts {
		v.push(t)
	}
}

func (v *funcValidator) pop() (wasm.ValType, error) {
	c := v.top()
	if len(v.vals) == c.height {
		if c.unreachable {
			return unknown, nil
		}
		return 0, v.fail("type mismatch: operand stack is empty")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

// popExpect pops one operand of type want and returns the actual type,
// which is unknown on a polymorphic stack.
func (v *funcValidator) popExpect(want wasm.ValType) (wasm.ValType, error) {
	got, err := v.pop()
	if err != nil {
		return 0, err
	}
	if got != want && got != unknown && want != unknown {
		return 0, v.mismatch(want, got)
	}
	return got, nil
}

// popAll pops ts in reverse order. The popped types are left in v.popped.
func (v *funcValidator) popAll(ts []wasm.ValType) error {
	v.popped = v.popped[:0]
	for i := len(ts) - 1; i >= 0; i-- {
		got, err := v.popExpect(ts[i])
		if err != nil {
			return err
		}
		v.popped = append(v.popped, got)
	}
	return nil
}

func (v *funcValidator) pushCtrl(op byte, in, out []wasm.ValType) {
	v.ctrls = append(v.ctrls, ctrl{op: op, in: in, out: out, height: len(v.vals), ifAt: -1})
	v.pushAll(in)
}

// checkFrameEnd pops the block results and requires the stack to be back
// at the block's entry height.
func (v *funcValidator) checkFrameEnd() error {
	c := v.top()
	if err := v.popAll(c.out); err != nil {
		return err
	}
	if len(v.vals) != c.height {
		return v.fail("type mismatch: %d extra values at end of block", len(v.vals)-c.height)
	}
	return nil
}

func (v *funcValidator) setUnreachable() {
	c := v.top()
	v.vals = v.vals[:c.height]
	c.unreachable = true
}

func (v *funcValidator) emit(op Op) int {
	v.fn.Code = append(v.fn.Code, op)
	return len(v.fn.Code) - 1
}

func (v *funcValidator) target(n uint32) Target {
	c := v.label(n)
	t := Target{Height: uint32(c.height), Arity: uint32(len(labelTypes(c)))}
	if c.op == wasm.OpLoop {
		t.PC = uint32(c.start)
	}
	return t
}

func (v *funcValidator) emitBranch(code uint16, n uint32) {
	idx := v.emit(Op{Code: code, T: v.target(n)})
	if c := v.label(n); c.op != wasm.OpLoop {
		c.patches = append(c.patches, patch{op: idx, table: -1})
	}
}

func (v *funcValidator) resolve(c *ctrl, pc int) {
	for _, p := range c.patches {
		if p.table < 0 {
			v.fn.Code[p.op].T.PC = uint32(pc)
		} else {
			v.fn.BrTables[p.table][p.entry].PC = uint32(pc)
		}
	}
}

func (v *funcValidator) blockType(bt int64) (in, out []wasm.ValType, err error) {
	switch bt {
	case wasm.BlockTypeEmpty:
		return nil, nil, nil
	case wasm.BlockTypeI32:
		return nil, []wasm.ValType{i32}, nil
	case wasm.BlockTypeI64:
		return nil, []wasm.ValType{i64}, nil
	case wasm.BlockTypeF32:
		return nil, []wasm.ValType{f32}, nil
	case wasm.BlockTypeF64:
		return nil, []wasm.ValType{f64}, nil
	case wasm.BlockTypeFunc:
		return nil, []wasm.ValType{wasm.ValFuncRef}, nil
	case wasm.BlockTypeExt:
		return nil, []wasm.ValType{wasm.ValExternRef}, nil
	}
	if bt < 0 || bt >= int64(len(v.types)) {
		return nil, nil, v.fail("unknown block type %d", bt)
	}
	ft := v.types[bt]
	return ft.Params, ft.Results, nil
}

func (v *funcValidator) requireMemory() error {
	if !v.hasMem {
		return v.fail("unknown memory 0")
	}
	return nil
}

func (v *funcValidator) table(idx uint32) (wasm.TableType, error) {
	if int(idx) >= len(v.tables) {
		return wasm.TableType{}, v.fail("unknown table %d", idx)
	}
	return v.tables[idx], nil
}

func sameTypes(a, b []wasm.ValType) bool {
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

func (v *funcValidator) step(instr *wasm.Instruction) error {
	op := instr.Opcode
	code := uint16(op)

	switch op {
	case wasm.OpUnreachable:
		v.emit(Op{Code: code})
		v.setUnreachable()

	case wasm.OpNop:

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		in, out, err := v.blockType(instr.Imm.(wasm.BlockImm).Type)
		if err != nil {
			return err
		}
		if op == wasm.OpIf {
			if _, err := v.popExpect(i32); err != nil {
				return err
			}
		}
		if err := v.popAll(in); err != nil {
			return err
		}
		v.pushCtrl(op, in, out)
		c := v.top()
		c.start = len(v.fn.Code)
		if op == wasm.OpIf {
			c.ifAt = v.emit(Op{Code: code})
		}

	case wasm.OpElse:
		c := v.top()
		if c.op != wasm.OpIf {
			return v.fail("else without matching if")
		}
		if err := v.checkFrameEnd(); err != nil {
			return err
		}
		jump := v.emit(Op{Code: OpJump})
		c.patches = append(c.patches, patch{op: jump, table: -1})
		v.fn.Code[c.ifAt].T.PC = uint32(len(v.fn.Code))
		c.ifAt = -1
		c.op = wasm.OpElse
		c.unreachable = false
		v.vals = v.vals[:c.height]
		v.pushAll(c.in)

	case wasm.OpEnd:
		if err := v.checkFrameEnd(); err != nil {
			return err
		}
		c := v.ctrls[len(v.ctrls)-1]
		if c.op == wasm.OpIf && !sameTypes(c.in, c.out) {
			return v.fail("type mismatch: if without else must produce its parameters")
		}
		v.ctrls = v.ctrls[:len(v.ctrls)-1]
		end := len(v.fn.Code)
		if c.ifAt >= 0 {
			v.fn.Code[c.ifAt].T.PC = uint32(end)
		}
		v.resolve(&c, end)
		if len(v.ctrls) == 0 {
			v.emit(Op{Code: uint16(wasm.OpReturn)})
			return nil
		}
		v.pushAll(c.out)

	case wasm.OpBr:
		n := instr.Imm.(wasm.BranchImm).LabelIdx
		if err := v.checkLabel(n); err != nil {
			return err
		}
		if err := v.popAll(labelTypes(v.label(n))); err != nil {
			return err
		}
		v.emitBranch(code, n)
		v.setUnreachable()

	case wasm.OpBrIf:
		n := instr.Imm.(wasm.BranchImm).LabelIdx
		if err := v.checkLabel(n); err != nil {
			return err
		}
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		ts := labelTypes(v.label(n))
		if err := v.popAll(ts); err != nil {
			return err
		}
		v.pushAll(ts)
		v.emitBranch(code, n)

	case wasm.OpBrTable:
		return v.brTable(instr.Imm.(wasm.BrTableImm))

	case wasm.OpReturn:
		if err := v.popAll(v.ctrls[0].out); err != nil {
			return err
		}
		v.emit(Op{Code: code})
		v.setUnreachable()

	case wasm.OpCall:
		idx := instr.Imm.(wasm.CallImm).FuncIdx
		if int(idx) >= len(v.funcs) {
			return v.fail("unknown function %d", idx)
		}
		ft := &v.types[v.funcs[idx]]
		if err := v.popAll(ft.Params); err != nil {
			return err
		}
		v.pushAll(ft.Results)
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.OpCallIndirect:
		imm := instr.Imm.(wasm.CallIndirectImm)
		tt, err := v.table(imm.TableIdx)
		if err != nil {
			return err
		}
		if tt.ElemType != wasm.ValFuncRef {
			return v.mismatch(wasm.ValFuncRef, tt.ElemType)
		}
		if int(imm.TypeIdx) >= len(v.types) {
			return v.fail("unknown type %d", imm.TypeIdx)
		}
		ft := &v.types[imm.TypeIdx]
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		if err := v.popAll(ft.Params); err != nil {
			return err
		}
		v.pushAll(ft.Results)
		v.emit(Op{Code: code, A: uint64(imm.TypeIdx), B: uint64(imm.TableIdx)})

	case wasm.OpDrop:
		if _, err := v.pop(); err != nil {
			return err
		}
		v.emit(Op{Code: code})

	case wasm.OpSelect:
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.pop()
		if err != nil {
			return err
		}
		if (t1 != unknown && !t1.IsNum()) || (t2 != unknown && !t2.IsNum()) {
			return v.fail("type mismatch: select without type annotation requires numeric operands")
		}
		if t1 != t2 && t1 != unknown && t2 != unknown {
			return v.mismatch(t1, t2)
		}
		if t1 == unknown {
			t1 = t2
		}
		v.push(t1)
		v.emit(Op{Code: uint16(wasm.OpSelect)})

	case wasm.OpSelectType:
		ts := instr.Imm.(wasm.SelectTypeImm).Types
		if len(ts) != 1 {
			return v.fail("invalid result arity %d for select", len(ts))
		}
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		for n := 0; n < 2; n++ {
			if _, err := v.popExpect(ts[0]); err != nil {
				return err
			}
		}
		v.push(ts[0])
		v.emit(Op{Code: uint16(wasm.OpSelect)})

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(v.locals) {
			return v.fail("unknown local %d", idx)
		}
		t := v.locals[idx]
		if op != wasm.OpLocalGet {
			if _, err := v.popExpect(t); err != nil {
				return err
			}
		}
		if op != wasm.OpLocalSet {
			v.push(t)
		}
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(v.globals) {
			return v.fail("unknown global %d", idx)
		}
		g := v.globals[idx]
		if op == wasm.OpGlobalGet {
			v.push(g.ValType)
		} else {
			if !g.Mutable {
				return v.fail("global %d is immutable", idx)
			}
			if _, err := v.popExpect(g.ValType); err != nil {
				return err
			}
		}
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.OpTableGet, wasm.OpTableSet:
		idx := instr.Imm.(wasm.TableImm).TableIdx
		tt, err := v.table(idx)
		if err != nil {
			return err
		}
		if op == wasm.OpTableGet {
			if _, err := v.popExpect(i32); err != nil {
				return err
			}
			v.push(tt.ElemType)
		} else {
			if _, err := v.popExpect(tt.ElemType); err != nil {
				return err
			}
			if _, err := v.popExpect(i32); err != nil {
				return err
			}
		}
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.OpMemorySize:
		if err := v.requireMemory(); err != nil {
			return err
		}
		v.push(i32)
		v.emit(Op{Code: code})

	case wasm.OpMemoryGrow:
		if err := v.requireMemory(); err != nil {
			return err
		}
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		v.push(i32)
		v.emit(Op{Code: code})

	case wasm.OpI32Const:
		v.push(i32)
		v.emit(Op{Code: code, A: uint64(uint32(instr.Imm.(wasm.I32Imm).Value))})
	case wasm.OpI64Const:
		v.push(i64)
		v.emit(Op{Code: code, A: uint64(instr.Imm.(wasm.I64Imm).Value)})
	case wasm.OpF32Const:
		v.push(f32)
		v.emit(Op{Code: code, A: uint64(instr.Imm.(wasm.F32Imm).Bits)})
	case wasm.OpF64Const:
		v.push(f64)
		v.emit(Op{Code: code, A: instr.Imm.(wasm.F64Imm).Bits})

	case wasm.OpRefNull:
		v.push(instr.Imm.(wasm.RefNullImm).Type)
		v.emit(Op{Code: code})

	case wasm.OpRefIsNull:
		t, err := v.pop()
		if err != nil {
			return err
		}
		if t != unknown && !t.IsRef() {
			return v.fail("type mismatch: ref.is_null on %s", t)
		}
		v.push(i32)
		v.emit(Op{Code: code})

	case wasm.OpRefFunc:
		idx := instr.Imm.(wasm.RefFuncImm).FuncIdx
		if int(idx) >= len(v.funcs) {
			return v.fail("unknown function %d", idx)
		}
		if !v.refs[idx] {
			return v.fail("undeclared function reference %d", idx)
		}
		v.push(wasm.ValFuncRef)
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.OpPrefixMisc:
		return v.misc(instr.Imm.(wasm.MiscImm))

	default:
		if ma, ok := memOps[op]; ok {
			return v.memAccess(instr, ma)
		}
		s := numeric[op]
		if s.out == 0 {
			return v.fail("unknown opcode 0x%02x", op)
		}
		if err := v.popAll(s.in); err != nil {
			return err
		}
		v.push(s.out)
		v.emit(Op{Code: code})
	}
	return nil
}

func (v *funcValidator) memAccess(instr *wasm.Instruction, ma memAccess) error {
	if err := v.requireMemory(); err != nil {
		return err
	}
	imm := instr.Imm.(wasm.MemoryImm)
	if uint64(1)<<imm.Align > uint64(ma.width) {
		return v.fail("alignment must not be larger than natural (2^%d > %d)", imm.Align, ma.width)
	}
	if ma.store {
		if _, err := v.popExpect(ma.typ); err != nil {
			return err
		}
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
	} else {
		if _, err := v.popExpect(i32); err != nil {
			return err
		}
		v.push(ma.typ)
	}
	v.emit(Op{Code: uint16(instr.Opcode), A: uint64(imm.Offset)})
	return nil
}

func (v *funcValidator) brTable(imm wasm.BrTableImm) error {
	if _, err := v.popExpect(i32); err != nil {
		return err
	}
	if err := v.checkLabel(imm.Default); err != nil {
		return err
	}
	arity := len(labelTypes(v.label(imm.Default)))

	for _, l := range imm.Labels {
		if err := v.checkLabel(l); err != nil {
			return err
		}
		ts := labelTypes(v.label(l))
		if len(ts) != arity {
			return v.fail("type mismatch: br_table label %d has arity %d, default has %d", l, len(ts), arity)
		}
		if err := v.popAll(ts); err != nil {
			return err
		}
		// restore what was popped, unknowns included
		for i := len(v.popped) - 1; i >= 0; i-- {
			v.push(v.popped[i])
		}
	}
	if err := v.popAll(labelTypes(v.label(imm.Default))); err != nil {
		return err
	}

	tableIdx := len(v.fn.BrTables)
	targets := make([]Target, len(imm.Labels)+1)
	v.fn.BrTables = append(v.fn.BrTables, targets)
	for i := range targets {
		l := imm.Default
		if i < len(imm.Labels) {
			l = imm.Labels[i]
		}
		targets[i] = v.target(l)
		if c := v.label(l); c.op != wasm.OpLoop {
			c.patches = append(c.patches, patch{op: -1, table: tableIdx, entry: i})
		}
	}
	v.emit(Op{Code: uint16(wasm.OpBrTable), A: uint64(tableIdx)})
	v.setUnreachable()
	return nil
}

func (v *funcValidator) misc(imm wasm.MiscImm) error {
	code := Misc(imm.SubOpcode)
	sub := imm.SubOpcode

	if sub <= wasm.MiscI64TruncSatF64U {
		s := truncSat[sub]
		if err := v.popAll(s.in); err != nil {
			return err
		}
		v.push(s.out)
		v.emit(Op{Code: code})
		return nil
	}

	switch sub {
	case wasm.MiscMemoryInit, wasm.MiscDataDrop, wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		if len(imm.Operands) == 0 {
			return v.fail("%s: missing index immediate", wasm.MiscName(sub))
		}
	}

	switch sub {
	case wasm.MiscMemoryInit, wasm.MiscDataDrop:
		idx := imm.Operands[0]
		if !v.hasDataCount {
			return v.fail("data count section required")
		}
		if idx >= v.dataCount {
			return v.fail("unknown data segment %d", idx)
		}
		if sub == wasm.MiscMemoryInit {
			if err := v.requireMemory(); err != nil {
				return err
			}
			if err := v.popAll([]wasm.ValType{i32, i32, i32}); err != nil {
				return err
			}
		}
		v.emit(Op{Code: code, A: uint64(idx)})

	case wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
		if err := v.requireMemory(); err != nil {
			return err
		}
		if err := v.popAll([]wasm.ValType{i32, i32, i32}); err != nil {
			return err
		}
		v.emit(Op{Code: code})

	case wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		idx := imm.Operands[0]
		tt, err := v.table(idx)
		if err != nil {
			return err
		}
		switch sub {
		case wasm.MiscTableGrow:
			if err := v.popAll([]wasm.ValType{tt.ElemType, i32}); err != nil {
				return err
			}
			v.push(i32)
		case wasm.MiscTableSize:
			v.push(i32)
		case wasm.MiscTableFill:
			if err := v.popAll([]wasm.ValType{i32, tt.ElemType, i32}); err != nil {
				return err
			}
		}
		v.emit(Op{Code: code, A: uint64(idx)})

	default:
		e := errors.Unsupported(errors.PhaseValidate, wasm.MiscName(sub))
		e.Path = v.path()
		return e
	}
	return nil
}

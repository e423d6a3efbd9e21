package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

// Instance is a module bound into a store. Index spaces (functions,
// tables, memories, globals) cover imports first, then definitions.
type Instance struct {
	store    *Store
	module   *wasm.Module
	funcs    []*Function
	tables   []*Table
	memories []*Memory
	globals  []*Global
	data     [][]byte // passive segments; nil once dropped
	exports  map[string]Export
	order    []string
	start    *Function
}

// Instantiate links c against r and allocates the instance. r may be nil
// for modules without imports. See the package documentation for the
// order of effects.
func (s *Store) Instantiate(ctx context.Context, c *validator.Compiled, r Resolver) (*Instance, error) {
	_, exit := s.Enter(ctx)
	defer exit()

	m := c.Module
	externs, err := s.link(m, r)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimits(m); err != nil {
		return nil, err
	}

	inst := &Instance{
		store:   s,
		module:  m,
		exports: make(map[string]Export, len(m.Exports)),
		data:    make([][]byte, len(m.Data)),
	}

	for _, ext := range externs {
		switch ext.Kind {
		case wasm.KindFunc:
			inst.funcs = append(inst.funcs, s.adopt(ext.Func))
		case wasm.KindTable:
			inst.tables = append(inst.tables, ext.Table)
		case wasm.KindMemory:
			inst.memories = append(inst.memories, ext.Memory)
		case wasm.KindGlobal:
			inst.globals = append(inst.globals, ext.Global)
		}
	}

	names := exportedFuncNames(m)
	imported := uint32(len(inst.funcs))
	for i, typeIdx := range m.Funcs {
		idx := imported + uint32(i)
		name, ok := names[idx]
		if !ok {
			name = fmt.Sprintf("func[%d]", idx)
		}
		inst.funcs = append(inst.funcs, s.addFunc(&Function{
			instance: inst,
			code:     c.Func(idx),
			name:     name,
			typ:      m.Types[typeIdx],
		}))
	}

	for _, tt := range m.Tables {
		t, err := s.NewTable(tt)
		if err != nil {
			return nil, err
		}
		inst.tables = append(inst.tables, t)
	}
	for _, mt := range m.Memories {
		mem, err := s.NewMemory(mt)
		if err != nil {
			return nil, err
		}
		inst.memories = append(inst.memories, mem)
	}
	for i := range m.Globals {
		g := &m.Globals[i]
		bits, err := inst.eval(g.Init)
		if err != nil {
			return nil, err
		}
		cell, _ := s.NewGlobal(g.Type, wasm.Value{Type: g.Type.ValType, Bits: bits})
		inst.globals = append(inst.globals, cell)
	}

	for _, exp := range m.Exports {
		inst.exports[exp.Name] = Export{Name: exp.Name, Extern: inst.extern(exp.Kind, exp.Idx)}
		inst.order = append(inst.order, exp.Name)
	}
	if m.Start != nil {
		inst.start = inst.funcs[*m.Start]
	}

	if err := inst.initElements(); err != nil {
		return nil, err
	}
	if err := inst.initData(); err != nil {
		return nil, err
	}

	s.instances = append(s.instances, inst)
	Logger().Debug("instance created",
		zap.Int("imports", len(m.Imports)),
		zap.Int("functions", len(inst.funcs)),
		zap.Int("exports", len(inst.order)))
	return inst, nil
}

// link resolves every import, collecting all failures.
func (s *Store) link(m *wasm.Module, r Resolver) ([]Extern, error) {
	if len(m.Imports) == 0 {
		return nil, nil
	}
	var lerr errors.LinkError
	out := make([]Extern, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		var ext Extern
		ok := false
		if r != nil {
			ext, ok = r.Resolve(imp.Module, imp.Name)
		}
		if !ok || !ext.valid() {
			lerr.Add(imp.Module, imp.Name, "")
			continue
		}
		if reason := s.matchImport(m, imp, ext); reason != "" {
			lerr.Add(imp.Module, imp.Name, reason)
			continue
		}
		out[i] = ext
	}
	if len(lerr.Imports) > 0 {
		Logger().Debug("link failed", zap.Int("unresolved", len(lerr.Imports)))
		return nil, &lerr
	}
	return out, nil
}

// matchImport returns why ext cannot satisfy imp, or "".
func (s *Store) matchImport(m *wasm.Module, imp *wasm.Import, ext Extern) string {
	want := imp.Desc.Kind
	if ext.Kind != want {
		return fmt.Sprintf("expected %s, got %s", wasm.KindName(want), wasm.KindName(ext.Kind))
	}
	if o := ext.owner(); o != nil && o != s {
		return "belongs to another store"
	}

	switch want {
	case wasm.KindFunc:
		ft := m.Types[imp.Desc.TypeIdx]
		if !ext.Func.typ.Equal(ft) {
			return fmt.Sprintf("expected %s, got %s", ft, ext.Func.typ)
		}
	case wasm.KindTable:
		req := imp.Desc.Table
		got := ext.Table.Type()
		if got.ElemType != req.ElemType {
			return fmt.Sprintf("expected %s table, got %s", req.ElemType, got.ElemType)
		}
		if !got.Limits.Within(req.Limits) {
			return fmt.Sprintf("limits %s do not match %s", limitsString(got.Limits), limitsString(req.Limits))
		}
	case wasm.KindMemory:
		req := imp.Desc.Memory
		got := ext.Memory.Type()
		if !got.Limits.Within(req.Limits) {
			return fmt.Sprintf("limits %s do not match %s", limitsString(got.Limits), limitsString(req.Limits))
		}
	case wasm.KindGlobal:
		req := *imp.Desc.Global
		got := ext.Global.typ
		if got != req {
			return fmt.Sprintf("expected %s, got %s", globalString(req), globalString(got))
		}
	}
	return ""
}

// checkLimits rejects defined memories and tables whose minimum exceeds
// the store caps, before anything is allocated.
func (s *Store) checkLimits(m *wasm.Module) error {
	for _, mt := range m.Memories {
		if mt.Limits.Min > s.limits.MemoryPages {
			return errors.LimitExceeded("memory", uint64(mt.Limits.Min), uint64(s.limits.MemoryPages))
		}
	}
	for _, tt := range m.Tables {
		if tt.Limits.Min > s.limits.TableLimit {
			return errors.LimitExceeded("table", uint64(tt.Limits.Min), uint64(s.limits.TableLimit))
		}
	}
	return nil
}

// adopt binds an unbound host function to s, once per function.
func (s *Store) adopt(f *Function) *Function {
	if f.owner != nil {
		return f
	}
	if bound, ok := s.adopted[f]; ok {
		return bound
	}
	cp := *f
	s.adopted[f] = s.addFunc(&cp)
	return &cp
}

func exportedFuncNames(m *wasm.Module) map[uint32]string {
	names := make(map[uint32]string)
	for _, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		if _, ok := names[exp.Idx]; !ok {
			names[exp.Idx] = exp.Name
		}
	}
	return names
}

func (inst *Instance) extern(kind byte, idx uint32) Extern {
	switch kind {
	case wasm.KindFunc:
		return FuncExtern(inst.funcs[idx])
	case wasm.KindTable:
		return TableExtern(inst.tables[idx])
	case wasm.KindMemory:
		return MemoryExtern(inst.memories[idx])
	default:
		return GlobalExtern(inst.globals[idx])
	}
}

// eval runs a constant expression and returns the raw value bits.
func (inst *Instance) eval(expr []byte) (uint64, error) {
	in, err := wasm.ConstExprInstr(expr)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "constant expression")
	}
	switch imm := in.Imm.(type) {
	case wasm.I32Imm:
		return uint64(uint32(imm.Value)), nil
	case wasm.I64Imm:
		return uint64(imm.Value), nil
	case wasm.F32Imm:
		return uint64(imm.Bits), nil
	case wasm.F64Imm:
		return imm.Bits, nil
	case wasm.RefNullImm:
		return 0, nil
	case wasm.RefFuncImm:
		return inst.funcs[imm.FuncIdx].Ref(), nil
	case wasm.GlobalImm:
		return inst.globals[imm.GlobalIdx].Raw(), nil
	}
	return 0, errors.InvalidData(errors.PhaseRuntime, nil, "constant expression required, got "+in.Name())
}

func (inst *Instance) elementRefs(e *wasm.Element) ([]uint64, error) {
	refs := make([]uint64, e.Len())
	if !e.UsesExprs() {
		for i, idx := range e.FuncIdxs {
			refs[i] = inst.funcs[idx].Ref()
		}
		return refs, nil
	}
	for i, expr := range e.Exprs {
		v, err := inst.eval(expr)
		if err != nil {
			return nil, err
		}
		refs[i] = v
	}
	return refs, nil
}

func (inst *Instance) initElements() error {
	for i := range inst.module.Elements {
		e := &inst.module.Elements[i]
		if e.Mode() != wasm.ElemModeActive {
			continue
		}
		off, err := inst.eval(e.Offset)
		if err != nil {
			return err
		}
		refs, err := inst.elementRefs(e)
		if err != nil {
			return err
		}
		if !inst.tables[e.TableIdx].Init(uint32(off), refs) {
			return errors.NewTrap(errors.TrapOutOfBoundsTableAccess, fmt.Sprintf("elem[%d]", i))
		}
	}
	return nil
}

func (inst *Instance) initData() error {
	for i := range inst.module.Data {
		seg := &inst.module.Data[i]
		if seg.IsPassive() {
			inst.data[i] = seg.Init
			continue
		}
		off, err := inst.eval(seg.Offset)
		if err != nil {
			return err
		}
		if !inst.memories[seg.MemIdx].Write(uint32(off), seg.Init) {
			return errors.NewTrap(errors.TrapOutOfBoundsMemoryAccess, fmt.Sprintf("data[%d]", i))
		}
	}
	return nil
}

// Store returns the owning store.
func (inst *Instance) Store() *Store { return inst.store }

// Module returns the instantiated module.
func (inst *Instance) Module() *wasm.Module { return inst.module }

// Start returns the start function, or nil.
func (inst *Instance) Start() *Function { return inst.start }

// Func returns the function at idx in the instance's index space.
func (inst *Instance) Func(idx uint32) *Function {
	if int(idx) >= len(inst.funcs) {
		return nil
	}
	return inst.funcs[idx]
}

func (inst *Instance) Table(idx uint32) *Table {
	if int(idx) >= len(inst.tables) {
		return nil
	}
	return inst.tables[idx]
}

func (inst *Instance) Memory(idx uint32) *Memory {
	if int(idx) >= len(inst.memories) {
		return nil
	}
	return inst.memories[idx]
}

func (inst *Instance) Global(idx uint32) *Global {
	if int(idx) >= len(inst.globals) {
		return nil
	}
	return inst.globals[idx]
}

// Data returns passive data segment idx; nil once dropped.
func (inst *Instance) Data(idx uint32) []byte {
	return inst.data[idx]
}

// DropData discards passive data segment idx.
func (inst *Instance) DropData(idx uint32) {
	inst.data[idx] = nil
}

// Export looks up an export by name.
func (inst *Instance) Export(name string) (Export, error) {
	exp, ok := inst.exports[name]
	if !ok {
		return Export{}, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	return exp, nil
}

// Exports returns all exports in module order.
func (inst *Instance) Exports() []Export {
	out := make([]Export, len(inst.order))
	for i, name := range inst.order {
		out[i] = inst.exports[name]
	}
	return out
}

// ExportedFunc looks up a function export.
func (inst *Instance) ExportedFunc(name string) (*Function, error) {
	exp, err := inst.exportOf(name, wasm.KindFunc)
	if err != nil {
		return nil, err
	}
	return exp.Func, nil
}

// ExportedMemory looks up a memory export.
func (inst *Instance) ExportedMemory(name string) (*Memory, error) {
	exp, err := inst.exportOf(name, wasm.KindMemory)
	if err != nil {
		return nil, err
	}
	return exp.Memory, nil
}

// ExportedGlobal looks up a global export.
func (inst *Instance) ExportedGlobal(name string) (*Global, error) {
	exp, err := inst.exportOf(name, wasm.KindGlobal)
	if err != nil {
		return nil, err
	}
	return exp.Global, nil
}

// ExportedTable looks up a table export.
func (inst *Instance) ExportedTable(name string) (*Table, error) {
	exp, err := inst.exportOf(name, wasm.KindTable)
	if err != nil {
		return nil, err
	}
	return exp.Table, nil
}

func (inst *Instance) exportOf(name string, kind byte) (Export, error) {
	exp, err := inst.Export(name)
	if err != nil {
		return Export{}, err
	}
	if exp.Kind != kind {
		return Export{}, errors.TypeMismatch(errors.PhaseRuntime, []string{"export", name}, wasm.KindName(kind), wasm.KindName(exp.Kind))
	}
	return exp, nil
}

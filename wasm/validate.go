package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
)

// Validate checks the module-level structure: index spaces, limits,
// constant expressions, exports and segments. Function bodies are checked
// by the validator package.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateCodeCount,
		m.validateTypeIndices,
		m.validateTables,
		m.validateMemories,
		m.validateGlobals,
		m.validateExports,
		m.validateStart,
		m.validateElements,
		m.validateData,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(path string, format string, args ...any) error {
	return errors.Validation([]string{path}, format, args...)
}

func (m *Module) validateCodeCount() error {
	if len(m.Funcs) != len(m.Code) {
		return invalid("code", "%d functions declared but %d bodies present", len(m.Funcs), len(m.Code))
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return invalid("datacount", "data count %d does not match %d segments", *m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return invalid(fmt.Sprintf("func[%d]", i), "unknown type %d", typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return invalid(fmt.Sprintf("import[%d]", i), "%s.%s: unknown type %d", imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func validateLimits(l Limits, bound uint32, what string) error {
	if l.Min > bound {
		return fmt.Errorf("%s size must be at most %d, got min %d", what, bound, l.Min)
	}
	if l.Max != nil {
		if *l.Max > bound {
			return fmt.Errorf("%s size must be at most %d, got max %d", what, bound, *l.Max)
		}
		if l.Min > *l.Max {
			return fmt.Errorf("size minimum must not be greater than maximum (%d > %d)", l.Min, *l.Max)
		}
	}
	return nil
}

func (m *Module) validateTables() error {
	for i, t := range m.TableTypes() {
		if err := validateLimits(t.Limits, ^uint32(0), "table"); err != nil {
			return invalid(fmt.Sprintf("table[%d]", i), "%v", err)
		}
	}
	return nil
}

func (m *Module) validateMemories() error {
	mems := m.MemoryTypes()
	if len(mems) > 1 {
		return invalid("memory", "multiple memories (%d): %v", len(mems), ErrUnsupported)
	}
	for i, mem := range mems {
		if err := validateLimits(mem.Limits, MaxPages, "memory"); err != nil {
			return invalid(fmt.Sprintf("memory[%d]", i), "%v", err)
		}
	}
	return nil
}

// checkConstExpr validates a constant expression producing want. Only
// imported globals are visible to global initializers and segment offsets.
func (m *Module) checkConstExpr(expr []byte, want ValType, importedGlobals []GlobalType) error {
	instr, err := ConstExprInstr(expr)
	if err != nil {
		return err
	}
	got, err := ConstExprType(instr, importedGlobals)
	if err != nil {
		return err
	}
	if instr.Opcode == OpRefFunc {
		idx := instr.Imm.(RefFuncImm).FuncIdx
		if int(idx) >= m.NumImportedFuncs()+len(m.Funcs) {
			return fmt.Errorf("unknown function %d", idx)
		}
	}
	if got != want {
		return errors.TypeMismatch(errors.PhaseValidate, nil, want.String(), got.String())
	}
	return nil
}

func (m *Module) importedGlobalTypes() []GlobalType {
	var gts []GlobalType
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal && imp.Desc.Global != nil {
			gts = append(gts, *imp.Desc.Global)
		}
	}
	return gts
}

func (m *Module) validateGlobals() error {
	imported := m.importedGlobalTypes()
	for i, g := range m.Globals {
		if err := m.checkConstExpr(g.Init, g.Type.ValType, imported); err != nil {
			return errors.New(errors.PhaseValidate, errors.KindInvalid).
				Path(fmt.Sprintf("global[%d]", len(imported)+i)).
				Detail("initializer").
				Cause(err).
				Build()
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]struct{}, len(m.Exports))
	numFuncs := m.NumImportedFuncs() + len(m.Funcs)
	numTables := len(m.TableTypes())
	numMems := len(m.MemoryTypes())
	numGlobals := m.NumImportedGlobals() + len(m.Globals)

	for _, exp := range m.Exports {
		if _, dup := seen[exp.Name]; dup {
			return invalid("export", "duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = struct{}{}

		var limit int
		switch exp.Kind {
		case KindFunc:
			limit = numFuncs
		case KindTable:
			limit = numTables
		case KindMemory:
			limit = numMems
		case KindGlobal:
			limit = numGlobals
		default:
			return invalid("export", "%q: unknown export kind %d", exp.Name, exp.Kind)
		}
		if int(exp.Idx) >= limit {
			return invalid("export", "%q: unknown %s %d", exp.Name, KindName(exp.Kind), exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return invalid("start", "unknown function %d", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return invalid("start", "start function must have type [] -> [], got %s", ft)
	}
	return nil
}

func (m *Module) validateElements() error {
	tables := m.TableTypes()
	imported := m.importedGlobalTypes()
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))

	for i := range m.Elements {
		e := &m.Elements[i]
		path := fmt.Sprintf("elem[%d]", i)

		if !e.Type.IsRef() {
			return invalid(path, "element type %s is not a reference type", e.Type)
		}
		if e.Mode() == ElemModeActive {
			if int(e.TableIdx) >= len(tables) {
				return invalid(path, "unknown table %d", e.TableIdx)
			}
			if tables[e.TableIdx].ElemType != e.Type {
				return errors.TypeMismatch(errors.PhaseValidate, []string{path}, tables[e.TableIdx].ElemType.String(), e.Type.String())
			}
			if err := m.checkConstExpr(e.Offset, ValI32, imported); err != nil {
				return errors.New(errors.PhaseValidate, errors.KindInvalid).Path(path).Detail("offset").Cause(err).Build()
			}
		}
		for _, idx := range e.FuncIdxs {
			if idx >= numFuncs {
				return invalid(path, "unknown function %d", idx)
			}
		}
		for j, expr := range e.Exprs {
			if err := m.checkConstExpr(expr, e.Type, imported); err != nil {
				return errors.New(errors.PhaseValidate, errors.KindInvalid).Path(path, fmt.Sprintf("[%d]", j)).Cause(err).Build()
			}
		}
	}
	return nil
}

func (m *Module) validateData() error {
	numMems := len(m.MemoryTypes())
	imported := m.importedGlobalTypes()
	for i, d := range m.Data {
		if d.IsPassive() {
			continue
		}
		path := fmt.Sprintf("data[%d]", i)
		if int(d.MemIdx) >= numMems {
			return invalid(path, "unknown memory %d", d.MemIdx)
		}
		if err := m.checkConstExpr(d.Offset, ValI32, imported); err != nil {
			return errors.New(errors.PhaseValidate, errors.KindInvalid).Path(path).Detail("offset").Cause(err).Build()
		}
	}
	return nil
}

// ReferencedFuncs returns the function indices that appear outside
// function bodies: in element segments, global initializers and exports.
// Only these may be the target of ref.func inside a body.
func (m *Module) ReferencedFuncs() map[uint32]bool {
	refs := make(map[uint32]bool)
	addExpr := func(expr []byte) {
		if instr, err := ConstExprInstr(expr); err == nil && instr.Opcode == OpRefFunc {
			refs[instr.Imm.(RefFuncImm).FuncIdx] = true
		}
	}
	for _, g := range m.Globals {
		addExpr(g.Init)
	}
	for _, e := range m.Elements {
		for _, idx := range e.FuncIdxs {
			refs[idx] = true
		}
		for _, expr := range e.Exprs {
			addExpr(expr)
		}
	}
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc {
			refs[exp.Idx] = true
		}
	}
	return refs
}

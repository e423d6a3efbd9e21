package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

// Module is a decoded module. Validation runs once, on the first call to
// Validate or Instantiate.
type Module struct {
	validateErr  error
	runtime      *Runtime
	parsed       *wasm.Module
	compiled     *validator.Compiled
	id           cid.Cid
	validateOnce sync.Once
}

// Load decodes a module binary. With a cache, a module recorded as
// invalid is rejected before decoding, and the binary is stored.
func (r *Runtime) Load(ctx context.Context, bin []byte) (*Module, error) {
	m := &Module{runtime: r}

	if r.cache != nil {
		id, err := r.cache.Put(bin)
		if err != nil {
			return nil, err
		}
		m.id = id
		v, err := r.cache.Verdict(id)
		if err != nil {
			return nil, err
		}
		if v.Known && !v.Valid {
			r.log.Debug("module rejected by cached verdict", zap.Stringer("cid", id))
			return nil, errors.New(errors.PhaseValidate, errors.KindInvalid).
				Path(id.String()).
				Detail("%s", v.Reason).
				Build()
		}
	}

	parsed, err := wasm.ParseModule(bin)
	if err != nil {
		if r.cache != nil {
			r.recordVerdict(m.id, err)
		}
		return nil, err
	}
	m.parsed = parsed
	r.log.Debug("module loaded",
		zap.Int("size", len(bin)),
		zap.Int("imports", len(parsed.Imports)),
		zap.Int("exports", len(parsed.Exports)))
	return m, nil
}

// LoadCached loads a module previously stored in the cache.
func (r *Runtime) LoadCached(ctx context.Context, id cid.Cid) (*Module, error) {
	if r.cache == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "module cache")
	}
	bin, err := r.cache.Get(id)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, bin)
}

func (r *Runtime) recordVerdict(id cid.Cid, verr error) {
	if err := r.cache.SetVerdict(id, verr); err != nil {
		r.log.Warn("record verdict", zap.Stringer("cid", id), zap.Error(err))
	}
}

// Module returns the decoded module.
func (m *Module) Module() *wasm.Module {
	return m.parsed
}

// CID returns the module's content identifier, or cid.Undef when the
// runtime has no cache.
func (m *Module) CID() cid.Cid {
	return m.id
}

// Validate type-checks the module. The result is computed once.
func (m *Module) Validate() error {
	m.validateOnce.Do(func() {
		m.compiled, m.validateErr = validator.Validate(m.parsed)
		if m.runtime.cache != nil && m.id.Defined() {
			m.runtime.recordVerdict(m.id, m.validateErr)
		}
		if m.validateErr != nil {
			m.runtime.log.Debug("module invalid", zap.Error(m.validateErr))
		}
	})
	return m.validateErr
}

// Compiled returns the lowered module, validating it first if needed.
func (m *Module) Compiled() (*validator.Compiled, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m.compiled, nil
}

// ImportInfo describes one import.
type ImportInfo struct {
	Module string
	Name   string
	Kind   string
	Type   string
}

// ExportInfo describes one export.
type ExportInfo struct {
	Name string
	Kind string
	Type string
}

// Imports lists the module's imports in order.
func (m *Module) Imports() []ImportInfo {
	out := make([]ImportInfo, len(m.parsed.Imports))
	for i, imp := range m.parsed.Imports {
		out[i] = ImportInfo{
			Module: imp.Module,
			Name:   imp.Name,
			Kind:   wasm.KindName(imp.Desc.Kind),
			Type:   m.importType(&imp.Desc),
		}
	}
	return out
}

// Exports lists the module's exports in order.
func (m *Module) Exports() []ExportInfo {
	out := make([]ExportInfo, len(m.parsed.Exports))
	for i, exp := range m.parsed.Exports {
		out[i] = ExportInfo{
			Name: exp.Name,
			Kind: wasm.KindName(exp.Kind),
			Type: m.exportType(exp),
		}
	}
	return out
}

// FuncType returns the signature of an exported function.
func (m *Module) FuncType(name string) (wasm.FuncType, error) {
	exp, ok := m.parsed.ExportNamed(name)
	if !ok {
		return wasm.FuncType{}, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if exp.Kind != wasm.KindFunc {
		return wasm.FuncType{}, errors.TypeMismatch(errors.PhaseRuntime, []string{"export", name}, "func", wasm.KindName(exp.Kind))
	}
	ft := m.parsed.GetFuncType(exp.Idx)
	if ft == nil {
		return wasm.FuncType{}, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return *ft, nil
}

func (m *Module) importType(d *wasm.ImportDesc) string {
	switch {
	case d.Kind == wasm.KindFunc && int(d.TypeIdx) < len(m.parsed.Types):
		return m.parsed.Types[d.TypeIdx].String()
	case d.Kind == wasm.KindTable && d.Table != nil:
		return tableString(*d.Table)
	case d.Kind == wasm.KindMemory && d.Memory != nil:
		return limitsString(d.Memory.Limits)
	case d.Kind == wasm.KindGlobal && d.Global != nil:
		return globalString(*d.Global)
	}
	return ""
}

func (m *Module) exportType(exp wasm.Export) string {
	p := m.parsed
	switch exp.Kind {
	case wasm.KindFunc:
		if ft := p.GetFuncType(exp.Idx); ft != nil {
			return ft.String()
		}
	case wasm.KindTable:
		if ts := p.TableTypes(); int(exp.Idx) < len(ts) {
			return tableString(ts[exp.Idx])
		}
	case wasm.KindMemory:
		if ms := p.MemoryTypes(); int(exp.Idx) < len(ms) {
			return limitsString(ms[exp.Idx].Limits)
		}
	case wasm.KindGlobal:
		if gs := p.GlobalTypes(); int(exp.Idx) < len(gs) {
			return globalString(gs[exp.Idx])
		}
	}
	return ""
}

func limitsString(l wasm.Limits) string {
	if l.Max == nil {
		return fmt.Sprintf("{min %d}", l.Min)
	}
	return fmt.Sprintf("{min %d, max %d}", l.Min, *l.Max)
}

func tableString(t wasm.TableType) string {
	return t.ElemType.String() + " " + limitsString(t.Limits)
}

func globalString(t wasm.GlobalType) string {
	if t.Mutable {
		return "mut " + t.ValType.String()
	}
	return t.ValType.String()
}

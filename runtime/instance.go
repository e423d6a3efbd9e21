package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/wasm"
)

// Instance is an instantiated module.
type Instance struct {
	module *Module
	inst   *store.Instance
}

// Instantiate validates the module if needed, instantiates it in the
// runtime's default store with imports from the runtime's linker, and
// runs its start function.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.InstantiateIn(ctx, m.runtime.store, m.runtime.linker)
}

// Instantiate instantiates m in the default store. Imports resolve
// through imports first and then the runtime's linker.
func (r *Runtime) Instantiate(ctx context.Context, m *Module, imports store.Resolver) (*Instance, error) {
	return m.InstantiateIn(ctx, r.store, store.Chain{imports, r.linker})
}

// InstantiateIn is Instantiate with an explicit store and resolver. A nil
// resolver means the module has no imports.
func (m *Module) InstantiateIn(ctx context.Context, s *store.Store, r store.Resolver) (*Instance, error) {
	c, err := m.Compiled()
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = store.Imports{}
	}
	inst, err := s.Instantiate(ctx, c, r)
	if err != nil {
		return nil, err
	}
	if start := inst.Start(); start != nil {
		if _, err := m.runtime.machine.Call(ctx, start, nil); err != nil {
			m.runtime.log.Debug("start function trapped", zap.Error(err))
			return nil, err
		}
	}
	return &Instance{module: m, inst: inst}, nil
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Store returns the store holding the instance.
func (i *Instance) Store() *store.Store {
	return i.inst.Store()
}

// Raw returns the underlying store instance.
func (i *Instance) Raw() *store.Instance {
	return i.inst
}

// Export looks up an export by name.
func (i *Instance) Export(name string) (store.Export, error) {
	return i.inst.Export(name)
}

// Exports returns the exports in module order.
func (i *Instance) Exports() []store.Export {
	return i.inst.Exports()
}

// Func returns an exported function.
func (i *Instance) Func(name string) (*store.Function, error) {
	return i.inst.ExportedFunc(name)
}

// Memory returns an exported memory.
func (i *Instance) Memory(name string) (*store.Memory, error) {
	return i.inst.ExportedMemory(name)
}

// Global returns an exported global.
func (i *Instance) Global(name string) (*store.Global, error) {
	return i.inst.ExportedGlobal(name)
}

// Table returns an exported table.
func (i *Instance) Table(name string) (*store.Table, error) {
	return i.inst.ExportedTable(name)
}

// Invoke calls an exported function with typed arguments. A count or
// type mismatch is reported as an error before any guest code runs.
func (i *Instance) Invoke(ctx context.Context, name string, args ...wasm.Value) ([]wasm.Value, error) {
	f, err := i.Func(name)
	if err != nil {
		return nil, err
	}
	return i.module.runtime.machine.Invoke(ctx, f, args...)
}

// InvokeExport calls the function behind an export handle.
func (i *Instance) InvokeExport(ctx context.Context, exp store.Export, args ...wasm.Value) ([]wasm.Value, error) {
	if exp.Kind != wasm.KindFunc || exp.Func == nil {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{"export", exp.Name}, "func", wasm.KindName(exp.Kind))
	}
	return i.module.runtime.machine.Invoke(ctx, exp.Func, args...)
}

// Call calls an exported function with raw values, reinterpreted per the
// signature: i32 in the low 32 bits, floats as IEEE-754 bits.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	f, err := i.Func(name)
	if err != nil {
		return nil, err
	}
	return i.module.runtime.machine.Call(ctx, f, args)
}

// Fuel returns the fuel left in the instance's store and whether
// metering is on.
func (i *Instance) Fuel() (uint64, bool) {
	return i.inst.Store().Fuel()
}

// Refuel sets the fuel budget of the instance's store.
func (i *Instance) Refuel(n uint64) {
	i.inst.Store().SetFuel(n)
}

// CallInts parses decimal or hex arguments against the export's
// parameter types and calls it. It backs command-line invocation.
func (i *Instance) CallInts(ctx context.Context, name string, args []string) ([]wasm.Value, error) {
	f, err := i.Func(name)
	if err != nil {
		return nil, err
	}
	ft := f.Type()
	if len(args) != len(ft.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Path(name).
			Detail("expected %d arguments, got %d", len(ft.Params), len(args)).
			Build()
	}
	vals := make([]wasm.Value, len(args))
	for j, a := range args {
		v, err := wasm.ParseValue(ft.Params[j], a)
		if err != nil {
			return nil, err
		}
		vals[j] = v
	}
	return i.module.runtime.machine.Invoke(ctx, f, vals...)
}

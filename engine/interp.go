package engine

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/wasm"
)

// Interpreter runs modules on this module's interpreter. Each instance
// gets its own store, so instances can be called concurrently.
type Interpreter struct {
	rt *runtime.Runtime
}

// NewInterpreter returns an engine backed by rt. Functions defined on
// rt's linker are visible to every instance, after the per-call hosts.
func NewInterpreter(rt *runtime.Runtime) *Interpreter {
	return &Interpreter{rt: rt}
}

// Name implements Engine.
func (e *Interpreter) Name() string { return runtime.EngineInterp }

// Close implements Engine.
func (e *Interpreter) Close(context.Context) error { return nil }

// Instantiate implements Engine.
func (e *Interpreter) Instantiate(ctx context.Context, bin []byte, hosts HostModules) (Instance, error) {
	mod, err := e.rt.Load(ctx, bin)
	if err != nil {
		return nil, err
	}
	imports := store.Imports{}
	for module, funcs := range hosts {
		for name, hf := range funcs {
			imports.AddFunc(module, name, hf.Type, adaptHost(hf))
		}
	}
	inst, err := mod.InstantiateIn(ctx, e.rt.NewStore(), store.Chain{imports, e.rt.Linker()})
	if err != nil {
		return nil, err
	}
	Logger().Debug("instance created", zap.String("engine", e.Name()), zap.Int("exports", len(inst.Exports())))
	return &interpInstance{inst: inst}, nil
}

func adaptHost(hf HostFunc) store.HostFunc {
	return func(ctx context.Context, _ store.Caller, args []wasm.Value) ([]wasm.Value, error) {
		raw := make([]uint64, len(args))
		for i, a := range args {
			raw[i] = a.Bits
		}
		out, err := hf.Fn(ctx, raw)
		if err != nil {
			return nil, &hostError{err: err}
		}
		if len(out) != len(hf.Type.Results) {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Detail("host returned %d results, want %d", len(out), len(hf.Type.Results)).
				Build()
		}
		res := make([]wasm.Value, len(out))
		for i, bits := range out {
			t := hf.Type.Results[i]
			if t == wasm.ValI32 || t == wasm.ValF32 {
				bits &= 0xFFFFFFFF
			}
			res[i] = wasm.Value{Type: t, Bits: bits}
		}
		return res, nil
	}
}

type interpInstance struct {
	inst *runtime.Instance
}

func (i *interpInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	return i.inst.Call(ctx, name, args...)
}

func (i *interpInstance) Exports() []string {
	var names []string
	for _, exp := range i.inst.Exports() {
		if exp.Kind == wasm.KindFunc {
			names = append(names, exp.Name)
		}
	}
	slices.Sort(names)
	return names
}

func (i *interpInstance) Close(context.Context) error { return nil }

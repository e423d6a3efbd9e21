package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

// Wazero runs modules on wazero's interpreter. Every instance gets its
// own wazero runtime so host module names never collide. Compiled code is
// shared through a compilation cache.
type Wazero struct {
	cache wazero.CompilationCache
	cfg   runtime.Config
}

// NewWazero returns a wazero engine using the memory limit from cfg.
func NewWazero(ctx context.Context, cfg runtime.Config) (*Wazero, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Wazero{
		cache: wazero.NewCompilationCache(),
		cfg:   cfg.WithDefaults(),
	}, nil
}

// Name implements Engine.
func (e *Wazero) Name() string { return runtime.EngineWazero }

// Close releases the compilation cache.
func (e *Wazero) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

func (e *Wazero) runtimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfigInterpreter().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true).
		WithCoreFeatures(api.CoreFeaturesV2).
		WithMemoryLimitPages(e.cfg.MemoryLimitPages)
}

// Instantiate implements Engine.
func (e *Wazero) Instantiate(ctx context.Context, bin []byte, hosts HostModules) (Instance, error) {
	r := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())

	for module, funcs := range hosts {
		builder := r.NewHostModuleBuilder(module)
		for name, hf := range funcs {
			params, err := valueTypes(hf.Type.Params)
			if err != nil {
				_ = r.Close(ctx)
				return nil, errors.Registration(errors.PhaseHost, module, name, err)
			}
			results, err := valueTypes(hf.Type.Results)
			if err != nil {
				_ = r.Close(ctx)
				return nil, errors.Registration(errors.PhaseHost, module, name, err)
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(wazeroHost(hf), params, results).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			_ = r.Close(ctx)
			return nil, errors.Registration(errors.PhaseHost, module, "", err)
		}
	}

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Load("wazero compile", err)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
	if err != nil {
		_ = r.Close(ctx)
		if code := trapCode(err); code != 0 {
			return nil, &errors.Trap{Code: code, Func: "start", Cause: err}
		}
		return nil, errors.Instantiation(err)
	}

	var names []string
	for name := range compiled.ExportedFunctions() {
		names = append(names, name)
	}
	slices.Sort(names)
	Logger().Debug("instance created", zap.String("engine", e.Name()), zap.Int("exports", len(names)))
	return &wazeroInstance{runtime: r, mod: mod, exports: names}, nil
}

// valueTypes maps a host signature onto wazero's value types. wazero's
// host functions have no funcref type.
func valueTypes(ts []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExternRef:
			out[i] = api.ValueTypeExternref
		default:
			return nil, errors.Unsupported(errors.PhaseHost, t.String()+" in wazero host signature")
		}
	}
	return out, nil
}

// wazeroHost adapts hf to wazero's stack calling convention. wazero
// recovers the panic and returns it from the guest call.
func wazeroHost(hf HostFunc) api.GoModuleFunc {
	nparams := len(hf.Type.Params)
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		out, err := hf.Fn(ctx, slices.Clone(stack[:nparams]))
		if err != nil {
			panic(&hostError{err: err})
		}
		if len(out) != len(hf.Type.Results) {
			panic(&hostError{err: fmt.Errorf("host returned %d results, want %d", len(out), len(hf.Type.Results))})
		}
		copy(stack, out)
	}
}

type wazeroInstance struct {
	runtime wazero.Runtime
	mod     api.Module
	exports []string
}

func (i *wazeroInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	f := i.mod.ExportedFunction(name)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if want := len(f.Definition().ParamTypes()); len(args) != want {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d arguments, got %d", want, len(args)).
			Build()
	}
	res, err := f.Call(ctx, args...)
	if err != nil {
		var he *hostError
		if errors.As(err, &he) {
			return nil, &errors.Trap{Code: errors.TrapHostFunction, Func: name, Cause: he.err}
		}
		if code := trapCode(err); code != 0 {
			return nil, &errors.Trap{Code: code, Func: name, Cause: err}
		}
		return nil, err
	}
	return res, nil
}

func (i *wazeroInstance) Exports() []string {
	return i.exports
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}

// wazero trap messages, matched against the first line of the error.
var wazeroTraps = []struct {
	msg  string
	code errors.TrapCode
}{
	{"unreachable", errors.TrapUnreachable},
	{"out of bounds memory access", errors.TrapOutOfBoundsMemoryAccess},
	{"invalid table access", errors.TrapOutOfBoundsTableAccess},
	{"integer divide by zero", errors.TrapIntegerDivideByZero},
	{"integer overflow", errors.TrapIntegerOverflow},
	{"invalid conversion to integer", errors.TrapInvalidConversion},
	{"indirect call type mismatch", errors.TrapIndirectCallTypeMismatch},
	{"stack overflow", errors.TrapCallStackExhausted},
}

func trapCode(err error) errors.TrapCode {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	if !strings.HasPrefix(msg, "wasm error: ") {
		return 0
	}
	msg = strings.TrimPrefix(msg, "wasm error: ")
	for _, t := range wazeroTraps {
		if msg == t.msg {
			return t.code
		}
	}
	return 0
}

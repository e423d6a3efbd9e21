package interp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/wasm"
)

// DefaultMaxCallDepth bounds nested calls when Config.MaxCallDepth is 0.
const DefaultMaxCallDepth = 1024

const initialStack = 1024

// Config tunes a Machine.
type Config struct {
	MaxCallDepth int
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{MaxCallDepth: DefaultMaxCallDepth}
}

// Machine runs functions. It holds no per-call state and is safe for
// concurrent use on independent stores.
type Machine struct {
	pool sync.Pool
	cfg  Config
}

// New creates a machine.
func New(cfg Config) *Machine {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	m := &Machine{cfg: cfg}
	m.pool.New = func() any {
		return &exec{stack: make([]uint64, initialStack)}
	}
	return m
}

// Config returns the effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

type depthKey struct{}

// exec is the state of one outermost call.
type exec struct {
	ctx   context.Context
	store *store.Store
	stack []uint64
	depth int
	max   int
}

// Call invokes f with raw argument values and returns raw results. The
// store owning f is entered for the duration of the call.
func (m *Machine) Call(ctx context.Context, f *store.Function, args []uint64) ([]uint64, error) {
	ft := f.Type()
	if len(args) != len(ft.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(f.Name()).
			Detail("expected %d arguments, got %d", len(ft.Params), len(args)).
			Build()
	}

	s := f.Store()
	if s != nil {
		var exit func()
		ctx, exit = s.Enter(ctx)
		defer exit()
	} else if ctx == nil {
		ctx = context.Background()
	}

	e := m.pool.Get().(*exec)
	defer m.release(e)
	e.ctx = ctx
	e.store = s
	e.max = m.cfg.MaxCallDepth
	e.depth, _ = ctx.Value(depthKey{}).(int)

	n := max(len(args), len(ft.Results))
	e.ensure(n)
	copy(e.stack, args)
	if err := e.call(f, nil, 0); err != nil {
		Logger().Debug("call trapped", zap.String("func", f.Name()), zap.Error(err))
		return nil, err
	}
	return append([]uint64(nil), e.stack[:len(ft.Results)]...), nil
}

func (m *Machine) release(e *exec) {
	e.ctx = nil
	e.store = nil
	m.pool.Put(e)
}

// Invoke is Call with typed values. Arguments are checked against the
// signature: a count or type mismatch is an error, not a trap.
func (m *Machine) Invoke(ctx context.Context, f *store.Function, args ...wasm.Value) ([]wasm.Value, error) {
	ft := f.Type()
	if err := CheckArgs(f.Name(), ft, args); err != nil {
		return nil, err
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Bits
	}
	out, err := m.Call(ctx, f, raw)
	if err != nil {
		return nil, err
	}
	return typed(ft.Results, out), nil
}

// CheckArgs reports whether args match the parameters of ft.
func CheckArgs(name string, ft wasm.FuncType, args []wasm.Value) error {
	if len(args) != len(ft.Params) {
		return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Path(name).
			Detail("expected %d arguments, got %d", len(ft.Params), len(args)).
			Build()
	}
	for i, a := range args {
		if a.Type != ft.Params[i] {
			return errors.TypeMismatch(errors.PhaseRuntime,
				[]string{name, fmt.Sprintf("arg[%d]", i)},
				ft.Params[i].String(), a.Type.String())
		}
	}
	return nil
}

func typed(ts []wasm.ValType, raw []uint64) []wasm.Value {
	out := make([]wasm.Value, len(ts))
	for i, t := range ts {
		out[i] = wasm.Value{Type: t, Bits: raw[i]}
	}
	return out
}

// ensure grows the stack to at least n slots. Callers must reload any
// slice of e.stack they hold.
func (e *exec) ensure(n int) {
	if n <= len(e.stack) {
		return
	}
	grown := make([]uint64, max(n, 2*len(e.stack)))
	copy(grown, e.stack)
	e.stack = grown
}

func (e *exec) trap(code errors.TrapCode, f *store.Function) error {
	return errors.NewTrap(code, f.Name())
}

// call runs f with its arguments at stack[base:] and leaves its results
// at stack[base:]. from is the calling instance, nil at the outermost
// call.
func (e *exec) call(f *store.Function, from *store.Instance, base int) error {
	if e.depth >= e.max {
		return e.trap(errors.TrapCallStackExhausted, f)
	}
	e.depth++
	defer func() { e.depth-- }()

	if f.IsHost() {
		return e.callHost(f, from, base)
	}
	return e.run(f, base)
}

func (e *exec) callHost(f *store.Function, from *store.Instance, base int) (err error) {
	ft := f.Type()
	args := typed(ft.Params, e.stack[base:base+len(ft.Params)])

	s := e.store
	if s == nil {
		s = f.Store()
	}
	ctx := context.WithValue(e.ctx, depthKey{}, e.depth)

	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("panic: %v", r)
			}
			err = &errors.Trap{Code: errors.TrapHostFunction, Func: f.Name(), Cause: cause}
		}
	}()

	results, herr := f.Host()(ctx, store.NewCaller(s, from), args)
	if herr != nil {
		var t *errors.Trap
		if errors.As(herr, &t) {
			return herr
		}
		return &errors.Trap{Code: errors.TrapHostFunction, Func: f.Name(), Cause: herr}
	}
	if len(results) != len(ft.Results) {
		return &errors.Trap{
			Code:  errors.TrapHostFunction,
			Func:  f.Name(),
			Cause: fmt.Errorf("returned %d results, want %d", len(results), len(ft.Results)),
		}
	}
	e.ensure(base + len(results))
	for i, r := range results {
		if r.Type != ft.Results[i] {
			return &errors.Trap{
				Code:  errors.TrapHostFunction,
				Func:  f.Name(),
				Cause: errors.TypeMismatch(errors.PhaseHost, []string{fmt.Sprintf("result[%d]", i)}, ft.Results[i].String(), r.Type.String()),
			}
		}
		e.stack[base+i] = r.Bits
	}
	return nil
}

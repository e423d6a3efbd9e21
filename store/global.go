package store

import (
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Global is a typed cell.
type Global struct {
	owner *Store
	bits  uint64
	typ   wasm.GlobalType
}

// NewGlobal allocates a global in the store with an initial value.
func (s *Store) NewGlobal(t wasm.GlobalType, v wasm.Value) (*Global, error) {
	if v.Type != t.ValType {
		return nil, errors.TypeMismatch(errors.PhaseHost, []string{"global"}, t.ValType.String(), v.Type.String())
	}
	g := &Global{owner: s, typ: t, bits: v.Bits}
	s.globals = append(s.globals, g)
	return g, nil
}

func (g *Global) Type() wasm.GlobalType {
	return g.typ
}

// Get returns the current value.
func (g *Global) Get() wasm.Value {
	return wasm.Value{Type: g.typ.ValType, Bits: g.bits}
}

// Set replaces the value. Immutable globals and values of another type
// are rejected.
func (g *Global) Set(v wasm.Value) error {
	if !g.typ.Mutable {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path("global").
			Detail("global is immutable").
			Build()
	}
	if v.Type != g.typ.ValType {
		return errors.TypeMismatch(errors.PhaseRuntime, []string{"global"}, g.typ.ValType.String(), v.Type.String())
	}
	g.bits = v.Bits
	return nil
}

// Raw returns the value bits without a type check.
func (g *Global) Raw() uint64 {
	return g.bits
}

// SetRaw stores value bits, bypassing the mutability check. The executor
// uses it after validation has proven the write legal.
func (g *Global) SetRaw(bits uint64) {
	g.bits = bits
}

package engine

import (
	"context"

	"github.com/wippyai/wasm-interp/wasm"
)

// HostFunc is a backend-neutral host function over raw values.
type HostFunc struct {
	Fn   func(ctx context.Context, args []uint64) ([]uint64, error)
	Type wasm.FuncType
}

// HostModules maps module name to function name to definition.
type HostModules map[string]map[string]HostFunc

// Add defines a host function and returns the receiver for chaining.
func (h HostModules) Add(module, name string, ft wasm.FuncType, fn func(context.Context, []uint64) ([]uint64, error)) HostModules {
	if h[module] == nil {
		h[module] = make(map[string]HostFunc)
	}
	h[module][name] = HostFunc{Type: ft, Fn: fn}
	return h
}

// Engine instantiates modules on one backend.
type Engine interface {
	Name() string
	Instantiate(ctx context.Context, bin []byte, hosts HostModules) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is a module instance created by an Engine.
type Instance interface {
	// Call invokes an exported function. Traps are returned as
	// *errors.Trap.
	Call(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	// Exports returns the exported function names in sorted order.
	Exports() []string
	Close(ctx context.Context) error
}

// hostError marks an error returned by a HostFunc so it can be told
// apart from backend failures.
type hostError struct {
	err error
}

func (e *hostError) Error() string { return e.err.Error() }
func (e *hostError) Unwrap() error { return e.err }

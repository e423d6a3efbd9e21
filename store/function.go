package store

import (
	"context"

	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

// HostFunc implements an imported function in Go. Arguments arrive typed
// per the function's signature; the results must match it. A non-nil
// error traps the calling guest code.
type HostFunc func(ctx context.Context, caller Caller, args []wasm.Value) ([]wasm.Value, error)

// Caller gives a host function access to the instance that called it.
type Caller interface {
	Store() *Store
	// Instance is nil when the host invoked the function directly.
	Instance() *Instance
	// Memory is the calling instance's memory, or nil.
	Memory() *Memory
}

type caller struct {
	store *Store
	inst  *Instance
}

// NewCaller returns the Caller passed to host functions invoked from
// inst, which may be nil.
func NewCaller(s *Store, inst *Instance) Caller {
	return caller{store: s, inst: inst}
}

func (c caller) Store() *Store       { return c.store }
func (c caller) Instance() *Instance { return c.inst }

func (c caller) Memory() *Memory {
	if c.inst == nil {
		return nil
	}
	return c.inst.Memory(0)
}

// Function is a function instance: guest code bound to its instance, or
// a host callback.
type Function struct {
	owner    *Store
	instance *Instance
	code     *validator.Func
	host     HostFunc
	name     string
	typ      wasm.FuncType
	addr     uint32
}

// NewHostFunc creates a host function not yet bound to a store. It is
// copied into a store the first time a module imports it there.
func NewHostFunc(name string, ft wasm.FuncType, fn HostFunc) *Function {
	return &Function{name: name, typ: ft, host: fn}
}

// Type returns the function's signature.
func (f *Function) Type() wasm.FuncType { return f.typ }

// Name is the export name, the host name, or func[N].
func (f *Function) Name() string { return f.name }

// IsHost reports whether f is implemented in Go.
func (f *Function) IsHost() bool { return f.host != nil }

// Host returns the callback of a host function.
func (f *Function) Host() HostFunc { return f.host }

// Code returns the lowered body of a guest function.
func (f *Function) Code() *validator.Func { return f.code }

// Instance returns the owning instance of a guest function.
func (f *Function) Instance() *Instance { return f.instance }

// Store returns the owning store, nil for an unbound host function.
func (f *Function) Store() *Store { return f.owner }

// Addr returns the function's address in its store.
func (f *Function) Addr() uint32 { return f.addr }

// Ref returns the funcref value for f.
func (f *Function) Ref() uint64 { return uint64(f.addr) + 1 }

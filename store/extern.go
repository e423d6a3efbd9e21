package store

import (
	"fmt"

	"github.com/wippyai/wasm-interp/wasm"
)

// Extern is an importable or exportable object. Kind selects which of
// the pointer fields is set.
type Extern struct {
	Func   *Function
	Table  *Table
	Memory *Memory
	Global *Global
	Kind   byte
}

func FuncExtern(f *Function) Extern { return Extern{Kind: wasm.KindFunc, Func: f} }
func TableExtern(t *Table) Extern   { return Extern{Kind: wasm.KindTable, Table: t} }
func MemoryExtern(m *Memory) Extern { return Extern{Kind: wasm.KindMemory, Memory: m} }
func GlobalExtern(g *Global) Extern { return Extern{Kind: wasm.KindGlobal, Global: g} }

func (e Extern) owner() *Store {
	switch e.Kind {
	case wasm.KindFunc:
		return e.Func.owner
	case wasm.KindTable:
		return e.Table.owner
	case wasm.KindMemory:
		return e.Memory.owner
	case wasm.KindGlobal:
		return e.Global.owner
	}
	return nil
}

func (e Extern) valid() bool {
	switch e.Kind {
	case wasm.KindFunc:
		return e.Func != nil
	case wasm.KindTable:
		return e.Table != nil
	case wasm.KindMemory:
		return e.Memory != nil
	case wasm.KindGlobal:
		return e.Global != nil
	}
	return false
}

// Export is a named extern of an instance.
type Export struct {
	Extern
	Name string
}

// Resolver supplies imports by module and field name.
type Resolver interface {
	Resolve(module, name string) (Extern, bool)
}

// Chain resolves through each resolver in order.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(module, name string) (Extern, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if e, ok := r.Resolve(module, name); ok {
			return e, true
		}
	}
	return Extern{}, false
}

// Imports is a two-level import map: module name, then field name.
type Imports map[string]map[string]Extern

// Resolve implements Resolver.
func (im Imports) Resolve(module, name string) (Extern, bool) {
	e, ok := im[module][name]
	return e, ok
}

// Add registers e as module.name and returns im for chaining.
func (im Imports) Add(module, name string, e Extern) Imports {
	ns := im[module]
	if ns == nil {
		ns = make(map[string]Extern)
		im[module] = ns
	}
	ns[name] = e
	return im
}

// AddFunc registers a host function as module.name.
func (im Imports) AddFunc(module, name string, ft wasm.FuncType, fn HostFunc) Imports {
	return im.Add(module, name, FuncExtern(NewHostFunc(module+"."+name, ft, fn)))
}

func limitsString(l wasm.Limits) string {
	if l.Max == nil {
		return fmt.Sprintf("{min %d}", l.Min)
	}
	return fmt.Sprintf("{min %d, max %d}", l.Min, *l.Max)
}

func globalString(t wasm.GlobalType) string {
	if t.Mutable {
		return "mut " + t.ValType.String()
	}
	return "const " + t.ValType.String()
}

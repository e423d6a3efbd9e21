package linker

import (
	"slices"
	"sync"

	"github.com/wippyai/wasm-interp/store"
)

// Namespace holds the externs defined under one module name.
type Namespace struct {
	version *Version
	externs map[string]store.Extern
	name    string
	mu      sync.RWMutex
}

func newNamespace(name string, version *Version) *Namespace {
	return &Namespace{
		name:    name,
		version: version,
		externs: make(map[string]store.Extern),
	}
}

// Name returns the module name without its version.
func (ns *Namespace) Name() string {
	return ns.name
}

// Version returns the namespace version, or nil if unversioned.
func (ns *Namespace) Version() *Version {
	return ns.version
}

// FullName returns the module name as imports spell it, e.g. "env@1.0.0".
func (ns *Namespace) FullName() string {
	if ns.version == nil {
		return ns.name
	}
	return ns.name + "@" + ns.version.String()
}

// Get returns the extern defined as name.
func (ns *Namespace) Get(name string) (store.Extern, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.externs[name]
	return e, ok
}

// Names returns the defined names in sorted order.
func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.externs))
	for n := range ns.externs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (ns *Namespace) define(name string, e store.Extern, shadow bool) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, exists := ns.externs[name]; exists && !shadow {
		return false
	}
	ns.externs[name] = e
	return true
}

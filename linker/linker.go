package linker

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

// Options configures linker behavior.
type Options struct {
	// SemverMatching lets an import of "env@1.2.0" resolve against the
	// newest compatible definition, e.g. "env@1.4.1".
	SemverMatching bool
	// AllowShadowing lets a definition replace an existing one.
	AllowShadowing bool
}

// DefaultOptions returns default linker configuration.
func DefaultOptions() Options {
	return Options{SemverMatching: true}
}

// Linker maps module and field names to externs. It implements
// store.Resolver and is safe for concurrent use.
type Linker struct {
	modules map[string]*Namespace
	options Options
	mu      sync.RWMutex
}

// New creates a linker with default options.
func New() *Linker {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a linker with the given options.
func NewWithOptions(opts Options) *Linker {
	return &Linker{
		modules: make(map[string]*Namespace),
		options: opts,
	}
}

// Options returns the configuration.
func (l *Linker) Options() Options {
	return l.options
}

// Namespace returns or creates the namespace for a module name, which may
// carry a version: "env@1.0.0".
func (l *Linker) Namespace(module string) *Namespace {
	name, version := splitVersion(module)
	key := name
	if version != nil {
		key = name + "@" + version.String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ns, ok := l.modules[key]; ok {
		return ns
	}
	ns := newNamespace(name, version)
	l.modules[key] = ns
	return ns
}

// Modules returns the defined module names in sorted order.
func (l *Linker) Modules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.modules))
	for k := range l.modules {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// DefineFunc defines a host function as module.name.
func (l *Linker) DefineFunc(module, name string, ft wasm.FuncType, fn store.HostFunc) error {
	if fn == nil {
		return errors.New(errors.PhaseLink, errors.KindRegistration).
			Path(module, name).
			Detail("nil host function").
			Build()
	}
	return l.DefineExtern(module, name, store.FuncExtern(store.NewHostFunc(module+"."+name, ft, fn)))
}

// DefineExtern defines an extern as module.name.
func (l *Linker) DefineExtern(module, name string, e store.Extern) error {
	if !l.Namespace(module).define(name, e, l.options.AllowShadowing) {
		return errors.New(errors.PhaseLink, errors.KindRegistration).
			Path(module, name).
			Detail("already defined").
			Build()
	}
	Logger().Debug("extern defined",
		zap.String("module", module),
		zap.String("name", name),
		zap.String("kind", wasm.KindName(e.Kind)))
	return nil
}

// DefineInstance defines every export of inst under module, so later
// modules can import from it.
func (l *Linker) DefineInstance(module string, inst *store.Instance) error {
	for _, exp := range inst.Exports() {
		if err := l.DefineExtern(module, exp.Name, exp.Extern); err != nil {
			return err
		}
	}
	return nil
}

// Resolve implements store.Resolver. An exact module match wins; with
// SemverMatching a versioned import falls back to the highest compatible
// version defined.
func (l *Linker) Resolve(module, name string) (store.Extern, bool) {
	ns := l.lookup(module)
	if ns == nil {
		return store.Extern{}, false
	}
	return ns.Get(name)
}

func (l *Linker) lookup(module string) *Namespace {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if ns, ok := l.modules[module]; ok {
		return ns
	}
	name, want := splitVersion(module)
	if want == nil {
		return nil
	}
	if ns, ok := l.modules[name+"@"+want.String()]; ok {
		return ns
	}
	if !l.options.SemverMatching {
		return nil
	}

	var best *Namespace
	for _, ns := range l.modules {
		if ns.name != name || ns.version == nil || !ns.version.Compatible(*want) {
			continue
		}
		if best == nil || best.version.less(*ns.version) {
			best = ns
		}
	}
	return best
}

// Instantiate instantiates c in s with imports resolved by l. The start
// function is not run; the caller invokes Instance.Start.
func (l *Linker) Instantiate(ctx context.Context, s *store.Store, c *validator.Compiled) (*store.Instance, error) {
	return s.Instantiate(ctx, c, l)
}

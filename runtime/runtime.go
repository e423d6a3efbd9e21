package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/linker"
	"github.com/wippyai/wasm-interp/modcache"
	"github.com/wippyai/wasm-interp/store"
)

// Runtime loads and instantiates modules. It owns a default store, a
// linker for host definitions, and the machine that executes calls.
type Runtime struct {
	store   *store.Store
	linker  *linker.Linker
	machine *interp.Machine
	cache   *modcache.Cache
	log     *zap.Logger
	cfg     Config
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig sets the runtime limits.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithLogger routes runtime logging, including the store, executor,
// linker and cache packages, to l.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithCache records validation verdicts in c and rejects modules it
// already knows to be invalid.
func WithCache(c *modcache.Cache) Option {
	return func(r *Runtime) { r.cache = c }
}

// New creates a runtime.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	r := &Runtime{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	r.cfg = r.cfg.WithDefaults()

	if r.log != nil {
		store.SetLogger(r.log.Named("store"))
		interp.SetLogger(r.log.Named("interp"))
		linker.SetLogger(r.log.Named("linker"))
		modcache.SetLogger(r.log.Named("modcache"))
	} else {
		r.log = zap.NewNop()
	}

	r.machine = interp.New(interp.Config{MaxCallDepth: r.cfg.MaxCallDepth})
	r.linker = linker.New()
	r.store = r.NewStore()
	r.log.Debug("runtime created",
		zap.Int("max_call_depth", r.cfg.MaxCallDepth),
		zap.Uint32("memory_limit_pages", r.cfg.MemoryLimitPages),
		zap.Uint64("fuel", r.cfg.Fuel))
	return r, nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Store returns the default store.
func (r *Runtime) Store() *store.Store {
	return r.store
}

// Linker returns the linker that resolves imports.
func (r *Runtime) Linker() *linker.Linker {
	return r.linker
}

// Machine returns the executor.
func (r *Runtime) Machine() *interp.Machine {
	return r.machine
}

// NewStore creates an independent store with the runtime's limits and
// fuel budget. Instances in different stores can run concurrently.
func (r *Runtime) NewStore() *store.Store {
	s := store.New(r.cfg.limits())
	s.SetFuel(r.cfg.Fuel)
	return s
}

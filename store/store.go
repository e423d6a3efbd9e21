package store

import (
	"context"
	"sync"
)

// PageSize is the size of one linear memory page.
const PageSize = 65536

// MaxPages is the largest memory a 32-bit address space can hold.
const MaxPages = 65536

// DefaultTableLimit caps table growth when Limits.TableLimit is zero.
const DefaultTableLimit = 10_000_000

// Limits are store-wide resource caps. Zero fields take the defaults.
type Limits struct {
	MemoryPages uint32 // per memory, at most MaxPages
	TableLimit  uint32 // per table, in elements
}

func (l Limits) withDefaults() Limits {
	if l.MemoryPages == 0 || l.MemoryPages > MaxPages {
		l.MemoryPages = MaxPages
	}
	if l.TableLimit == 0 {
		l.TableLimit = DefaultTableLimit
	}
	return l
}

// Store owns all runtime objects of the instances created in it.
type Store struct {
	adopted   map[*Function]*Function
	funcs     []*Function
	tables    []*Table
	memories  []*Memory
	globals   []*Global
	instances []*Instance
	limits    Limits
	fuel      uint64
	metered   bool
	mu        sync.Mutex
}

// New creates an empty store.
func New(limits Limits) *Store {
	return &Store{
		limits:  limits.withDefaults(),
		adopted: make(map[*Function]*Function),
	}
}

// Limits returns the effective resource caps.
func (s *Store) Limits() Limits {
	return s.limits
}

// Func returns the function at addr, or nil.
func (s *Store) Func(addr uint32) *Function {
	if int(addr) >= len(s.funcs) {
		return nil
	}
	return s.funcs[addr]
}

// FuncRef resolves a funcref value. Null and dangling references give nil.
func (s *Store) FuncRef(ref uint64) *Function {
	if ref == 0 || ref > uint64(len(s.funcs)) {
		return nil
	}
	return s.funcs[ref-1]
}

// Instances returns the instances created in the store, oldest first.
func (s *Store) Instances() []*Instance {
	return s.instances
}

func (s *Store) addFunc(f *Function) *Function {
	f.owner = s
	f.addr = uint32(len(s.funcs))
	s.funcs = append(s.funcs, f)
	return f
}

type heldKey struct{ s *Store }

// Enter acquires the store for the caller and returns a context marking
// it as held, plus the release function. If ctx already holds the store,
// Enter returns it unchanged with a no-op release.
//
// The marked context must stay on the goroutine that entered.
func (s *Store) Enter(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.Held(ctx) {
		return ctx, func() {}
	}
	s.mu.Lock()
	return context.WithValue(ctx, heldKey{s}, struct{}{}), s.mu.Unlock
}

// Held reports whether ctx was returned by Enter on this store.
func (s *Store) Held(ctx context.Context) bool {
	return ctx != nil && ctx.Value(heldKey{s}) != nil
}

// SetFuel sets the remaining fuel budget. Zero turns metering off.
func (s *Store) SetFuel(n uint64) {
	s.fuel = n
	s.metered = n > 0
}

// Fuel reports the remaining budget and whether metering is on.
func (s *Store) Fuel() (uint64, bool) {
	return s.fuel, s.metered
}

// UseFuel consumes n units. When fewer remain it drains the budget and
// reports false.
func (s *Store) UseFuel(n uint64) bool {
	if !s.metered {
		return true
	}
	if s.fuel < n {
		s.fuel = 0
		return false
	}
	s.fuel -= n
	return true
}

package store

import (
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Table is a growable vector of references. Elements are raw reference
// values: a funcref is a function address plus one, an externref is the
// host handle, and 0 is null in both cases.
type Table struct {
	owner *Store
	elems []uint64
	typ   wasm.TableType
	max   uint32
}

// NewTable allocates a table in the store, for hosts that provide one as
// an import.
func (s *Store) NewTable(t wasm.TableType) (*Table, error) {
	tab, err := s.newTable(t)
	if err != nil {
		return nil, err
	}
	s.tables = append(s.tables, tab)
	return tab, nil
}

func (s *Store) newTable(t wasm.TableType) (*Table, error) {
	limit := s.limits.TableLimit
	if t.Limits.Max != nil && *t.Limits.Max < limit {
		limit = *t.Limits.Max
	}
	if t.Limits.Min > limit {
		return nil, errors.LimitExceeded("table", uint64(t.Limits.Min), uint64(limit))
	}
	return &Table{
		owner: s,
		elems: make([]uint64, t.Limits.Min),
		typ:   t,
		max:   limit,
	}, nil
}

// Type returns the table's type with Min set to the current size.
func (t *Table) Type() wasm.TableType {
	tt := t.typ
	tt.Limits.Min = t.Size()
	return tt
}

// Size returns the number of elements.
func (t *Table) Size() uint32 {
	return uint32(len(t.elems))
}

// Get returns the element at i.
func (t *Table) Get(i uint32) (uint64, bool) {
	if uint64(i) >= uint64(len(t.elems)) {
		return 0, false
	}
	return t.elems[i], true
}

// Set stores ref at i.
func (t *Table) Set(i uint32, ref uint64) bool {
	if uint64(i) >= uint64(len(t.elems)) {
		return false
	}
	t.elems[i] = ref
	return true
}

// Grow appends delta elements set to init and returns the previous size.
// It fails without side effects past the declared maximum or store cap.
func (t *Table) Grow(delta uint32, init uint64) (uint32, error) {
	prev := t.Size()
	want := uint64(prev) + uint64(delta)
	if want > uint64(t.max) {
		return prev, errors.LimitExceeded("table", want, uint64(t.max))
	}
	t.elems = append(t.elems, make([]uint64, delta)...)
	if init != 0 {
		for j := prev; j < uint32(want); j++ {
			t.elems[j] = init
		}
	}
	return prev, nil
}

// Fill sets n elements starting at i to ref.
func (t *Table) Fill(i, n uint32, ref uint64) bool {
	if uint64(i)+uint64(n) > uint64(len(t.elems)) {
		return false
	}
	span := t.elems[i : uint64(i)+uint64(n)]
	for j := range span {
		span[j] = ref
	}
	return true
}

// Init copies refs into the table at offset.
func (t *Table) Init(offset uint32, refs []uint64) bool {
	if uint64(offset)+uint64(len(refs)) > uint64(len(t.elems)) {
		return false
	}
	copy(t.elems[offset:], refs)
	return true
}

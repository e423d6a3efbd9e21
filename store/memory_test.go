package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/wasm"
)

func pages(min uint32, max ...uint32) wasm.MemoryType {
	t := wasm.MemoryType{Limits: wasm.Limits{Min: min}}
	if len(max) > 0 {
		t.Limits.Max = &max[0]
	}
	return t
}

func TestMemoryBounds(t *testing.T) {
	s := store.New(store.Limits{})
	mem, err := s.NewMemory(pages(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(store.PageSize), mem.Len())

	assert.True(t, mem.WriteUint32Le(store.PageSize-4, 0xDEADBEEF))
	v, ok := mem.ReadUint32Le(store.PageSize - 4)
	require.True(t, ok)
	assert.Equal(t, uint32(0xDEADBEEF), v)

	_, ok = mem.ReadUint32Le(store.PageSize - 3)
	assert.False(t, ok)
	_, ok = mem.Load64(1 << 40)
	assert.False(t, ok)

	assert.False(t, mem.WriteUint64Le(store.PageSize-4, ^uint64(0)))
	v, _ = mem.ReadUint32Le(store.PageSize - 4)
	assert.Equal(t, uint32(0xDEADBEEF), v, "a failed write changes nothing")

	assert.True(t, mem.WriteFloat64Le(0, 1.25))
	f, ok := mem.ReadFloat64Le(0)
	require.True(t, ok)
	assert.Equal(t, 1.25, f)

	view, ok := mem.Read(store.PageSize, 0)
	assert.True(t, ok, "zero-length access at the end is in bounds")
	assert.Empty(t, view)
	_, ok = mem.Read(store.PageSize, 1)
	assert.False(t, ok)
}

func TestMemoryGrow(t *testing.T) {
	s := store.New(store.Limits{MemoryPages: 3})

	mem, err := s.NewMemory(pages(1, 2))
	require.NoError(t, err)
	prev, err := mem.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), prev)
	assert.Equal(t, uint32(2), mem.Pages())

	_, err = mem.Grow(1)
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindLimitExceeded})
	assert.Equal(t, uint32(2), mem.Pages(), "a failed grow changes nothing")

	unbounded, err := s.NewMemory(pages(0))
	require.NoError(t, err)
	_, err = unbounded.Grow(4)
	assert.Error(t, err, "store cap applies without a declared maximum")
	prev, err = unbounded.Grow(3)
	require.NoError(t, err)
	assert.Zero(t, prev)
	assert.Equal(t, uint32(3), unbounded.Type().Limits.Min)

	_, err = s.NewMemory(pages(4))
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindLimitExceeded})
}

func TestMemoryBulk(t *testing.T) {
	s := store.New(store.Limits{})
	mem, err := s.NewMemory(pages(1))
	require.NoError(t, err)
	require.True(t, mem.WriteString(0, "abcdef"))

	assert.True(t, mem.Copy(2, 0, 4), "overlapping forward copy")
	got, _ := mem.Read(0, 6)
	assert.Equal(t, "ababcd", string(got))

	assert.True(t, mem.Copy(0, 2, 4), "overlapping backward copy")
	got, _ = mem.Read(0, 6)
	assert.Equal(t, "abcdcd", string(got))

	assert.True(t, mem.Fill(1, 2, 'z'))
	got, _ = mem.Read(0, 4)
	assert.Equal(t, "azzd", string(got))

	assert.False(t, mem.Fill(store.PageSize-1, 2, 'x'))
	b, _ := mem.ReadUint8(store.PageSize - 1)
	assert.Zero(t, b)
	assert.True(t, mem.Fill(store.PageSize, 0, 'x'))
	assert.False(t, mem.Fill(store.PageSize+1, 0, 'x'))

	seg := []byte("wasm")
	assert.True(t, mem.Init(10, seg, 1, 3))
	got, _ = mem.Read(10, 3)
	assert.Equal(t, "asm", string(got))
	assert.False(t, mem.Init(10, seg, 2, 3), "source past segment end")
	assert.True(t, mem.Init(10, nil, 0, 0))
	assert.False(t, mem.Init(10, nil, 1, 0))
}

func TestTable(t *testing.T) {
	s := store.New(store.Limits{TableLimit: 8})
	max := uint32(4)
	tab, err := s.NewTable(wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2, Max: &max}})
	require.NoError(t, err)

	ref, ok := tab.Get(1)
	require.True(t, ok)
	assert.Zero(t, ref, "tables start null")
	_, ok = tab.Get(2)
	assert.False(t, ok)
	assert.False(t, tab.Set(2, 1))

	prev, err := tab.Grow(2, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), prev)
	ref, _ = tab.Get(3)
	assert.Equal(t, uint64(7), ref)

	_, err = tab.Grow(1, 0)
	assert.Error(t, err)
	assert.Equal(t, uint32(4), tab.Size())

	assert.True(t, tab.Fill(0, 4, 0))
	assert.False(t, tab.Fill(3, 2, 9))
	ref, _ = tab.Get(3)
	assert.Zero(t, ref)

	assert.True(t, tab.Init(2, []uint64{5, 6}))
	assert.False(t, tab.Init(3, []uint64{5, 6}))

	_, err = s.NewTable(wasm.TableType{ElemType: wasm.ValExternRef, Limits: wasm.Limits{Min: 9}})
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindLimitExceeded})
}

func TestGlobal(t *testing.T) {
	s := store.New(store.Limits{})

	_, err := s.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, wasm.I64(1))
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindTypeMismatch})

	fixed, err := s.NewGlobal(wasm.GlobalType{ValType: wasm.ValI32}, wasm.I32(3))
	require.NoError(t, err)
	assert.Error(t, fixed.Set(wasm.I32(4)))
	assert.Equal(t, wasm.I32(3), fixed.Get())

	cell, err := s.NewGlobal(wasm.GlobalType{ValType: wasm.ValF64, Mutable: true}, wasm.F64(0.5))
	require.NoError(t, err)
	assert.ErrorIs(t, cell.Set(wasm.F32(1)), &errors.Error{Kind: errors.KindTypeMismatch})
	require.NoError(t, cell.Set(wasm.F64(2.5)))
	assert.Equal(t, 2.5, cell.Get().F64())
}

func TestEnterIsReentrant(t *testing.T) {
	s := store.New(store.Limits{})
	ctx := context.Background()
	assert.False(t, s.Held(ctx))

	held, release := s.Enter(ctx)
	assert.True(t, s.Held(held))

	inner, innerRelease := s.Enter(held)
	assert.Equal(t, held, inner)
	innerRelease()
	release()

	again, release := s.Enter(ctx)
	assert.True(t, s.Held(again))
	assert.False(t, store.New(store.Limits{}).Held(again), "held marks are per store")
	release()
}

func TestFuel(t *testing.T) {
	s := store.New(store.Limits{})
	_, metered := s.Fuel()
	assert.False(t, metered)
	assert.True(t, s.UseFuel(1_000_000))

	s.SetFuel(5)
	assert.True(t, s.UseFuel(3))
	assert.False(t, s.UseFuel(3))
	left, metered := s.Fuel()
	assert.True(t, metered)
	assert.Zero(t, left)
}

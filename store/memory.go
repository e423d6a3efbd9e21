package store

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Memory is a linear memory. Accesses are bounds-checked: an access of w
// bytes at offset o fails iff o+w exceeds the current size, and a failed
// access writes nothing.
//
// Slices returned by Read alias the memory and are invalidated by Grow.
type Memory struct {
	owner *Store
	data  []byte
	typ   wasm.MemoryType
	max   uint32 // effective page cap
}

// NewMemory allocates a memory in the store, for hosts that provide one
// as an import.
func (s *Store) NewMemory(t wasm.MemoryType) (*Memory, error) {
	m, err := s.newMemory(t)
	if err != nil {
		return nil, err
	}
	s.memories = append(s.memories, m)
	return m, nil
}

func (s *Store) newMemory(t wasm.MemoryType) (*Memory, error) {
	limit := s.limits.MemoryPages
	if t.Limits.Max != nil && *t.Limits.Max < limit {
		limit = *t.Limits.Max
	}
	if t.Limits.Min > limit {
		return nil, errors.LimitExceeded("memory", uint64(t.Limits.Min), uint64(limit))
	}
	return &Memory{
		owner: s,
		data:  make([]byte, int(t.Limits.Min)*PageSize),
		typ:   t,
		max:   limit,
	}, nil
}

// Type returns the memory's type with Min set to the current size.
func (m *Memory) Type() wasm.MemoryType {
	t := m.typ
	t.Limits.Min = m.Pages()
	return t
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return uint32(len(m.data) / PageSize)
}

// Len returns the current size in bytes.
func (m *Memory) Len() uint64 {
	return uint64(len(m.data))
}

// Bytes returns the whole memory. The slice is invalidated by Grow.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Grow adds delta pages and returns the previous size. It fails without
// side effects when the result would pass the declared maximum or the
// store cap.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	prev := m.Pages()
	if delta == 0 {
		return prev, nil
	}
	want := uint64(prev) + uint64(delta)
	if want > uint64(m.max) {
		return prev, errors.LimitExceeded("memory", want, uint64(m.max))
	}
	n := int(want) * PageSize
	if n <= cap(m.data) {
		m.data = m.data[:n]
	} else {
		data := make([]byte, n)
		copy(data, m.data)
		m.data = data
	}
	Logger().Debug("memory grown", zap.Uint32("from", prev), zap.Uint64("to", want))
	return prev, nil
}

func (m *Memory) has(ea, n uint64) bool {
	return ea+n <= uint64(len(m.data))
}

// Load8 reads one byte at effective address ea.
func (m *Memory) Load8(ea uint64) (byte, bool) {
	if !m.has(ea, 1) {
		return 0, false
	}
	return m.data[ea], true
}

func (m *Memory) Load16(ea uint64) (uint16, bool) {
	if !m.has(ea, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.data[ea:]), true
}

func (m *Memory) Load32(ea uint64) (uint32, bool) {
	if !m.has(ea, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.data[ea:]), true
}

func (m *Memory) Load64(ea uint64) (uint64, bool) {
	if !m.has(ea, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.data[ea:]), true
}

func (m *Memory) Store8(ea uint64, v byte) bool {
	if !m.has(ea, 1) {
		return false
	}
	m.data[ea] = v
	return true
}

func (m *Memory) Store16(ea uint64, v uint16) bool {
	if !m.has(ea, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.data[ea:], v)
	return true
}

func (m *Memory) Store32(ea uint64, v uint32) bool {
	if !m.has(ea, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[ea:], v)
	return true
}

func (m *Memory) Store64(ea uint64, v uint64) bool {
	if !m.has(ea, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.data[ea:], v)
	return true
}

// Read returns a view of n bytes at offset.
func (m *Memory) Read(offset, n uint32) ([]byte, bool) {
	if !m.has(uint64(offset), uint64(n)) {
		return nil, false
	}
	end := uint64(offset) + uint64(n)
	return m.data[offset:end:end], true
}

// Write copies v into memory at offset.
func (m *Memory) Write(offset uint32, v []byte) bool {
	if !m.has(uint64(offset), uint64(len(v))) {
		return false
	}
	copy(m.data[offset:], v)
	return true
}

// WriteString copies s into memory at offset.
func (m *Memory) WriteString(offset uint32, s string) bool {
	if !m.has(uint64(offset), uint64(len(s))) {
		return false
	}
	copy(m.data[offset:], s)
	return true
}

func (m *Memory) ReadUint8(offset uint32) (byte, bool)      { return m.Load8(uint64(offset)) }
func (m *Memory) ReadUint16Le(offset uint32) (uint16, bool) { return m.Load16(uint64(offset)) }
func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) { return m.Load32(uint64(offset)) }
func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) { return m.Load64(uint64(offset)) }

func (m *Memory) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.Load32(uint64(offset))
	return math.Float32frombits(v), ok
}

func (m *Memory) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.Load64(uint64(offset))
	return math.Float64frombits(v), ok
}

func (m *Memory) WriteUint8(offset uint32, v byte) bool      { return m.Store8(uint64(offset), v) }
func (m *Memory) WriteUint16Le(offset uint32, v uint16) bool { return m.Store16(uint64(offset), v) }
func (m *Memory) WriteUint32Le(offset uint32, v uint32) bool { return m.Store32(uint64(offset), v) }
func (m *Memory) WriteUint64Le(offset uint32, v uint64) bool { return m.Store64(uint64(offset), v) }

func (m *Memory) WriteFloat32Le(offset uint32, v float32) bool {
	return m.Store32(uint64(offset), math.Float32bits(v))
}

func (m *Memory) WriteFloat64Le(offset uint32, v float64) bool {
	return m.Store64(uint64(offset), math.Float64bits(v))
}

// Fill sets n bytes at dst to v.
func (m *Memory) Fill(dst, n uint32, v byte) bool {
	if !m.has(uint64(dst), uint64(n)) {
		return false
	}
	b := m.data[dst : uint64(dst)+uint64(n)]
	for i := range b {
		b[i] = v
	}
	return true
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src, n uint32) bool {
	if !m.has(uint64(dst), uint64(n)) || !m.has(uint64(src), uint64(n)) {
		return false
	}
	copy(m.data[dst:uint64(dst)+uint64(n)], m.data[src:uint64(src)+uint64(n)])
	return true
}

// Init copies seg[src:src+n] to dst. Both ranges are checked first.
func (m *Memory) Init(dst uint32, seg []byte, src, n uint32) bool {
	if uint64(src)+uint64(n) > uint64(len(seg)) || !m.has(uint64(dst), uint64(n)) {
		return false
	}
	copy(m.data[dst:], seg[src:uint64(src)+uint64(n)])
	return true
}

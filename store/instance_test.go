package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
	. "github.com/wippyai/wasm-interp/internal/wasmtest"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

func compile(t *testing.T, b *Builder) *validator.Compiled {
	t.Helper()
	c, err := validator.Validate(b.Module())
	require.NoError(t, err)
	return c
}

func nop(context.Context, store.Caller, []wasm.Value) ([]wasm.Value, error) {
	return nil, nil
}

func TestInstantiateExports(t *testing.T) {
	b := New()
	b.Memory(1, nil)
	g := b.Global(i32, false, wasm.ConstI32(42))
	f := b.Func(nil, Types(i32), nil, GlobalGet(g))
	tab := b.Table(wasm.ValFuncRef, 2, nil)
	b.Elem(tab, 1, f)
	b.ExportFunc("get", f)
	b.Export("memory", wasm.KindMemory, 0)
	b.Export("answer", wasm.KindGlobal, g)
	b.Export("table", wasm.KindTable, tab)
	b.Data(4, []byte("hi"))

	s := store.New(store.Limits{})
	inst, err := s.Instantiate(context.Background(), compile(t, b), nil)
	require.NoError(t, err)

	var names []string
	for _, e := range inst.Exports() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"get", "memory", "answer", "table"}, names)

	fn, err := inst.ExportedFunc("get")
	require.NoError(t, err)
	assert.Equal(t, "get", fn.Name())
	assert.False(t, fn.IsHost())
	assert.Same(t, s, fn.Store())
	assert.Same(t, inst, fn.Instance())

	mem, err := inst.ExportedMemory("memory")
	require.NoError(t, err)
	got, _ := mem.Read(4, 2)
	assert.Equal(t, "hi", string(got))

	answer, err := inst.ExportedGlobal("answer")
	require.NoError(t, err)
	assert.Equal(t, wasm.I32(42), answer.Get())

	table, err := inst.ExportedTable("table")
	require.NoError(t, err)
	ref, _ := table.Get(1)
	assert.Same(t, fn, s.FuncRef(ref))
	assert.Nil(t, s.FuncRef(0))

	_, err = inst.Export("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = inst.ExportedMemory("get")
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindTypeMismatch})

	assert.Equal(t, []*store.Instance{inst}, s.Instances())
}

func TestInstantiateReportsEveryLinkFailure(t *testing.T) {
	b := New()
	b.ImportFunc("env", "log", Types(i32), nil)
	b.ImportFunc("env", "absent", nil, nil)
	b.ImportGlobal("env", "base", i32, false)
	b.ImportMemory("env", "memory", 2, nil)
	b.Func(nil, nil, nil)

	s := store.New(store.Limits{})
	small, err := s.NewMemory(pages(1))
	require.NoError(t, err)
	imports := store.Imports{}.
		AddFunc("env", "log", wasm.FuncType{Params: Types(i64)}, nop).
		Add("env", "base", store.MemoryExtern(small)).
		Add("env", "memory", store.MemoryExtern(small))

	_, err = s.Instantiate(context.Background(), compile(t, b), imports)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrLink)

	var lerr *errors.LinkError
	require.ErrorAs(t, err, &lerr)
	require.Len(t, lerr.Imports, 4)
	assert.Equal(t, "log", lerr.Imports[0].Name)
	assert.Contains(t, lerr.Imports[0].Reason, "expected (i32) -> ()")
	assert.Equal(t, "absent", lerr.Imports[1].Name)
	assert.Empty(t, lerr.Imports[1].Reason)
	assert.Contains(t, lerr.Imports[2].Reason, "expected global")
	assert.Contains(t, lerr.Imports[3].Reason, "limits")

	assert.Empty(t, s.Instances())
	assert.Nil(t, s.Func(0), "nothing allocated")
}

func TestInstantiateRejectsForeignExterns(t *testing.T) {
	b := New()
	b.ImportMemory("env", "memory", 1, nil)

	other := store.New(store.Limits{})
	mem, err := other.NewMemory(pages(1))
	require.NoError(t, err)

	s := store.New(store.Limits{})
	_, err = s.Instantiate(context.Background(), compile(t, b), store.Imports{}.Add("env", "memory", store.MemoryExtern(mem)))
	var lerr *errors.LinkError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "belongs to another store", lerr.Imports[0].Reason)
}

func TestHostFunctionsAreAdoptedPerStore(t *testing.T) {
	host := store.NewHostFunc("env.tick", wasm.FuncType{}, nop)
	assert.Nil(t, host.Store())

	b := New()
	b.ImportFunc("env", "tick", nil, nil)
	b.ImportFunc("env", "tock", nil, nil)
	imports := store.Imports{}.
		Add("env", "tick", store.FuncExtern(host)).
		Add("env", "tock", store.FuncExtern(host))

	s1 := store.New(store.Limits{})
	a, err := s1.Instantiate(context.Background(), compile(t, b), imports)
	require.NoError(t, err)
	s2 := store.New(store.Limits{})
	c, err := s2.Instantiate(context.Background(), compile(t, b), imports)
	require.NoError(t, err)

	assert.Same(t, a.Func(0), a.Func(1), "one copy per store")
	assert.NotSame(t, a.Func(0), c.Func(0))
	assert.Same(t, s1, a.Func(0).Store())
	assert.Same(t, s2, c.Func(0).Store())
	assert.True(t, a.Func(0).IsHost())
	assert.Nil(t, host.Store(), "the original stays unbound")
}

func TestInstantiateSharesImportedState(t *testing.T) {
	producer := New()
	g := producer.Global(i64, true, wasm.ConstI64(7))
	producer.Export("counter", wasm.KindGlobal, g)
	producer.Memory(1, nil)
	producer.Export("memory", wasm.KindMemory, 0)

	s := store.New(store.Limits{})
	ctx := context.Background()
	p, err := s.Instantiate(ctx, compile(t, producer), nil)
	require.NoError(t, err)

	consumer := New()
	cg := consumer.ImportGlobal("p", "counter", i64, true)
	consumer.ImportMemory("p", "memory", 1, nil)
	consumer.Data(0, []byte{9})

	imports := store.Imports{}
	for _, e := range p.Exports() {
		imports.Add("p", e.Name, e.Extern)
	}
	c, err := s.Instantiate(ctx, compile(t, consumer), imports)
	require.NoError(t, err)

	require.NoError(t, c.Global(cg).Set(wasm.I64(8)))
	counter, _ := p.ExportedGlobal("counter")
	assert.Equal(t, int64(8), counter.Get().I64())

	mem, _ := p.ExportedMemory("memory")
	b, _ := mem.ReadUint8(0)
	assert.Equal(t, byte(9), b)
}

func TestSegmentTraps(t *testing.T) {
	s := store.New(store.Limits{})
	mem, err := s.NewMemory(pages(1))
	require.NoError(t, err)
	imports := store.Imports{}.Add("env", "memory", store.MemoryExtern(mem))

	b := New()
	b.ImportMemory("env", "memory", 1, nil)
	b.Data(0, []byte("first"))
	b.Data(store.PageSize-2, []byte("overflow"))

	_, err = s.Instantiate(context.Background(), compile(t, b), imports)
	require.Error(t, err)
	assert.Equal(t, errors.TrapOutOfBoundsMemoryAccess, errors.TrapCodeOf(err))
	var trap *errors.Trap
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, "data[1]", trap.Func)

	got, _ := mem.Read(0, 5)
	assert.Equal(t, "first", string(got), "earlier segments stay written")
	tail, _ := mem.Read(store.PageSize-2, 2)
	assert.Equal(t, []byte{0, 0}, tail)

	e := New()
	f := e.Func(nil, nil, nil)
	e.Table(wasm.ValFuncRef, 1, nil)
	e.Elem(0, 1, f)
	_, err = s.Instantiate(context.Background(), compile(t, e), nil)
	assert.Equal(t, errors.TrapOutOfBoundsTableAccess, errors.TrapCodeOf(err))
}

func TestPassiveData(t *testing.T) {
	b := New()
	b.Memory(1, nil)
	seg := b.PassiveData([]byte("later"))
	b.Data(0, []byte("now"))

	s := store.New(store.Limits{})
	inst, err := s.Instantiate(context.Background(), compile(t, b), nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("later"), inst.Data(seg))
	assert.Nil(t, inst.Data(1), "active segments are dropped after instantiation")
	inst.DropData(seg)
	assert.Nil(t, inst.Data(seg))
}

func TestInstantiateChecksStoreLimits(t *testing.T) {
	b := New()
	b.Memory(10, nil)

	s := store.New(store.Limits{MemoryPages: 4})
	_, err := s.Instantiate(context.Background(), compile(t, b), nil)
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindLimitExceeded})
	assert.Empty(t, s.Instances())
}

func TestInstantiateWithStart(t *testing.T) {
	b := New()
	start := b.Func(nil, nil, nil)
	b.Start(start)

	s := store.New(store.Limits{})
	inst, err := s.Instantiate(context.Background(), compile(t, b), nil)
	require.NoError(t, err)
	require.NotNil(t, inst.Start())
	assert.Equal(t, "func[0]", inst.Start().Name())
}

package linker_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
	. "github.com/wippyai/wasm-interp/internal/wasmtest"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/linker"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

var i32 = wasm.ValI32

func constFunc(v int32) store.HostFunc {
	return func(context.Context, store.Caller, []wasm.Value) ([]wasm.Value, error) {
		return []wasm.Value{wasm.I32(v)}, nil
	}
}

var unit = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}

func TestDefineAndResolve(t *testing.T) {
	l := linker.New()
	require.NoError(t, l.DefineFunc("env", "one", unit, constFunc(1)))

	e, ok := l.Resolve("env", "one")
	require.True(t, ok)
	assert.Equal(t, wasm.KindFunc, e.Kind)
	assert.Equal(t, "env.one", e.Func.Name())

	_, ok = l.Resolve("env", "two")
	assert.False(t, ok)
	_, ok = l.Resolve("other", "one")
	assert.False(t, ok)

	err := l.DefineFunc("env", "one", unit, constFunc(2))
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindRegistration})

	err = l.DefineFunc("env", "nil", unit, nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"env"}, l.Modules())
	assert.Equal(t, []string{"one"}, l.Namespace("env").Names())
}

func TestShadowing(t *testing.T) {
	l := linker.NewWithOptions(linker.Options{AllowShadowing: true})
	require.NoError(t, l.DefineFunc("env", "f", unit, constFunc(1)))
	require.NoError(t, l.DefineFunc("env", "f", unit, constFunc(2)))

	e, ok := l.Resolve("env", "f")
	require.True(t, ok)
	out, err := interp.New(interp.DefaultConfig()).Invoke(context.Background(), e.Func)
	require.NoError(t, err)
	assert.Equal(t, int32(2), out[0].I32())
}

func TestSemverResolution(t *testing.T) {
	l := linker.New()
	require.NoError(t, l.DefineFunc("env@1.2.0", "f", unit, constFunc(120)))
	require.NoError(t, l.DefineFunc("env@1.4.1", "f", unit, constFunc(141)))
	require.NoError(t, l.DefineFunc("env@2.0.0", "f", unit, constFunc(200)))

	tests := []struct {
		module string
		want   string
		found  bool
	}{
		{"env@1.2.0", "env@1.2.0.f", true},
		{"env@1.1", "env@1.4.1.f", true},
		{"env@1.4.0", "env@1.4.1.f", true},
		{"env@1.5.0", "", false},
		{"env@2", "env@2.0.0.f", true},
		{"env@3.0.0", "", false},
		{"env", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			e, ok := l.Resolve(tt.module, "f")
			require.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.want, e.Func.Name())
			}
		})
	}

	exact := linker.NewWithOptions(linker.Options{})
	require.NoError(t, exact.DefineFunc("env@1.4.1", "f", unit, constFunc(141)))
	_, ok := exact.Resolve("env@1.4.0", "f")
	assert.False(t, ok)
	_, ok = exact.Resolve("env@1.4.1", "f")
	assert.True(t, ok)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want linker.Version
		ok   bool
	}{
		{"1", linker.Version{Major: 1}, true},
		{"0.2", linker.Version{Minor: 2}, true},
		{"1.2.3", linker.Version{Major: 1, Minor: 2, Patch: 3}, true},
		{"", linker.Version{}, false},
		{"1..2", linker.Version{}, false},
		{"1.2.3.4", linker.Version{}, false},
		{"v1", linker.Version{}, false},
		{"-1", linker.Version{}, false},
		{"4294967296", linker.Version{}, false},
	}
	for _, tt := range tests {
		v, ok := linker.ParseVersion(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, v, tt.in)
	}
	assert.Equal(t, "1.2.3", linker.Version{Major: 1, Minor: 2, Patch: 3}.String())
}

func TestLinkModules(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.Limits{})
	l := linker.New()
	require.NoError(t, l.DefineFunc("env", "base", unit, constFunc(40)))

	lib := New()
	base := lib.ImportFunc("env", "base", nil, Types(i32))
	lib.ExportFunc("answer", lib.Func(nil, Types(i32), nil, Call(base), I32Const(2), Op(wasm.OpI32Add)))
	lib.Memory(1, nil)
	lib.Export("memory", wasm.KindMemory, 0)
	libC, err := validator.Validate(lib.Module())
	require.NoError(t, err)
	libInst, err := l.Instantiate(ctx, s, libC)
	require.NoError(t, err)
	require.NoError(t, l.DefineInstance("lib", libInst))

	app := New()
	answer := app.ImportFunc("lib", "answer", nil, Types(i32))
	app.ImportMemory("lib", "memory", 1, nil)
	app.ExportFunc("run", app.Func(nil, Types(i32), nil,
		I32Const(0), Call(answer), Mem(wasm.OpI32Store, 2, 0),
		I32Const(0), Mem(wasm.OpI32Load, 2, 0)))
	appC, err := validator.Validate(app.Module())
	require.NoError(t, err)
	appInst, err := l.Instantiate(ctx, s, appC)
	require.NoError(t, err)

	run, err := appInst.ExportedFunc("run")
	require.NoError(t, err)
	out, err := interp.New(interp.DefaultConfig()).Invoke(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, int32(42), out[0].I32())

	mem, err := libInst.ExportedMemory("memory")
	require.NoError(t, err)
	v, _ := mem.ReadUint32Le(0)
	assert.Equal(t, uint32(42), v, "memory is shared, not copied")
}

func TestUnresolvedImports(t *testing.T) {
	l := linker.New()
	require.NoError(t, l.DefineFunc("env", "f", unit, constFunc(1)))

	b := New()
	b.ImportFunc("env", "f", Types(i32), Types(i32))
	b.ImportFunc("env", "g", nil, nil)
	c, err := validator.Validate(b.Module())
	require.NoError(t, err)

	_, err = l.Instantiate(context.Background(), store.New(store.Limits{}), c)
	var lerr *errors.LinkError
	require.ErrorAs(t, err, &lerr)
	require.Len(t, lerr.Imports, 2)
	assert.NotEmpty(t, lerr.Imports[0].Reason)
	assert.Empty(t, lerr.Imports[1].Reason)
}

func TestConcurrentDefineAndResolve(t *testing.T) {
	l := linker.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.DefineFunc("env", string(rune('a'+i)), unit, constFunc(int32(i)))
		}()
		go func() {
			defer wg.Done()
			l.Resolve("env", "a")
		}()
	}
	wg.Wait()
	assert.Len(t, l.Namespace("env").Names(), 8)
}

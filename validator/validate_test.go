package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
	. "github.com/wippyai/wasm-interp/internal/wasmtest"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f64 = wasm.ValF64
)

func compile(t *testing.T, b *Builder) *validator.Compiled {
	t.Helper()
	c, err := validator.Validate(b.Module())
	require.NoError(t, err)
	return c
}

func codes(f *validator.Func) []uint16 {
	out := make([]uint16, len(f.Code))
	for i, op := range f.Code {
		out[i] = op.Code
	}
	return out
}

func TestLowerStraightLine(t *testing.T) {
	b := New()
	add := b.Func(Types(i32, i32), Types(i32), nil, LocalGet(0), LocalGet(1), Op(wasm.OpI32Add))
	c := compile(t, b)

	f := c.Func(add)
	require.NotNil(t, f)
	assert.Equal(t, []uint16{
		uint16(wasm.OpLocalGet), uint16(wasm.OpLocalGet), uint16(wasm.OpI32Add), uint16(wasm.OpReturn),
	}, codes(f))
	assert.Equal(t, uint64(1), f.Code[1].A)
	assert.Equal(t, 2, f.MaxStack)
	assert.Equal(t, 2, f.NumLocals())
}

func TestLowerBlockBranch(t *testing.T) {
	b := New()
	fn := b.Func(nil, Types(i32), nil,
		Block(wasm.BlockTypeI32),
		I32Const(1),
		Br(0),
		End(),
	)
	f := compile(t, b).Func(fn)

	require.Len(t, f.Code, 3)
	br := f.Code[1]
	assert.Equal(t, uint16(wasm.OpBr), br.Code)
	assert.Equal(t, validator.Target{PC: 2, Height: 0, Arity: 1}, br.T)
	assert.Equal(t, uint16(wasm.OpReturn), f.Code[2].Code)
}

func TestLowerLoopTarget(t *testing.T) {
	b := New()
	fn := b.Func(Types(i32), nil, nil,
		Loop(wasm.BlockTypeEmpty),
		LocalGet(0),
		I32Const(1),
		Op(wasm.OpI32Sub),
		LocalTee(0),
		BrIf(0),
		End(),
	)
	f := compile(t, b).Func(fn)

	brIf := f.Code[4]
	assert.Equal(t, uint16(wasm.OpBrIf), brIf.Code)
	assert.Equal(t, uint32(0), brIf.T.PC, "loop label points at loop start")
	assert.Equal(t, uint32(0), brIf.T.Arity)
}

func TestLowerIfElse(t *testing.T) {
	b := New()
	fn := b.Func(Types(i32), Types(i32), nil,
		LocalGet(0),
		If(wasm.BlockTypeI32),
		I32Const(1),
		Else(),
		I32Const(2),
		End(),
	)
	f := compile(t, b).Func(fn)

	assert.Equal(t, []uint16{
		uint16(wasm.OpLocalGet), uint16(wasm.OpIf), uint16(wasm.OpI32Const),
		validator.OpJump, uint16(wasm.OpI32Const), uint16(wasm.OpReturn),
	}, codes(f))
	assert.Equal(t, uint32(4), f.Code[1].T.PC, "false branch enters else body")
	assert.Equal(t, uint32(5), f.Code[3].T.PC, "then branch skips else body")
}

func TestLowerIfWithoutElse(t *testing.T) {
	b := New()
	fn := b.Func(Types(i32), nil, nil,
		LocalGet(0),
		If(wasm.BlockTypeEmpty),
		Op(wasm.OpNop),
		End(),
	)
	f := compile(t, b).Func(fn)
	assert.Equal(t, uint32(2), f.Code[1].T.PC)
}

func TestLowerBrTable(t *testing.T) {
	b := New()
	fn := b.Func(Types(i32), Types(i32), nil,
		Block(wasm.BlockTypeEmpty),
		Block(wasm.BlockTypeEmpty),
		LocalGet(0),
		BrTable(1, 0),
		End(),
		I32Const(10),
		Return(),
		End(),
		I32Const(20),
	)
	f := compile(t, b).Func(fn)

	require.Len(t, f.BrTables, 1)
	table := f.BrTables[0]
	require.Len(t, table, 2)
	// code: local.get, br_table, i32.const 10, return, i32.const 20, return
	assert.Equal(t, uint32(2), table[0].PC)
	assert.Equal(t, uint32(4), table[1].PC)
	assert.Equal(t, uint64(0), f.Code[1].A)
}

func TestLowerMultiValueBlock(t *testing.T) {
	b := New()
	pair := b.Type(Types(i32), Types(i32, i32))
	fn := b.Func(nil, Types(i32), nil,
		I32Const(7),
		Block(int64(pair)),
		I32Const(3),
		End(),
		Op(wasm.OpI32Add),
	)
	f := compile(t, b).Func(fn)
	assert.Equal(t, 2, f.MaxStack)
}

func TestUnreachableIsPolymorphic(t *testing.T) {
	b := New()
	b.Func(nil, Types(i32), nil, Unreachable(), Op(wasm.OpI32Add))
	b.Func(nil, Types(i64), nil, I64Const(1), Return(), Select())
	b.Func(nil, nil, nil, Block(wasm.BlockTypeEmpty), Br(0), Op(wasm.OpI32Eqz), Drop(), End())
	_, err := validator.Validate(b.Module())
	assert.NoError(t, err)
}

func TestValidateRejectsBodies(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
	}{
		{"operand type", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I64Const(1), I32Const(2), Op(wasm.OpI32Add))
		}},
		{"empty stack", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(1), Op(wasm.OpI32Add))
		}},
		{"missing result", func(b *Builder) {
			b.Func(nil, Types(i32), nil)
		}},
		{"extra value", func(b *Builder) {
			b.Func(nil, nil, nil, I32Const(1))
		}},
		{"wrong result type", func(b *Builder) {
			b.Func(nil, Types(i64), nil, I32Const(1))
		}},
		{"unknown label", func(b *Builder) {
			b.Func(nil, nil, nil, Br(1))
		}},
		{"branch arity", func(b *Builder) {
			b.Func(nil, nil, nil, Block(wasm.BlockTypeI32), Br(0), End(), Drop(), I32Const(1), Br(0))
		}},
		{"unknown local", func(b *Builder) {
			b.Func(Types(i32), nil, nil, LocalGet(1), Drop())
		}},
		{"local type", func(b *Builder) {
			b.Func(nil, nil, Types(i64), I32Const(1), LocalSet(0))
		}},
		{"immutable global", func(b *Builder) {
			g := b.Global(i32, false, wasm.ConstI32(0))
			b.Func(nil, nil, nil, I32Const(1), GlobalSet(g))
		}},
		{"unknown global", func(b *Builder) {
			b.Func(nil, nil, nil, GlobalGet(3), Drop())
		}},
		{"load without memory", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(0), Mem(wasm.OpI32Load, 2, 0))
		}},
		{"over-aligned load", func(b *Builder) {
			b.Memory(1, nil)
			b.Func(nil, Types(i32), nil, I32Const(0), Mem(wasm.OpI32Load16U, 2, 0))
		}},
		{"store operand order", func(b *Builder) {
			b.Memory(1, nil)
			b.Func(nil, nil, nil, I64Const(0), I32Const(0), Mem(wasm.OpI64Store, 3, 0))
		}},
		{"memory.grow without memory", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(1), MemoryGrow())
		}},
		{"call arguments", func(b *Builder) {
			callee := b.Func(Types(i32, i32), nil, nil)
			b.Func(nil, nil, nil, I32Const(1), Call(callee))
		}},
		{"unknown function", func(b *Builder) {
			b.Func(nil, nil, nil, Call(9))
		}},
		{"call_indirect without table", func(b *Builder) {
			ty := b.Type(nil, nil)
			b.Func(nil, nil, nil, I32Const(0), CallIndirect(ty, 0))
		}},
		{"call_indirect on externref table", func(b *Builder) {
			b.Table(wasm.ValExternRef, 1, nil)
			ty := b.Type(nil, nil)
			b.Func(nil, nil, nil, I32Const(0), CallIndirect(ty, 0))
		}},
		{"undeclared ref.func", func(b *Builder) {
			f := b.Func(nil, nil, nil)
			b.Func(nil, nil, nil, RefFunc(f), Drop())
		}},
		{"if without else changes stack", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(1), If(wasm.BlockTypeI32), I32Const(1), End())
		}},
		{"else without if", func(b *Builder) {
			b.Func(nil, nil, nil, Block(wasm.BlockTypeEmpty), Else(), End())
		}},
		{"select mixed types", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(1), I64Const(2), I32Const(0), Select())
		}},
		{"untyped select on references", func(b *Builder) {
			b.Func(nil, nil, nil, RefNull(wasm.ValFuncRef), RefNull(wasm.ValFuncRef), I32Const(0), Select(), Drop())
		}},
		{"br_table arity", func(b *Builder) {
			b.Func(Types(i32), Types(i32), nil,
				Block(wasm.BlockTypeEmpty),
				I32Const(1),
				LocalGet(0),
				BrTable(1, 0),
				End(),
				I32Const(0))
		}},
		{"ref.is_null on number", func(b *Builder) {
			b.Func(nil, Types(i32), nil, I32Const(0), Op(wasm.OpRefIsNull))
		}},
		{"unknown block type", func(b *Builder) {
			b.Func(nil, nil, nil, Block(42), End())
		}},
		{"table.get type", func(b *Builder) {
			tab := b.Table(wasm.ValFuncRef, 1, nil)
			b.Func(nil, Types(wasm.ValExternRef), nil, I32Const(0), TableGet(tab))
		}},
		{"unreachable still typed", func(b *Builder) {
			b.Func(nil, Types(i32), nil, Unreachable(), I64Const(1), Op(wasm.OpI32Add))
		}},
		{"float op on int", func(b *Builder) {
			b.Func(nil, Types(f64), nil, I32Const(1), Op(wasm.OpF64Sqrt))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			tt.build(b)
			c, err := validator.Validate(b.Module())
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestValidateRequiresDataCount(t *testing.T) {
	b := New()
	b.Memory(1, nil)
	b.Func(nil, nil, nil, Misc(wasm.MiscDataDrop, 0))
	m := b.Module()
	m.Data = nil
	m.DataCount = nil

	_, err := validator.Validate(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data count")
}

func TestValidateBulkAndTableOps(t *testing.T) {
	b := New()
	b.Memory(1, nil)
	seg := b.PassiveData([]byte("abc"))
	tab := b.Table(wasm.ValFuncRef, 1, nil)
	f := b.Func(nil, nil, nil)
	b.Declare(f)
	b.Func(nil, Types(i32), nil,
		I32Const(0), I32Const(0), I32Const(3), Misc(wasm.MiscMemoryInit, seg),
		Misc(wasm.MiscDataDrop, seg),
		I32Const(8), I32Const(0), I32Const(3), Misc(wasm.MiscMemoryCopy),
		I32Const(0), I32Const(0xFF), I32Const(1), Misc(wasm.MiscMemoryFill),
		RefFunc(f), I32Const(2), Misc(wasm.MiscTableGrow, tab), Drop(),
		I32Const(0), RefNull(wasm.ValFuncRef), I32Const(1), Misc(wasm.MiscTableFill, tab),
		F64Const(1e100), Misc(wasm.MiscI32TruncSatF64S), Drop(),
		Misc(wasm.MiscTableSize, tab),
	)
	c := compile(t, b)
	fn := c.Funcs[1]
	assert.Contains(t, codes(&fn), validator.Misc(wasm.MiscMemoryInit))
	assert.Contains(t, codes(&fn), validator.Misc(wasm.MiscTableSize))
}

func TestValidateErrorLocation(t *testing.T) {
	b := New()
	b.ImportFunc("env", "f", nil, nil)
	b.Func(nil, nil, nil)
	b.Func(nil, nil, nil, I32Const(1), I64Const(1), Op(wasm.OpI32Add), Drop())

	m, err := wasm.ParseModule(b.Bytes())
	require.NoError(t, err)

	_, err = validator.Validate(m)
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindTypeMismatch, e.Kind)
	require.Len(t, e.Path, 2)
	assert.Equal(t, "func[2]", e.Path[0])
	assert.Equal(t, "+0x4", e.Path[1], "offset of i32.add after the locals vector")
	assert.Equal(t, "i32", e.Expected)
	assert.Equal(t, "i64", e.Actual)
}

func TestValidateRejectsUnsupportedMisc(t *testing.T) {
	b := New()
	b.Func(nil, nil, nil, I32Const(0), I32Const(0), I32Const(0), Misc(wasm.MiscTableCopy, 0, 0))

	_, err := validator.Validate(b.Module())
	require.ErrorIs(t, err, errors.ErrValidation)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindUnsupported, e.Kind)
	assert.Equal(t, "func[0]", e.Path[0])
}

func TestValidateStructureFirst(t *testing.T) {
	b := New()
	b.Func(nil, nil, nil, I32Const(1))
	m := b.Module()
	m.Exports = []wasm.Export{{Name: "x", Kind: wasm.KindFunc, Idx: 5}}

	_, err := validator.Validate(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export")
}

func TestCompiledFuncIndex(t *testing.T) {
	b := New()
	b.ImportFunc("env", "f", nil, nil)
	own := b.Func(nil, nil, nil)
	c := compile(t, b)

	assert.Nil(t, c.Func(0), "imports have no lowered body")
	assert.NotNil(t, c.Func(own))
	assert.Nil(t, c.Func(own+1))
}

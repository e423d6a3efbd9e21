package validator

import (
	"github.com/wippyai/wasm-interp/wasm"
)

// Lowered opcodes beyond the single-byte wasm set. 0xFC-prefixed
// instructions are encoded as MiscBase|sub.
const (
	MiscBase uint16 = 0xFC00

	// OpJump transfers control to T.PC without touching the operand stack.
	OpJump uint16 = 0x0100
)

// Misc returns the lowered opcode of a 0xFC-prefixed instruction.
func Misc(sub uint32) uint16 {
	return MiscBase | uint16(sub)
}

// Target is a resolved branch destination. Taking the branch keeps the
// top Arity values, moves them down to operand height Height and resumes
// at PC.
type Target struct {
	PC     uint32
	Height uint32
	Arity  uint32
}

// Op is one lowered instruction. Code is the wasm opcode (or Misc(sub) or
// OpJump). A and B hold immediates:
//
//	local.*, global.*          A = index
//	call                       A = function index
//	call_indirect              A = type index, B = table index
//	loads, stores              A = memarg offset
//	*.const                    A = raw bits
//	ref.func                   A = function index
//	br_table                   A = index into Func.BrTables
//	table.*, memory.init, ...  A = table or data index
//
// Branches and if carry their destination in T; if jumps when the
// condition is zero.
type Op struct {
	A    uint64
	B    uint64
	T    Target
	Code uint16
}

// Func is a validated function body in lowered form.
type Func struct {
	Type     wasm.FuncType
	Locals   []wasm.ValType // declared locals, parameters excluded
	Code     []Op
	BrTables [][]Target // per br_table, labels then default
	MaxStack int        // operand stack high-water mark, locals excluded
}

// NumLocals returns parameters plus declared locals.
func (f *Func) NumLocals() int {
	return len(f.Type.Params) + len(f.Locals)
}

// Compiled is the result of validating a module: every defined function
// in lowered form, in module order.
type Compiled struct {
	Module *wasm.Module
	Funcs  []Func
}

// Func returns the lowered body of a function by its index in the
// function index space, or nil for imports.
func (c *Compiled) Func(funcIdx uint32) *Func {
	n := uint32(c.Module.NumImportedFuncs())
	if funcIdx < n || int(funcIdx-n) >= len(c.Funcs) {
		return nil
	}
	return &c.Funcs[funcIdx-n]
}

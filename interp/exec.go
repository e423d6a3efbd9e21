package interp

import (
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/validator"
	"github.com/wippyai/wasm-interp/wasm"
)

// ea computes an effective address from an i32 base and a memarg offset.
func ea(base uint64, offset uint64) uint64 {
	return uint64(uint32(base)) + offset
}

// branch keeps the top t.Arity values, moves them down to t.Height and
// returns the new stack pointer.
func branch(st []uint64, sp, opBase int, t validator.Target) int {
	dst := opBase + int(t.Height)
	n := int(t.Arity)
	if dst+n != sp {
		copy(st[dst:dst+n], st[sp-n:sp])
	}
	return dst + n
}

// run executes a guest function whose arguments are at e.stack[base:].
func (e *exec) run(f *store.Function, base int) error {
	fn := f.Code()
	inst := f.Instance()
	s := e.store
	mem := inst.Memory(0)

	np := len(fn.Type.Params)
	nr := len(fn.Type.Results)
	opBase := base + fn.NumLocals()
	e.ensure(opBase + fn.MaxStack)
	st := e.stack
	clear(st[base+np : opBase])

	ops := fn.Code
	sp := opBase
	pc := 0

	for {
		if !s.UseFuel(1) {
			return e.trap(errors.TrapFuelExhausted, f)
		}
		op := &ops[pc]
		pc++

		if op.Code > 0xFF {
			if op.Code == validator.OpJump {
				pc = int(op.T.PC)
				continue
			}
			var trap errors.TrapCode
			if sp, trap = e.misc(inst, mem, st, sp, op); trap != 0 {
				return e.trap(trap, f)
			}
			continue
		}

		switch byte(op.Code) {
		case wasm.OpUnreachable:
			return e.trap(errors.TrapUnreachable, f)

		case wasm.OpIf:
			sp--
			if uint32(st[sp]) == 0 {
				pc = int(op.T.PC)
			}

		case wasm.OpBr:
			sp = branch(st, sp, opBase, op.T)
			pc = int(op.T.PC)

		case wasm.OpBrIf:
			sp--
			if uint32(st[sp]) != 0 {
				sp = branch(st, sp, opBase, op.T)
				pc = int(op.T.PC)
			}

		case wasm.OpBrTable:
			sp--
			i := uint64(uint32(st[sp]))
			targets := fn.BrTables[op.A]
			if last := uint64(len(targets) - 1); i > last {
				i = last
			}
			t := targets[i]
			sp = branch(st, sp, opBase, t)
			pc = int(t.PC)

		case wasm.OpReturn:
			copy(st[base:base+nr], st[sp-nr:sp])
			return nil

		case wasm.OpCall:
			callee := inst.Func(uint32(op.A))
			ct := callee.Type()
			nb := sp - len(ct.Params)
			if err := e.call(callee, inst, nb); err != nil {
				return err
			}
			st = e.stack
			sp = nb + len(ct.Results)

		case wasm.OpCallIndirect:
			sp--
			ref, ok := inst.Table(uint32(op.B)).Get(uint32(st[sp]))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsTableAccess, f)
			}
			callee := s.FuncRef(ref)
			if callee == nil {
				return e.trap(errors.TrapUninitializedElement, f)
			}
			ct := callee.Type()
			if !ct.Equal(inst.Module().Types[op.A]) {
				return e.trap(errors.TrapIndirectCallTypeMismatch, f)
			}
			nb := sp - len(ct.Params)
			if err := e.call(callee, inst, nb); err != nil {
				return err
			}
			st = e.stack
			sp = nb + len(ct.Results)

		case wasm.OpDrop:
			sp--

		case wasm.OpSelect:
			sp -= 2
			if uint32(st[sp+1]) == 0 {
				st[sp-1] = st[sp]
			}

		case wasm.OpLocalGet:
			st[sp] = st[base+int(op.A)]
			sp++
		case wasm.OpLocalSet:
			sp--
			st[base+int(op.A)] = st[sp]
		case wasm.OpLocalTee:
			st[base+int(op.A)] = st[sp-1]

		case wasm.OpGlobalGet:
			st[sp] = inst.Global(uint32(op.A)).Raw()
			sp++
		case wasm.OpGlobalSet:
			sp--
			inst.Global(uint32(op.A)).SetRaw(st[sp])

		case wasm.OpTableGet:
			ref, ok := inst.Table(uint32(op.A)).Get(uint32(st[sp-1]))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsTableAccess, f)
			}
			st[sp-1] = ref
		case wasm.OpTableSet:
			sp -= 2
			if !inst.Table(uint32(op.A)).Set(uint32(st[sp]), st[sp+1]) {
				return e.trap(errors.TrapOutOfBoundsTableAccess, f)
			}

		case wasm.OpI32Load, wasm.OpF32Load, wasm.OpI64Load32U:
			v, ok := mem.Load32(ea(st[sp-1], op.A))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
			st[sp-1] = uint64(v)
		case wasm.OpI64Load, wasm.OpF64Load:
			v, ok := mem.Load64(ea(st[sp-1], op.A))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
			st[sp-1] = v
		case wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI64Load8S, wasm.OpI64Load8U:
			v, ok := mem.Load8(ea(st[sp-1], op.A))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
			switch byte(op.Code) {
			case wasm.OpI32Load8S:
				st[sp-1] = uint64(uint32(int32(int8(v))))
			case wasm.OpI64Load8S:
				st[sp-1] = uint64(int64(int8(v)))
			default:
				st[sp-1] = uint64(v)
			}
		case wasm.OpI32Load16S, wasm.OpI32Load16U, wasm.OpI64Load16S, wasm.OpI64Load16U:
			v, ok := mem.Load16(ea(st[sp-1], op.A))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
			switch byte(op.Code) {
			case wasm.OpI32Load16S:
				st[sp-1] = uint64(uint32(int32(int16(v))))
			case wasm.OpI64Load16S:
				st[sp-1] = uint64(int64(int16(v)))
			default:
				st[sp-1] = uint64(v)
			}
		case wasm.OpI64Load32S:
			v, ok := mem.Load32(ea(st[sp-1], op.A))
			if !ok {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
			st[sp-1] = uint64(int64(int32(v)))

		case wasm.OpI32Store, wasm.OpF32Store, wasm.OpI64Store32:
			sp -= 2
			if !mem.Store32(ea(st[sp], op.A), uint32(st[sp+1])) {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
		case wasm.OpI64Store, wasm.OpF64Store:
			sp -= 2
			if !mem.Store64(ea(st[sp], op.A), st[sp+1]) {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
		case wasm.OpI32Store8, wasm.OpI64Store8:
			sp -= 2
			if !mem.Store8(ea(st[sp], op.A), byte(st[sp+1])) {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}
		case wasm.OpI32Store16, wasm.OpI64Store16:
			sp -= 2
			if !mem.Store16(ea(st[sp], op.A), uint16(st[sp+1])) {
				return e.trap(errors.TrapOutOfBoundsMemoryAccess, f)
			}

		case wasm.OpMemorySize:
			st[sp] = uint64(mem.Pages())
			sp++
		case wasm.OpMemoryGrow:
			prev, err := mem.Grow(uint32(st[sp-1]))
			if err != nil {
				st[sp-1] = uint64(^uint32(0))
			} else {
				st[sp-1] = uint64(prev)
			}

		case wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const:
			st[sp] = op.A
			sp++

		case wasm.OpRefNull:
			st[sp] = 0
			sp++
		case wasm.OpRefIsNull:
			st[sp-1] = b2u(st[sp-1] == 0)
		case wasm.OpRefFunc:
			st[sp] = inst.Func(uint32(op.A)).Ref()
			sp++

		default:
			var trap errors.TrapCode
			if sp, trap = numeric(byte(op.Code), st, sp); trap != 0 {
				return e.trap(trap, f)
			}
		}
	}
}

// misc executes a 0xFC-prefixed instruction.
func (e *exec) misc(inst *store.Instance, mem *store.Memory, st []uint64, sp int, op *validator.Op) (int, errors.TrapCode) {
	sub := uint32(op.Code &^ validator.MiscBase)
	if sub <= wasm.MiscI64TruncSatF64U {
		st[sp-1] = truncSat(sub, st[sp-1])
		return sp, 0
	}

	switch sub {
	case wasm.MiscMemoryInit:
		sp -= 3
		dst, src, n := uint32(st[sp]), uint32(st[sp+1]), uint32(st[sp+2])
		if !mem.Init(dst, inst.Data(uint32(op.A)), src, n) {
			return sp, errors.TrapOutOfBoundsMemoryAccess
		}
	case wasm.MiscDataDrop:
		inst.DropData(uint32(op.A))
	case wasm.MiscMemoryCopy:
		sp -= 3
		if !mem.Copy(uint32(st[sp]), uint32(st[sp+1]), uint32(st[sp+2])) {
			return sp, errors.TrapOutOfBoundsMemoryAccess
		}
	case wasm.MiscMemoryFill:
		sp -= 3
		if !mem.Fill(uint32(st[sp]), uint32(st[sp+2]), byte(st[sp+1])) {
			return sp, errors.TrapOutOfBoundsMemoryAccess
		}
	case wasm.MiscTableGrow:
		sp--
		prev, err := inst.Table(uint32(op.A)).Grow(uint32(st[sp]), st[sp-1])
		if err != nil {
			st[sp-1] = uint64(^uint32(0))
		} else {
			st[sp-1] = uint64(prev)
		}
	case wasm.MiscTableSize:
		st[sp] = uint64(inst.Table(uint32(op.A)).Size())
		sp++
	case wasm.MiscTableFill:
		sp -= 3
		if !inst.Table(uint32(op.A)).Fill(uint32(st[sp]), uint32(st[sp+2]), st[sp+1]) {
			return sp, errors.TrapOutOfBoundsTableAccess
		}
	default:
		return sp, errors.TrapUnreachable
	}
	return sp, 0
}

// Package interp executes validated WebAssembly code.
//
// Function bodies run in the lowered form produced by package validator:
// block structure is already resolved into jump targets, so the loop is a
// flat switch over []validator.Op. Values live untyped on a []uint64
// stack; the validator has proven every access well typed. A frame's
// locals sit directly below its operand stack in the same slab.
//
// Value representation:
//
//	i32        zero-extended uint32
//	i64        uint64
//	f32, f64   IEEE-754 bits
//	funcref    function address + 1, 0 is null
//	externref  host handle, 0 is null
//
// Traps are returned as *errors.Trap. They unwind only the call that
// raised them; writes made before the trap stay visible and the store
// remains usable.
//
// Execution cannot be cancelled mid-call. Use store fuel to bound it:
// every executed instruction consumes one unit and an empty budget traps
// with errors.TrapFuelExhausted.
package interp

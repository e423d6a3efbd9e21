// Package engine runs core modules behind one interface so that callers,
// such as the wasmrun command, can switch backends.
//
// Two backends exist:
//
//	NewInterpreter - this module's interpreter, through the runtime package
//	NewWazero      - wazero in interpreter mode
//
// Both take the same host modules and report traps as *errors.Trap with
// the same codes, which makes differential testing straightforward:
//
//	a, _ := engine.NewInterpreter(rt)
//	b, _ := engine.NewWazero(ctx, cfg)
//	for _, e := range []engine.Engine{a, b} {
//	    inst, err := e.Instantiate(ctx, bin, hosts)
//	    ...
//	    res, err := inst.Call(ctx, "run", 7)
//	}
//
// Values cross the interface as raw uint64 bits: i32 in the low 32 bits,
// floats as their IEEE-754 encoding.
//
// The wazero backend has no fuel metering. Calls there stop when the
// context is done instead.
package engine

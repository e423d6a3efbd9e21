// Package errors provides structured error types for the wasm-interp runtime.
//
// Errors are categorized by Phase (decode, validate, link, runtime, ...) and
// Kind. The Error type carries a location path, expected/actual type names,
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindTypeMismatch).
//		Path("func[2]", "+0x14").
//		Expected("i32").
//		Actual("f64").
//		Detail("operand of i32.add").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Decode("code", 118, io.ErrUnexpectedEOF)
//	err := errors.NotFound(errors.PhaseRuntime, "export", "fib")
//
// Category checks go through errors.Is with the sentinels:
//
//	errors.Is(err, errors.ErrDecode)
//	errors.Is(err, errors.ErrLink)
//	errors.Is(err, errors.ErrTrap)
//
// Traps are reported as *Trap and link failures as *LinkError; both
// match their sentinels.
package errors

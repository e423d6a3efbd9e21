// Package wasminterp is a pure Go WebAssembly runtime for core modules.
//
// Modules are decoded, validated into a compact instruction form and run
// by an interpreter over an untyped operand stack. No cgo and no code
// generation are involved.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasminterp/
//	├── wasm/            Binary format: decoder, encoder, types, values
//	├── validator/       Type checking and lowering to executable form
//	├── store/           Functions, memories, tables, globals, instantiation
//	├── interp/          The executor
//	├── linker/          Named host definitions and import resolution
//	├── runtime/         High-level API for loading and running modules
//	├── engine/          Backend interface over the interpreter and wazero
//	├── modcache/        Content-addressed module cache with verdicts
//	├── config/          JSON and map configuration decoding
//	├── errors/          Structured error and trap types
//	└── cmd/wasmrun/     Command-line runner
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := inst.Invoke(ctx, "add", wasm.I32(1), wasm.I32(2))
//
// # Traps
//
// A trap stops the current call and is returned as *errors.Trap. Writes
// made before the trap are kept and the instance stays usable.
//
// # Thread Safety
//
// A store serializes the calls that run in it. Host functions may call
// back into the same store from the calling goroutine. Use separate stores
// for parallel work.
//
// # Memory Model
//
// Linear memory can only grow, never shrink. A store caps every memory at
// its configured page limit.
package wasminterp

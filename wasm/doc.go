// Package wasm provides WebAssembly binary format parsing and encoding.
//
// The decoder covers WebAssembly 1.0 plus the finished 2.0 additions that
// the interpreter executes:
//
//	WebAssembly 1.0:
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Import/export of all definitions
//
//	2.0 additions:
//	  - Sign extension and non-trapping float-to-int conversions
//	  - Multi-value block and function results
//	  - Bulk memory (memory.init, data.drop, memory.copy, memory.fill)
//	  - Reference types (funcref, externref, ref.null, ref.is_null,
//	    ref.func, typed select, table.get/set/size/grow/fill)
//
// SIMD, threads, exception handling, tail calls, GC, memory64 and
// multi-memory encodings are rejected with ErrUnsupported.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err) // decode-phase *errors.Error with section and offset
//	}
//
// Every section payload and every function body must be consumed exactly.
// LEB128 integers longer than their type allows are rejected. Function
// bodies are decoded into []Instruction eagerly.
//
// # Structure checks
//
// Module.Validate checks index spaces, limits, constant expressions,
// exports and segments. Body type checking lives in the validator package.
//
// # Encoding
//
//	encoded := module.Encode()
//
// Encoding then decoding yields an equivalent module.
//
// # Values
//
// Value carries a ValType and raw bits. Use I32, I64, F32, F64 and
// ExternRef to build them and ParseValue to read them from text.
package wasm

// Package linker names externs for import resolution.
//
// A Linker maps "module" and "name" pairs to store.Externs: host
// functions defined with DefineFunc, memories, tables and globals defined
// with DefineExtern, and every export of an instance registered with
// DefineInstance. It implements store.Resolver.
//
// # Versioned Modules
//
// Module names may carry a semantic version, "env@1.2.0". With
// SemverMatching an import resolves to the newest definition with the
// same major version and at least the requested minor and patch.
//
// # Thread Safety
//
// Linker is safe for concurrent use. Host functions are defined unbound
// and copied into each store that imports them, so one linker can serve
// many stores.
//
// # Example
//
//	l := linker.New()
//	_ = l.DefineFunc("env", "log", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, logI32)
//	inst, err := l.Instantiate(ctx, s, compiled)
package linker

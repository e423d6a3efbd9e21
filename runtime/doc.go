// Package runtime provides the high-level embedding API.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Host functions are resolved by module and name
//	err = rt.RegisterFunc("env", "log", func(v int32) { fmt.Println(v) })
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
//	results, err := inst.Invoke(ctx, "add", wasm.I32(2), wasm.I32(3))
//
// # Host Modules
//
// A type implementing Host registers all of its exported methods:
//
//	type Env struct{}
//
//	func (Env) Namespace() string { return "env" }
//	func (Env) ReadByte(caller store.Caller, addr uint32) (uint32, error)
//
// ReadByte is imported as env.read-byte. A method may take a
// context.Context and a store.Caller before its wasm parameters. A
// non-nil error result traps the guest.
//
// # Stores
//
// Every Instantiate call allocates into a store. Runtime.Store is shared
// by default; Runtime.NewStore gives an isolated store with the same
// limits, which is the unit of concurrency.
//
// # Caching
//
// WithCache attaches a content-addressed module cache. Binaries are keyed
// by CID and validation verdicts are recorded, so a module known to be
// invalid is rejected on load.
package runtime

// Command wasmrun loads a core WebAssembly module, instantiates it with
// no imports and calls one export with integer or float arguments,
// printing each result on its own line.
//
//	wasmrun -wasm add.wasm -func add 2 3
//	wasmrun -wasm add.wasm -list
//	wasmrun -wasm add.wasm -i
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/config"
	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/modcache"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

type options struct {
	wasmFile    string
	funcName    string
	engineName  string
	configFile  string
	cacheDir    string
	cid         string
	args        []string
	fuel        uint64
	list        bool
	interactive bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to module wasm file")
	flag.StringVar(&o.funcName, "func", "", "Function to call (optional)")
	flag.StringVar(&o.engineName, "engine", "", "Execution engine: interp or wazero")
	flag.StringVar(&o.configFile, "config", "", "JSON configuration file")
	flag.Uint64Var(&o.fuel, "fuel", 0, "Instruction budget per store, shared by all calls (0 = unlimited)")
	flag.StringVar(&o.cacheDir, "cache", "", "Module cache directory")
	flag.StringVar(&o.cid, "cid", "", "Run a cached module by CID (requires -cache)")
	flag.BoolVar(&o.list, "list", false, "List exported functions and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&o.verbose, "v", false, "Debug logging")
	flag.Parse()
	o.args = flag.Args()

	if o.wasmFile == "" && o.cid == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmrun -wasm <file.wasm> [-func name] [args...]")
		fmt.Fprintln(os.Stderr, "       wasmrun -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       wasmrun -wasm <file.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       wasmrun -cache <dir> -cid <cid> [-func name] [args...]")
		os.Exit(2)
	}

	os.Exit(run(context.Background(), o, os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, o options, stdout, stderr io.Writer) int {
	log := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			log = l
		}
	}
	defer func() { _ = log.Sync() }()

	if err := execute(ctx, o, log, stdout); err != nil {
		var trap *errors.Trap
		if errors.As(err, &trap) {
			log.Warn("guest trapped", zap.String("func", trap.Func), zap.Stringer("code", trap.Code))
			fmt.Fprintf(stderr, "trap: %s\n", trap.Code)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(o options) (runtime.Config, error) {
	cfg := runtime.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return cfg, err
		}
	}
	if o.engineName != "" {
		cfg.Engine = o.engineName
	}
	if o.fuel != 0 {
		cfg.Fuel = o.fuel
	}
	return cfg, cfg.Validate()
}

func readModule(o options, cache *modcache.Cache) ([]byte, error) {
	if o.cid == "" {
		data, err := os.ReadFile(o.wasmFile)
		if err != nil {
			return nil, errors.Load("read "+o.wasmFile, err)
		}
		return data, nil
	}
	if cache == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "-cid requires -cache")
	}
	id, err := modcache.Parse(o.cid)
	if err != nil {
		return nil, err
	}
	return cache.Get(id)
}

func newRuntime(ctx context.Context, o options, log *zap.Logger) (*runtime.Runtime, *modcache.Cache, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, nil, err
	}
	opts := []runtime.Option{runtime.WithConfig(cfg), runtime.WithLogger(log)}

	var cache *modcache.Cache
	if o.cacheDir != "" {
		if cache, err = modcache.Open(o.cacheDir); err != nil {
			return nil, nil, err
		}
		opts = append(opts, runtime.WithCache(cache))
	}
	engine.SetLogger(log.Named("engine"))

	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, nil, err
	}
	return rt, cache, nil
}

func execute(ctx context.Context, o options, log *zap.Logger, stdout io.Writer) error {
	rt, cache, err := newRuntime(ctx, o, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	bin, err := readModule(o, cache)
	if err != nil {
		return err
	}
	mod, err := rt.Load(ctx, bin)
	if err != nil {
		return err
	}
	if err := mod.Validate(); err != nil {
		return err
	}
	if mod.CID().Defined() {
		log.Debug("module cached", zap.Stringer("cid", mod.CID()))
	}

	if o.list {
		printExports(stdout, mod)
		return nil
	}
	if o.interactive {
		return runInteractive(ctx, mod, displayName(o))
	}

	name := o.funcName
	if name == "" {
		if name = defaultExport(mod); name == "" {
			return errors.InvalidInput(errors.PhaseRuntime, "no function specified and no default export; use -func")
		}
	}
	ft, err := mod.FuncType(name)
	if err != nil {
		return err
	}
	args, err := parseArgs(name, ft, o.args)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, rt)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	inst, err := eng.Instantiate(ctx, bin, nil)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Bits
	}
	out, err := inst.Call(ctx, name, raw...)
	if err != nil {
		return err
	}
	for i, bits := range out {
		fmt.Fprintln(stdout, wasm.Value{Type: ft.Results[i], Bits: bits})
	}
	return nil
}

func newEngine(ctx context.Context, rt *runtime.Runtime) (engine.Engine, error) {
	if rt.Config().Engine == runtime.EngineWazero {
		return engine.NewWazero(ctx, rt.Config())
	}
	return engine.NewInterpreter(rt), nil
}

func parseArgs(name string, ft wasm.FuncType, args []string) ([]wasm.Value, error) {
	if len(args) != len(ft.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Path(name).
			Detail("expected %d arguments, got %d", len(ft.Params), len(args)).
			Build()
	}
	vals := make([]wasm.Value, len(args))
	for i, a := range args {
		v, err := wasm.ParseValue(ft.Params[i], a)
		if err != nil {
			return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
				Path(name, fmt.Sprintf("arg%d", i)).
				Cause(err).
				Build()
		}
		vals[i] = v
	}
	return vals, nil
}

// defaultExport picks a conventional entry point, or the only exported
// function.
func defaultExport(mod *runtime.Module) string {
	var funcs []string
	for _, e := range mod.Exports() {
		if e.Kind == "func" {
			funcs = append(funcs, e.Name)
		}
	}
	for _, name := range []string{"_start", "run", "main"} {
		if slices.Contains(funcs, name) {
			return name
		}
	}
	if len(funcs) == 1 {
		return funcs[0]
	}
	return ""
}

func printExports(w io.Writer, mod *runtime.Module) {
	if mod.CID().Defined() {
		fmt.Fprintf(w, "CID: %s\n", mod.CID())
	}
	fmt.Fprintf(w, "Imports: %d\n", len(mod.Imports()))
	for _, imp := range mod.Imports() {
		fmt.Fprintf(w, "  %s.%s %s %s\n", imp.Module, imp.Name, imp.Kind, imp.Type)
	}
	fmt.Fprintf(w, "Exports: %d\n", len(mod.Exports()))
	for _, exp := range mod.Exports() {
		fmt.Fprintf(w, "  %s %s %s\n", exp.Name, exp.Kind, exp.Type)
	}
}

func displayName(o options) string {
	if o.wasmFile != "" {
		return o.wasmFile
	}
	return o.cid
}

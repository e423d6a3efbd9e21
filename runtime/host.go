package runtime

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/store"
	"github.com/wippyai/wasm-interp/wasm"
)

// Host is implemented by struct-based host modules. Every exported method
// except Namespace is registered under Namespace(), named in kebab-case.
type Host interface {
	Namespace() string
}

// ExplicitRegistrar lets a host supply its import names directly when the
// method-name conversion does not fit.
type ExplicitRegistrar interface {
	Register() map[string]any
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	callerType  = reflect.TypeOf((*store.Caller)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// DefineFunc defines a host function with an explicit signature.
func (r *Runtime) DefineFunc(module, name string, ft wasm.FuncType, fn store.HostFunc) error {
	return r.linker.DefineFunc(module, name, ft, fn)
}

// RegisterFunc defines a host function from a plain Go function. The
// function may take a context.Context and then a store.Caller first,
// followed by parameters of type int32, uint32, int64, uint64, float32 or
// float64. Results use the same types and may end with an error, which
// traps the calling guest.
func (r *Runtime) RegisterFunc(module, name string, fn any) error {
	if module == "" {
		return errors.InvalidInput(errors.PhaseHost, "module name cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	ft, hf, err := adaptFunc(reflect.ValueOf(fn))
	if err != nil {
		return errors.Registration(errors.PhaseHost, module, name, err)
	}
	r.log.Debug("host function registered",
		zap.String("module", module),
		zap.String("name", name),
		zap.Stringer("type", ft))
	return r.linker.DefineFunc(module, name, ft, hf)
}

// RegisterHost registers every function of a host module.
func (r *Runtime) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, fn := range er.Register() {
			if err := r.RegisterFunc(ns, name, fn); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.RegisterFunc(ns, toKebabCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func valTypeOf(t reflect.Type) (wasm.ValType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32, reflect.Bool:
		return wasm.ValI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValI64, true
	case reflect.Float32:
		return wasm.ValF32, true
	case reflect.Float64:
		return wasm.ValF64, true
	}
	return 0, false
}

func adaptFunc(fn reflect.Value) (wasm.FuncType, store.HostFunc, error) {
	if fn.Kind() != reflect.Func {
		return wasm.FuncType{}, nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Expected("func").
			Actual(fn.Kind().String()).
			Detail("handler must be a function").
			Build()
	}
	t := fn.Type()
	if t.IsVariadic() {
		return wasm.FuncType{}, nil, errors.InvalidInput(errors.PhaseHost, "variadic handlers are not supported")
	}

	first := 0
	wantCtx := t.NumIn() > first && t.In(first) == contextType
	if wantCtx {
		first++
	}
	wantCaller := t.NumIn() > first && t.In(first) == callerType
	if wantCaller {
		first++
	}

	var ft wasm.FuncType
	for i := first; i < t.NumIn(); i++ {
		vt, ok := valTypeOf(t.In(i))
		if !ok {
			return wasm.FuncType{}, nil, errors.New(errors.PhaseHost, errors.KindUnsupported).
				Path("param", t.In(i).String()).
				Detail("no wasm type for parameter %d", i).
				Build()
		}
		ft.Params = append(ft.Params, vt)
	}

	nout := t.NumOut()
	wantErr := nout > 0 && t.Out(nout-1) == errorType
	if wantErr {
		nout--
	}
	for i := 0; i < nout; i++ {
		vt, ok := valTypeOf(t.Out(i))
		if !ok {
			return wasm.FuncType{}, nil, errors.New(errors.PhaseHost, errors.KindUnsupported).
				Path("result", t.Out(i).String()).
				Detail("no wasm type for result %d", i).
				Build()
		}
		ft.Results = append(ft.Results, vt)
	}

	hf := func(ctx context.Context, caller store.Caller, args []wasm.Value) ([]wasm.Value, error) {
		in := make([]reflect.Value, 0, t.NumIn())
		if wantCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if wantCaller {
			in = append(in, reflect.ValueOf(&caller).Elem())
		}
		for i, a := range args {
			in = append(in, toReflect(t.In(first+i), a))
		}
		out := fn.Call(in)
		if wantErr {
			if e := out[nout]; !e.IsNil() {
				return nil, e.Interface().(error)
			}
		}
		res := make([]wasm.Value, nout)
		for i := 0; i < nout; i++ {
			res[i] = fromReflect(ft.Results[i], out[i])
		}
		return res, nil
	}
	return ft, hf, nil
}

func toReflect(t reflect.Type, v wasm.Value) reflect.Value {
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		rv.SetBool(v.U32() != 0)
	case reflect.Int32:
		rv.SetInt(int64(v.I32()))
	case reflect.Uint32:
		rv.SetUint(uint64(v.U32()))
	case reflect.Int64:
		rv.SetInt(v.I64())
	case reflect.Uint64:
		rv.SetUint(v.Bits)
	case reflect.Float32:
		rv.SetFloat(float64(v.F32()))
	case reflect.Float64:
		rv.SetFloat(v.F64())
	}
	return rv
}

func fromReflect(vt wasm.ValType, rv reflect.Value) wasm.Value {
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return wasm.I32(1)
		}
		return wasm.I32(0)
	case reflect.Int32, reflect.Int64:
		return wasm.Value{Type: vt, Bits: uint64(rv.Int()) & mask(vt)}
	case reflect.Uint32, reflect.Uint64:
		return wasm.Value{Type: vt, Bits: rv.Uint()}
	case reflect.Float32:
		return wasm.F32(float32(rv.Float()))
	default:
		return wasm.F64(rv.Float())
	}
}

func mask(vt wasm.ValType) uint64 {
	if vt == wasm.ValI32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// toKebabCase converts PascalCase to kebab-case, keeping acronyms
// together: GetHTTPURL becomes get-http-url.
func toKebabCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// the last capital before a lowercase run starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}
		if i > 0 {
			b.WriteByte('-')
		}
		for j := i; j < end; j++ {
			b.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return b.String()
}

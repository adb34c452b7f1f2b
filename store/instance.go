package store

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/world"
)

// Export is a function a component lifts, with the canonical options it
// was lifted with. Err is set when its types fall outside the supported
// subset; such an export can only be called with explicit types.
type Export struct {
	Func       api.Function
	Memory     api.Memory
	Realloc    api.Function
	PostReturn api.Function
	Err        error
	Params     []wit.Type
	Results    []wit.Type
}

// Instance is an instantiated guest bound to a store.
type Instance[D View] struct {
	store   *Store[D]
	module  api.Module
	world   *world.World
	exports map[string]*Export
	closers []api.Closer
	closed  atomic.Bool
}

// NewInstance binds an instantiated module to st. w supplies export
// signatures for Call and may be nil.
func NewInstance[D View](st *Store[D], mod api.Module, w *world.World) *Instance[D] {
	return &Instance[D]{store: st, module: mod, world: w}
}

// NewComponentInstance binds the core instances of a component to st. main
// is the core instance calls run against by default; exports are the
// functions the component lifts, keyed by the name callers use. closers are
// the remaining core and host instances, released in reverse order by Close.
func NewComponentInstance[D View](st *Store[D], main api.Module, exports map[string]*Export, w *world.World, closers []api.Closer) *Instance[D] {
	if exports == nil {
		exports = make(map[string]*Export)
	}
	return &Instance[D]{store: st, module: main, world: w, exports: exports, closers: closers}
}

// Store returns the store the instance runs in.
func (i *Instance[D]) Store() *Store[D] {
	return i.store
}

// Module exposes the underlying wazero module.
func (i *Instance[D]) Module() api.Module {
	return i.module
}

// World returns the contract the instance was created with, or nil.
func (i *Instance[D]) World() *world.World {
	return i.world
}

// Exports returns the names of exported functions.
func (i *Instance[D]) Exports() []string {
	if i.exports != nil {
		out := make([]string, 0, len(i.exports))
		for name := range i.exports {
			out = append(out, name)
		}
		return out
	}
	defs := i.module.ExportedFunctionDefinitions()
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	return out
}

// Call invokes an export using its signature from the instance's world,
// or for components from the types the component declares. It returns the
// single result, or nil for functions without one.
func (i *Instance[D]) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.world == nil && i.exports == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "world")
	}
	params, results, ok := i.declared(name)
	if !ok {
		if exp, found := i.exports[name]; found {
			return nil, exp.Err
		}
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	return i.CallWithTypes(ctx, name, params, results, args...)
}

// declared returns the WIT signature of export name.
func (i *Instance[D]) declared(name string) ([]wit.Type, []wit.Type, bool) {
	if i.world != nil {
		if fn, ok := i.world.Export(name); ok {
			return fn.ParamTypes(), fn.Results, true
		}
	}
	if exp, ok := i.exports[name]; ok && exp.Err == nil {
		return exp.Params, exp.Results, true
	}
	return nil, nil, false
}

// CallWithTypes invokes an export with explicit WIT parameter and result types.
func (i *Instance[D]) CallWithTypes(ctx context.Context, name string, params, results []wit.Type, args ...any) (any, error) {
	out, err := i.call(ctx, name, params, results, args)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// CallRaw invokes an export with core values and returns core results.
func (i *Instance[D]) CallRaw(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "instance")
	}
	start := time.Now()
	caller, cctx, err := i.store.Acquire(ctx, name)
	if err != nil {
		i.store.observe(name, start, err)
		return nil, err
	}
	defer i.store.Release(caller)

	prev := caller.SetModule(i.module)
	defer caller.SetModule(prev)

	fn := i.exportedFunction(name)
	if fn == nil {
		err := errors.NotFound(errors.PhaseRuntime, "export", name)
		i.store.observe(name, start, err)
		return nil, err
	}

	raw, err := fn.Call(cctx, params...)
	if err != nil {
		err = i.store.classify(cctx, caller, name, err)
	}
	i.store.observe(name, start, err)
	return raw, err
}

func (i *Instance[D]) call(ctx context.Context, name string, params, results []wit.Type, args []any) ([]any, error) {
	if i.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "instance")
	}
	start := time.Now()
	caller, cctx, err := i.store.Acquire(ctx, name)
	if err != nil {
		i.store.observe(name, start, err)
		return nil, err
	}
	defer i.store.Release(caller)

	prev := caller.SetModule(i.module)
	defer caller.SetModule(prev)

	out, err := i.invoke(cctx, caller, name, params, results, args)
	i.store.observe(name, start, err)
	return out, err
}

func (i *Instance[D]) exportedFunction(name string) api.Function {
	if i.exports != nil {
		if exp, ok := i.exports[name]; ok {
			return exp.Func
		}
		return nil
	}
	return i.module.ExportedFunction(name)
}

// target resolves export name to its core function, the memory and
// allocator its arguments and results live in, and its post-return.
func (i *Instance[D]) target(ctx context.Context, caller *Caller[D], name string) (api.Function, *abi.Context, api.Function, error) {
	if i.exports != nil {
		exp, ok := i.exports[name]
		if !ok {
			return nil, nil, nil, errors.NotFound(errors.PhaseRuntime, "export", name)
		}
		if exp.Func == nil {
			return nil, nil, nil, exp.Err
		}
		cx := &abi.Context{
			Memory: abi.WrapMemory(exp.Memory),
			Alloc:  abi.WrapAllocator(ctx, exp.Realloc),
		}
		return exp.Func, cx, exp.PostReturn, nil
	}

	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, nil, nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	cx := &abi.Context{
		Memory: caller.Memory(),
		Alloc:  abi.WrapAllocator(ctx, i.module.ExportedFunction(abi.Realloc)),
	}
	var post api.Function
	if i.store.componentModel {
		post = i.module.ExportedFunction(abi.PostReturnPrefix + name)
	}
	return fn, cx, post, nil
}

func (i *Instance[D]) invoke(ctx context.Context, caller *Caller[D], name string, params, results []wit.Type, args []any) ([]any, error) {
	fn, cx, post, err := i.target(ctx, caller, name)
	if err != nil {
		return nil, err
	}

	def := fn.Definition()
	wantParams, wantResults := abi.Signature(params, results, false)
	if !sameTypes(def.ParamTypes(), wantParams) || !sameTypes(def.ResultTypes(), wantResults) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
			Path(name).
			Detail("export is %s, call expects %s",
				abi.FormatSignature(def.ParamTypes(), def.ResultTypes()),
				abi.FormatSignature(wantParams, wantResults)).
			Build()
	}

	flat, err := cx.LowerArgs(params, args)
	if err != nil {
		return nil, err
	}

	raw, err := fn.Call(ctx, flat...)
	if err != nil {
		return nil, i.store.classify(ctx, caller, name, err)
	}

	out, err := cx.LiftResults(results, raw)
	if err != nil {
		return nil, err
	}

	if post != nil {
		if _, err := post.Call(ctx, raw...); err != nil {
			return nil, i.store.classify(ctx, caller, abi.PostReturnPrefix+name, err)
		}
	}
	return out, nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close closes the guest instance.
func (i *Instance[D]) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if i.module != nil {
		err = i.module.Close(ctx)
	}
	for j := len(i.closers) - 1; j >= 0; j-- {
		if cerr := i.closers[j].Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Invoke calls an export and converts its result to R. Parameter and result
// types come from the instance's world or the component's own types when
// either declares the export, and are otherwise inferred from the Go types
// of args and R. Use struct{} as R for functions without a result.
func Invoke[R any, D View](ctx context.Context, inst *Instance[D], name string, args ...any) (R, error) {
	var zero R
	rt := reflect.TypeFor[R]()

	params, results, err := inferSignature(inst, name, rt, args)
	if err != nil {
		return zero, err
	}

	out, err := inst.call(ctx, name, params, results, args)
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, nil
	}

	v, err := abi.Assign(reflect.ValueOf(out[0]), rt, true)
	if err != nil {
		return zero, err
	}
	return v.Interface().(R), nil
}

func inferSignature[D View](inst *Instance[D], name string, rt reflect.Type, args []any) ([]wit.Type, []wit.Type, error) {
	if params, results, ok := inst.declared(name); ok {
		return params, results, nil
	}

	params := make([]wit.Type, len(args))
	for i, arg := range args {
		if arg == nil {
			return nil, nil, errors.TypeMismatch(errors.PhaseEncode, nil, "nil", "")
		}
		t, err := abi.TypeOf(reflect.TypeOf(arg))
		if err != nil {
			return nil, nil, err
		}
		params[i] = t
	}

	if rt == reflect.TypeFor[struct{}]() {
		return params, nil, nil
	}
	result, err := abi.TypeOf(rt)
	if err != nil {
		return nil, nil, err
	}
	return params, []wit.Type{result}, nil
}

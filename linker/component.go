package linker

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/component"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/world"
)

// loweredExport names the single function of a lowered host module.
const loweredExport = "lowered"

// optionsModule presents the memory and allocator named by the canonical
// options of a lowering to the host function, in place of those of the
// core instance that calls it.
type optionsModule struct {
	api.Module
	memory  api.Memory
	realloc api.Function
}

func (m *optionsModule) Memory() api.Memory {
	return m.memory
}

func (m *optionsModule) ExportedFunction(name string) api.Function {
	if name == abi.Realloc {
		return m.realloc
	}
	return m.Module.ExportedFunction(name)
}

// componentBuild instantiates the core instances of one component in
// definition order. Core instances are named prefix/core<N>, lowered host
// functions prefix/lower<N>.
type componentBuild[D store.View] struct {
	linker  *Linker[D]
	engine  *engine.Engine
	comp    *component.Component
	cfg     wazero.ModuleConfig
	lowered map[uint32]string
	prefix  string
	cores   []api.Module
	closers []api.Closer
}

func (l *Linker[D]) instantiateComponent(ctx context.Context, st *store.Store[D], mod *engine.Module, o instantiateOptions) (*store.Instance[D], error) {
	e := mod.Engine()
	w := o.world
	if w == nil {
		w = mod.World()
	}
	if err := l.checkWorld(e, w); err != nil {
		return nil, err
	}

	caller, cctx, err := st.Acquire(ctx, StartFunction)
	if err != nil {
		return nil, err
	}
	defer st.Release(caller)

	prefix := o.name
	if prefix == "" {
		prefix = e.UniqueName("component")
	}
	c := mod.Component()
	b := &componentBuild[D]{
		linker:  l,
		engine:  e,
		comp:    c,
		cfg:     wazero.NewModuleConfig().WithStartFunctions(StartFunction),
		lowered: make(map[uint32]string),
		prefix:  prefix,
		cores:   make([]api.Module, len(c.CoreInstances)),
	}
	if v, ok := any(st.Data()).(wasi.View); ok {
		if wc := v.WASI(); wc != nil {
			b.cfg = wc.ModuleConfig(b.cfg)
		}
	}

	if err := b.instantiate(cctx); err != nil {
		b.close(ctx)
		if herr := caller.Err(); herr != nil {
			return nil, errors.Instantiation(herr)
		}
		return nil, errors.Instantiation(err)
	}

	exports, main, err := b.exports()
	if err != nil {
		b.close(ctx)
		return nil, errors.Instantiation(err)
	}

	closers := make([]api.Closer, 0, len(b.closers))
	for _, cl := range b.closers {
		if cl != api.Closer(main) {
			closers = append(closers, cl)
		}
	}

	l.logger.Debug("instantiated component",
		zap.String("name", prefix),
		zap.Int("core_instances", len(c.CoreInstances)),
		zap.Int("lowered", len(b.lowered)),
		zap.Int("exports", len(exports)))
	return store.NewComponentInstance(st, main, exports, w, closers), nil
}

func (b *componentBuild[D]) instantiate(ctx context.Context) error {
	for i, ci := range b.comp.CoreInstances {
		if ci.Kind != component.CoreInstantiate {
			continue
		}
		if err := b.instantiateCore(ctx, uint32(i), ci); err != nil {
			return errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err,
				fmt.Sprintf("core instance %d", i))
		}
	}
	return nil
}

// instantiateCore compiles the module of ci with every import that names
// an instantiation argument redirected to the item it resolves to. Other
// imports are left for the runtime to resolve, e.g. WASI.
func (b *componentBuild[D]) instantiateCore(ctx context.Context, idx uint32, ci component.CoreInstance) error {
	args := make(map[string]uint32, len(ci.Args))
	for _, a := range ci.Args {
		args[a.Name] = a.Instance
	}

	data, err := component.RewriteImports(b.comp.CoreModules[ci.Module], func(imp component.CoreImport) (string, string, error) {
		inst, ok := args[imp.Module]
		if !ok {
			return imp.Module, imp.Name, nil
		}
		return b.resolve(ctx, inst, imp.Name)
	})
	if err != nil {
		return err
	}

	rt := b.engine.Runtime()
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return errors.Load(fmt.Sprintf("compile core module %d", ci.Module), err)
	}
	b.closers = append(b.closers, compiled)

	name := fmt.Sprintf("%s/core%d", b.prefix, idx)
	inst, err := rt.InstantiateModule(ctx, compiled, b.cfg.WithName(name))
	if err != nil {
		return err
	}
	b.cores[idx] = inst
	b.closers = append(b.closers, inst)
	return nil
}

// resolve finds the runtime module and export name behind field of core
// instance inst.
func (b *componentBuild[D]) resolve(ctx context.Context, inst uint32, field string) (string, string, error) {
	ci := b.comp.CoreInstances[inst]
	if ci.Kind == component.CoreInstantiate {
		m := b.cores[inst]
		if m == nil {
			return "", "", errors.New(errors.PhaseLinking, errors.KindInvalidData).
				Detail("core instance %d used before it is instantiated", inst).
				Build()
		}
		return m.Name(), field, nil
	}

	for _, e := range ci.Exports {
		if e.Name != field {
			continue
		}
		switch e.Sort {
		case component.CoreSortFunc:
			f := b.comp.CoreFuncs[e.Index]
			if f.Kind == component.CoreFuncAlias {
				return b.resolve(ctx, f.Alias.Instance, f.Alias.Name)
			}
			return b.lower(ctx, e.Index)
		case component.CoreSortTable:
			item := b.comp.CoreTables[e.Index]
			return b.resolve(ctx, item.Instance, item.Name)
		case component.CoreSortMemory:
			item := b.comp.CoreMemories[e.Index]
			return b.resolve(ctx, item.Instance, item.Name)
		case component.CoreSortGlobal:
			item := b.comp.CoreGlobals[e.Index]
			return b.resolve(ctx, item.Instance, item.Name)
		}
	}
	return "", "", errors.NotFound(errors.PhaseLinking, "core export", fmt.Sprintf("%d#%s", inst, field))
}

// locate resolves a core item to the module instance that defines it.
func (b *componentBuild[D]) locate(ctx context.Context, item component.CoreItem) (api.Module, string, error) {
	name, field, err := b.resolve(ctx, item.Instance, item.Name)
	if err != nil {
		return nil, "", err
	}
	m := b.engine.Runtime().Module(name)
	if m == nil {
		return nil, "", errors.NotFound(errors.PhaseLinking, "module", name)
	}
	return m, field, nil
}

func (b *componentBuild[D]) coreMemory(ctx context.Context, idx uint32) (api.Memory, error) {
	m, field, err := b.locate(ctx, b.comp.CoreMemories[idx])
	if err != nil {
		return nil, err
	}
	mem := m.ExportedMemory(field)
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseLinking, "memory", m.Name()+"#"+field)
	}
	return mem, nil
}

func (b *componentBuild[D]) coreFunc(ctx context.Context, idx uint32) (api.Function, api.Module, error) {
	f := b.comp.CoreFuncs[idx]
	if f.Kind != component.CoreFuncAlias {
		return nil, nil, errors.Unsupported(errors.PhaseLinking, "lifting a function the component lowers")
	}
	m, field, err := b.locate(ctx, f.Alias)
	if err != nil {
		return nil, nil, err
	}
	fn := m.ExportedFunction(field)
	if fn == nil {
		return nil, nil, errors.NotFound(errors.PhaseLinking, "function", m.Name()+"#"+field)
	}
	return fn, m, nil
}

// lower exposes the host function behind core function idx as a module of
// its own, seeing the memory and allocator its canonical options name.
func (b *componentBuild[D]) lower(ctx context.Context, idx uint32) (string, string, error) {
	if name, ok := b.lowered[idx]; ok {
		return name, loweredExport, nil
	}

	f := b.comp.CoreFuncs[idx]
	var ns, fname string
	switch f.Kind {
	case component.CoreFuncLower:
		var err error
		if ns, fname, err = b.comp.ImportedFunc(f.Func); err != nil {
			return "", "", err
		}
	case component.CoreFuncResourceDrop:
		res, err := b.comp.ResourceOf(f.Resource)
		if err != nil {
			return "", "", err
		}
		ns, fname = res.Namespace, DropName(res.Name)
	default:
		return "", "", errors.Unsupported(errors.PhaseLinking, "resource defined by the component")
	}

	def, ok := b.linker.Lookup(ns, fname)
	if !ok {
		// bound by a host module another party installed in the engine
		if _, _, found := b.linker.binding(b.engine, ns, fname); found {
			return ns, fname, nil
		}
		return "", "", errors.NewMissingImportsError([]string{ns + "#" + fname})
	}

	handler := def.Handler
	if f.Options.Memory != nil {
		mem, err := b.coreMemory(ctx, *f.Options.Memory)
		if err != nil {
			return "", "", err
		}
		var realloc api.Function
		if f.Options.Realloc != nil {
			if realloc, _, err = b.coreFunc(ctx, *f.Options.Realloc); err != nil {
				return "", "", err
			}
		}
		inner := handler
		handler = func(ctx context.Context, mod api.Module, stack []uint64) {
			inner(ctx, &optionsModule{Module: mod, memory: mem, realloc: realloc}, stack)
		}
	}

	name := fmt.Sprintf("%s/lower%d", b.prefix, idx)
	m, err := b.engine.Runtime().NewHostModuleBuilder(name).
		NewFunctionBuilder().
		WithGoModuleFunction(handler, def.Type.Params, def.Type.Results).
		WithName(fname).
		Export(loweredExport).
		Instantiate(ctx)
	if err != nil {
		return "", "", errors.Registration(errors.PhaseLinking, ns, fname, err)
	}
	b.closers = append(b.closers, m)
	b.lowered[idx] = name
	return name, loweredExport, nil
}

// exports resolves every lifted function to its core function and
// canonical options. The instance owning the first export becomes the
// instance's main module.
func (b *componentBuild[D]) exports() (map[string]*store.Export, api.Module, error) {
	ctx := context.Background()
	out := make(map[string]*store.Export)
	var main api.Module

	for _, l := range b.comp.Lifts() {
		sig := &world.Func{Name: l.Name, Params: l.Params, Results: l.Results}
		exp := &store.Export{Params: sig.ParamTypes(), Results: sig.Results}
		if l.Err != nil {
			exp.Err = errors.New(errors.PhaseRuntime, errors.KindUnsupported).
				Path(l.Name).
				Cause(l.Err).
				Build()
		}
		if l.Func == nil {
			out[l.Name] = exp
			continue
		}

		fn, owner, err := b.coreFunc(ctx, l.Func.Core)
		if err != nil {
			return nil, nil, err
		}
		exp.Func = fn
		opts := l.Func.Options
		if opts.Memory != nil {
			if exp.Memory, err = b.coreMemory(ctx, *opts.Memory); err != nil {
				return nil, nil, err
			}
		}
		if opts.Realloc != nil {
			if exp.Realloc, _, err = b.coreFunc(ctx, *opts.Realloc); err != nil {
				return nil, nil, err
			}
		}
		if opts.PostReturn != nil {
			if exp.PostReturn, _, err = b.coreFunc(ctx, *opts.PostReturn); err != nil {
				return nil, nil, err
			}
		}
		if main == nil {
			main = owner
		}
		out[l.Name] = exp
	}

	if main == nil {
		for i := len(b.cores) - 1; i >= 0 && main == nil; i-- {
			main = b.cores[i]
		}
	}
	return out, main, nil
}

func (b *componentBuild[D]) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close(ctx)
	}
}

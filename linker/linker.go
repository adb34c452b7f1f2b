package linker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/world"
)

// StartFunction is run once after instantiation when the guest exports it.
const StartFunction = "_initialize"

var i32Params = []api.ValueType{api.ValueTypeI32}

// Binding is a raw core host function. Func reads its params from stack
// and writes results back into it, as wazero's stack-based functions do.
type Binding[D store.View] struct {
	Func    func(c *store.Caller[D], stack []uint64) error
	Params  []api.ValueType
	Results []api.ValueType
}

// Linker collects host bindings keyed by namespace and name, then resolves
// guest imports against them at instantiation.
type Linker[D store.View] struct {
	root     *Namespace
	reserved map[string]string
	logger   *zap.Logger
	mu       sync.RWMutex
	typeIDs  atomic.Uint32
	frozen   atomic.Bool
}

// New creates an empty linker.
func New[D store.View]() *Linker[D] {
	return &Linker[D]{
		root:     NewNamespace(),
		reserved: make(map[string]string),
		logger:   Logger(),
	}
}

// WithLogger sets the logger used by this linker.
func (l *Linker[D]) WithLogger(logger *zap.Logger) *Linker[D] {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Root returns the namespace tree.
func (l *Linker[D]) Root() *Namespace {
	return l.root
}

// Define registers a raw core binding.
func (l *Linker[D]) Define(ns, name string, b Binding[D]) error {
	if b.Func == nil {
		return errors.Registration(errors.PhaseLinking, ns, name,
			errors.InvalidInput(errors.PhaseLinking, "binding has no function"))
	}
	return l.define(ns, name, b)
}

// DefineFunc registers a Go function, converting parameters and results
// through the canonical ABI. The first parameter may be *store.Caller[D]
// or context.Context; the last result may be an error.
func (l *Linker[D]) DefineFunc(ns, name string, fn any) error {
	h, err := analyze[D](fn)
	if err != nil {
		return errors.Registration(errors.PhaseLinking, ns, name, err)
	}
	return l.defineHost(ns, name, h)
}

func (l *Linker[D]) defineHost(ns, name string, h *hostFunc[D]) error {
	sig := h.signature()
	return l.define(ns, name, Binding[D]{
		Params:  sig.Params,
		Results: sig.Results,
		Func:    h.invoke,
	})
}

func (l *Linker[D]) define(ns, name string, b Binding[D]) error {
	if l.frozen.Load() {
		return errors.Frozen(ns, name)
	}
	if owner, ok := l.reservedBy(ns); ok {
		return errors.Duplicate(ns, name, owner)
	}

	err := l.root.Instance(ns).Define(&FuncDef{
		Name:    name,
		Type:    engine.FuncType{Params: b.Params, Results: b.Results},
		Handler: l.handler(ns, name, b.Func),
	})
	if err != nil {
		return err
	}
	l.logger.Debug("defined host function",
		zap.String("namespace", ns),
		zap.String("name", name))
	return nil
}

func (l *Linker[D]) handler(ns, name string, fn func(*store.Caller[D], []uint64) error) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		c, ok := store.CallerFrom[D](ctx)
		if !ok {
			panic(errors.NotInitialized(errors.PhaseHost, "caller for "+ns+"#"+name))
		}

		prev := c.SetModule(mod)
		err := guard(func() error { return fn(c, stack) })
		c.SetModule(prev)

		if err != nil {
			panic(c.Fail(hostError(ns, name, err)))
		}
	}
}

// Reserve claims ns for owner. Later definitions in ns or below it fail
// with KindLinkDuplicate.
func (l *Linker[D]) Reserve(ns, owner string) error {
	if l.frozen.Load() {
		return errors.Frozen(ns, "")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.reserved[ns]; ok {
		return errors.Duplicate(ns, "", prev)
	}
	if existing := l.root.Resolve(ns); existing != nil && existing.Len() > 0 {
		return errors.Duplicate(ns, "", "")
	}
	l.reserved[ns] = owner
	return nil
}

// Reserved returns the owner of ns, if it is reserved.
func (l *Linker[D]) Reserved(ns string) (string, bool) {
	return l.reservedBy(ns)
}

func (l *Linker[D]) reservedBy(ns string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for r, owner := range l.reserved {
		if ns == r || strings.HasPrefix(ns, r+"/") {
			return owner, true
		}
	}
	return "", false
}

// Freeze rejects any further definition.
func (l *Linker[D]) Freeze() {
	l.frozen.Store(true)
}

// Frozen reports whether Freeze was called.
func (l *Linker[D]) Frozen() bool {
	return l.frozen.Load()
}

// Lookup resolves a binding the way an import would be resolved.
func (l *Linker[D]) Lookup(ns, name string) (*FuncDef, bool) {
	n := l.root.Resolve(ns)
	if n == nil {
		return nil, false
	}
	def := n.Func(name)
	return def, def != nil
}

// Namespaces lists the paths that hold at least one binding.
func (l *Linker[D]) Namespaces() []string {
	var out []string
	l.root.Walk(func(n *Namespace) {
		if n.Len() > 0 {
			out = append(out, n.FullPath())
		}
	})
	return out
}

func (l *Linker[D]) nextTypeID() uint32 {
	return l.typeIDs.Add(1)
}

// InstantiateOption configures Instantiate.
type InstantiateOption func(*instantiateOptions)

type instantiateOptions struct {
	world *world.World
	name  string
}

// WithWorld attaches the contract used by Instance.Call.
func WithWorld(w *world.World) InstantiateOption {
	return func(o *instantiateOptions) { o.world = w }
}

// WithModuleName names the guest instance in the engine. Guests are
// anonymous by default, so the same module can be instantiated repeatedly.
func WithModuleName(name string) InstantiateOption {
	return func(o *instantiateOptions) { o.name = name }
}

// Instantiate links mod against the linker's bindings and the host modules
// already installed in its engine, then instantiates it in st. A component
// has its core instances created in order, with each function it imports
// lowered onto the matching binding.
func (l *Linker[D]) Instantiate(ctx context.Context, st *store.Store[D], mod *engine.Module, opts ...InstantiateOption) (*store.Instance[D], error) {
	var o instantiateOptions
	for _, opt := range opts {
		opt(&o)
	}

	if mod.IsComponent() {
		return l.instantiateComponent(ctx, st, mod, o)
	}

	e := mod.Engine()
	if o.world != nil {
		if err := l.checkWorld(e, o.world); err != nil {
			return nil, err
		}
	}
	hosts, err := l.resolveImports(e, mod)
	if err != nil {
		return nil, err
	}

	for name, ns := range hosts {
		if err := l.buildHostModule(ctx, e, name, ns); err != nil {
			return nil, errors.Instantiation(err)
		}
	}

	caller, cctx, err := st.Acquire(ctx, StartFunction)
	if err != nil {
		return nil, err
	}
	defer st.Release(caller)

	cfg := wazero.NewModuleConfig().
		WithName(o.name).
		WithStartFunctions(StartFunction)
	if v, ok := any(st.Data()).(wasi.View); ok {
		if wc := v.WASI(); wc != nil {
			cfg = wc.ModuleConfig(cfg)
		}
	}

	inst, err := e.Runtime().InstantiateModule(cctx, mod.Compiled(), cfg)
	if err != nil {
		if herr := caller.Err(); herr != nil {
			return nil, errors.Instantiation(herr)
		}
		return nil, errors.Instantiation(err)
	}

	l.logger.Debug("instantiated module",
		zap.String("name", o.name),
		zap.Int("imports", len(mod.Imports())))
	return store.NewInstance(st, inst, o.world), nil
}

// resolveImports checks every import and returns the namespaces that need
// a host module, keyed by import module name.
func (l *Linker[D]) resolveImports(e *engine.Engine, mod *engine.Module) (map[string]*Namespace, error) {
	hosts := make(map[string]*Namespace)
	var missing []string

	for _, imp := range mod.Imports() {
		got, ns, ok := l.binding(e, imp.Module, imp.Name)
		if !ok {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		if !got.Equal(imp.Type) {
			return nil, errors.Instantiation(
				errors.SignatureMismatch(imp.Module, imp.Name, got.String(), imp.Type.String()))
		}
		if ns != nil {
			hosts[imp.Module] = ns
		}
	}

	if len(missing) > 0 {
		return nil, errors.Instantiation(errors.NewMissingImportsError(missing))
	}
	return hosts, nil
}

// checkWorld verifies that every import the world declares is bound with
// the core signature its WIT types lower to.
func (l *Linker[D]) checkWorld(e *engine.Engine, w *world.World) error {
	var missing []string

	for _, ns := range w.ImportNamespaces() {
		for _, name := range w.ImportNames(ns) {
			fn, _ := w.Import(ns, name)
			params, results := abi.Signature(fn.ParamTypes(), fn.Results, true)
			want := engine.FuncType{Params: params, Results: results}

			got, _, ok := l.binding(e, ns, name)
			if !ok {
				missing = append(missing, ns+"#"+name)
				continue
			}
			if !got.Equal(want) {
				return errors.Instantiation(errors.SignatureMismatch(ns, name, got.String(), want.String()))
			}
		}
	}

	if len(missing) > 0 {
		return errors.Instantiation(errors.NewMissingImportsError(missing))
	}
	return nil
}

// binding finds the core type of ns#name, first among the linker's
// definitions, then among host modules installed in the engine by others,
// e.g. WASI. The namespace is nil in the second case.
func (l *Linker[D]) binding(e *engine.Engine, ns, name string) (engine.FuncType, *Namespace, bool) {
	if n := l.root.Resolve(ns); n != nil {
		if def := n.Func(name); def != nil {
			return def.Type, n, true
		}
	}

	if hm := e.Runtime().Module(ns); hm != nil {
		if def, ok := hm.ExportedFunctionDefinitions()[name]; ok {
			return engine.FuncType{Params: def.ParamTypes(), Results: def.ResultTypes()}, nil, true
		}
	}
	return engine.FuncType{}, nil, false
}

// buildHostModule exposes ns to guests under name. The namespace is sealed
// afterwards since the host module cannot grow.
func (l *Linker[D]) buildHostModule(ctx context.Context, e *engine.Engine, name string, ns *Namespace) error {
	funcs := ns.Funcs()
	err := e.HostModule(ctx, name, l, func(b wazero.HostModuleBuilder) wazero.HostModuleBuilder {
		for fname, def := range funcs {
			b = b.NewFunctionBuilder().
				WithGoModuleFunction(def.Handler, def.Type.Params, def.Type.Results).
				WithName(fname).
				Export(fname)
		}
		return b
	})
	if err != nil {
		return err
	}
	ns.seal()
	return nil
}

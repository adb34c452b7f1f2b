package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/metrics"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/world"
)

// Option configures New.
type Option func(*options)

type options struct {
	engine  engine.Config
	wasi    wasi.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	world   *world.World
}

// WithEngineConfig replaces engine.DefaultConfig.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) { o.engine = cfg }
}

// WithWASIConfig sets what the guest sees through WASI. Without it the guest
// inherits the process's stdio.
func WithWASIConfig(cfg wasi.Config) Option {
	return func(o *options) { o.wasi = cfg }
}

// WithLogger sets the logger used by the engine, linker and store.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics reports resource and call metrics to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithWorld checks instances against w and lets Instance.Call use its
// export signatures.
func WithWorld(w *world.World) Option {
	return func(o *options) { o.world = w }
}

// Runtime bundles an engine, a linker populated by one provider, and a
// store owning the execution context.
type Runtime[T NestedView[T]] struct {
	engine  *engine.Engine
	linker  *linker.Linker[*RuntimeView[T]]
	store   *store.Store[*RuntimeView[T]]
	logger  *zap.Logger
	metrics *metrics.Collector
	world   *world.World
	closed  atomic.Bool
}

// New builds a runtime. The steps run in a fixed order:
//
//  1. engine, with the component model and async execution enabled by default
//  2. an empty linker
//  3. when withWASI is set, WASI is installed and its namespace reserved
//  4. nested.AddToLinker; its errors are returned unchanged
//  5. the execution context: a fresh table, the WASI context, the provider
//  6. the store
//
// Any failure closes the engine and returns no runtime.
func New[T NestedView[T]](ctx context.Context, withWASI bool, nested T, opts ...Option) (*Runtime[T], error) {
	o := options{
		engine: engine.DefaultConfig(),
		wasi:   wasi.Config{InheritStdio: true},
		logger: Logger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	eng, err := engine.New(ctx, o.engine)
	if err != nil {
		return nil, err
	}
	eng.WithLogger(o.logger)

	fail := func(err error) (*Runtime[T], error) {
		if cerr := eng.Close(ctx); cerr != nil {
			o.logger.Warn("close engine after failed construction", zap.Error(cerr))
		}
		return nil, err
	}

	l := linker.New[*RuntimeView[T]]().WithLogger(o.logger)

	var wc *wasi.Context
	if withWASI {
		if err := wasi.Install(ctx, eng.Runtime()); err != nil {
			return fail(err)
		}
		if err := l.Reserve(wasi.ModuleName, "wasi"); err != nil {
			return fail(errors.CapabilityInstall(wasi.ModuleName, err))
		}
		wc = wasi.NewContext(o.wasi)
	}

	if err := nested.AddToLinker(l); err != nil {
		return fail(err)
	}
	l.Freeze()

	view := newView(wc, nested)

	storeOpts := []store.Option{
		store.WithLogger(o.logger),
		store.WithComponentModel(o.engine.ComponentModel),
	}
	if o.metrics != nil {
		o.metrics.Watch(view.table)
		storeOpts = append(storeOpts, store.WithHooks(o.metrics))
	}

	o.logger.Debug("runtime created",
		zap.Bool("wasi", withWASI),
		zap.Strings("namespaces", l.Namespaces()))

	return &Runtime[T]{
		engine:  eng,
		linker:  l,
		store:   store.New(view, storeOpts...),
		logger:  o.logger,
		metrics: o.metrics,
		world:   o.world,
	}, nil
}

// Engine returns the runtime's engine.
func (r *Runtime[T]) Engine() *engine.Engine {
	return r.engine
}

// Linker returns the frozen linker.
func (r *Runtime[T]) Linker() *linker.Linker[*RuntimeView[T]] {
	return r.linker
}

// Store returns the store.
func (r *Runtime[T]) Store() *store.Store[*RuntimeView[T]] {
	return r.store
}

// World returns the contract given with WithWorld, or nil.
func (r *Runtime[T]) World() *world.World {
	return r.world
}

// Load compiles a core module.
func (r *Runtime[T]) Load(ctx context.Context, data []byte) (*engine.Module, error) {
	return r.engine.Compile(ctx, data)
}

// LoadFile compiles the core module at path.
func (r *Runtime[T]) LoadFile(ctx context.Context, path string) (*engine.Module, error) {
	return r.engine.CompileFile(ctx, path)
}

// Instantiate links mod against the provider's bindings and instantiates
// it in the runtime's store.
func (r *Runtime[T]) Instantiate(ctx context.Context, mod *engine.Module) (*store.Instance[*RuntimeView[T]], error) {
	if r.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	opts := []linker.InstantiateOption{}
	if r.world != nil {
		opts = append(opts, linker.WithWorld(r.world))
	}
	return r.linker.Instantiate(ctx, r.store, mod, opts...)
}

// Close drops every live resource and releases the engine with all its
// instances.
func (r *Runtime[T]) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	view := r.store.Data()
	if r.metrics != nil {
		r.metrics.Unwatch(view.table)
	}
	err := view.Close()
	if eerr := r.engine.Close(ctx); err == nil {
		err = eerr
	}
	return err
}

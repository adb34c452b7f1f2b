package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/metrics"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/world"
)

const helloWorld = `
package example:host;

interface host {
    get-data: func() -> string;
}

world example {
    import host;
    export hello-world: func() -> string;
}
`

type helloHost struct {
	calls int
}

type helloView = *RuntimeView[*helloHost]

func (h *helloHost) AddToLinker(l *linker.Linker[helloView]) error {
	return l.DefineFunc(hostNS, "get-data", func(c *store.Caller[helloView]) string {
		host := c.Data().Nested()
		n := host.calls
		host.calls++
		return fmt.Sprintf("Hello, World! %d", n)
	})
}

type fooResource struct {
	host  *resourceHost
	value string
}

func (f *fooResource) Drop() {
	f.host.drops++
}

type resourceHost struct {
	drops       int
	removeEarly bool
}

type resourceView = *RuntimeView[*resourceHost]

func (h *resourceHost) AddToLinker(l *linker.Linker[resourceView]) error {
	b := linker.NewResource[resourceView, *fooResource](l, resourceNS, "foo-resource")
	if h.removeEarly {
		// hands out a handle that is already gone
		err := l.Define(resourceNS, linker.ConstructorName("foo-resource"), linker.Binding[resourceView]{
			Results: i32s(1),
			Func: func(c *store.Caller[resourceView], stack []uint64) error {
				handle, err := c.Table().InsertTyped(b.TypeID(), &fooResource{host: h, value: "stale"})
				if err != nil {
					return err
				}
				if _, err := c.Table().Remove(handle); err != nil {
					return err
				}
				stack[0] = uint64(handle)
				return nil
			},
		})
		if err != nil {
			return err
		}
	} else {
		b.Constructor(func() *fooResource {
			return &fooResource{host: h, value: "noodles"}
		})
	}
	b.Method("foo", func(r *fooResource) string { return r.value })
	return b.Err()
}

type emptyHost struct{}

func (emptyHost) AddToLinker(*linker.Linker[*RuntimeView[emptyHost]]) error { return nil }

type wasiSquatter struct{}

func (wasiSquatter) AddToLinker(l *linker.Linker[*RuntimeView[wasiSquatter]]) error {
	return l.DefineFunc(wasi.ModuleName, "fd_write", func() {})
}

type scopedHost struct {
	inside int
}

type scopedView = *RuntimeView[*scopedHost]

func (h *scopedHost) AddToLinker(l *linker.Linker[scopedView]) error {
	return l.DefineFunc(hostNS, "scoped", func(c *store.Caller[scopedView]) error {
		if _, err := c.Scope().Insert("temporary"); err != nil {
			return err
		}
		h.inside = c.Table().Len()
		return nil
	})
}

func instantiate[T NestedView[T]](t *testing.T, rt *Runtime[T], wasm []byte) *store.Instance[*RuntimeView[T]] {
	t.Helper()
	ctx := context.Background()
	mod, err := rt.Load(ctx, wasm)
	require.NoError(t, err)
	inst, err := rt.Instantiate(ctx, mod)
	require.NoError(t, err)
	return inst
}

func TestHelloWorld(t *testing.T) {
	ctx := context.Background()
	host := &helloHost{}
	rt, err := New(ctx, true, host)
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, helloGuest())

	got, err := store.Invoke[string](ctx, inst, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! 0", got)

	got, err = store.Invoke[string](ctx, inst, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! 1", got)
	assert.Equal(t, 2, host.calls)
}

func TestHelloWorldWithWorld(t *testing.T) {
	ctx := context.Background()
	w, err := world.Parse(helloWorld)
	require.NoError(t, err)

	rt, err := New(ctx, false, &helloHost{}, WithWorld(w))
	require.NoError(t, err)
	defer rt.Close(ctx)
	assert.Same(t, w, rt.World())

	inst := instantiate(t, rt, helloGuest())
	got, err := inst.Call(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! 0", got)

	f := inst.Go(ctx, "hello-world")
	got, err = f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! 1", got)
}

func TestWorldImportNotBound(t *testing.T) {
	ctx := context.Background()
	w, err := world.Parse(helloWorld)
	require.NoError(t, err)

	rt, err := New(ctx, false, emptyHost{}, WithWorld(w))
	require.NoError(t, err)
	defer rt.Close(ctx)

	mod, err := rt.Load(ctx, trapGuest())
	require.NoError(t, err)
	_, err = rt.Instantiate(ctx, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInstantiation))

	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	assert.Contains(t, missing.Error(), "get-data")
}

func TestSimpleResource(t *testing.T) {
	ctx := context.Background()
	host := &resourceHost{}
	rt, err := New(ctx, true, host)
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, resourceGuest())

	got, err := store.Invoke[string](ctx, inst, "test")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! noodles", got)
	assert.Equal(t, 1, host.drops)
	assert.Equal(t, 0, rt.Store().Data().Table().Len())
}

func TestResourceRemovedBeforeUse(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, true, &resourceHost{removeEarly: true})
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, resourceGuest())

	_, err = store.Invoke[string](ctx, inst, "test")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound), "got %v", err)
	assert.True(t, stderrors.Is(err, resource.ErrNotFound))
	assert.False(t, rt.Store().Poisoned())
}

func TestReservedNamespace(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, true, wasiSquatter{})
	require.Error(t, err)
	assert.Nil(t, rt)
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate), "got %v", err)
}

func TestReservedNamespaceWithoutWASI(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, wasiSquatter{})
	require.NoError(t, err)
	require.NoError(t, rt.Close(ctx))
}

func TestMissingWASIImport(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, emptyHost{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	mod, err := rt.Load(ctx, wasiGuest())
	require.NoError(t, err)

	_, err = rt.Instantiate(ctx, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInstantiation))

	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	assert.Contains(t, missing.Error(), "fd_write")

	// the runtime stays usable for another artifact
	inst := instantiate(t, rt, trapGuest())
	seven, err := store.Invoke[int32](ctx, inst, "seven")
	require.NoError(t, err)
	assert.Equal(t, int32(7), seven)
}

func TestSignatureMismatch(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, &helloHost{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	mod, err := rt.Load(ctx, mismatchGuest())
	require.NoError(t, err)

	_, err = rt.Instantiate(ctx, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInstantiation))
	assert.True(t, errors.IsKind(err, errors.KindSignatureMismatch))
	assert.Contains(t, err.Error(), "get-data")
}

func TestGuestTrap(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, emptyHost{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, trapGuest())

	_, err = store.Invoke[struct{}](ctx, inst, "boom")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGuestTrap))
	assert.True(t, rt.Store().Poisoned())

	_, err = store.Invoke[int32](ctx, inst, "seven")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGuestTrap))

	require.NoError(t, rt.Store().Reset())
	seven, err := store.Invoke[int32](ctx, inst, "seven")
	require.NoError(t, err)
	assert.Equal(t, int32(7), seven)
}

func TestCancellationReleasesScope(t *testing.T) {
	host := &scopedHost{}
	rt, err := New(context.Background(), false, host)
	require.NoError(t, err)
	defer rt.Close(context.Background())

	inst := instantiate(t, rt, spinGuest())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = store.Invoke[struct{}](ctx, inst, "spin")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCanceled), "got %v", err)
	assert.Equal(t, 1, host.inside)
	assert.Equal(t, 0, rt.Store().Data().Table().Len())
	assert.True(t, rt.Store().Poisoned())
}

func TestWASIOutput(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, true, emptyHost{},
		WithWASIConfig(wasi.Config{Args: []string{"guest"}}))
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, wasiGuest())
	errno, err := store.Invoke[int32](ctx, inst, "run")
	require.NoError(t, err)
	assert.Equal(t, int32(0), errno)
	assert.Equal(t, "hi\n", rt.Store().Data().WASI().Stdout())
}

func TestWASIInheritsStdioByDefault(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, true, emptyHost{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.True(t, rt.Store().Data().WASI().Config().InheritStdio)

	captured, err := New(ctx, true, emptyHost{}, WithWASIConfig(wasi.Config{}))
	require.NoError(t, err)
	defer captured.Close(ctx)
	assert.False(t, captured.Store().Data().WASI().Config().InheritStdio)
}

func TestEngineConfigError(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.MemoryLimitPages = engine.MaxMemoryPages + 1

	rt, err := New(context.Background(), true, emptyHost{}, WithEngineConfig(cfg))
	require.Error(t, err)
	assert.Nil(t, rt)
	assert.True(t, errors.IsKind(err, errors.KindEngineConfig))
}

func TestLinkerFrozenAfterNew(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, &helloHost{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	err = rt.Linker().DefineFunc(hostNS, "late", func() {})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLinkFrozen))
}

func TestIndependentRuntimes(t *testing.T) {
	var g errgroup.Group
	results := make([]string, 8)

	for i := range results {
		g.Go(func() error {
			ctx := context.Background()
			rt, err := New(ctx, false, &helloHost{})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			mod, err := rt.Load(ctx, helloGuest())
			if err != nil {
				return err
			}
			inst, err := rt.Instantiate(ctx, mod)
			if err != nil {
				return err
			}
			results[i], err = store.Invoke[string](ctx, inst, "hello-world")
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, r := range results {
		assert.Equal(t, "Hello, World! 0", r)
	}
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	ctx := context.Background()
	host := &helloHost{}
	rt, err := New(ctx, false, host)
	require.NoError(t, err)
	defer rt.Close(ctx)

	inst := instantiate(t, rt, helloGuest())

	const n = 20
	results := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			var err error
			results[i], err = store.Invoke[string](ctx, inst, "hello-world")
			return err
		})
	}
	require.NoError(t, g.Wait())

	want := make([]string, n)
	for i := range want {
		want[i] = fmt.Sprintf("Hello, World! %d", i)
	}
	sort.Strings(want)
	sort.Strings(results)
	assert.Equal(t, want, results)
	assert.Equal(t, n, host.calls)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)

	rt, err := New(ctx, false, &resourceHost{}, WithMetrics(c))
	require.NoError(t, err)

	inst := instantiate(t, rt, resourceGuest())
	_, err = store.Invoke[string](ctx, inst, "test")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wasm_embed_calls_total"])
	assert.True(t, names["wasm_embed_resource_created_total"])
	assert.True(t, names["wasm_embed_resource_dropped_total"])

	require.NoError(t, rt.Close(ctx))
	require.NoError(t, rt.Close(ctx))
}

func TestClosedRuntime(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, false, emptyHost{})
	require.NoError(t, err)

	mod, err := rt.Load(ctx, trapGuest())
	require.NoError(t, err)
	require.NoError(t, rt.Close(ctx))

	_, err = rt.Instantiate(ctx, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotInitialized))
}

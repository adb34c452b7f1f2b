package linker

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/wasi"
	"github.com/wippyai/wasm-embed/world"
)

const counterNS = "test:counter/api@1.0.0"

type testView struct {
	table *resource.Table
	inst  *store.Instance[*testView]
	inits int
}

func (v *testView) Table() *resource.Table { return v.table }

type caller = *store.Caller[*testView]

type counter struct {
	n       uint32
	dropped *int
}

func (c *counter) Drop() { *c.dropped++ }

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = wasmtest.I32
	}
	return out
}

type fixture struct {
	engine *engine.Engine
	linker *Linker[*testView]
	store  *store.Store[*testView]
	view   *testView
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx, engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close(ctx) })

	view := &testView{table: resource.NewTable()}
	return &fixture{
		engine: eng,
		linker: New[*testView](),
		store:  store.New(view),
		view:   view,
	}
}

func (f *fixture) instantiate(t *testing.T, wasm []byte, opts ...InstantiateOption) *store.Instance[*testView] {
	t.Helper()
	ctx := context.Background()
	mod, err := f.engine.Compile(ctx, wasm)
	require.NoError(t, err)
	inst, err := f.linker.Instantiate(ctx, f.store, mod, opts...)
	require.NoError(t, err)
	f.view.inst = inst
	return inst
}

func TestDefineFuncSignature(t *testing.T) {
	l := New[*testView]()
	require.NoError(t, l.DefineFunc("env", "mixed",
		func(c caller, a uint32, s string, f float64) (uint64, error) { return 0, nil }))
	require.NoError(t, l.DefineFunc("env", "ctx",
		func(ctx context.Context, b bool) int32 { return 0 }))
	require.NoError(t, l.DefineFunc("env", "greet", func(name string) string { return name }))

	def, ok := l.Lookup("env", "mixed")
	require.True(t, ok)
	assert.Equal(t, "(i32, i32, i32, f64) -> (i64)", def.Type.String())

	def, ok = l.Lookup("env", "ctx")
	require.True(t, ok)
	assert.Equal(t, "(i32) -> (i32)", def.Type.String())

	def, ok = l.Lookup("env", "greet")
	require.True(t, ok)
	assert.Equal(t, "(i32, i32, i32) -> ()", def.Type.String())

	_, ok = l.Lookup("env", "missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"env"}, l.Namespaces())
}

func TestDefineFuncRejects(t *testing.T) {
	l := New[*testView]()
	tests := []struct {
		name string
		fn   any
	}{
		{"not a function", 42},
		{"nil", nil},
		{"variadic", func(xs ...uint32) {}},
		{"two results", func() (uint32, uint32) { return 0, 0 }},
		{"unsupported param", func(m map[string]int) {}},
		{"unsupported result", func() chan int { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.DefineFunc("env", tt.name, tt.fn)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindRegistration), "got %v", err)
		})
	}
	assert.Empty(t, l.Namespaces())
}

func TestDefineDuplicate(t *testing.T) {
	l := New[*testView]()
	require.NoError(t, l.DefineFunc("env", "f", func() {}))

	err := l.DefineFunc("env", "f", func() {})
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	err = l.Define("env", "f", Binding[*testView]{Func: func(caller, []uint64) error { return nil }})
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	err = l.Define("env", "g", Binding[*testView]{})
	assert.True(t, errors.IsKind(err, errors.KindRegistration))
}

func TestReserve(t *testing.T) {
	l := New[*testView]()
	require.NoError(t, l.Reserve(wasi.ModuleName, "wasi"))

	owner, ok := l.Reserved(wasi.ModuleName)
	assert.True(t, ok)
	assert.Equal(t, "wasi", owner)

	err := l.DefineFunc(wasi.ModuleName, "fd_write", func() {})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))
	assert.Contains(t, err.Error(), "wasi")

	err = l.DefineFunc(wasi.ModuleName+"/nested", "f", func() {})
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	err = l.Reserve(wasi.ModuleName, "other")
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	require.NoError(t, l.DefineFunc("env", "f", func() {}))
	err = l.Reserve("env", "late")
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	_, ok = l.Reserved("env")
	assert.False(t, ok)
}

func TestFreeze(t *testing.T) {
	l := New[*testView]()
	require.NoError(t, l.DefineFunc("env", "f", func() {}))
	l.Freeze()
	assert.True(t, l.Frozen())

	err := l.DefineFunc("env", "g", func() {})
	assert.True(t, errors.IsKind(err, errors.KindLinkFrozen))

	b := NewResource[*testView, *counter](l, "env", "counter")
	assert.True(t, errors.IsKind(b.Err(), errors.KindLinkFrozen))
}

func TestHostError(t *testing.T) {
	structured := errors.NotFound(errors.PhaseHost, "file", "x")
	assert.Same(t, structured, hostError("env", "f", structured))

	err := hostError("env", "f", resource.ErrTransferred)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound))
	assert.True(t, stderrors.Is(err, resource.ErrNotFound))

	err = hostError("env", "f", fmt.Errorf("disk full"))
	assert.True(t, errors.IsKind(err, errors.KindHostCall))
	assert.Contains(t, err.Error(), "disk full")
}

func TestGuard(t *testing.T) {
	err := guard(func() error { panic("boom") })
	assert.EqualError(t, err, "host panic: boom")

	cause := fmt.Errorf("inner")
	err = guard(func() error { panic(cause) })
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, guard(func() error { return nil }))
}

func addGuest() []byte {
	m := wasmtest.New()
	add := m.Import("env", "add", i32s(2), i32s(1))
	m.Func("run", i32s(2), i32s(1), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Call(add))
	return m.Bytes()
}

func TestInstantiateAndCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("env", "add", func(a, b uint32) uint32 { return a + b }))

	inst := f.instantiate(t, addGuest())
	got, err := store.Invoke[uint32](ctx, inst, "run", uint32(2), uint32(3))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got)

	// a second instance reuses the host module
	inst2 := f.instantiate(t, addGuest())
	got, err = store.Invoke[uint32](ctx, inst2, "run", uint32(4), uint32(4))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), got)

	// the namespace is sealed once exposed
	err = f.linker.DefineFunc("env", "sub", func(a, b uint32) uint32 { return a - b })
	assert.True(t, errors.IsKind(err, errors.KindLinkFrozen))
}

func TestHostCallFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("env", "add", func(a, b uint32) (uint32, error) {
		if a == 0 {
			return 0, fmt.Errorf("zero operand")
		}
		if b == 0 {
			panic("zero operand")
		}
		return a + b, nil
	}))
	inst := f.instantiate(t, addGuest())

	_, err := store.Invoke[uint32](ctx, inst, "run", uint32(0), uint32(1))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindHostCall))
	assert.Contains(t, err.Error(), "zero operand")
	assert.False(t, f.store.Poisoned())

	_, err = store.Invoke[uint32](ctx, inst, "run", uint32(1), uint32(0))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindHostCall))
	assert.Contains(t, err.Error(), "host panic")

	got, err := store.Invoke[uint32](ctx, inst, "run", uint32(1), uint32(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got)
}

func TestMissingImports(t *testing.T) {
	f := newFixture(t)
	mod, err := f.engine.Compile(context.Background(), addGuest())
	require.NoError(t, err)

	_, err = f.linker.Instantiate(context.Background(), f.store, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInstantiation))

	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	require.Len(t, missing.Imports, 1)
	assert.Equal(t, "env", missing.Imports[0].Namespace)
	assert.Equal(t, "add", missing.Imports[0].Function)
}

func TestSignatureMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("env", "add", func(a, b uint64) uint64 { return a + b }))
	mod, err := f.engine.Compile(context.Background(), addGuest())
	require.NoError(t, err)

	_, err = f.linker.Instantiate(context.Background(), f.store, mod)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSignatureMismatch))
	assert.Contains(t, err.Error(), "(i64, i64) -> (i64)")
}

func TestSemverImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("test:math/ops@0.2.3", "add", func(a, b uint32) uint32 { return a + b }))

	m := wasmtest.New()
	add := m.Import("test:math/ops@0.2.0", "add", i32s(2), i32s(1))
	m.Func("run", i32s(2), i32s(1), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Call(add))

	inst := f.instantiate(t, m.Bytes())
	got, err := store.Invoke[uint32](ctx, inst, "run", uint32(1), uint32(2))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got)
}

func TestStartFunctionHasCaller(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("env", "init", func(c caller) {
		c.Data().inits++
	}))

	m := wasmtest.New()
	initFn := m.Import("env", "init", nil, nil)
	m.Func(StartFunction, nil, nil, nil, wasmtest.Call(initFn))

	f.instantiate(t, m.Bytes())
	assert.Equal(t, 1, f.view.inits)
}

func TestReentrantCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("env", "reenter", func(c caller, x uint32) (uint32, error) {
		return store.Invoke[uint32](c.Context(), c.Data().inst, "double", x)
	}))

	m := wasmtest.New()
	reenter := m.Import("env", "reenter", i32s(1), i32s(1))
	m.Func("double", i32s(1), i32s(1), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(0), wasmtest.I32Add())
	m.Func("outer", i32s(1), i32s(1), nil,
		wasmtest.LocalGet(0), wasmtest.Call(reenter))

	inst := f.instantiate(t, m.Bytes())
	got, err := store.Invoke[uint32](ctx, inst, "outer", uint32(21))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got)
}

// counterGuest drives the counter resource:
//   - run: new(5), incr twice, drop, return the last count
//   - double-drop: new(1), drop twice
//   - drop-moved: new(1), move, drop the old handle
//   - drop-moved-after-new: new(1), move, new(2), drop the old handle
func counterGuest() []byte {
	m := wasmtest.New()
	ctor := m.Import(counterNS, ConstructorName("counter"), i32s(1), i32s(1))
	incr := m.Import(counterNS, MethodName("counter", "incr"), i32s(1), i32s(1))
	drop := m.Import(counterNS, DropName("counter"), i32s(1), nil)
	move := m.Import("env", "move", i32s(1), nil)

	m.Func("run", nil, i32s(1), i32s(2),
		wasmtest.I32Const(5), wasmtest.Call(ctor), wasmtest.LocalSet(0),
		wasmtest.LocalGet(0), wasmtest.Call(incr), wasmtest.Drop(),
		wasmtest.LocalGet(0), wasmtest.Call(incr), wasmtest.LocalSet(1),
		wasmtest.LocalGet(0), wasmtest.Call(drop),
		wasmtest.LocalGet(1),
	)
	m.Func("double-drop", nil, nil, i32s(1),
		wasmtest.I32Const(1), wasmtest.Call(ctor), wasmtest.LocalSet(0),
		wasmtest.LocalGet(0), wasmtest.Call(drop),
		wasmtest.LocalGet(0), wasmtest.Call(drop),
	)
	m.Func("drop-moved", nil, nil, i32s(1),
		wasmtest.I32Const(1), wasmtest.Call(ctor), wasmtest.LocalSet(0),
		wasmtest.LocalGet(0), wasmtest.Call(move),
		wasmtest.LocalGet(0), wasmtest.Call(drop),
	)
	m.Func("drop-moved-after-new", nil, nil, i32s(1),
		wasmtest.I32Const(1), wasmtest.Call(ctor), wasmtest.LocalSet(0),
		wasmtest.LocalGet(0), wasmtest.Call(move),
		wasmtest.I32Const(2), wasmtest.Call(ctor), wasmtest.Drop(),
		wasmtest.LocalGet(0), wasmtest.Call(drop),
	)
	return m.Bytes()
}

func defineCounter(t *testing.T, f *fixture, dropped *int, customDrops *int) {
	t.Helper()
	b := NewResource[*testView, *counter](f.linker, counterNS, "counter").
		Constructor(func(start uint32) *counter { return &counter{n: start, dropped: dropped} }).
		Method("incr", func(c *counter) uint32 {
			c.n++
			return c.n
		}).
		Drop(func(_ caller, c *counter) error {
			*customDrops++
			return nil
		})
	require.NoError(t, b.Err())
	assert.NotZero(t, b.TypeID())

	require.NoError(t, f.linker.DefineFunc("env", "move", func(c caller, h resource.Handle) error {
		_, err := c.Table().Take(h)
		return err
	}))
}

func TestResourceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var dropped, custom int
	defineCounter(t, f, &dropped, &custom)

	def, ok := f.linker.Lookup(counterNS, ConstructorName("counter"))
	require.True(t, ok)
	assert.Equal(t, "(i32) -> (i32)", def.Type.String())
	def, ok = f.linker.Lookup(counterNS, DropName("counter"))
	require.True(t, ok)
	assert.Equal(t, "(i32) -> ()", def.Type.String())

	inst := f.instantiate(t, counterGuest())

	got, err := store.Invoke[uint32](ctx, inst, "run")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, custom)
	assert.Equal(t, 0, f.view.table.Len())
}

func TestResourceDoubleDrop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var dropped, custom int
	defineCounter(t, f, &dropped, &custom)
	inst := f.instantiate(t, counterGuest())

	_, err := store.Invoke[struct{}](ctx, inst, "double-drop")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindResourceNotFound), "got %v", err)
	assert.Equal(t, 1, dropped)
}

func TestResourceDropAfterMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var dropped, custom int
	defineCounter(t, f, &dropped, &custom)
	inst := f.instantiate(t, counterGuest())

	_, err := store.Invoke[struct{}](ctx, inst, "drop-moved")
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, f.view.table.Len())
}

func TestResourceDropAfterMoveAndInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var dropped, custom int
	defineCounter(t, f, &dropped, &custom)
	inst := f.instantiate(t, counterGuest())

	_, err := store.Invoke[struct{}](ctx, inst, "drop-moved-after-new")
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 0, custom)
	assert.Equal(t, 2, f.view.table.Len())
}

func TestResourceBuilderRejects(t *testing.T) {
	l := New[*testView]()

	b := NewResource[*testView, *counter](l, "env", "a").
		Constructor(func() uint32 { return 0 })
	assert.True(t, errors.IsKind(b.Err(), errors.KindInvalidInput))

	b = NewResource[*testView, *counter](l, "env", "b").
		Method("m", func(x uint32) {})
	assert.True(t, errors.IsKind(b.Err(), errors.KindInvalidInput))

	b = NewResource[*testView, *counter](l, "env", "c").
		Static("s", func() uint32 { return 1 })
	assert.NoError(t, b.Err())
	_, ok := l.Lookup("env", StaticName("c", "s"))
	assert.True(t, ok)

	b = NewResource[*testView, *counter](l, "env", "c")
	assert.True(t, errors.IsKind(b.Err(), errors.KindLinkDuplicate))
}

func TestWorldCheck(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.linker.DefineFunc("example:host/host", "get-data", func() string { return "x" }))

	w, err := world.Parse(`
package example:host;
interface host {
    get-data: func() -> string;
    get-count: func() -> u32;
}
world example {
    import host;
}
`)
	require.NoError(t, err)

	m := wasmtest.New()
	m.Func("noop", nil, nil, nil)
	mod, err := f.engine.Compile(context.Background(), m.Bytes())
	require.NoError(t, err)

	_, err = f.linker.Instantiate(context.Background(), f.store, mod, WithWorld(w))
	require.Error(t, err)
	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	require.Len(t, missing.Imports, 1)
	assert.Equal(t, "get-count", missing.Imports[0].Function)
}

package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/errors"
)

const simpleComponent = `
package example:host;

// Host-provided data
interface host {
    get-data: func() -> string;
}

world example {
    import host;
    export hello-world: func() -> string;
}
`

const simpleResource = `
package component:simple-resource@0.1.0;

interface some-resource {
    resource foo-resource {
        constructor();
        foo: func() -> string;
        create: static func(seed: u32) -> foo-resource;
    }
}

world resource-world {
    import some-resource;
    export test: func() -> string;
    export sum: func(values: list<u32>, bias: s64) -> u64;
}
`

func TestParse_SimpleComponent(t *testing.T) {
	w, err := Parse(simpleComponent)
	require.NoError(t, err)

	assert.Equal(t, "example:host", w.Package)
	assert.Equal(t, "example", w.Name)
	assert.Equal(t, []string{"hello-world"}, w.ExportNames())
	assert.Equal(t, []string{"example:host/host"}, w.ImportNamespaces())

	hello, ok := w.Export("hello-world")
	require.True(t, ok)
	assert.Empty(t, hello.Params)
	assert.Equal(t, []wit.Type{wit.String{}}, hello.Results)
	assert.Equal(t, "hello-world: func() -> string", hello.String())

	getData, ok := w.Import("example:host/host", "get-data")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.String{}}, getData.Results)

	_, ok = w.Import("example:host/host", "missing")
	assert.False(t, ok)
	_, ok = w.Import("other", "get-data")
	assert.False(t, ok)
}

func TestParse_Resources(t *testing.T) {
	w, err := Parse(simpleResource)
	require.NoError(t, err)

	ns := "component:simple-resource/some-resource@0.1.0"
	assert.Equal(t, ns, w.Namespace("some-resource"))

	iface := w.Interfaces["some-resource"]
	require.NotNil(t, iface)
	assert.Equal(t, []string{"foo-resource"}, iface.Resources)

	ctor, ok := w.Import(ns, "[constructor]foo-resource")
	require.True(t, ok)
	assert.Empty(t, ctor.Params)
	assert.Equal(t, []wit.Type{wit.U32{}}, ctor.Results)

	method, ok := w.Import(ns, "[method]foo-resource.foo")
	require.True(t, ok)
	require.Len(t, method.Params, 1)
	assert.Equal(t, "self", method.Params[0].Name)
	assert.Equal(t, []wit.Type{wit.String{}}, method.Results)

	static, ok := w.Import(ns, "[static]foo-resource.create")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.U32{}}, static.ParamTypes())
	assert.Equal(t, []wit.Type{wit.U32{}}, static.Results)

	drop, ok := w.Import(ns, "[resource-drop]foo-resource")
	require.True(t, ok)
	assert.Len(t, drop.Params, 1)
	assert.Empty(t, drop.Results)

	sum, ok := w.Export("sum")
	require.True(t, ok)
	assert.Equal(t, "sum: func(values: list<u32>, bias: s64) -> u64", sum.String())
}

func TestParse_InterfaceExport(t *testing.T) {
	w, err := Parse(`
package example:calc;
interface ops {
    add: func(a: u32, b: u32) -> u32;
}
world calc {
    export ops;
}
`)
	require.NoError(t, err)

	add, ok := w.Export("example:calc/ops#add")
	require.True(t, ok)
	assert.Len(t, add.Params, 2)
}

func TestParse_NoWorld(t *testing.T) {
	w, err := Parse(`
package example:host;
interface host { get-data: func() -> string; }
`)
	require.NoError(t, err)
	_, ok := w.Import("example:host/host", "get-data")
	assert.True(t, ok)
}

func TestParse_RootImports(t *testing.T) {
	w, err := Parse(`
package example:app;
world app {
    import log: func(msg: string);
    export run: func();
}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{RootNamespace}, w.ImportNamespaces())

	log, ok := w.Import(RootNamespace, "log")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.String{}}, log.ParamTypes())
	assert.Equal(t, []string{"run"}, w.ExportNames())
}

func TestParse_SkipsUnsupportedTypes(t *testing.T) {
	w, err := Parse(`
package example:host;
interface host {
    pair: func(p: tuple<u32, u32>);
    count: func() -> u32;
}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, w.ImportNames("example:host/host"))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = Parse("package a:b; interface host { get-data: func() -> string;")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = Parse("package a:b; interface host { f: func(x: own<nope>); }")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	w := New("example:host", "example")
	w.AddImport("example:host/host", &Func{Name: "get-data", Results: []wit.Type{wit.String{}}})
	w.AddImport("example:host/host", DropFunc("greeter"))
	w.AddExport("hello-world", &Func{Name: "hello-world", Results: []wit.Type{wit.String{}}})

	assert.Equal(t, []string{"[resource-drop]greeter", "get-data"}, w.ImportNames("example:host/host"))
	drop, ok := w.Import("example:host/host", "[resource-drop]greeter")
	require.True(t, ok)
	assert.Equal(t, "[resource-drop]greeter: func(self: u32)", drop.String())
	assert.Equal(t, []string{"hello-world"}, w.ExportNames())
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.wit")
	require.NoError(t, os.WriteFile(path, []byte(simpleComponent), 0o600))

	w, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "example", w.Name)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.wit"))
	assert.True(t, errors.IsKind(err, errors.KindInvalidData))
}

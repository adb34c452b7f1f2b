package component

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/world"
)

func TestWorld(t *testing.T) {
	c, err := Decode(runComponent().Export("run", wasmtest.SortFunc, 1).Bytes())
	require.NoError(t, err)

	w := c.World()
	assert.Equal(t, []string{"host:api/get"}, w.ImportNamespaces())
	get, ok := w.Import("host:api/get", "get")
	require.True(t, ok)
	assert.Empty(t, get.Params)
	assert.Equal(t, []wit.Type{wit.U32{}}, get.Results)

	assert.Equal(t, []string{"run"}, w.ExportNames())
	run, ok := w.Export("run")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.U32{}}, run.Results)

	ns, name, err := c.ImportedFunc(0)
	require.NoError(t, err)
	assert.Equal(t, "host:api/get", ns)
	assert.Equal(t, "get", name)
}

func TestImportedFunc_Root(t *testing.T) {
	data := wasmtest.NewComponent().
		Type(wasmtest.FuncType([]wasmtest.Param{{Name: "msg", Type: wasmtest.String}}, nil)).
		ImportFunc("log", 0).
		Bytes()
	c, err := Decode(data)
	require.NoError(t, err)

	ns, name, err := c.ImportedFunc(0)
	require.NoError(t, err)
	assert.Equal(t, world.RootNamespace, ns)
	assert.Equal(t, "log", name)

	fn, ok := c.World().Import(world.RootNamespace, "log")
	require.True(t, ok)
	require.Len(t, fn.Params, 1)
	assert.Equal(t, "msg", fn.Params[0].Name)
	assert.Equal(t, wit.String{}, fn.Params[0].Type)
}

func TestLifts_InstanceExport(t *testing.T) {
	// instance 1 gathers lifted func 1 as run
	items := []byte{0x01, 0x01, 0x01, 0x00, 0x03, 'r', 'u', 'n', wasmtest.SortFunc, 0x01}
	data := runComponent().
		Raw(sectionInstance, items).
		Export("my:pkg/iface", wasmtest.SortInstance, 1).
		Bytes()
	c, err := Decode(data)
	require.NoError(t, err)

	lifts := c.Lifts()
	require.Len(t, lifts, 1)
	assert.Equal(t, "my:pkg/iface#run", lifts[0].Name)
	assert.NoError(t, lifts[0].Err)
	require.NotNil(t, lifts[0].Func)
	assert.Equal(t, uint32(1), lifts[0].Func.Core)

	_, ok := c.World().Export("my:pkg/iface#run")
	assert.True(t, ok)
}

func TestLifts_UnsupportedType(t *testing.T) {
	tuple := []byte{0x6f, 0x02, 0x79, 0x79}
	data := runComponent().
		Type(tuple).
		Type(wasmtest.FuncType(nil, wasmtest.Index(2))).
		Lift(1, 3).
		Export("run", wasmtest.SortFunc, 1).
		Export("pair", wasmtest.SortFunc, 2).
		Bytes()
	c, err := Decode(data)
	require.NoError(t, err)

	lifts := c.Lifts()
	require.Len(t, lifts, 2)
	assert.Equal(t, "pair", lifts[0].Name)
	assert.True(t, errors.Is(lifts[0].Err, ErrUnsupported), "got %v", lifts[0].Err)
	assert.Equal(t, "run", lifts[1].Name)
	assert.NoError(t, lifts[1].Err)

	assert.Equal(t, []string{"run"}, c.World().ExportNames())
}

func TestResourceOf(t *testing.T) {
	const ns = "test:counter/api"
	data := wasmtest.NewComponent().
		Type(wasmtest.InstanceType(
			wasmtest.ExportResource("counter"),
			wasmtest.TypeDecl(wasmtest.Own(0)),
			wasmtest.TypeDecl(wasmtest.FuncType(nil, wasmtest.Index(1))),
			wasmtest.ExportFunc("[constructor]counter", 2),
		)).
		ImportInstance(ns, 0).
		AliasExport(wasmtest.SortType, 0, "counter").
		ResourceDrop(1).
		Bytes()
	c, err := Decode(data)
	require.NoError(t, err)

	res, err := c.ResourceOf(1)
	require.NoError(t, err)
	assert.Equal(t, Resource{Namespace: ns, Name: "counter"}, res)

	_, err = c.ResourceOf(0)
	assert.Error(t, err)

	w := c.World()
	ctor, ok := w.Import(ns, "[constructor]counter")
	require.True(t, ok)
	assert.Equal(t, []wit.Type{wit.U32{}}, ctor.Results)
	drop, ok := w.Import(ns, world.DropFunc("counter").Name)
	require.True(t, ok)
	require.Len(t, drop.Params, 1)
}

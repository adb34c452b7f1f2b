package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/internal/wasmtest"
)

func TestCoreImports(t *testing.T) {
	m := wasmtest.New()
	m.Import("host", "get", nil, []api.ValueType{wasmtest.I32})
	m.ImportMemory("env", "memory", 1)
	m.Func("run", nil, nil, nil)

	imports, err := CoreImports(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []CoreImport{
		{Module: "host", Name: "get", Kind: ImportFunc},
		{Module: "env", Name: "memory", Kind: ImportMemory},
	}, imports)
}

func TestRewriteImports(t *testing.T) {
	m := wasmtest.New()
	m.Import("host", "get", nil, []api.ValueType{wasmtest.I32})
	m.ImportMemory("env", "memory", 1)
	m.Func("run", nil, []api.ValueType{wasmtest.I32}, nil, wasmtest.I32Const(1))
	original := m.Bytes()

	out, err := RewriteImports(original, func(imp CoreImport) (string, string, error) {
		if imp.Module == "host" {
			return "component#1/lower0", "lowered", nil
		}
		return imp.Module, imp.Name, nil
	})
	require.NoError(t, err)

	imports, err := CoreImports(out)
	require.NoError(t, err)
	assert.Equal(t, []CoreImport{
		{Module: "component#1/lower0", Name: "lowered", Kind: ImportFunc},
		{Module: "env", Name: "memory", Kind: ImportMemory},
	}, imports)

	// identity rename reproduces the module
	same, err := RewriteImports(original, func(imp CoreImport) (string, string, error) {
		return imp.Module, imp.Name, nil
	})
	require.NoError(t, err)
	assert.Equal(t, original, same)
}

func TestRewriteImports_Rejects(t *testing.T) {
	_, err := RewriteImports([]byte("not wasm"), nil)
	assert.Error(t, err)

	_, err = CoreImports(wasmtest.NewComponent().Bytes())
	assert.Error(t, err)

	m := wasmtest.New()
	m.Import("host", "get", nil, nil)
	data := m.Bytes()
	_, err = CoreImports(data[:len(data)-2])
	assert.Error(t, err)
}

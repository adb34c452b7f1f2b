package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/internal/wasmtest"
)

const guestWIT = `
package example:guest;

world guest {
    export add: func(a: u32, b: u32) -> u32;
}
`

func writeGuest(t *testing.T) string {
	t.Helper()
	i32 := wasmtest.I32
	m := wasmtest.New()
	info := m.Import(logNamespace, "info", []api.ValueType{i32, i32}, nil)
	m.Memory(1, "memory")
	m.Data(16, []byte("hello"))
	m.Func("run", nil, nil, nil,
		wasmtest.I32Const(16), wasmtest.I32Const(5), wasmtest.Call(info))
	m.Func("add", []api.ValueType{i32, i32}, []api.ValueType{i32}, nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.I32Add())
	m.Func("_initialize", nil, nil, nil)
	m.WithRealloc()

	path := filepath.Join(t.TempDir(), "guest.wasm")
	require.NoError(t, os.WriteFile(path, m.Bytes(), 0o600))
	return path
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in      string
		typ     wit.Type
		want    any
		wantErr bool
	}{
		{"hi", wit.String{}, "hi", false},
		{"true", wit.Bool{}, true, false},
		{"x", wit.Char{}, 'x', false},
		{"xy", wit.Char{}, nil, true},
		{"0x10", wit.U32{}, uint64(16), false},
		{"-3", wit.S32{}, int64(-3), false},
		{"-3", wit.U8{}, nil, true},
		{"1.5", wit.F64{}, 1.5, false},
		{"1.5", wit.F32{}, float32(1.5), false},
	}
	for _, tt := range tests {
		t.Run(tt.in+"/"+abiName(tt.typ), func(t *testing.T) {
			got, err := parseArg(tt.in, tt.typ)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func abiName(t wit.Type) string {
	return funcInfo{name: "f", params: []paramInfo{{name: "a", typ: t}}}.String()
}

func TestParseArgsCount(t *testing.T) {
	f := funcInfo{name: "add", params: []paramInfo{{name: "a", typ: wit.S32{}}, {name: "b", typ: wit.S32{}}}}
	_, err := f.parseArgs([]string{"1"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = f.parseArgs([]string{"1", "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add.b")
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	s, err := openSession(ctx, config.Default(), zap.New(core), writeGuest(t))
	require.NoError(t, err)
	defer s.Close(ctx)

	var names []string
	for _, f := range s.funcs {
		names = append(names, f.name)
	}
	assert.Equal(t, []string{"add", "run"}, names)
	assert.Equal(t, "add(arg0: s32, arg1: s32) -> s32", s.funcs[0].String())

	f, err := s.pick("")
	require.NoError(t, err)
	assert.Equal(t, "run", f.name)

	_, err = s.call(ctx, f, nil)
	require.NoError(t, err)
	entries := logs.FilterMessage("hello").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "guest", entries[0].LoggerName)

	f, err = s.pick("add")
	require.NoError(t, err)
	sum, err := s.call(ctx, f, []string{"2", "40"})
	require.NoError(t, err)
	assert.Equal(t, int32(42), sum)

	_, err = s.pick("missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSessionWithWorld(t *testing.T) {
	ctx := context.Background()
	witPath := filepath.Join(t.TempDir(), "guest.wit")
	require.NoError(t, os.WriteFile(witPath, []byte(guestWIT), 0o600))

	cfg := config.Default()
	cfg.World = witPath
	s, err := openSession(ctx, cfg, zap.NewNop(), writeGuest(t))
	require.NoError(t, err)
	defer s.Close(ctx)

	f, err := s.pick("add")
	require.NoError(t, err)
	assert.Equal(t, "add(a: u32, b: u32) -> u32", f.String())

	sum, err := s.call(ctx, f, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), sum)
}

func TestRootCommandList(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--list", writeGuest(t)})
	cmd.SetContext(context.Background())
	assert.NoError(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

package runtime

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/internal/wasmtest"
	"github.com/wippyai/wasm-embed/wasi"
)

const (
	hostNS     = "example:host/host"
	resourceNS = "component:simple-resource/some-resource"
)

var i32 = wasmtest.I32

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// helloGuest calls get-data into a return area at 16 and returns it.
func helloGuest() []byte {
	m := wasmtest.New()
	getData := m.Import(hostNS, "get-data", i32s(1), nil)
	m.WithRealloc()
	m.Func("hello-world", nil, i32s(1), nil,
		wasmtest.I32Const(16),
		wasmtest.Call(getData),
		wasmtest.I32Const(16),
	)
	return m.Bytes()
}

// resourceGuest constructs a foo-resource, calls foo on it, and returns
// "Hello, World! " followed by foo's result. The handle is dropped before
// returning.
func resourceGuest() []byte {
	m := wasmtest.New()
	ctor := m.Import(resourceNS, "[constructor]foo-resource", nil, i32s(1))
	foo := m.Import(resourceNS, "[method]foo-resource.foo", i32s(2), nil)
	drop := m.Import(resourceNS, "[resource-drop]foo-resource", i32s(1), nil)
	m.WithRealloc()
	m.Data(0, []byte("Hello, World! "))
	m.Func("test", nil, i32s(1), i32s(1),
		wasmtest.Call(ctor),
		wasmtest.LocalSet(0),

		wasmtest.LocalGet(0),
		wasmtest.I32Const(32),
		wasmtest.Call(foo),

		// prefix
		wasmtest.I32Const(1024),
		wasmtest.I32Const(0),
		wasmtest.I32Const(14),
		wasmtest.MemoryCopy(),

		// foo's string
		wasmtest.I32Const(1038),
		wasmtest.I32Const(32),
		wasmtest.I32Load(0),
		wasmtest.I32Const(32),
		wasmtest.I32Load(4),
		wasmtest.MemoryCopy(),

		// result (1024, len+14) at 48
		wasmtest.I32Const(48),
		wasmtest.I32Const(1024),
		wasmtest.I32Store(0),
		wasmtest.I32Const(52),
		wasmtest.I32Const(32),
		wasmtest.I32Load(4),
		wasmtest.I32Const(14),
		wasmtest.I32Add(),
		wasmtest.I32Store(0),

		wasmtest.LocalGet(0),
		wasmtest.Call(drop),
		wasmtest.I32Const(48),
	)
	return m.Bytes()
}

// trapGuest exports boom, which traps, and seven, which returns 7.
func trapGuest() []byte {
	m := wasmtest.New()
	m.Func("boom", nil, nil, nil, wasmtest.Unreachable())
	m.Func("seven", nil, i32s(1), nil, wasmtest.I32Const(7))
	return m.Bytes()
}

// spinGuest calls scoped once and then loops forever.
func spinGuest() []byte {
	m := wasmtest.New()
	scoped := m.Import(hostNS, "scoped", nil, nil)
	m.Func("spin", nil, nil, nil,
		wasmtest.Call(scoped),
		wasmtest.Loop(),
	)
	return m.Bytes()
}

// wasiGuest writes "hi\n" to stdout.
func wasiGuest() []byte {
	m := wasmtest.New()
	fdWrite := m.Import(wasi.ModuleName, "fd_write", i32s(4), i32s(1))
	m.Memory(1, "memory")
	m.Data(128, []byte("hi\n"))
	m.Func("run", nil, i32s(1), nil,
		wasmtest.Store32(64, 128),
		wasmtest.Store32(68, 3),
		wasmtest.I32Const(1),
		wasmtest.I32Const(64),
		wasmtest.I32Const(1),
		wasmtest.I32Const(96),
		wasmtest.Call(fdWrite),
	)
	return m.Bytes()
}

// mismatchGuest imports get-data with the wrong core type.
func mismatchGuest() []byte {
	m := wasmtest.New()
	m.Import(hostNS, "get-data", nil, i32s(1))
	m.Func("noop", nil, nil, nil)
	return m.Bytes()
}

// Package wasmembed is a host-side embedding layer for sandboxed WebAssembly
// guests built against a component-model world.
//
// A guest declares the interfaces it imports and exports. The host supplies an
// implementation for every import through a capability provider and may hand
// host-owned objects (resources) to the guest as opaque handles.
//
// # Architecture Overview
//
//	wasmembed/        Root package with the guest Memory and Allocator interfaces
//	├── runtime/      Runtime orchestration: Engine + Linker + Store in one object
//	├── engine/       Compiled-code engine on wazero (component model + async)
//	├── linker/       Import registry keyed by (interface, name)
//	├── store/        Per-session Store, Caller and Instance
//	├── resource/     Handle table with generation-tagged handles
//	├── abi/          Canonical ABI lifting and lowering for host bindings
//	├── wasi/         Optional OS-capability layer (wasi_snapshot_preview1)
//	├── world/        WIT world signatures for typed exports
//	├── metrics/      Prometheus collectors for tables and invocations
//	├── config/       YAML configuration for the run command
//	├── errors/       Structured error taxonomy
//	└── cmd/run/      CLI that runs a guest export, optionally in a terminal UI
//
// # Quick Start
//
//	type Greeter struct{ count int }
//
//	func (g *Greeter) AddToLinker(l *linker.Linker[*runtime.RuntimeView[*Greeter]]) error {
//	    return l.DefineFunc("example:host/host", "get-data",
//	        func(c *store.Caller[*runtime.RuntimeView[*Greeter]]) string {
//	            g := c.Data().Nested()
//	            defer func() { g.count++ }()
//	            return fmt.Sprintf("Hello, World! %d", g.count)
//	        })
//	}
//
//	rt, err := runtime.New(ctx, true, &Greeter{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, _ := rt.LoadFile(ctx, "guest.wasm")
//	inst, _ := rt.Instantiate(ctx, mod)
//	msg, err := store.Invoke[string](ctx, inst, "hello-world")
//
// # Thread Safety
//
// Engine and a frozen Linker are safe for concurrent use. A Store runs at most
// one guest invocation at a time; independent Runtimes run fully in parallel.
package wasmembed

// Package runtime assembles an embedding of WebAssembly guests: an engine,
// a linker populated by one capability provider, and a store holding the
// execution context the provider's bindings work against.
//
// # Quick Start
//
//	type Host struct{ calls int }
//
//	func (h *Host) AddToLinker(l *linker.Linker[*runtime.RuntimeView[*Host]]) error {
//		return l.DefineFunc("example:host/host", "get-data",
//			func(c *store.Caller[*runtime.RuntimeView[*Host]]) string {
//				c.Data().Nested().calls++
//				return "Hello, World!"
//			})
//	}
//
//	rt, err := runtime.New(ctx, true, &Host{})
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.LoadFile(ctx, "guest.wasm")
//	if err != nil {
//		return err
//	}
//	inst, err := rt.Instantiate(ctx, mod)
//	if err != nil {
//		return err
//	}
//	greeting, err := store.Invoke[string](ctx, inst, "hello-world")
//
// # Construction
//
// New runs its steps in a fixed order and never returns a partial runtime:
// the engine is closed whenever a later step fails. WASI, when requested,
// is installed before the provider registers, so a provider binding inside
// wasi_snapshot_preview1 fails with KindLinkDuplicate. The linker is frozen
// once the provider has registered.
//
// # Execution Context
//
// RuntimeView is the store data. Bindings reach the resource table with
// Table, the WASI context with WASI and the provider with Nested, through
// the Caller they are handed. Access through a Caller is exclusive for the
// duration of the call.
package runtime

// Package engine wraps wazero as the executor for guest code.
//
// An Engine compiles core wasm modules and owns the wazero runtime they are
// instantiated in. Host modules are instantiated once per engine through
// HostModule; guest instances are created by the linker package.
//
//	e, err := engine.New(ctx, engine.DefaultConfig())
//	mod, err := e.CompileFile(ctx, "guest.wasm")
//	for _, imp := range mod.Imports() {
//	    fmt.Println(imp.Module, imp.Name, imp.Type)
//	}
//
// # Configuration
//
// ComponentModel turns on canonical ABI call conventions (post-return and
// cabi_realloc). Async makes cancellation of the call context interrupt
// running guest code. Invalid configurations fail with KindEngineConfig.
//
// Component-layer binaries are rejected; decomposing a component into its
// core module happens before it reaches this package.
package engine

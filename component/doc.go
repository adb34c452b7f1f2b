// Package component decodes WebAssembly component binaries.
//
// Decode walks the sections of a component in order and rebuilds its index
// spaces: embedded core modules, core instances and the core functions,
// memories, tables and globals aliased out of them, plus the component-level
// types, functions and instances. The result describes how a component wires
// its core modules together; the linker package turns it into running core
// instances.
//
// Only the subset of the component model that a single-component guest
// produced by wasm-tools needs is understood: nested components, component
// instantiation, start functions and the async canonical built-ins are
// rejected with an error.
package component

// Package linker binds host functions to the imports of guest modules.
//
// Bindings are keyed by namespace and name. Namespaces are import module
// names such as "env" or "wasi:io/streams@0.2.0" and live in a tree, so an
// import of a versioned interface resolves to the highest compatible
// version defined:
//
//	l := linker.New[*MyView]()
//	err := l.DefineFunc("example:host/host", "get-data",
//		func(c *store.Caller[*MyView]) string { return "data" })
//
// DefineFunc converts Go parameters and results through the canonical ABI.
// Define takes a raw stack-based function for full control.
//
// # Resources
//
// NewResource defines the imports of a resource type whose values stay on
// the host, in the caller's resource table:
//
//	linker.NewResource[*MyView, *File](l, "example:fs/files", "file").
//		Constructor(func(path string) (*File, error) { return open(path) }).
//		Method("read", func(f *File, n uint32) ([]byte, error) { return f.Read(n) }).
//		Err()
//
// # Conflicts
//
// Defining the same namespace and name twice fails with KindLinkDuplicate,
// as does defining inside a namespace claimed with Reserve. Once Freeze is
// called, or once a namespace has been exposed to a guest, further
// definitions fail with KindLinkFrozen.
//
// # Instantiation
//
// Instantiate checks every import of a module before running anything. An
// unbound import is reported in a MissingImportsError, a bound one with a
// different core type as KindSignatureMismatch, both wrapped in
// KindInstantiation. Imports may also be served by host modules installed
// in the engine outside the linker, such as WASI.
package linker

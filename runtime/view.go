package runtime

import (
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/wasi"
)

// NestedView is a capability provider: a host-side value that registers
// bindings for the interfaces it implements. Its state lives on the value
// itself and is reached from bindings through RuntimeView.Nested.
type NestedView[T any] interface {
	AddToLinker(l *linker.Linker[*RuntimeView[T]]) error
}

// RuntimeView is the execution context of a runtime: the resource table,
// the WASI context when WASI is installed, and the provider.
type RuntimeView[T any] struct {
	table  *resource.Table
	wasi   *wasi.Context
	nested T
}

func newView[T any](wc *wasi.Context, nested T) *RuntimeView[T] {
	return &RuntimeView[T]{
		table:  resource.NewTable(),
		wasi:   wc,
		nested: nested,
	}
}

// Table returns the resource table.
func (v *RuntimeView[T]) Table() *resource.Table {
	return v.table
}

// WASI returns the WASI context, or nil when WASI is not installed.
func (v *RuntimeView[T]) WASI() *wasi.Context {
	return v.wasi
}

// Nested returns the provider.
func (v *RuntimeView[T]) Nested() T {
	return v.nested
}

// Close drops every live resource and the WASI context.
func (v *RuntimeView[T]) Close() error {
	err := v.table.Close()
	if v.wasi != nil {
		if werr := v.wasi.Close(); err == nil {
			err = werr
		}
	}
	return err
}

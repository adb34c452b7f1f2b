package linker

import (
	stderrors "errors"
	"reflect"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/store"
)

// ResourceBuilder defines the imports of one resource type whose values
// are Go values of type R kept in the caller's resource table.
//
// Guests see handles. The constructor inserts its result and returns the
// handle; methods resolve their receiver from a borrowed handle;
// [resource-drop] removes the entry and runs R's Drop if it has one.
//
// Builder methods record the first failure, reported by Err.
type ResourceBuilder[D store.View, R any] struct {
	linker *Linker[D]
	drop   func(*store.Caller[D], R) error
	err    error
	ns     string
	name   string
	typeID uint32
}

// NewResource starts the definition of resource name in ns and defines its
// [resource-drop] import.
func NewResource[D store.View, R any](l *Linker[D], ns, name string) *ResourceBuilder[D, R] {
	b := &ResourceBuilder[D, R]{
		linker: l,
		ns:     ns,
		name:   name,
		typeID: l.nextTypeID(),
	}
	b.fail(l.define(ns, DropName(name), Binding[D]{
		Params: i32Params,
		Func:   b.dropHandle,
	}))
	return b
}

// TypeID returns the tag under which the resource's values are stored.
func (b *ResourceBuilder[D, R]) TypeID() uint32 {
	return b.typeID
}

// Constructor defines [constructor]name. fn must return R, optionally
// followed by an error.
func (b *ResourceBuilder[D, R]) Constructor(fn any) *ResourceBuilder[D, R] {
	h, err := analyzeFor[D](fn, roleConstructor, reflect.TypeFor[R](), b.typeID)
	if err == nil {
		err = b.linker.defineHost(b.ns, ConstructorName(b.name), h)
	}
	return b.fail(err)
}

// Method defines [method]name.method. The first value parameter of fn
// receives the resource value.
func (b *ResourceBuilder[D, R]) Method(method string, fn any) *ResourceBuilder[D, R] {
	h, err := analyzeFor[D](fn, roleMethod, reflect.TypeFor[R](), b.typeID)
	if err == nil {
		err = b.linker.defineHost(b.ns, MethodName(b.name, method), h)
	}
	return b.fail(err)
}

// Static defines [static]name.method.
func (b *ResourceBuilder[D, R]) Static(method string, fn any) *ResourceBuilder[D, R] {
	h, err := analyze[D](fn)
	if err == nil {
		err = b.linker.defineHost(b.ns, StaticName(b.name, method), h)
	}
	return b.fail(err)
}

// Drop sets a function run after a value leaves the table through
// [resource-drop].
func (b *ResourceBuilder[D, R]) Drop(fn func(c *store.Caller[D], value R) error) *ResourceBuilder[D, R] {
	b.drop = fn
	return b
}

// Err returns the first definition failure.
func (b *ResourceBuilder[D, R]) Err() error {
	return b.err
}

func (b *ResourceBuilder[D, R]) fail(err error) *ResourceBuilder[D, R] {
	if err != nil && b.err == nil {
		b.err = err
	}
	return b
}

func (b *ResourceBuilder[D, R]) dropHandle(c *store.Caller[D], stack []uint64) error {
	h := resource.Handle(uint32(stack[0]))
	table := c.Table()

	if id, err := table.TypeID(h); err == nil && id != b.typeID {
		return errors.ResourceNotFound(uint32(h), resource.ErrTypeMismatch)
	}

	v, err := table.Remove(h)
	if err != nil {
		// already moved to another owner
		if stderrors.Is(err, resource.ErrTransferred) {
			return nil
		}
		return errors.ResourceNotFound(uint32(h), err)
	}

	if d, ok := v.(resource.Dropper); ok {
		d.Drop()
	}
	if b.drop != nil {
		value, _ := v.(R)
		return b.drop(c, value)
	}
	return nil
}

package store

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"

	wasmembed "github.com/wippyai/wasm-embed"
	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/resource"
)

type callerKey struct{}

// Caller is the per-invocation view of a store handed to host bindings.
// It is valid only for the duration of the invocation that created it.
type Caller[D View] struct {
	ctx    context.Context
	store  *Store[D]
	module api.Module
	scope  *resource.Scope
	err    error
	mu     sync.Mutex
	depth  int
	active bool
}

func newCaller[D View](ctx context.Context, s *Store[D]) *Caller[D] {
	return &Caller[D]{
		ctx:   ctx,
		store: s,
		scope: s.data.Table().NewScope(),
	}
}

// reenter counts a nested entry into a running invocation. It fails once
// the outermost Release has run.
func (c *Caller[D]) reenter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	c.depth++
	return true
}

// leave undoes one entry and reports whether it was the outermost one.
func (c *Caller[D]) leave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth > 0 {
		c.depth--
		return false
	}
	c.active = false
	return true
}

// Active reports whether the invocation that created c is still running.
func (c *Caller[D]) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// WithCaller returns a context carrying c.
func WithCaller[D View](ctx context.Context, c *Caller[D]) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller carried by ctx, if it is for store data D.
func CallerFrom[D View](ctx context.Context) (*Caller[D], bool) {
	c, ok := ctx.Value(callerKey{}).(*Caller[D])
	return c, ok && c != nil
}

// Context returns the invocation context. It carries the caller, so guest
// calls made with it from a host binding reenter the active invocation.
func (c *Caller[D]) Context() context.Context {
	return c.ctx
}

// Store returns the store being invoked.
func (c *Caller[D]) Store() *Store[D] {
	return c.store
}

// Data returns the execution context.
func (c *Caller[D]) Data() D {
	return c.store.data
}

// Table returns the execution context's resource table.
func (c *Caller[D]) Table() *resource.Table {
	return c.store.data.Table()
}

// Scope returns the invocation's resource scope. Handles inserted through it
// are removed when the invocation ends, however it ends.
func (c *Caller[D]) Scope() *resource.Scope {
	return c.scope
}

// Module returns the guest instance currently calling into the host.
func (c *Caller[D]) Module() api.Module {
	return c.module
}

// SetModule records the calling guest instance and returns the previous one.
func (c *Caller[D]) SetModule(m api.Module) api.Module {
	prev := c.module
	c.module = m
	return prev
}

// Memory returns the calling guest's exported memory, or nil.
func (c *Caller[D]) Memory() wasmembed.Memory {
	if c.module == nil || c.module.Memory() == nil {
		return nil
	}
	return abi.WrapMemory(c.module.Memory())
}

// Allocator returns the calling guest's cabi_realloc, or nil.
func (c *Caller[D]) Allocator() wasmembed.Allocator {
	if c.module == nil {
		return nil
	}
	fn := c.module.ExportedFunction(abi.Realloc)
	if fn == nil {
		return nil
	}
	return abi.WrapAllocator(c.ctx, fn)
}

// ABI returns a value-transfer context over the calling guest.
func (c *Caller[D]) ABI() *abi.Context {
	return &abi.Context{Memory: c.Memory(), Alloc: c.Allocator()}
}

// Fail records err as the reason the invocation aborts. The first recorded
// error is the one reported to the host caller.
func (c *Caller[D]) Fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	return c.err
}

// Err returns the recorded failure, if any.
func (c *Caller[D]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Caller[D]) takeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.err
	c.err = nil
	return err
}

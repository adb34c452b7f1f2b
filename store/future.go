package store

import (
	"context"

	"github.com/wippyai/wasm-embed/errors"
)

// Future is the pending result of an asynchronous invocation.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Go starts Call on its own goroutine. Invocations on one store still run
// one at a time; the future completes when this one has run.
func (i *Instance[D]) Go(ctx context.Context, name string, args ...any) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = i.Call(ctx, name, args...)
	}()
	return f
}

// Done is closed when the invocation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result. Giving up on ctx does not cancel the
// invocation; cancel the context passed to Go for that.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, errors.Canceled("await", ctx.Err())
	}
}

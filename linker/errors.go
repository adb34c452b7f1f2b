package linker

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
)

// hostError converts what a binding returned into the error reported to
// the invoker. Structured errors pass through unchanged.
func hostError(ns, name string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	if stderrors.Is(err, resource.ErrNotFound) {
		return errors.New(errors.PhaseResource, errors.KindResourceNotFound).
			Path(ns, name).
			Cause(err).
			Build()
	}
	return errors.HostCall(ns, name, err)
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("host panic: %w", e)
				return
			}
			err = fmt.Errorf("host panic: %v", r)
		}
	}()
	return fn()
}

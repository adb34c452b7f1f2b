package resource

import "fmt"

// Resource is a typed reference to a table entry holding an R.
// An owned reference may be deleted by its holder; a borrowed one may not.
type Resource[R any] struct {
	handle Handle
	owned  bool
}

// NewOwn returns an owning reference to h.
func NewOwn[R any](h Handle) Resource[R] {
	return Resource[R]{handle: h, owned: true}
}

// NewBorrow returns a borrowed reference to h.
func NewBorrow[R any](h Handle) Resource[R] {
	return Resource[R]{handle: h}
}

// Handle returns the raw guest-visible handle.
func (r Resource[R]) Handle() Handle { return r.handle }

// Owned reports whether r owns its entry.
func (r Resource[R]) Owned() bool { return r.owned }

// FromHandle builds a reference of the same type from a raw handle.
// Used by the ABI layer, which only sees the reference through an interface.
func (r Resource[R]) FromHandle(h Handle, owned bool) any {
	return Resource[R]{handle: h, owned: owned}
}

func (r Resource[R]) String() string {
	mode := "borrow"
	if r.owned {
		mode = "own"
	}
	var zero R
	return fmt.Sprintf("%s<%T>(%s)", mode, zero, r.handle)
}

// Ref is implemented by every Resource[R].
type Ref interface {
	Handle() Handle
	Owned() bool
	FromHandle(h Handle, owned bool) any
}

// Push inserts value and returns an owning reference.
func Push[R any](t *Table, value R) (Resource[R], error) {
	h, err := t.Insert(value)
	if err != nil {
		return Resource[R]{}, err
	}
	return NewOwn[R](h), nil
}

// Get resolves r to its value.
func Get[R any](t *Table, r Resource[R]) (R, error) {
	var zero R
	v, err := t.Get(r.handle)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(R)
	if !ok {
		return zero, ErrTypeMismatch
	}
	return typed, nil
}

// Delete removes the entry behind an owned reference and returns its value.
func Delete[R any](t *Table, r Resource[R]) (R, error) {
	var zero R
	if !r.owned {
		return zero, ErrBorrowed
	}
	if _, err := Get(t, r); err != nil {
		return zero, err
	}
	v, err := t.Remove(r.handle)
	if err != nil {
		return zero, err
	}
	return v.(R), nil
}

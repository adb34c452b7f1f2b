package abi

import (
	stderrors "errors"
	"fmt"
	"reflect"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/errors"
)

// LowerArgs flattens args for a call into a guest export.
// More than MaxFlatParams core values are spilled to a tuple in guest memory.
func (c *Context) LowerArgs(types []wit.Type, args []any) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, errors.InvalidInput(errors.PhaseEncode,
			fmt.Sprintf("expected %d arguments, got %d", len(types), len(args)))
	}

	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := Coerce(arg, types[i])
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("arg%d", i))
		}
		values[i] = v
	}

	if flatCount(types) <= MaxFlatParams {
		flat := make([]uint64, 0, flatCount(types))
		for i, v := range values {
			var err error
			if flat, err = c.lowerFlat(types[i], v, flat); err != nil {
				return nil, withPath(err, fmt.Sprintf("arg%d", i))
			}
		}
		return flat, nil
	}

	ptr, err := c.storeTuple(types, values)
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(ptr)}, nil
}

// LiftResults decodes the core results of a guest export.
func (c *Context) LiftResults(types []wit.Type, flat []uint64) ([]any, error) {
	if len(types) == 0 {
		return nil, nil
	}

	if flatCount(types) <= MaxFlatResults {
		v, _, err := c.liftFlat(types[0], flat)
		if err != nil {
			return nil, err
		}
		return []any{v.Interface()}, nil
	}

	if len(flat) < 1 {
		return nil, invalidData(errors.PhaseDecode, "missing return pointer")
	}
	values, err := c.loadTuple(types, uint32(flat[0]))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v.Interface()
	}
	return out, nil
}

// LiftArgs decodes the core params a guest passed to a host import.
// It returns the lifted values and, when results do not fit in
// MaxFlatResults, the return pointer the guest appended.
func (c *Context) LiftArgs(params, results []wit.Type, stack []uint64) ([]reflect.Value, uint32, error) {
	var values []reflect.Value
	next := 0

	if flatCount(params) > MaxFlatParams {
		if len(stack) < 1 {
			return nil, 0, invalidData(errors.PhaseDecode, "missing parameter pointer")
		}
		var err error
		if values, err = c.loadTuple(params, uint32(stack[0])); err != nil {
			return nil, 0, err
		}
		next = 1
	} else {
		values = make([]reflect.Value, len(params))
		for i, t := range params {
			v, n, err := c.liftFlat(t, stack[next:])
			if err != nil {
				return nil, 0, withPath(err, fmt.Sprintf("param%d", i))
			}
			values[i] = v
			next += n
		}
	}

	var retptr uint32
	if flatCount(results) > MaxFlatResults {
		if len(stack) <= next {
			return nil, 0, invalidData(errors.PhaseDecode, "missing return pointer")
		}
		retptr = uint32(stack[next])
	}
	return values, retptr, nil
}

// LowerReturn writes host results back to the guest: into stack[0] when they
// fit in MaxFlatResults, otherwise into memory at retptr.
func (c *Context) LowerReturn(types []wit.Type, values []reflect.Value, retptr uint32, stack []uint64) error {
	if len(values) != len(types) {
		return errors.InvalidInput(errors.PhaseEncode,
			fmt.Sprintf("expected %d results, got %d", len(types), len(values)))
	}
	if len(types) == 0 {
		return nil
	}

	coerced := make([]reflect.Value, len(values))
	for i, v := range values {
		cv, err := Coerce(v.Interface(), types[i])
		if err != nil {
			return withPath(err, fmt.Sprintf("result%d", i))
		}
		coerced[i] = cv
	}

	if flatCount(types) <= MaxFlatResults {
		flat, err := c.lowerFlat(types[0], coerced[0], nil)
		if err != nil {
			return err
		}
		copy(stack, flat)
		return nil
	}

	offsets, _, align := tupleLayout(types)
	if retptr%align != 0 {
		return invalidData(errors.PhaseEncode, "misaligned return pointer")
	}
	for i, t := range types {
		if err := c.store(t, coerced[i], retptr+offsets[i]); err != nil {
			return withPath(err, fmt.Sprintf("result%d", i))
		}
	}
	return nil
}

func (c *Context) storeTuple(types []wit.Type, values []reflect.Value) (uint32, error) {
	offsets, size, align := tupleLayout(types)
	ptr, err := c.alloc(size, align)
	if err != nil {
		return 0, err
	}
	for i, t := range types {
		if err := c.store(t, values[i], ptr+offsets[i]); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}

func (c *Context) loadTuple(types []wit.Type, ptr uint32) ([]reflect.Value, error) {
	offsets, _, align := tupleLayout(types)
	if ptr%align != 0 {
		return nil, invalidData(errors.PhaseDecode, "misaligned tuple pointer")
	}
	values := make([]reflect.Value, len(types))
	for i, t := range types {
		v, err := c.load(t, ptr+offsets[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func withPath(err error, elem string) error {
	var e *errors.Error
	if stderrors.As(err, &e) && len(e.Path) == 0 {
		e.Path = []string{elem}
	}
	return err
}

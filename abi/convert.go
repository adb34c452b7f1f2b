package abi

import (
	"fmt"
	"reflect"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
)

// Coerce converts a Go value into the representation GoType(t) expects.
// Integer values of any width are accepted when they fit.
func Coerce(v any, t wit.Type) (reflect.Value, error) {
	want, err := GoType(t)
	if err != nil {
		return reflect.Value{}, err
	}
	if v == nil {
		return reflect.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, "nil", TypeName(t))
	}
	return coerceValue(reflect.ValueOf(v), want, t)
}

func coerceValue(rv reflect.Value, want reflect.Type, t wit.Type) (reflect.Value, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return reflect.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, "nil", TypeName(t))
	}
	if rv.Type() == want {
		return rv, nil
	}

	if ref, ok := rv.Interface().(resource.Ref); ok && want.Kind() == reflect.Uint32 {
		return reflect.ValueOf(uint32(ref.Handle())), nil
	}

	if out, ok := convertValue(rv, want); ok {
		return out, nil
	}

	if rv.Kind() == reflect.Slice && want.Kind() == reflect.Slice {
		elem, ok := listElem(t)
		if !ok {
			return reflect.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, rv.Type().String(), TypeName(t))
		}
		out := reflect.MakeSlice(want, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := coerceValue(rv.Index(i), want.Elem(), elem)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}

	return reflect.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, rv.Type().String(), TypeName(t))
}

// Assign converts a lifted value into target, the declared Go type of a
// host function parameter. owned selects the mode of resource references.
func Assign(v reflect.Value, target reflect.Type, owned bool) (reflect.Value, error) {
	if v.Type() == target {
		return v, nil
	}

	if target.Implements(refType) && v.Kind() == reflect.Uint32 {
		ref := reflect.Zero(target).Interface().(resource.Ref)
		return reflect.ValueOf(ref.FromHandle(resource.Handle(v.Uint()), owned)), nil
	}

	if target.Kind() == reflect.Interface && v.Type().Implements(target) {
		out := reflect.New(target).Elem()
		out.Set(v)
		return out, nil
	}

	if out, ok := convertValue(v, target); ok {
		return out, nil
	}

	if v.Kind() == reflect.Slice && target.Kind() == reflect.Slice {
		out := reflect.MakeSlice(target, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := Assign(v.Index(i), target.Elem(), owned)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}

	return reflect.Value{}, errors.TypeMismatch(errors.PhaseDecode, nil, target.String(), v.Type().String())
}

// convertValue handles same-kind conversions and range-checked integer
// conversions.
func convertValue(rv reflect.Value, want reflect.Type) (reflect.Value, bool) {
	switch {
	case rv.Kind() == want.Kind() && rv.Kind() != reflect.Slice:
		if rv.Type().ConvertibleTo(want) {
			return rv.Convert(want), true
		}
	case isInt(rv.Kind()) && isInt(want.Kind()):
		if fitsInt(rv, want) {
			return rv.Convert(want), true
		}
	case isFloat(rv.Kind()) && isFloat(want.Kind()):
		return rv.Convert(want), true
	}
	return reflect.Value{}, false
}

func isInt(k reflect.Kind) bool {
	return isSigned(k) || isUnsigned(k)
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func fitsInt(rv reflect.Value, want reflect.Type) bool {
	probe := reflect.New(want).Elem()
	if isSigned(rv.Kind()) {
		n := rv.Int()
		if isSigned(want.Kind()) {
			return !probe.OverflowInt(n)
		}
		return n >= 0 && !probe.OverflowUint(uint64(n))
	}
	n := rv.Uint()
	if isUnsigned(want.Kind()) {
		return !probe.OverflowUint(n)
	}
	return n <= 1<<63-1 && !probe.OverflowInt(int64(n))
}

func describe(v reflect.Value) string {
	if !v.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%s(%v)", v.Type(), v)
}

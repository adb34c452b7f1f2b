package abi

import (
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
)

const (
	MaxFlatParams  = 16
	MaxFlatResults = 1

	// Realloc is the guest export used for host-initiated allocations.
	Realloc = "cabi_realloc"

	// PostReturnPrefix prefixes the optional cleanup export of a function.
	PostReturnPrefix = "cabi_post_"
)

var (
	refType   = reflect.TypeOf((*resource.Ref)(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// ListOf returns the WIT type list<t>.
func ListOf(t wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.List{Type: t}}
}

// resolve strips type aliases.
func resolve(t wit.Type) wit.Type {
	for {
		td, ok := t.(*wit.TypeDef)
		if !ok {
			return t
		}
		if _, isList := td.Kind.(*wit.List); isList {
			return t
		}
		inner, ok := td.Kind.(wit.Type)
		if !ok {
			return t
		}
		t = inner
	}
}

func listElem(t wit.Type) (wit.Type, bool) {
	td, ok := resolve(t).(*wit.TypeDef)
	if !ok {
		return nil, false
	}
	l, ok := td.Kind.(*wit.List)
	if !ok {
		return nil, false
	}
	return l.Type, true
}

// TypeName renders t in WIT syntax.
func TypeName(t wit.Type) string {
	switch v := resolve(t).(type) {
	case nil:
		return "_"
	case wit.Bool:
		return "bool"
	case wit.S8:
		return "s8"
	case wit.U8:
		return "u8"
	case wit.S16:
		return "s16"
	case wit.U16:
		return "u16"
	case wit.S32:
		return "s32"
	case wit.U32:
		return "u32"
	case wit.S64:
		return "s64"
	case wit.U64:
		return "u64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if elem, ok := listElem(v); ok {
			return "list<" + TypeName(elem) + ">"
		}
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// GoType returns the Go type values of t are lifted into.
func GoType(t wit.Type) (reflect.Type, error) {
	switch resolve(t).(type) {
	case wit.Bool:
		return reflect.TypeOf(false), nil
	case wit.S8:
		return reflect.TypeOf(int8(0)), nil
	case wit.U8:
		return reflect.TypeOf(uint8(0)), nil
	case wit.S16:
		return reflect.TypeOf(int16(0)), nil
	case wit.U16:
		return reflect.TypeOf(uint16(0)), nil
	case wit.S32, wit.Char:
		return reflect.TypeOf(int32(0)), nil
	case wit.U32:
		return reflect.TypeOf(uint32(0)), nil
	case wit.S64:
		return reflect.TypeOf(int64(0)), nil
	case wit.U64:
		return reflect.TypeOf(uint64(0)), nil
	case wit.F32:
		return reflect.TypeOf(float32(0)), nil
	case wit.F64:
		return reflect.TypeOf(float64(0)), nil
	case wit.String:
		return reflect.TypeOf(""), nil
	}

	if elem, ok := listElem(t); ok {
		et, err := GoType(elem)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(et), nil
	}
	return nil, errors.Unsupported(errors.PhaseEncode, "wit type "+TypeName(t))
}

// TypeOf maps a Go type to its WIT type.
func TypeOf(rt reflect.Type) (wit.Type, error) {
	if rt.Implements(refType) {
		return wit.U32{}, nil
	}

	switch rt.Kind() {
	case reflect.Bool:
		return wit.Bool{}, nil
	case reflect.Int8:
		return wit.S8{}, nil
	case reflect.Int16:
		return wit.S16{}, nil
	case reflect.Int32:
		return wit.S32{}, nil
	case reflect.Int64, reflect.Int:
		return wit.S64{}, nil
	case reflect.Uint8:
		return wit.U8{}, nil
	case reflect.Uint16:
		return wit.U16{}, nil
	case reflect.Uint32:
		return wit.U32{}, nil
	case reflect.Uint64, reflect.Uint:
		return wit.U64{}, nil
	case reflect.Float32:
		return wit.F32{}, nil
	case reflect.Float64:
		return wit.F64{}, nil
	case reflect.String:
		return wit.String{}, nil
	case reflect.Slice:
		elem, err := TypeOf(rt.Elem())
		if err != nil {
			return nil, err
		}
		return ListOf(elem), nil
	}
	return nil, errors.Unsupported(errors.PhaseEncode, "go type "+rt.String())
}

// IsError reports whether rt is the error interface.
func IsError(rt reflect.Type) bool {
	return rt == errorType
}

// FlatTypes returns the core value types t flattens to.
func FlatTypes(t wit.Type) []api.ValueType {
	switch resolve(t).(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.S64, wit.U64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	}
	// string and list: pointer and length
	return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
}

// FlatCount returns the number of core values t flattens to.
func FlatCount(t wit.Type) int {
	return len(FlatTypes(t))
}

func flatCount(types []wit.Type) int {
	n := 0
	for _, t := range types {
		n += FlatCount(t)
	}
	return n
}

// Size returns the in-memory size of t.
func Size(t wit.Type) uint32 {
	switch resolve(t).(type) {
	case wit.Bool, wit.S8, wit.U8:
		return 1
	case wit.S16, wit.U16:
		return 2
	case wit.S32, wit.U32, wit.F32, wit.Char:
		return 4
	case wit.S64, wit.U64, wit.F64:
		return 8
	}
	return 8
}

// Align returns the in-memory alignment of t.
func Align(t wit.Type) uint32 {
	switch resolve(t).(type) {
	case wit.Bool, wit.S8, wit.U8:
		return 1
	case wit.S16, wit.U16:
		return 2
	case wit.S64, wit.U64, wit.F64:
		return 8
	}
	return 4
}

func alignTo(offset, align uint32) uint32 {
	return (offset + align - 1) &^ (align - 1)
}

// tupleLayout returns field offsets, total size and alignment of a tuple.
func tupleLayout(types []wit.Type) ([]uint32, uint32, uint32) {
	offsets := make([]uint32, len(types))
	var offset uint32
	maxAlign := uint32(1)
	for i, t := range types {
		a := Align(t)
		if a > maxAlign {
			maxAlign = a
		}
		offset = alignTo(offset, a)
		offsets[i] = offset
		offset += Size(t)
	}
	return offsets, alignTo(offset, maxAlign), maxAlign
}

// Signature returns the core signature of a function.
//
// For an import (lowered host function), results beyond MaxFlatResults become
// a trailing i32 return pointer parameter. For an export (lifted guest
// function), they become a single i32 result pointing at the results.
func Signature(params, results []wit.Type, isImport bool) ([]api.ValueType, []api.ValueType) {
	var ps, rs []api.ValueType

	if flatCount(params) > MaxFlatParams {
		ps = []api.ValueType{api.ValueTypeI32}
	} else {
		for _, p := range params {
			ps = append(ps, FlatTypes(p)...)
		}
	}

	if flatCount(results) > MaxFlatResults {
		if isImport {
			ps = append(ps, api.ValueTypeI32)
		} else {
			rs = []api.ValueType{api.ValueTypeI32}
		}
	} else {
		for _, r := range results {
			rs = append(rs, FlatTypes(r)...)
		}
	}

	if ps == nil {
		ps = []api.ValueType{}
	}
	if rs == nil {
		rs = []api.ValueType{}
	}
	return ps, rs
}

// FormatSignature renders a core signature as (i32, i32) -> (i32).
func FormatSignature(params, results []api.ValueType) string {
	return formatValueTypes(params) + " -> " + formatValueTypes(results)
}

func formatValueTypes(types []api.ValueType) string {
	s := "("
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s + ")"
}

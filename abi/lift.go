package abi

import (
	"math"
	"reflect"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/errors"
)

// liftFlat reads one value of type t from the front of flat and returns it
// with the number of core values consumed.
func (c *Context) liftFlat(t wit.Type, flat []uint64) (reflect.Value, int, error) {
	need := FlatCount(t)
	if len(flat) < need {
		return reflect.Value{}, 0, invalidData(errors.PhaseDecode, "not enough core values for "+TypeName(t))
	}
	raw := flat[0]

	switch resolve(t).(type) {
	case wit.Bool:
		return reflect.ValueOf(uint32(raw) != 0), 1, nil
	case wit.S8:
		return reflect.ValueOf(int8(raw)), 1, nil
	case wit.U8:
		return reflect.ValueOf(uint8(raw)), 1, nil
	case wit.S16:
		return reflect.ValueOf(int16(raw)), 1, nil
	case wit.U16:
		return reflect.ValueOf(uint16(raw)), 1, nil
	case wit.S32:
		return reflect.ValueOf(int32(uint32(raw))), 1, nil
	case wit.U32:
		return reflect.ValueOf(uint32(raw)), 1, nil
	case wit.S64:
		return reflect.ValueOf(int64(raw)), 1, nil
	case wit.U64:
		return reflect.ValueOf(raw), 1, nil
	case wit.F32:
		return reflect.ValueOf(math.Float32frombits(uint32(raw))), 1, nil
	case wit.F64:
		return reflect.ValueOf(math.Float64frombits(raw)), 1, nil
	case wit.Char:
		r := rune(uint32(raw))
		if !utf8.ValidRune(r) {
			return reflect.Value{}, 0, invalidData(errors.PhaseDecode, "invalid char")
		}
		return reflect.ValueOf(r), 1, nil
	case wit.String:
		s, err := c.loadString(uint32(raw), uint32(flat[1]))
		if err != nil {
			return reflect.Value{}, 0, err
		}
		return reflect.ValueOf(s), 2, nil
	}

	if elem, ok := listElem(t); ok {
		v, err := c.loadList(elem, uint32(raw), uint32(flat[1]))
		if err != nil {
			return reflect.Value{}, 0, err
		}
		return v, 2, nil
	}
	return reflect.Value{}, 0, errors.Unsupported(errors.PhaseDecode, "wit type "+TypeName(t))
}

// load reads a value of type t stored at addr.
func (c *Context) load(t wit.Type, addr uint32) (reflect.Value, error) {
	mem, err := c.memory()
	if err != nil {
		return reflect.Value{}, err
	}
	if addr%Align(t) != 0 {
		return reflect.Value{}, invalidData(errors.PhaseDecode, "misaligned pointer")
	}

	switch resolve(t).(type) {
	case wit.Bool:
		b, err := mem.ReadU8(addr)
		return reflect.ValueOf(b != 0), err
	case wit.S8:
		b, err := mem.ReadU8(addr)
		return reflect.ValueOf(int8(b)), err
	case wit.U8:
		b, err := mem.ReadU8(addr)
		return reflect.ValueOf(b), err
	case wit.S16:
		v, err := mem.ReadU16(addr)
		return reflect.ValueOf(int16(v)), err
	case wit.U16:
		v, err := mem.ReadU16(addr)
		return reflect.ValueOf(v), err
	case wit.S32:
		v, err := mem.ReadU32(addr)
		return reflect.ValueOf(int32(v)), err
	case wit.U32:
		v, err := mem.ReadU32(addr)
		return reflect.ValueOf(v), err
	case wit.Char:
		v, err := mem.ReadU32(addr)
		if err != nil {
			return reflect.Value{}, err
		}
		if !utf8.ValidRune(rune(v)) {
			return reflect.Value{}, invalidData(errors.PhaseDecode, "invalid char")
		}
		return reflect.ValueOf(rune(v)), nil
	case wit.S64:
		v, err := mem.ReadU64(addr)
		return reflect.ValueOf(int64(v)), err
	case wit.U64:
		v, err := mem.ReadU64(addr)
		return reflect.ValueOf(v), err
	case wit.F32:
		v, err := mem.ReadU32(addr)
		return reflect.ValueOf(math.Float32frombits(v)), err
	case wit.F64:
		v, err := mem.ReadU64(addr)
		return reflect.ValueOf(math.Float64frombits(v)), err
	case wit.String:
		ptr, n, err := c.loadPair(addr)
		if err != nil {
			return reflect.Value{}, err
		}
		s, err := c.loadString(ptr, n)
		return reflect.ValueOf(s), err
	}

	if elem, ok := listElem(t); ok {
		ptr, n, err := c.loadPair(addr)
		if err != nil {
			return reflect.Value{}, err
		}
		return c.loadList(elem, ptr, n)
	}
	return reflect.Value{}, errors.Unsupported(errors.PhaseDecode, "wit type "+TypeName(t))
}

func (c *Context) loadPair(addr uint32) (uint32, uint32, error) {
	ptr, err := c.Memory.ReadU32(addr)
	if err != nil {
		return 0, 0, err
	}
	n, err := c.Memory.ReadU32(addr + 4)
	if err != nil {
		return 0, 0, err
	}
	return ptr, n, nil
}

func (c *Context) loadString(ptr, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	mem, err := c.memory()
	if err != nil {
		return "", err
	}
	data, err := mem.Read(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, nil, data)
	}
	return string(data), nil
}

func (c *Context) loadList(elem wit.Type, ptr, n uint32) (reflect.Value, error) {
	goType, err := GoType(ListOf(elem))
	if err != nil {
		return reflect.Value{}, err
	}
	if n == 0 {
		return reflect.MakeSlice(goType, 0, 0), nil
	}
	mem, err := c.memory()
	if err != nil {
		return reflect.Value{}, err
	}
	if ptr%Align(elem) != 0 {
		return reflect.Value{}, invalidData(errors.PhaseDecode, "misaligned list pointer")
	}

	size := Size(elem)
	if uint64(n)*uint64(size) > math.MaxUint32 {
		return reflect.Value{}, outOfBounds(ptr, math.MaxUint32)
	}

	if _, ok := resolve(elem).(wit.U8); ok {
		data, err := mem.Read(ptr, n)
		if err != nil {
			return reflect.Value{}, err
		}
		out := make([]byte, n)
		copy(out, data)
		return reflect.ValueOf(out), nil
	}

	out := reflect.MakeSlice(goType, int(n), int(n))
	for i := uint32(0); i < n; i++ {
		v, err := c.load(elem, ptr+i*size)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(int(i)).Set(v)
	}
	return out, nil
}

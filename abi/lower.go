package abi

import (
	"math"
	"reflect"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	wasmembed "github.com/wippyai/wasm-embed"
	"github.com/wippyai/wasm-embed/errors"
)

// Context carries guest memory and allocator for one value transfer.
type Context struct {
	Memory wasmembed.Memory
	Alloc  wasmembed.Allocator
}

func (c *Context) memory() (wasmembed.Memory, error) {
	if c.Memory == nil {
		return nil, errors.NotInitialized(errors.PhaseEncode, "guest memory")
	}
	return c.Memory, nil
}

func (c *Context) alloc(size, align uint32) (uint32, error) {
	if c.Alloc == nil {
		return 0, errors.NotInitialized(errors.PhaseEncode, Realloc)
	}
	ptr, err := c.Alloc.Alloc(size, align)
	if err != nil {
		return 0, errors.New(errors.PhaseEncode, errors.KindAllocation).
			Detail("allocate %d bytes", size).
			Cause(err).
			Build()
	}
	if ptr%align != 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align)
	}
	if sizer, ok := c.Memory.(wasmembed.MemorySizer); ok && uint64(ptr)+uint64(size) > uint64(sizer.Size()) {
		return 0, outOfBounds(ptr, size)
	}
	return ptr, nil
}

// lowerFlat appends the flat form of v to out.
func (c *Context) lowerFlat(t wit.Type, v reflect.Value, out []uint64) ([]uint64, error) {
	switch resolve(t).(type) {
	case wit.Bool:
		if v.Bool() {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case wit.S8, wit.S16, wit.S32:
		return append(out, uint64(uint32(int32(v.Int())))), nil
	case wit.U8, wit.U16, wit.U32:
		return append(out, uint64(uint32(v.Uint()))), nil
	case wit.S64:
		return append(out, uint64(v.Int())), nil
	case wit.U64:
		return append(out, v.Uint()), nil
	case wit.F32:
		return append(out, uint64(math.Float32bits(float32(v.Float())))), nil
	case wit.F64:
		return append(out, math.Float64bits(v.Float())), nil
	case wit.Char:
		r := rune(v.Int())
		if !utf8.ValidRune(r) {
			return nil, invalidData(errors.PhaseEncode, "invalid char "+describe(v))
		}
		return append(out, uint64(uint32(r))), nil
	case wit.String:
		ptr, n, err := c.storeString(v.String())
		if err != nil {
			return nil, err
		}
		return append(out, uint64(ptr), uint64(n)), nil
	}

	if elem, ok := listElem(t); ok {
		ptr, n, err := c.storeList(elem, v)
		if err != nil {
			return nil, err
		}
		return append(out, uint64(ptr), uint64(n)), nil
	}
	return nil, errors.Unsupported(errors.PhaseEncode, "wit type "+TypeName(t))
}

// store writes v at addr using the in-memory layout of t.
func (c *Context) store(t wit.Type, v reflect.Value, addr uint32) error {
	mem, err := c.memory()
	if err != nil {
		return err
	}

	switch resolve(t).(type) {
	case wit.Bool:
		var b uint8
		if v.Bool() {
			b = 1
		}
		return mem.WriteU8(addr, b)
	case wit.S8:
		return mem.WriteU8(addr, uint8(v.Int()))
	case wit.U8:
		return mem.WriteU8(addr, uint8(v.Uint()))
	case wit.S16:
		return mem.WriteU16(addr, uint16(v.Int()))
	case wit.U16:
		return mem.WriteU16(addr, uint16(v.Uint()))
	case wit.S32:
		return mem.WriteU32(addr, uint32(v.Int()))
	case wit.U32:
		return mem.WriteU32(addr, uint32(v.Uint()))
	case wit.Char:
		r := rune(v.Int())
		if !utf8.ValidRune(r) {
			return invalidData(errors.PhaseEncode, "invalid char "+describe(v))
		}
		return mem.WriteU32(addr, uint32(r))
	case wit.S64:
		return mem.WriteU64(addr, uint64(v.Int()))
	case wit.U64:
		return mem.WriteU64(addr, v.Uint())
	case wit.F32:
		return mem.WriteU32(addr, math.Float32bits(float32(v.Float())))
	case wit.F64:
		return mem.WriteU64(addr, math.Float64bits(v.Float()))
	case wit.String:
		ptr, n, err := c.storeString(v.String())
		if err != nil {
			return err
		}
		return c.storePair(addr, ptr, n)
	}

	if elem, ok := listElem(t); ok {
		ptr, n, err := c.storeList(elem, v)
		if err != nil {
			return err
		}
		return c.storePair(addr, ptr, n)
	}
	return errors.Unsupported(errors.PhaseEncode, "wit type "+TypeName(t))
}

func (c *Context) storePair(addr, ptr, n uint32) error {
	if err := c.Memory.WriteU32(addr, ptr); err != nil {
		return err
	}
	return c.Memory.WriteU32(addr+4, n)
}

func (c *Context) storeString(s string) (uint32, uint32, error) {
	if len(s) == 0 {
		return 0, 0, nil
	}
	if !utf8.ValidString(s) {
		return 0, 0, errors.InvalidUTF8(errors.PhaseEncode, nil, []byte(s))
	}
	mem, err := c.memory()
	if err != nil {
		return 0, 0, err
	}

	ptr, err := c.alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, err
	}
	if err := mem.Write(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

func (c *Context) storeList(elem wit.Type, v reflect.Value) (uint32, uint32, error) {
	n := uint32(v.Len())
	if n == 0 {
		return 0, 0, nil
	}
	mem, err := c.memory()
	if err != nil {
		return 0, 0, err
	}

	size := Size(elem)
	ptr, err := c.alloc(n*size, Align(elem))
	if err != nil {
		return 0, 0, err
	}

	if _, ok := resolve(elem).(wit.U8); ok && v.Type().Elem().Kind() == reflect.Uint8 {
		if err := mem.Write(ptr, v.Bytes()); err != nil {
			return 0, 0, err
		}
		return ptr, n, nil
	}

	for i := uint32(0); i < n; i++ {
		if err := c.store(elem, v.Index(int(i)), ptr+i*size); err != nil {
			return 0, 0, err
		}
	}
	return ptr, n, nil
}

func invalidData(phase errors.Phase, detail string) *errors.Error {
	return errors.New(phase, errors.KindInvalidData).Detail("%s", detail).Build()
}

func outOfBounds(offset, length uint32) *errors.Error {
	return errors.OutOfBounds(errors.PhaseRuntime, offset, length)
}

package wasmtest

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32And      = 0x71
	opPrefixFC    = 0xfc
	opMemoryCopy  = 0x0a
)

func I32Const(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }
func I64Const(v int64) []byte { return append([]byte{opI64Const}, sleb(v)...) }
func LocalGet(i uint32) []byte { return append([]byte{opLocalGet}, uleb(i)...) }
func LocalSet(i uint32) []byte { return append([]byte{opLocalSet}, uleb(i)...) }
func LocalTee(i uint32) []byte { return append([]byte{opLocalTee}, uleb(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{opGlobalGet}, uleb(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{opGlobalSet}, uleb(i)...) }
func Call(fn uint32) []byte { return append([]byte{opCall}, uleb(fn)...) }
func I32Add() []byte { return []byte{opI32Add} }
func I32Sub() []byte { return []byte{opI32Sub} }
func I32And() []byte { return []byte{opI32And} }
func Drop() []byte { return []byte{opDrop} }
func Unreachable() []byte { return []byte{opUnreachable} }

// I32Load loads from the address on the stack plus offset (alignment 2).
func I32Load(offset uint32) []byte {
	return append([]byte{opI32Load, 0x02}, uleb(offset)...)
}

// I32Store stores value at address plus offset (alignment 2).
func I32Store(offset uint32) []byte {
	return append([]byte{opI32Store, 0x02}, uleb(offset)...)
}

// MemoryCopy copies within memory 0: dst, src, len on the stack.
func MemoryCopy() []byte {
	return []byte{opPrefixFC, opMemoryCopy, 0x00, 0x00}
}

// Store32 writes a constant to a constant address.
func Store32(addr uint32, value int32) []byte {
	return concat(I32Const(int32(addr)), I32Const(value), I32Store(0))
}

// Loop spins forever; used to test interruption.
func Loop() []byte {
	// loop (void) br 0 end
	return []byte{0x03, 0x40, 0x0c, 0x00, opEnd}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

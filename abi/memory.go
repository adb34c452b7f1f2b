package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	wasmembed "github.com/wippyai/wasm-embed"
)

// WrapMemory adapts a wazero memory to wasmembed.Memory.
func WrapMemory(mem api.Memory) wasmembed.Memory {
	if mem == nil {
		return nil
	}
	return &memoryWrapper{mem: mem}
}

// WrapAllocator adapts a guest cabi_realloc export to wasmembed.Allocator.
func WrapAllocator(ctx context.Context, fn api.Function) wasmembed.Allocator {
	if fn == nil {
		return nil
	}
	return &reallocWrapper{ctx: ctx, fn: fn}
}

type memoryWrapper struct {
	mem api.Memory
}

func (m *memoryWrapper) Size() uint32 {
	return m.mem.Size()
}

func (m *memoryWrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(offset, length)
	}
	return data, nil
}

func (m *memoryWrapper) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

func (m *memoryWrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, outOfBounds(offset, 1)
	}
	return v, nil
}

func (m *memoryWrapper) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 2)
	}
	return v, nil
}

func (m *memoryWrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 4)
	}
	return v, nil
}

func (m *memoryWrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 8)
	}
	return v, nil
}

func (m *memoryWrapper) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return outOfBounds(offset, 1)
	}
	return nil
}

func (m *memoryWrapper) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return outOfBounds(offset, 2)
	}
	return nil
}

func (m *memoryWrapper) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds(offset, 4)
	}
	return nil
}

func (m *memoryWrapper) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds(offset, 8)
	}
	return nil
}

type reallocWrapper struct {
	ctx context.Context
	fn  api.Function
}

// Alloc calls cabi_realloc(0, 0, align, size).
func (a *reallocWrapper) Alloc(size, align uint32) (uint32, error) {
	results, err := a.fn.Call(a.ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, fmt.Errorf("cabi_realloc: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("cabi_realloc returned no result")
	}
	return uint32(results[0]), nil
}

// Free calls cabi_realloc(ptr, size, align, 0).
func (a *reallocWrapper) Free(ptr, size, align uint32) {
	_, _ = a.fn.Call(a.ctx, uint64(ptr), uint64(size), uint64(align), 0)
}

// Package abi implements the subset of the Component Model canonical ABI
// used to pass values between Go host functions and core wasm guests.
//
// Supported WIT types: bool, s8..s64, u8..u64, f32, f64, char, string and
// list<T> of any supported T. Resource handles travel as u32.
//
// # Go Type Mapping
//
//	Go                         WIT
//	bool                       bool
//	int8, int16, int32         s8, s16, s32
//	int64, int                 s64
//	uint8, uint16, uint32      u8, u16, u32
//	uint64, uint               u64
//	float32, float64           f32, f64
//	string                     string
//	[]T                        list<T>
//	resource.Handle            u32
//	resource.Resource[R]       u32
//
// char values are runes and are only produced when the WIT type says char.
//
// # Flattening
//
// Parameters flatten to at most MaxFlatParams core values; beyond that they
// are passed through memory as a tuple. Results flatten to at most
// MaxFlatResults; beyond that an export returns a pointer and an import
// receives a trailing return pointer. Strings and lists are allocated in guest
// memory through cabi_realloc.
package abi

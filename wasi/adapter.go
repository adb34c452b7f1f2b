package wasi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	ebadf     = 8
	invalidFD = 0xFFFFFFFF
)

// Names of the functions the preview1 component adapter imports from
// wasi_snapshot_preview1 besides the standard set.
const (
	AdapterReset      = "reset_adapter_state"
	AdapterCloseBadFD = "adapter_close_badfd"
	AdapterOpenBadFD  = "adapter_open_badfd"
)

func exportAdapter(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	i32 := []api.ValueType{api.ValueTypeI32}

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, _ []uint64) {
		}), nil, nil).
		Export(AdapterReset)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = ebadf
		}), i32, i32).
		Export(AdapterCloseBadFD)

	return builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = invalidFD
		}), i32, i32).
		Export(AdapterOpenBadFD)
}

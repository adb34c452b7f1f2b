// Package wasi installs WASI preview1 into an engine and carries the
// per-guest OS view: argv, environment, preopened directories and stdio.
//
// The functions themselves come from wazero's wasi_snapshot_preview1
// package. This package only decides what the guest sees:
//
//	wc := wasi.NewContext(wasi.Config{Args: []string{"guest"}})
//	if err := wasi.Install(ctx, eng.Runtime()); err != nil {
//		return err
//	}
//	cfg := wc.ModuleConfig(wazero.NewModuleConfig())
//
// Output is captured in memory unless InheritStdio is set.
package wasi

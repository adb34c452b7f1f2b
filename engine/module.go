package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/component"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/world"
)

var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6d}
	coreVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

// FuncType is a core function signature.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	return bytes.Equal(f.Params, o.Params) && bytes.Equal(f.Results, o.Results)
}

func (f FuncType) String() string {
	return formatTypes(f.Params) + " -> " + formatTypes(f.Results)
}

func formatTypes(types []api.ValueType) string {
	s := "("
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s + ")"
}

// Import is a function the guest expects the host to provide.
type Import struct {
	Module string
	Name   string
	Type   FuncType
}

// Export is a function the guest provides.
type Export struct {
	Name string
	Type FuncType
}

// Module is a compiled guest artifact: a core module, or a component
// whose core modules are compiled when it is instantiated.
type Module struct {
	compiled  wazero.CompiledModule
	component *component.Component
	world     *world.World
	engine    *Engine
	exports   map[string]Export
	imports   []Import
}

// IsComponent reports whether data is a component-layer binary.
func IsComponent(data []byte) bool {
	return component.IsComponent(data)
}

// Compile validates and compiles a core module or a component.
func (e *Engine) Compile(ctx context.Context, data []byte) (*Module, error) {
	if e.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseLoad, "engine")
	}
	if len(data) < 8 || !bytes.Equal(data[:4], wasmMagic) {
		return nil, errors.Load("not a wasm binary", nil)
	}
	if IsComponent(data) {
		return e.compileComponent(ctx, data)
	}
	if !bytes.Equal(data[4:8], coreVersion) {
		return nil, errors.Load("unsupported wasm version", nil)
	}

	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	m := &Module{
		compiled: compiled,
		engine:   e,
		exports:  make(map[string]Export),
	}
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		m.imports = append(m.imports, Import{
			Module: mod,
			Name:   name,
			Type:   FuncType{Params: def.ParamTypes(), Results: def.ResultTypes()},
		})
	}
	for name, def := range compiled.ExportedFunctions() {
		m.exports[name] = Export{
			Name: name,
			Type: FuncType{Params: def.ParamTypes(), Results: def.ResultTypes()},
		}
	}

	e.logger.Debug("module compiled",
		zap.Int("imports", len(m.imports)),
		zap.Int("exports", len(m.exports)))
	return m, nil
}

// compileComponent decodes a component and validates each embedded core
// module. Imports and exports are reported with the core signatures their
// component types lower to.
func (e *Engine) compileComponent(ctx context.Context, data []byte) (*Module, error) {
	c, err := component.Decode(data)
	if err != nil {
		if stderrors.Is(err, component.ErrUnsupported) {
			return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
				Detail("decode component").
				Cause(err).
				Build()
		}
		return nil, errors.Load("decode component", err)
	}

	for i, core := range c.CoreModules {
		compiled, err := e.runtime.CompileModule(ctx, core)
		if err != nil {
			return nil, errors.Load(fmt.Sprintf("compile core module %d", i), err)
		}
		if err := compiled.Close(ctx); err != nil {
			return nil, errors.Load(fmt.Sprintf("release core module %d", i), err)
		}
	}

	w := c.World()
	m := &Module{
		component: c,
		world:     w,
		engine:    e,
		exports:   make(map[string]Export),
	}
	for _, ns := range w.ImportNamespaces() {
		for _, name := range w.ImportNames(ns) {
			fn, _ := w.Import(ns, name)
			params, results := abi.Signature(fn.ParamTypes(), fn.Results, true)
			m.imports = append(m.imports, Import{
				Module: ns,
				Name:   name,
				Type:   FuncType{Params: params, Results: results},
			})
		}
	}
	for _, name := range w.ExportNames() {
		fn, _ := w.Export(name)
		params, results := abi.Signature(fn.ParamTypes(), fn.Results, false)
		m.exports[name] = Export{Name: name, Type: FuncType{Params: params, Results: results}}
	}

	e.logger.Debug("component compiled",
		zap.Int("core_modules", len(c.CoreModules)),
		zap.Int("core_instances", len(c.CoreInstances)),
		zap.Int("imports", len(m.imports)),
		zap.Int("exports", len(m.exports)))
	return m, nil
}

// CompileFile reads and compiles the module at path.
func (e *Engine) CompileFile(ctx context.Context, path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return e.Compile(ctx, data)
}

// Engine returns the engine that compiled the module.
func (m *Module) Engine() *Engine {
	return m.engine
}

// Compiled exposes the underlying wazero module. It is nil for components.
func (m *Module) Compiled() wazero.CompiledModule {
	return m.compiled
}

// IsComponent reports whether the module was compiled from a component.
func (m *Module) IsComponent() bool {
	return m.component != nil
}

// Component returns the decoded component, or nil for core modules.
func (m *Module) Component() *component.Component {
	return m.component
}

// World returns the contract a component declares, or nil for core modules.
func (m *Module) World() *world.World {
	return m.world
}

// Imports returns the function imports in declaration order.
func (m *Module) Imports() []Import {
	return m.imports
}

// Exports returns the function exports sorted by name.
func (m *Module) Exports() []Export {
	out := make([]Export, 0, len(m.exports))
	for _, e := range m.exports {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Export looks up a function export by name.
func (m *Module) Export(name string) (Export, bool) {
	e, ok := m.exports[name]
	return e, ok
}

// Close releases compiled code.
func (m *Module) Close(ctx context.Context) error {
	if m.compiled == nil {
		return nil
	}
	return m.compiled.Close(ctx)
}

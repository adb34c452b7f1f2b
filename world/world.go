// Package world describes the contract between host and guest as function
// signatures.
//
// A component carries its own contract, which component.Component.World
// derives from the binary. Core modules have none; for them, or to override
// what a component declares, Parse converts WIT text. Only the types
// supported by the abi package are represented. Resource handles map to u32.
package world

import (
	"os"
	"sort"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/errors"
)

// Param is a named function parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Func is a function signature.
type Func struct {
	Name    string
	Params  []Param
	Results []wit.Type
}

// ParamTypes returns the parameter types in order.
func (f *Func) ParamTypes() []wit.Type {
	out := make([]wit.Type, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Type
	}
	return out
}

// String renders the signature in WIT syntax.
func (f *Func) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteString(": func(")
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(abi.TypeName(p.Type))
	}
	b.WriteByte(')')
	if len(f.Results) == 1 {
		b.WriteString(" -> ")
		b.WriteString(abi.TypeName(f.Results[0]))
	}
	return b.String()
}

// Interface is a named group of functions.
type Interface struct {
	Funcs     map[string]*Func
	Name      string
	Resources []string
}

// World is a parsed WIT document.
type World struct {
	Interfaces map[string]*Interface
	exports    map[string]*Func
	imports    map[string]map[string]*Func
	Package    string
	Name       string
}

// RootNamespace holds functions a world imports directly rather than
// through an interface.
const RootNamespace = "$root"

const dropPrefix = "[resource-drop]"

// New returns an empty world.
func New(pkg, name string) *World {
	return &World{
		Interfaces: make(map[string]*Interface),
		exports:    make(map[string]*Func),
		imports:    make(map[string]map[string]*Func),
		Package:    pkg,
		Name:       name,
	}
}

// DropFunc returns the signature of the drop function of resource res.
func DropFunc(res string) *Func {
	return &Func{Name: dropPrefix + res, Params: []Param{{Name: "self", Type: wit.U32{}}}}
}

// AddImport records f as imported from namespace.
func (w *World) AddImport(namespace string, f *Func) {
	if w.imports[namespace] == nil {
		w.imports[namespace] = make(map[string]*Func)
	}
	w.imports[namespace][f.Name] = f
}

// AddExport records f as exported under its core export name.
func (w *World) AddExport(name string, f *Func) {
	w.exports[name] = f
}

// Namespace returns the import namespace of an interface of this package,
// e.g. example:host/host.
func (w *World) Namespace(iface string) string {
	if w.Package == "" {
		return iface
	}
	pkg, version, hasVersion := strings.Cut(w.Package, "@")
	ns := pkg + "/" + iface
	if hasVersion {
		ns += "@" + version
	}
	return ns
}

// Export returns the signature of an exported function by its core export
// name: a plain name for freestanding exports, ns#name for interface exports.
func (w *World) Export(name string) (*Func, bool) {
	f, ok := w.exports[name]
	return f, ok
}

// ExportNames returns all exported function names, sorted.
func (w *World) ExportNames() []string {
	out := make([]string, 0, len(w.exports))
	for name := range w.exports {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Import returns the signature of an imported function.
func (w *World) Import(namespace, name string) (*Func, bool) {
	funcs, ok := w.imports[namespace]
	if !ok {
		return nil, false
	}
	f, ok := funcs[name]
	return f, ok
}

// ImportNames returns the functions imported from namespace, sorted.
func (w *World) ImportNames(namespace string) []string {
	funcs := w.imports[namespace]
	out := make([]string, 0, len(funcs))
	for name := range funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ImportNamespaces returns the imported namespaces, sorted.
func (w *World) ImportNamespaces() []string {
	out := make([]string, 0, len(w.imports))
	for ns := range w.imports {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// ParseFile parses the WIT document at path.
func ParseFile(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	return Parse(string(data))
}

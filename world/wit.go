package world

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/errors"
)

// Parse decodes WIT text and converts the package it declares into a World.
// Decoding runs wasm-tools, embedded by go.bytecodealliance.org, so the
// text is fully validated. When the text declares several packages the
// last one is used.
//
// Worlds contribute exports and imports. Without a world, every interface
// of the package is treated as imported.
func Parse(text string) (*World, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.InvalidInput(errors.PhaseParse, "empty WIT text")
	}
	res, err := wit.DecodeWIT(strings.NewReader(text))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "decode WIT")
	}
	return FromResolve(res)
}

// FromResolve converts the last package of res into a World. Functions
// whose types fall outside what the abi package supports are left out.
func FromResolve(res *wit.Resolve) (*World, error) {
	if len(res.Packages) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no package in WIT")
	}
	pkg := res.Packages[len(res.Packages)-1]
	w := New(pkg.Name.String(), "")

	for name, iface := range pkg.Interfaces.All() {
		w.Interfaces[name] = convertInterface(iface)
	}

	for name, ww := range pkg.Worlds.All() {
		w.Name = name
		for key, item := range ww.Imports.All() {
			switch v := item.(type) {
			case *wit.InterfaceRef:
				ns := interfaceNamespace(v.Interface, key)
				for _, f := range convertInterface(v.Interface).Funcs {
					w.AddImport(ns, f)
				}
			case *wit.Function:
				if f, ok := convertFunc(v); ok {
					w.AddImport(RootNamespace, f)
				}
			}
		}
		for key, item := range ww.Exports.All() {
			switch v := item.(type) {
			case *wit.InterfaceRef:
				ns := interfaceNamespace(v.Interface, key)
				for _, f := range convertInterface(v.Interface).Funcs {
					w.AddExport(ns+"#"+f.Name, f)
				}
			case *wit.Function:
				if f, ok := convertFunc(v); ok {
					w.AddExport(f.Name, f)
				}
			}
		}
	}

	if pkg.Worlds.Len() == 0 {
		for _, iface := range pkg.Interfaces.All() {
			ns := interfaceNamespace(iface, "")
			for _, f := range convertInterface(iface).Funcs {
				w.AddImport(ns, f)
			}
		}
	}

	if len(w.exports) == 0 && len(w.imports) == 0 && len(w.Interfaces) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT")
	}
	return w, nil
}

// interfaceNamespace returns the import namespace of iface, e.g.
// example:host/host@1.0.0. Interfaces declared inline in a world are
// named by their world key.
func interfaceNamespace(iface *wit.Interface, key string) string {
	if iface.Name == nil || iface.Package == nil {
		return key
	}
	id := iface.Package.Name
	id.Extension = *iface.Name
	return id.String()
}

func convertInterface(iface *wit.Interface) *Interface {
	out := &Interface{Funcs: make(map[string]*Func)}
	if iface.Name != nil {
		out.Name = *iface.Name
	}
	for name, td := range iface.TypeDefs.All() {
		if _, ok := td.Kind.(*wit.Resource); ok {
			out.Resources = append(out.Resources, name)
			drop := DropFunc(name)
			out.Funcs[drop.Name] = drop
		}
	}
	for _, fn := range iface.Functions.All() {
		if f, ok := convertFunc(fn); ok {
			out.Funcs[f.Name] = f
		}
	}
	return out
}

func convertFunc(fn *wit.Function) (*Func, bool) {
	f := &Func{Name: fn.Name}
	for _, p := range fn.Params {
		t, err := convertType(p.Type)
		if err != nil {
			return nil, false
		}
		f.Params = append(f.Params, Param{Name: p.Name, Type: t})
	}
	for _, r := range fn.Results {
		t, err := convertType(r.Type)
		if err != nil {
			return nil, false
		}
		f.Results = append(f.Results, t)
	}
	return f, true
}

// convertType maps t onto the types the abi package lowers and lifts.
// Handles become u32 table indices.
func convertType(t wit.Type) (wit.Type, error) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		if _, err := abi.GoType(t); err != nil {
			return nil, err
		}
		return t, nil
	}

	switch k := td.Kind.(type) {
	case *wit.Own, *wit.Borrow, *wit.Resource:
		return wit.U32{}, nil
	case *wit.List:
		elem, err := convertType(k.Type)
		if err != nil {
			return nil, err
		}
		return abi.ListOf(elem), nil
	case wit.Type:
		return convertType(k)
	}
	return nil, errors.Unsupported(errors.PhaseParse, "wit type "+abi.TypeName(t))
}

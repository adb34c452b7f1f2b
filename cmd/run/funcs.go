package main

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/world"
)

type funcInfo struct {
	name    string
	params  []paramInfo
	results []wit.Type
}

type paramInfo struct {
	name string
	typ  wit.Type
}

func (f funcInfo) String() string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.name + ": " + abi.TypeName(p.typ)
	}
	s := f.name + "(" + strings.Join(params, ", ") + ")"
	if len(f.results) == 1 {
		s += " -> " + abi.TypeName(f.results[0])
	}
	return s
}

// callable lists the exports of mod that can be called with text arguments.
// Signatures come from w, or from what a component declares, when it
// names the export; other exports are offered with their core types.
func callable(mod *engine.Module, w *world.World) []funcInfo {
	if w == nil {
		w = mod.World()
	}
	var out []funcInfo
	for _, e := range mod.Exports() {
		if internalExport(e.Name) {
			continue
		}
		if w != nil {
			if fn, ok := w.Export(e.Name); ok {
				f := funcInfo{name: fn.Name, results: fn.Results}
				for _, p := range fn.Params {
					f.params = append(f.params, paramInfo{name: p.Name, typ: p.Type})
				}
				out = append(out, f)
				continue
			}
		}
		if f, ok := coreFunc(e); ok {
			out = append(out, f)
		}
	}
	return out
}

func internalExport(name string) bool {
	return name == linker.StartFunction || name == abi.Realloc || strings.HasPrefix(name, abi.PostReturnPrefix)
}

func coreFunc(e engine.Export) (funcInfo, bool) {
	if len(e.Type.Results) > 1 {
		return funcInfo{}, false
	}
	f := funcInfo{name: e.Name}
	for i, vt := range e.Type.Params {
		t, ok := coreType(vt)
		if !ok {
			return funcInfo{}, false
		}
		f.params = append(f.params, paramInfo{name: fmt.Sprintf("arg%d", i), typ: t})
	}
	for _, vt := range e.Type.Results {
		t, ok := coreType(vt)
		if !ok {
			return funcInfo{}, false
		}
		f.results = append(f.results, t)
	}
	return f, true
}

func coreType(vt api.ValueType) (wit.Type, bool) {
	switch vt {
	case api.ValueTypeI32:
		return wit.S32{}, true
	case api.ValueTypeI64:
		return wit.S64{}, true
	case api.ValueTypeF32:
		return wit.F32{}, true
	case api.ValueTypeF64:
		return wit.F64{}, true
	}
	return nil, false
}

func (f funcInfo) paramTypes() []wit.Type {
	out := make([]wit.Type, len(f.params))
	for i, p := range f.params {
		out[i] = p.typ
	}
	return out
}

// parseArgs converts command line text into values of the parameter types.
func (f funcInfo) parseArgs(raw []string) ([]any, error) {
	if len(raw) != len(f.params) {
		return nil, errors.InvalidInput(errors.PhaseEncode,
			fmt.Sprintf("%s takes %d arguments, got %d", f.name, len(f.params), len(raw)))
	}
	out := make([]any, len(raw))
	for i, s := range raw {
		v, err := parseArg(s, f.params[i].typ)
		if err != nil {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
				Path(f.name, f.params[i].name).
				WitType(abi.TypeName(f.params[i].typ)).
				Cause(err).
				Build()
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(s string, t wit.Type) (any, error) {
	switch t.(type) {
	case wit.String:
		return s, nil
	case wit.Bool:
		return strconv.ParseBool(s)
	case wit.Char:
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError || size != len(s) {
			return nil, fmt.Errorf("want a single character, got %q", s)
		}
		return r, nil
	case wit.U8, wit.U16, wit.U32, wit.U64:
		return strconv.ParseUint(s, 0, 64)
	case wit.S8, wit.S16, wit.S32, wit.S64:
		return strconv.ParseInt(s, 0, 64)
	case wit.F32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case wit.F64:
		return strconv.ParseFloat(s, 64)
	}
	return nil, fmt.Errorf("type %s cannot be given on the command line", abi.TypeName(t))
}

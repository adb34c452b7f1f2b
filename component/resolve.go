package component

import (
	"fmt"
	"sort"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/world"
)

// Resource names a resource type imported by the component.
type Resource struct {
	Namespace string
	Name      string
}

// typeRef is a resolved type: a definition with the scope its indices
// refer to, or a resource.
type typeRef struct {
	def      Type
	scope    *scope
	resource *Resource
	err      error
}

type scope struct {
	types []typeRef
}

func (s *scope) lookup(idx uint32) (typeRef, error) {
	if int(idx) >= len(s.types) {
		return typeRef{}, fmt.Errorf("type %d out of range", idx)
	}
	ref := s.types[idx]
	return ref, ref.err
}

// instanceScope is the resolved type of an imported instance.
type instanceScope struct {
	scope     *scope
	funcs     map[string]uint32
	types     map[string]typeRef
	err       error
	resources []string
	namespace string
}

func primType(p PrimType) (wit.Type, error) {
	switch p {
	case PrimBool:
		return wit.Bool{}, nil
	case PrimS8:
		return wit.S8{}, nil
	case PrimU8:
		return wit.U8{}, nil
	case PrimS16:
		return wit.S16{}, nil
	case PrimU16:
		return wit.U16{}, nil
	case PrimS32:
		return wit.S32{}, nil
	case PrimU32:
		return wit.U32{}, nil
	case PrimS64:
		return wit.S64{}, nil
	case PrimU64:
		return wit.U64{}, nil
	case PrimF32:
		return wit.F32{}, nil
	case PrimF64:
		return wit.F64{}, nil
	case PrimChar:
		return wit.Char{}, nil
	case PrimString:
		return wit.String{}, nil
	}
	return nil, fmt.Errorf("primitive 0x%02x: %w", byte(p), ErrUnsupported)
}

// witType converts v to the WIT types the abi package lowers and lifts.
// Handles become u32 table indices.
func (s *scope) witType(v ValType) (wit.Type, error) {
	if v.IsPrim() {
		return primType(v.Prim)
	}
	ref, err := s.lookup(v.Index)
	if err != nil {
		return nil, err
	}
	if ref.resource != nil {
		return nil, fmt.Errorf("resource %s used as a value", ref.resource.Name)
	}

	switch d := ref.def.(type) {
	case *PrimitiveType:
		return primType(d.Prim)
	case *ListType:
		elem, err := ref.scope.witType(d.Elem)
		if err != nil {
			return nil, err
		}
		return abi.ListOf(elem), nil
	case *OwnType:
		if _, err := ref.scope.resource(d.Resource); err != nil {
			return nil, err
		}
		return wit.U32{}, nil
	case *BorrowType:
		if _, err := ref.scope.resource(d.Resource); err != nil {
			return nil, err
		}
		return wit.U32{}, nil
	}
	return nil, fmt.Errorf("value type %T: %w", ref.def, ErrUnsupported)
}

func (s *scope) resource(idx uint32) (*Resource, error) {
	ref, err := s.lookup(idx)
	if err != nil {
		return nil, err
	}
	if ref.resource == nil {
		return nil, fmt.Errorf("type %d is not a resource", idx)
	}
	return ref.resource, nil
}

// funcType converts the function type at idx.
func (s *scope) funcType(idx uint32) ([]world.Param, []wit.Type, error) {
	ref, err := s.lookup(idx)
	if err != nil {
		return nil, nil, err
	}
	ft, ok := ref.def.(*FuncType)
	if !ok {
		return nil, nil, fmt.Errorf("type %d is not a function type", idx)
	}

	params := make([]world.Param, len(ft.Params))
	for i, p := range ft.Params {
		t, err := ref.scope.witType(p.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		params[i] = world.Param{Name: p.Name, Type: t}
	}
	var results []wit.Type
	for _, r := range ft.Results {
		t, err := ref.scope.witType(r)
		if err != nil {
			return nil, nil, fmt.Errorf("result: %w", err)
		}
		results = append(results, t)
	}
	return params, results, nil
}

// types resolves the component type index space once.
func (c *Component) types() *scope {
	c.scopeOnce.Do(func() {
		c.instScopes = make(map[uint32]*instanceScope)
		c.typeScope = &scope{types: make([]typeRef, 0, len(c.Types))}
		for i, t := range c.Types {
			c.typeScope.types = append(c.typeScope.types, c.resolveEntry(uint32(i), t))
		}
		for i, inst := range c.Instances {
			if inst.Kind != InstanceImport {
				continue
			}
			if _, err := c.instanceScope(uint32(i)); err != nil {
				c.instScopes[uint32(i)] = &instanceScope{err: err}
			}
		}
	})
	return c.typeScope
}

func (c *Component) resolveEntry(idx uint32, t TypeEntry) typeRef {
	s := c.typeScope
	switch {
	case t.Def != nil:
		if _, ok := t.Def.(*ResourceType); ok {
			return typeRef{err: fmt.Errorf("resource defined by the component: %w", ErrUnsupported)}
		}
		return typeRef{def: t.Def, scope: s}

	case t.Target != nil:
		return s.types[*t.Target]

	case t.Import != nil:
		if t.Import.Desc.Bound == BoundSubResource {
			return typeRef{resource: &Resource{Namespace: world.RootNamespace, Name: t.Import.Name}}
		}
		if t.Import.Desc.Index >= idx {
			return typeRef{err: fmt.Errorf("type import %s: bound %d out of range", t.Import.Name, t.Import.Desc.Index)}
		}
		return s.types[t.Import.Desc.Index]

	case t.Alias != nil:
		is, err := c.instanceScope(t.Alias.Instance)
		if err != nil {
			return typeRef{err: err}
		}
		ref, ok := is.types[t.Alias.Name]
		if !ok {
			return typeRef{err: fmt.Errorf("instance %d exports no type %s", t.Alias.Instance, t.Alias.Name)}
		}
		return ref
	}
	return typeRef{err: fmt.Errorf("empty type entry %d", idx)}
}

// instanceScope resolves the type of the imported instance idx. Results
// are cached while the component type space is built and read-only after.
func (c *Component) instanceScope(idx uint32) (*instanceScope, error) {
	if is, ok := c.instScopes[idx]; ok {
		return is, is.err
	}
	if int(idx) >= len(c.Instances) {
		return nil, fmt.Errorf("instance %d out of range", idx)
	}
	inst := c.Instances[idx]
	if inst.Kind == InstanceExport {
		return c.instanceScope(inst.Source)
	}
	if inst.Kind != InstanceImport {
		return nil, fmt.Errorf("types of a non-imported instance: %w", ErrUnsupported)
	}

	s := c.typeScope
	if int(inst.Type) >= len(s.types) {
		return nil, fmt.Errorf("instance %s: type %d not yet defined", inst.Name, inst.Type)
	}
	ref, err := s.lookup(inst.Type)
	if err != nil {
		return nil, err
	}
	it, ok := ref.def.(*InstanceType)
	if !ok {
		return nil, fmt.Errorf("instance %s: type %d is not an instance type", inst.Name, inst.Type)
	}

	is := buildInstanceScope(it, ref.scope, inst.Name)
	c.instScopes[idx] = is
	return is, nil
}

func buildInstanceScope(it *InstanceType, parent *scope, ns string) *instanceScope {
	is := &instanceScope{
		scope:     &scope{},
		funcs:     make(map[string]uint32),
		types:     make(map[string]typeRef),
		namespace: ns,
	}
	local := is.scope

	for _, d := range it.Decls {
		switch d.Kind {
		case DeclType:
			if _, ok := d.Type.(*ResourceType); ok {
				local.types = append(local.types, typeRef{err: fmt.Errorf("resource definition in instance type: %w", ErrUnsupported)})
				continue
			}
			local.types = append(local.types, typeRef{def: d.Type, scope: local})

		case DeclAlias:
			a := d.Alias
			if a.Target == AliasOuter && a.Sort == SortType && a.Count == 1 && parent != nil && int(a.Index) < len(parent.types) {
				local.types = append(local.types, parent.types[a.Index])
				continue
			}
			local.types = append(local.types, typeRef{err: fmt.Errorf("alias in instance type: %w", ErrUnsupported)})

		case DeclExport:
			switch d.Desc.Sort {
			case SortType:
				var ref typeRef
				switch {
				case d.Desc.Bound == BoundSubResource:
					ref = typeRef{resource: &Resource{Namespace: ns, Name: d.Name}}
					is.resources = append(is.resources, d.Name)
				case int(d.Desc.Index) < len(local.types):
					ref = local.types[d.Desc.Index]
				default:
					ref = typeRef{err: fmt.Errorf("export %s: type %d out of range", d.Name, d.Desc.Index)}
				}
				local.types = append(local.types, ref)
				is.types[d.Name] = ref
			case SortFunc:
				is.funcs[d.Name] = d.Desc.Index
			}
		}
	}
	return is
}

// ImportedFunc resolves component function fn to the namespace and name
// the host must provide it under. Functions imported directly by the
// component live in world.RootNamespace.
func (c *Component) ImportedFunc(fn uint32) (string, string, error) {
	for range len(c.Funcs) + 1 {
		if int(fn) >= len(c.Funcs) {
			return "", "", fmt.Errorf("func %d out of range", fn)
		}
		f := c.Funcs[fn]
		switch f.Kind {
		case FuncImport:
			return world.RootNamespace, f.Name, nil
		case FuncExport:
			fn = f.Target
		case FuncAlias:
			inst, err := c.importedInstance(f.Instance)
			if err != nil {
				return "", "", err
			}
			return inst.Name, f.Name, nil
		case FuncLift:
			return "", "", fmt.Errorf("lowering a lifted function: %w", ErrUnsupported)
		}
	}
	return "", "", fmt.Errorf("func %d: export cycle", fn)
}

func (c *Component) importedInstance(idx uint32) (Instance, error) {
	for range len(c.Instances) + 1 {
		if int(idx) >= len(c.Instances) {
			return Instance{}, fmt.Errorf("instance %d out of range", idx)
		}
		inst := c.Instances[idx]
		switch inst.Kind {
		case InstanceImport:
			return inst, nil
		case InstanceExport:
			idx = inst.Source
		default:
			return Instance{}, fmt.Errorf("function of a non-imported instance: %w", ErrUnsupported)
		}
	}
	return Instance{}, fmt.Errorf("instance %d: export cycle", idx)
}

// ResourceOf resolves the resource type at idx to its import.
func (c *Component) ResourceOf(idx uint32) (Resource, error) {
	r, err := c.types().resource(idx)
	if err != nil {
		return Resource{}, err
	}
	return *r, nil
}

// Lifted is a function the component exports, under the name a caller
// uses for it: a plain name for freestanding exports and iface#name for
// functions of an exported interface.
type Lifted struct {
	Func    *Func
	Params  []world.Param
	Results []wit.Type
	Name    string
	Err     error
}

// Lifts lists the exported functions, sorted by name. Err is set on
// functions whose types fall outside the supported subset.
func (c *Component) Lifts() []Lifted {
	s := c.types()
	var out []Lifted

	add := func(name string, fn uint32) {
		l := Lifted{Name: name}
		f, err := c.lifted(fn)
		if err == nil {
			l.Func = f
			l.Params, l.Results, err = s.funcType(f.Type)
		}
		l.Err = err
		out = append(out, l)
	}

	for _, e := range c.Exports {
		switch e.Sort {
		case SortFunc:
			add(e.Name, e.Index)
		case SortInstance:
			items, err := c.instanceItems(e.Index)
			if err != nil {
				out = append(out, Lifted{Name: e.Name, Err: err})
				continue
			}
			for _, item := range items {
				if item.Sort == SortFunc {
					add(e.Name+"#"+item.Name, item.Index)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Component) lifted(fn uint32) (*Func, error) {
	for range len(c.Funcs) + 1 {
		if int(fn) >= len(c.Funcs) {
			return nil, fmt.Errorf("func %d out of range", fn)
		}
		f := &c.Funcs[fn]
		switch f.Kind {
		case FuncLift:
			return f, nil
		case FuncExport:
			fn = f.Target
		default:
			return nil, fmt.Errorf("re-export of an imported function: %w", ErrUnsupported)
		}
	}
	return nil, fmt.Errorf("func %d: export cycle", fn)
}

func (c *Component) instanceItems(idx uint32) ([]InstanceItem, error) {
	for range len(c.Instances) + 1 {
		if int(idx) >= len(c.Instances) {
			return nil, fmt.Errorf("instance %d out of range", idx)
		}
		inst := c.Instances[idx]
		switch inst.Kind {
		case InstanceFromExports:
			return inst.Items, nil
		case InstanceExport:
			idx = inst.Source
		default:
			return nil, fmt.Errorf("re-export of an imported instance: %w", ErrUnsupported)
		}
	}
	return nil, fmt.Errorf("instance %d: export cycle", idx)
}

// World derives the contract of the component from its own type
// information: every function it imports, each imported resource's drop,
// and every lifted export. Functions whose types fall outside the
// supported subset are left out; instantiation reports them.
func (c *Component) World() *world.World {
	s := c.types()
	w := world.New("", "")

	for i, inst := range c.Instances {
		if inst.Kind != InstanceImport {
			continue
		}
		is, err := c.instanceScope(uint32(i))
		if err != nil {
			continue
		}
		for name, typ := range is.funcs {
			params, results, err := is.scope.funcType(typ)
			if err != nil {
				continue
			}
			w.AddImport(inst.Name, &world.Func{Name: name, Params: params, Results: results})
		}
		for _, res := range is.resources {
			w.AddImport(inst.Name, world.DropFunc(res))
		}
	}

	for _, f := range c.Funcs {
		if f.Kind != FuncImport {
			continue
		}
		params, results, err := s.funcType(f.Type)
		if err != nil {
			continue
		}
		w.AddImport(world.RootNamespace, &world.Func{Name: f.Name, Params: params, Results: results})
	}

	for _, l := range c.Lifts() {
		if l.Err != nil {
			continue
		}
		w.AddExport(l.Name, &world.Func{Name: l.Name, Params: l.Params, Results: l.Results})
	}
	return w
}

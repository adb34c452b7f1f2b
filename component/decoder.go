package component

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

var (
	preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}

	// ErrUnsupported marks component features outside the decoded subset.
	ErrUnsupported = errors.New("unsupported component feature")
)

// Section ids of the component binary format.
const (
	sectionCustom       = 0
	sectionCoreModule   = 1
	sectionCoreInstance = 2
	sectionCoreType     = 3
	sectionComponent    = 4
	sectionInstance     = 5
	sectionAlias        = 6
	sectionType         = 7
	sectionCanon        = 8
	sectionStart        = 9
	sectionImport       = 10
	sectionExport       = 11
)

// Alias target kinds.
const (
	AliasExport     byte = 0x00
	AliasCoreExport byte = 0x01
	AliasOuter      byte = 0x02
)

// Alias makes an item of another instance, or of an enclosing scope,
// available in the current index space.
type Alias struct {
	Name     string
	Instance uint32
	Count    uint32
	Index    uint32
	Sort     byte
	CoreSort byte
	Target   byte
}

// Core instance kinds.
const (
	CoreInstantiate byte = 0x00
	CoreFromExports byte = 0x01
)

// CoreArg passes a core instance to the module being instantiated under
// the import module name Name.
type CoreArg struct {
	Name     string
	Instance uint32
}

// CoreExport is an item of a core instance built from exports.
type CoreExport struct {
	Name  string
	Index uint32
	Sort  byte
}

// CoreInstance is an entry of the core instance index space.
type CoreInstance struct {
	Args    []CoreArg
	Exports []CoreExport
	Module  uint32
	Kind    byte
}

// CoreItem is a core table, memory or global aliased from a core instance.
type CoreItem struct {
	Name     string
	Instance uint32
}

// CoreFuncKind says where a core function comes from.
type CoreFuncKind int

const (
	CoreFuncAlias CoreFuncKind = iota
	CoreFuncLower
	CoreFuncResourceNew
	CoreFuncResourceDrop
	CoreFuncResourceRep
)

// Canonical option codes.
const (
	optUTF8       = 0x00
	optUTF16      = 0x01
	optCompact    = 0x02
	optMemory     = 0x03
	optRealloc    = 0x04
	optPostReturn = 0x05
	optAsync      = 0x06
	optCallback   = 0x07
)

// CanonOptions are the canonical ABI options of a lift or lower.
type CanonOptions struct {
	Memory     *uint32
	Realloc    *uint32
	PostReturn *uint32
	Encoding   byte
}

// CoreFunc is an entry of the core function index space.
type CoreFunc struct {
	Alias    CoreItem
	Options  CanonOptions
	Func     uint32
	Resource uint32
	Kind     CoreFuncKind
}

// FuncKind says where a component function comes from.
type FuncKind int

const (
	FuncImport FuncKind = iota
	FuncAlias
	FuncLift
	FuncExport
)

// Func is an entry of the component function index space.
type Func struct {
	Name     string
	Options  CanonOptions
	Instance uint32
	Type     uint32
	Core     uint32
	Target   uint32
	Kind     FuncKind
}

// InstanceKind says where a component instance comes from.
type InstanceKind int

const (
	InstanceImport InstanceKind = iota
	InstanceFromExports
	InstanceAlias
	InstanceExport
)

// InstanceItem is an item of an instance built from exports.
type InstanceItem struct {
	Name  string
	Index uint32
	Sort  byte
}

// Instance is an entry of the component instance index space.
type Instance struct {
	Name   string
	Items  []InstanceItem
	Type   uint32
	Source uint32
	Kind   InstanceKind
}

// TypeEntry is an entry of the component type index space. Exactly one
// of Def, Alias, Import or Target describes it.
type TypeEntry struct {
	Def    Type
	Alias  *Alias
	Import *Import
	Target *uint32
}

// Import is a component-level import.
type Import struct {
	Name string
	Desc ExternDesc
}

// Export is a component-level export.
type Export struct {
	Name  string
	Index uint32
	Sort  byte
}

// Component is a decoded component binary.
type Component struct {
	CoreModules   [][]byte
	CoreInstances []CoreInstance
	CoreFuncs     []CoreFunc
	CoreMemories  []CoreItem
	CoreTables    []CoreItem
	CoreGlobals   []CoreItem
	Types         []TypeEntry
	Funcs         []Func
	Instances     []Instance
	Imports       []Import
	Exports       []Export

	typeScope  *scope
	instScopes map[uint32]*instanceScope
	scopeOnce  sync.Once
}

// IsComponent reports whether data starts with the component preamble.
func IsComponent(data []byte) bool {
	return len(data) >= len(preamble) && bytes.Equal(data[:len(preamble)], preamble)
}

// Decode parses a component binary.
func Decode(data []byte) (*Component, error) {
	if !IsComponent(data) {
		return nil, fmt.Errorf("not a component binary")
	}

	c := &Component{}
	r := getReader(data[len(preamble):])
	defer putReader(r)

	for r.Len() > 0 {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}
		size, err := readLEB128(r)
		if err != nil {
			return nil, fmt.Errorf("section %d: read size: %w", id, err)
		}
		payload, err := readBytes(r, size)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		if err := c.decodeSection(id, payload); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
	return c, nil
}

func (c *Component) decodeSection(id byte, payload []byte) error {
	switch id {
	case sectionCustom:
		return nil
	case sectionCoreModule:
		c.CoreModules = append(c.CoreModules, payload)
		return nil
	case sectionComponent:
		return fmt.Errorf("nested component: %w", ErrUnsupported)
	case sectionStart:
		return fmt.Errorf("start function: %w", ErrUnsupported)
	}

	r := getReader(payload)
	defer putReader(r)

	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		switch id {
		case sectionCoreInstance:
			err = c.decodeCoreInstance(r)
		case sectionCoreType:
			err = skipCoreType(r)
		case sectionInstance:
			err = c.decodeInstance(r)
		case sectionAlias:
			err = c.decodeAlias(r)
		case sectionType:
			var t Type
			if t, err = readType(r); err == nil {
				c.Types = append(c.Types, TypeEntry{Def: t})
			}
		case sectionCanon:
			err = c.decodeCanon(r)
		case sectionImport:
			err = c.decodeImport(r)
		case sectionExport:
			err = c.decodeExport(r)
		default:
			return fmt.Errorf("unknown section id %d", id)
		}
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	return nil
}

func (c *Component) decodeCoreInstance(r *bytes.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}
	ci := CoreInstance{Kind: kind}

	switch kind {
	case CoreInstantiate:
		if ci.Module, err = readLEB128(r); err != nil {
			return err
		}
		if int(ci.Module) >= len(c.CoreModules) {
			return fmt.Errorf("core module %d out of range", ci.Module)
		}
		n, err := readCount(r)
		if err != nil {
			return err
		}
		for j := uint32(0); j < n; j++ {
			var arg CoreArg
			if arg.Name, err = readName(r); err != nil {
				return err
			}
			sort, err := readByte(r)
			if err != nil {
				return err
			}
			if sort != CoreSortInstance {
				return fmt.Errorf("instantiate argument %q: sort 0x%02x is not an instance", arg.Name, sort)
			}
			if arg.Instance, err = readLEB128(r); err != nil {
				return err
			}
			if int(arg.Instance) >= len(c.CoreInstances) {
				return fmt.Errorf("instantiate argument %q: core instance %d out of range", arg.Name, arg.Instance)
			}
			ci.Args = append(ci.Args, arg)
		}

	case CoreFromExports:
		n, err := readCount(r)
		if err != nil {
			return err
		}
		for j := uint32(0); j < n; j++ {
			var e CoreExport
			if e.Name, err = readName(r); err != nil {
				return err
			}
			if e.Sort, err = readByte(r); err != nil {
				return err
			}
			if e.Index, err = readLEB128(r); err != nil {
				return err
			}
			if err := c.checkCore(e.Sort, e.Index); err != nil {
				return fmt.Errorf("export %q: %w", e.Name, err)
			}
			ci.Exports = append(ci.Exports, e)
		}

	default:
		return fmt.Errorf("unknown core instance kind 0x%02x", kind)
	}

	c.CoreInstances = append(c.CoreInstances, ci)
	return nil
}

// checkCore verifies that idx is defined in the core index space of sort.
func (c *Component) checkCore(sort byte, idx uint32) error {
	var n int
	switch sort {
	case CoreSortFunc:
		n = len(c.CoreFuncs)
	case CoreSortTable:
		n = len(c.CoreTables)
	case CoreSortMemory:
		n = len(c.CoreMemories)
	case CoreSortGlobal:
		n = len(c.CoreGlobals)
	default:
		return fmt.Errorf("core sort 0x%02x: %w", sort, ErrUnsupported)
	}
	if int(idx) >= n {
		return fmt.Errorf("core sort 0x%02x index %d out of range", sort, idx)
	}
	return nil
}

func (c *Component) decodeInstance(r *bytes.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}
	if kind == 0x00 {
		return fmt.Errorf("component instantiation: %w", ErrUnsupported)
	}
	if kind != 0x01 {
		return fmt.Errorf("unknown instance kind 0x%02x", kind)
	}

	n, err := readCount(r)
	if err != nil {
		return err
	}
	inst := Instance{Kind: InstanceFromExports}
	for j := uint32(0); j < n; j++ {
		var item InstanceItem
		if item.Name, err = readExternName(r); err != nil {
			return err
		}
		if item.Sort, err = readByte(r); err != nil {
			return err
		}
		if item.Sort == SortCore {
			return fmt.Errorf("instance item %q: core sort: %w", item.Name, ErrUnsupported)
		}
		if item.Index, err = readLEB128(r); err != nil {
			return err
		}
		inst.Items = append(inst.Items, item)
	}
	c.Instances = append(c.Instances, inst)
	return nil
}

func readAlias(r *bytes.Reader) (Alias, error) {
	var a Alias
	var err error
	if a.Sort, err = readByte(r); err != nil {
		return a, err
	}
	if a.Sort == SortCore {
		if a.CoreSort, err = readByte(r); err != nil {
			return a, err
		}
	}
	if a.Target, err = readByte(r); err != nil {
		return a, err
	}
	switch a.Target {
	case AliasExport, AliasCoreExport:
		if a.Instance, err = readLEB128(r); err != nil {
			return a, err
		}
		a.Name, err = readName(r)
	case AliasOuter:
		if a.Count, err = readLEB128(r); err != nil {
			return a, err
		}
		a.Index, err = readLEB128(r)
	default:
		err = fmt.Errorf("unknown alias target 0x%02x", a.Target)
	}
	return a, err
}

func (c *Component) decodeAlias(r *bytes.Reader) error {
	a, err := readAlias(r)
	if err != nil {
		return err
	}

	switch a.Target {
	case AliasOuter:
		return fmt.Errorf("outer alias at component level: %w", ErrUnsupported)

	case AliasCoreExport:
		if a.Sort != SortCore {
			return fmt.Errorf("core export alias with sort 0x%02x", a.Sort)
		}
		if int(a.Instance) >= len(c.CoreInstances) {
			return fmt.Errorf("alias %q: core instance %d out of range", a.Name, a.Instance)
		}
		item := CoreItem{Instance: a.Instance, Name: a.Name}
		switch a.CoreSort {
		case CoreSortFunc:
			c.CoreFuncs = append(c.CoreFuncs, CoreFunc{Kind: CoreFuncAlias, Alias: item})
		case CoreSortTable:
			c.CoreTables = append(c.CoreTables, item)
		case CoreSortMemory:
			c.CoreMemories = append(c.CoreMemories, item)
		case CoreSortGlobal:
			c.CoreGlobals = append(c.CoreGlobals, item)
		default:
			return fmt.Errorf("alias %q: core sort 0x%02x: %w", a.Name, a.CoreSort, ErrUnsupported)
		}
		return nil
	}

	if int(a.Instance) >= len(c.Instances) {
		return fmt.Errorf("alias %q: instance %d out of range", a.Name, a.Instance)
	}
	switch a.Sort {
	case SortFunc:
		c.Funcs = append(c.Funcs, Func{Kind: FuncAlias, Instance: a.Instance, Name: a.Name})
	case SortType:
		c.Types = append(c.Types, TypeEntry{Alias: &a})
	case SortInstance:
		c.Instances = append(c.Instances, Instance{Kind: InstanceAlias, Source: a.Instance, Name: a.Name})
	default:
		return fmt.Errorf("alias %q: sort 0x%02x: %w", a.Name, a.Sort, ErrUnsupported)
	}
	return nil
}

func readCanonOptions(r *bytes.Reader) (CanonOptions, error) {
	var o CanonOptions
	n, err := readCount(r)
	if err != nil {
		return o, err
	}
	for i := uint32(0); i < n; i++ {
		code, err := readByte(r)
		if err != nil {
			return o, err
		}
		switch code {
		case optUTF8, optUTF16, optCompact:
			o.Encoding = code
		case optMemory, optRealloc, optPostReturn:
			idx, err := readLEB128(r)
			if err != nil {
				return o, err
			}
			switch code {
			case optMemory:
				o.Memory = &idx
			case optRealloc:
				o.Realloc = &idx
			default:
				o.PostReturn = &idx
			}
		case optAsync, optCallback:
			return o, fmt.Errorf("async canonical option: %w", ErrUnsupported)
		default:
			return o, fmt.Errorf("unknown canonical option 0x%02x", code)
		}
	}
	if o.Encoding != optUTF8 {
		return o, fmt.Errorf("string encoding 0x%02x: %w", o.Encoding, ErrUnsupported)
	}
	return o, nil
}

func (c *Component) checkOptions(o CanonOptions) error {
	if o.Memory != nil && int(*o.Memory) >= len(c.CoreMemories) {
		return fmt.Errorf("memory %d out of range", *o.Memory)
	}
	if o.Realloc != nil && int(*o.Realloc) >= len(c.CoreFuncs) {
		return fmt.Errorf("realloc %d out of range", *o.Realloc)
	}
	if o.PostReturn != nil && int(*o.PostReturn) >= len(c.CoreFuncs) {
		return fmt.Errorf("post-return %d out of range", *o.PostReturn)
	}
	return nil
}

func (c *Component) decodeCanon(r *bytes.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}

	switch kind {
	case 0x00: // lift
		if b, err := readByte(r); err != nil || b != 0x00 {
			return fmt.Errorf("malformed canon lift")
		}
		core, err := readLEB128(r)
		if err != nil {
			return err
		}
		opts, err := readCanonOptions(r)
		if err != nil {
			return err
		}
		typ, err := readLEB128(r)
		if err != nil {
			return err
		}
		if int(core) >= len(c.CoreFuncs) {
			return fmt.Errorf("lift: core func %d out of range", core)
		}
		if int(typ) >= len(c.Types) {
			return fmt.Errorf("lift: type %d out of range", typ)
		}
		if err := c.checkOptions(opts); err != nil {
			return fmt.Errorf("lift: %w", err)
		}
		c.Funcs = append(c.Funcs, Func{Kind: FuncLift, Core: core, Type: typ, Options: opts})

	case 0x01: // lower
		if b, err := readByte(r); err != nil || b != 0x00 {
			return fmt.Errorf("malformed canon lower")
		}
		fn, err := readLEB128(r)
		if err != nil {
			return err
		}
		opts, err := readCanonOptions(r)
		if err != nil {
			return err
		}
		if int(fn) >= len(c.Funcs) {
			return fmt.Errorf("lower: func %d out of range", fn)
		}
		if err := c.checkOptions(opts); err != nil {
			return fmt.Errorf("lower: %w", err)
		}
		c.CoreFuncs = append(c.CoreFuncs, CoreFunc{Kind: CoreFuncLower, Func: fn, Options: opts})

	case 0x02, 0x03, 0x04: // resource.new, resource.drop, resource.rep
		typ, err := readLEB128(r)
		if err != nil {
			return err
		}
		if int(typ) >= len(c.Types) {
			return fmt.Errorf("resource builtin: type %d out of range", typ)
		}
		k := CoreFuncResourceNew
		switch kind {
		case 0x03:
			k = CoreFuncResourceDrop
		case 0x04:
			k = CoreFuncResourceRep
		}
		c.CoreFuncs = append(c.CoreFuncs, CoreFunc{Kind: k, Resource: typ})

	default:
		return fmt.Errorf("canonical built-in 0x%02x: %w", kind, ErrUnsupported)
	}
	return nil
}

func (c *Component) decodeImport(r *bytes.Reader) error {
	name, err := readExternName(r)
	if err != nil {
		return err
	}
	desc, err := readExternDesc(r)
	if err != nil {
		return err
	}
	imp := Import{Name: name, Desc: desc}

	switch desc.Sort {
	case SortFunc:
		if int(desc.Index) >= len(c.Types) {
			return fmt.Errorf("import %q: type %d out of range", name, desc.Index)
		}
		c.Funcs = append(c.Funcs, Func{Kind: FuncImport, Name: name, Type: desc.Index})
	case SortInstance:
		if int(desc.Index) >= len(c.Types) {
			return fmt.Errorf("import %q: type %d out of range", name, desc.Index)
		}
		c.Instances = append(c.Instances, Instance{Kind: InstanceImport, Name: name, Type: desc.Index})
	case SortType:
		c.Types = append(c.Types, TypeEntry{Import: &imp})
	default:
		return fmt.Errorf("import %q of sort 0x%02x: %w", name, desc.Sort, ErrUnsupported)
	}
	c.Imports = append(c.Imports, imp)
	return nil
}

func (c *Component) decodeExport(r *bytes.Reader) error {
	name, err := readExternName(r)
	if err != nil {
		return err
	}
	sort, err := readByte(r)
	if err != nil {
		return err
	}
	if sort == SortCore {
		return fmt.Errorf("export %q: core sort: %w", name, ErrUnsupported)
	}
	idx, err := readLEB128(r)
	if err != nil {
		return err
	}
	// optional ascribed type
	ascribed, err := readByte(r)
	if err != nil {
		return err
	}
	if ascribed == 0x01 {
		if _, err := readExternDesc(r); err != nil {
			return err
		}
	}

	switch sort {
	case SortFunc:
		if int(idx) >= len(c.Funcs) {
			return fmt.Errorf("export %q: func %d out of range", name, idx)
		}
		c.Funcs = append(c.Funcs, Func{Kind: FuncExport, Name: name, Target: idx})
	case SortInstance:
		if int(idx) >= len(c.Instances) {
			return fmt.Errorf("export %q: instance %d out of range", name, idx)
		}
		c.Instances = append(c.Instances, Instance{Kind: InstanceExport, Name: name, Source: idx})
	case SortType:
		if int(idx) >= len(c.Types) {
			return fmt.Errorf("export %q: type %d out of range", name, idx)
		}
		target := idx
		c.Types = append(c.Types, TypeEntry{Target: &target})
	default:
		return fmt.Errorf("export %q of sort 0x%02x: %w", name, sort, ErrUnsupported)
	}
	c.Exports = append(c.Exports, Export{Name: name, Sort: sort, Index: idx})
	return nil
}

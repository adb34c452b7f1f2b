package component

import (
	"bytes"
	"fmt"
)

// Sorts of the component index spaces.
const (
	SortCore      byte = 0x00
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// Sorts of the core index spaces.
const (
	CoreSortFunc     byte = 0x00
	CoreSortTable    byte = 0x01
	CoreSortMemory   byte = 0x02
	CoreSortGlobal   byte = 0x03
	CoreSortType     byte = 0x10
	CoreSortModule   byte = 0x11
	CoreSortInstance byte = 0x12
)

// Type bounds of an imported or exported type.
const (
	BoundEq          byte = 0x00
	BoundSubResource byte = 0x01
)

// PrimType is a primitive value type code.
type PrimType byte

const (
	PrimBool   PrimType = 0x7f
	PrimS8     PrimType = 0x7e
	PrimU8     PrimType = 0x7d
	PrimS16    PrimType = 0x7c
	PrimU16    PrimType = 0x7b
	PrimS32    PrimType = 0x7a
	PrimU32    PrimType = 0x79
	PrimS64    PrimType = 0x78
	PrimU64    PrimType = 0x77
	PrimF32    PrimType = 0x76
	PrimF64    PrimType = 0x75
	PrimChar   PrimType = 0x74
	PrimString PrimType = 0x73
)

func isPrim(b byte) bool {
	return b >= byte(PrimString) && b <= byte(PrimBool)
}

// ValType is a value type: a primitive or an index into the type space of
// the enclosing scope.
type ValType struct {
	Prim  PrimType
	Index uint32
}

// IsPrim reports whether v is a primitive.
func (v ValType) IsPrim() bool {
	return v.Prim != 0
}

func (v ValType) String() string {
	if v.IsPrim() {
		return fmt.Sprintf("prim(0x%02x)", byte(v.Prim))
	}
	return fmt.Sprintf("type[%d]", v.Index)
}

// Type is an entry of a type section or a type declaration.
type Type interface {
	isType()
}

type typeMarker struct{}

func (typeMarker) isType() {}

// PrimitiveType names a primitive, e.g. (type u32).
type PrimitiveType struct {
	typeMarker
	Prim PrimType
}

// Field is a named record field.
type Field struct {
	Name string
	Type ValType
}

// RecordType is a record<...>.
type RecordType struct {
	typeMarker
	Fields []Field
}

// Case is a variant case with an optional payload.
type Case struct {
	Type *ValType
	Name string
}

// VariantType is a variant<...>.
type VariantType struct {
	typeMarker
	Cases []Case
}

// ListType is a list<T>.
type ListType struct {
	typeMarker
	Elem ValType
}

// TupleType is a tuple<...>.
type TupleType struct {
	typeMarker
	Types []ValType
}

// FlagsType is a flags<...>.
type FlagsType struct {
	typeMarker
	Names []string
}

// EnumType is an enum<...>.
type EnumType struct {
	typeMarker
	Names []string
}

// OptionType is an option<T>.
type OptionType struct {
	typeMarker
	Elem ValType
}

// ResultType is a result<T, E>; either side may be absent.
type ResultType struct {
	typeMarker
	Ok  *ValType
	Err *ValType
}

// OwnType is an owned handle to the resource at Resource.
type OwnType struct {
	typeMarker
	Resource uint32
}

// BorrowType is a borrowed handle to the resource at Resource.
type BorrowType struct {
	typeMarker
	Resource uint32
}

// Param is a named function parameter.
type Param struct {
	Name string
	Type ValType
}

// FuncType is a component function type.
type FuncType struct {
	typeMarker
	Params  []Param
	Results []ValType
}

// ResourceType is a resource defined by the component itself.
type ResourceType struct {
	typeMarker
	Dtor *uint32
}

// Declaration kinds inside instance and component types.
const (
	DeclCoreType byte = 0x00
	DeclType     byte = 0x01
	DeclAlias    byte = 0x02
	DeclImport   byte = 0x03
	DeclExport   byte = 0x04
)

// ExternDesc describes an imported or exported item.
type ExternDesc struct {
	Sort  byte
	Index uint32
	Bound byte
}

// Decl is one declaration of an instance or component type.
type Decl struct {
	Type  Type
	Alias *Alias
	Name  string
	Desc  ExternDesc
	Kind  byte
}

// InstanceType is the type of an instance: its exports and the types they
// use.
type InstanceType struct {
	typeMarker
	Decls []Decl
}

// ComponentType is the type of a component.
type ComponentType struct {
	typeMarker
	Decls []Decl
}

func readValType(r *bytes.Reader) (ValType, error) {
	v, err := readSLEB128(r)
	if err != nil {
		return ValType{}, err
	}
	if v >= 0 {
		if v > int64(^uint32(0)) {
			return ValType{}, fmt.Errorf("type index %d out of range", v)
		}
		return ValType{Index: uint32(v)}, nil
	}
	b := byte(v & 0x7f)
	if !isPrim(b) {
		return ValType{}, fmt.Errorf("unsupported value type 0x%02x", b)
	}
	return ValType{Prim: PrimType(b)}, nil
}

func readOptValType(r *bytes.Reader) (*ValType, error) {
	present, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch present {
	case 0x00:
		return nil, nil
	case 0x01:
		v, err := readValType(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("invalid optional marker 0x%02x", present)
	}
}

func readNames(r *bytes.Reader) ([]string, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		if names[i], err = readName(r); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// readType reads one entry of a type section.
func readType(r *bytes.Reader) (Type, error) {
	b, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x40:
		return readFuncType(r)
	case 0x41:
		decls, err := readDecls(r, true)
		if err != nil {
			return nil, err
		}
		return &ComponentType{Decls: decls}, nil
	case 0x42:
		decls, err := readDecls(r, false)
		if err != nil {
			return nil, err
		}
		return &InstanceType{Decls: decls}, nil
	case 0x3f:
		return readResourceType(r)
	default:
		return readDefValType(r, b)
	}
}

func readDefValType(r *bytes.Reader, b byte) (Type, error) {
	if isPrim(b) {
		return &PrimitiveType{Prim: PrimType(b)}, nil
	}

	switch b {
	case 0x72:
		n, err := readCount(r)
		if err != nil {
			return nil, err
		}
		fields := make([]Field, n)
		for i := range fields {
			if fields[i].Name, err = readName(r); err != nil {
				return nil, err
			}
			if fields[i].Type, err = readValType(r); err != nil {
				return nil, err
			}
		}
		return &RecordType{Fields: fields}, nil

	case 0x71:
		n, err := readCount(r)
		if err != nil {
			return nil, err
		}
		cases := make([]Case, n)
		for i := range cases {
			if cases[i].Name, err = readName(r); err != nil {
				return nil, err
			}
			if cases[i].Type, err = readOptValType(r); err != nil {
				return nil, err
			}
			if _, err := readByte(r); err != nil {
				return nil, err
			}
		}
		return &VariantType{Cases: cases}, nil

	case 0x70:
		elem, err := readValType(r)
		if err != nil {
			return nil, err
		}
		return &ListType{Elem: elem}, nil

	case 0x6f:
		n, err := readCount(r)
		if err != nil {
			return nil, err
		}
		types := make([]ValType, n)
		for i := range types {
			if types[i], err = readValType(r); err != nil {
				return nil, err
			}
		}
		return &TupleType{Types: types}, nil

	case 0x6e:
		names, err := readNames(r)
		if err != nil {
			return nil, err
		}
		return &FlagsType{Names: names}, nil

	case 0x6d:
		names, err := readNames(r)
		if err != nil {
			return nil, err
		}
		return &EnumType{Names: names}, nil

	case 0x6b:
		elem, err := readValType(r)
		if err != nil {
			return nil, err
		}
		return &OptionType{Elem: elem}, nil

	case 0x6a:
		ok, err := readOptValType(r)
		if err != nil {
			return nil, err
		}
		e, err := readOptValType(r)
		if err != nil {
			return nil, err
		}
		return &ResultType{Ok: ok, Err: e}, nil

	case 0x69:
		idx, err := readLEB128(r)
		if err != nil {
			return nil, err
		}
		return &OwnType{Resource: idx}, nil

	case 0x68:
		idx, err := readLEB128(r)
		if err != nil {
			return nil, err
		}
		return &BorrowType{Resource: idx}, nil
	}
	return nil, fmt.Errorf("unsupported type 0x%02x", b)
}

func readFuncType(r *bytes.Reader) (*FuncType, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	ft := &FuncType{Params: make([]Param, n)}
	for i := range ft.Params {
		if ft.Params[i].Name, err = readName(r); err != nil {
			return nil, err
		}
		if ft.Params[i].Type, err = readValType(r); err != nil {
			return nil, err
		}
	}

	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch kind {
	case 0x00:
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		ft.Results = []ValType{t}
	case 0x01:
		// named results; current encoders only emit the empty list
		n, err := readLEB128(r)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := readName(r); err != nil {
				return nil, err
			}
			t, err := readValType(r)
			if err != nil {
				return nil, err
			}
			ft.Results = append(ft.Results, t)
		}
	default:
		return nil, fmt.Errorf("invalid result list 0x%02x", kind)
	}
	return ft, nil
}

func readResourceType(r *bytes.Reader) (*ResourceType, error) {
	rep, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if rep != 0x7f {
		return nil, fmt.Errorf("resource representation 0x%02x is not i32", rep)
	}
	present, err := readByte(r)
	if err != nil {
		return nil, err
	}
	rt := &ResourceType{}
	switch present {
	case 0x00:
	case 0x01:
		idx, err := readLEB128(r)
		if err != nil {
			return nil, err
		}
		rt.Dtor = &idx
	default:
		return nil, fmt.Errorf("invalid resource destructor marker 0x%02x", present)
	}
	return rt, nil
}

func readDecls(r *bytes.Reader, allowImports bool) ([]Decl, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	decls := make([]Decl, 0, n)
	for i := uint32(0); i < n; i++ {
		kind, err := readByte(r)
		if err != nil {
			return nil, err
		}
		d := Decl{Kind: kind}
		switch kind {
		case DeclCoreType:
			if err := skipCoreType(r); err != nil {
				return nil, fmt.Errorf("decl %d: %w", i, err)
			}
		case DeclType:
			if d.Type, err = readType(r); err != nil {
				return nil, fmt.Errorf("decl %d: %w", i, err)
			}
		case DeclAlias:
			a, err := readAlias(r)
			if err != nil {
				return nil, fmt.Errorf("decl %d: %w", i, err)
			}
			d.Alias = &a
		case DeclImport, DeclExport:
			if kind == DeclImport && !allowImports {
				return nil, fmt.Errorf("decl %d: import in instance type", i)
			}
			if d.Name, err = readExternName(r); err != nil {
				return nil, fmt.Errorf("decl %d: %w", i, err)
			}
			if d.Desc, err = readExternDesc(r); err != nil {
				return nil, fmt.Errorf("decl %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("decl %d: unknown kind 0x%02x", i, kind)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// readExternName reads an importname' or exportname'. The leading byte
// distinguishes plain names from versioned interface names; both carry the
// full name string.
func readExternName(r *bytes.Reader) (string, error) {
	kind, err := readByte(r)
	if err != nil {
		return "", err
	}
	if kind > 0x01 {
		return "", fmt.Errorf("unknown name kind 0x%02x", kind)
	}
	return readName(r)
}

func readExternDesc(r *bytes.Reader) (ExternDesc, error) {
	sort, err := readByte(r)
	if err != nil {
		return ExternDesc{}, err
	}
	d := ExternDesc{Sort: sort}
	switch sort {
	case SortCore:
		b, err := readByte(r)
		if err != nil {
			return d, err
		}
		if b != CoreSortModule {
			return d, fmt.Errorf("expected core module descriptor, got 0x%02x", b)
		}
		d.Index, err = readLEB128(r)
		return d, err
	case SortFunc, SortComponent, SortInstance:
		d.Index, err = readLEB128(r)
		return d, err
	case SortValue:
		b, err := readByte(r)
		if err != nil {
			return d, err
		}
		d.Bound = b
		if b == 0x00 {
			d.Index, err = readLEB128(r)
			return d, err
		}
		v, err := readValType(r)
		d.Index = v.Index
		return d, err
	case SortType:
		if d.Bound, err = readByte(r); err != nil {
			return d, err
		}
		switch d.Bound {
		case BoundEq:
			d.Index, err = readLEB128(r)
			return d, err
		case BoundSubResource:
			return d, nil
		}
		return d, fmt.Errorf("unknown type bound 0x%02x", d.Bound)
	}
	return d, fmt.Errorf("unknown extern sort 0x%02x", sort)
}

// skipCoreType consumes a core type definition. Core types only describe
// core modules, which are validated by the runtime that compiles them.
func skipCoreType(r *bytes.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	switch b {
	case 0x60:
		return skipCoreFuncType(r)
	case 0x50:
		n, err := readCount(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := skipModuleDecl(r); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported core type 0x%02x", b)
}

func skipCoreFuncType(r *bytes.Reader) error {
	for range 2 {
		n, err := readCount(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := skipCoreValType(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func skipModuleDecl(r *bytes.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}
	switch kind {
	case 0x00: // import
		if _, err := readName(r); err != nil {
			return err
		}
		if _, err := readName(r); err != nil {
			return err
		}
		_, err := skipImportDesc(r)
		return err
	case 0x01: // type
		return skipCoreType(r)
	case 0x02: // outer alias
		if _, err := readByte(r); err != nil {
			return err
		}
		if _, err := readByte(r); err != nil {
			return err
		}
		if _, err := readLEB128(r); err != nil {
			return err
		}
		_, err := readLEB128(r)
		return err
	case 0x03: // export
		if _, err := readName(r); err != nil {
			return err
		}
		_, err := skipImportDesc(r)
		return err
	}
	return fmt.Errorf("unknown module declaration 0x%02x", kind)
}

// skipImportDesc consumes a core import descriptor and returns its kind.
func skipImportDesc(r *bytes.Reader) (byte, error) {
	kind, err := readByte(r)
	if err != nil {
		return 0, err
	}
	switch kind {
	case 0x00: // func
		_, err = readLEB128(r)
	case 0x01: // table
		if err = skipRefType(r); err == nil {
			err = skipLimits(r)
		}
	case 0x02: // memory
		err = skipLimits(r)
	case 0x03: // global
		if err = skipCoreValType(r); err == nil {
			_, err = readByte(r)
		}
	case 0x04: // tag
		if _, err = readByte(r); err == nil {
			_, err = readLEB128(r)
		}
	default:
		err = fmt.Errorf("unknown import kind 0x%02x", kind)
	}
	return kind, err
}

func skipCoreValType(r *bytes.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	switch b {
	case 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f:
		return nil
	case 0x64, 0x63:
		_, err := readSLEB128(r)
		return err
	}
	return fmt.Errorf("unknown core value type 0x%02x", b)
}

func skipRefType(r *bytes.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	switch b {
	case 0x70, 0x6f:
		return nil
	case 0x64, 0x63:
		_, err := readSLEB128(r)
		return err
	}
	return fmt.Errorf("unknown reference type 0x%02x", b)
}

func skipLimits(r *bytes.Reader) error {
	flags, err := readByte(r)
	if err != nil {
		return err
	}
	if _, err := readLEB128(r); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, err = readLEB128(r)
	}
	return err
}

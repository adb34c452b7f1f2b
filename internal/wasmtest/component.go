package wasmtest

import "bytes"

// Component section ids.
const (
	compCoreModule   = 1
	compCoreInstance = 2
	compAlias        = 6
	compType         = 7
	compCanon        = 8
	compImport       = 10
	compExport       = 11
)

// Sorts used by component sections.
const (
	SortCoreFunc   byte = 0x00
	SortCoreTable  byte = 0x01
	SortCoreMemory byte = 0x02
	SortFunc       byte = 0x01
	SortType       byte = 0x03
	SortInstance   byte = 0x05
)

// Value types.
var (
	U32    = []byte{0x79}
	String = []byte{0x73}
)

// Component is a component binary under construction. Every method
// appends one section, so index spaces grow in call order.
type Component struct {
	out bytes.Buffer
}

// NewComponent starts an empty component.
func NewComponent() *Component {
	c := &Component{}
	c.out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00})
	return c
}

func (c *Component) section(id byte, items ...[]byte) *Component {
	var s bytes.Buffer
	writeU32(&s, uint32(len(items)))
	for _, item := range items {
		s.Write(item)
	}
	writeSection(&c.out, id, s.Bytes())
	return c
}

// CoreModule embeds a core module.
func (c *Component) CoreModule(wasm []byte) *Component {
	writeSection(&c.out, compCoreModule, wasm)
	return c
}

// Type defines one type.
func (c *Component) Type(t []byte) *Component {
	return c.section(compType, t)
}

// ImportInstance imports an instance of the instance type at typeIdx.
func (c *Component) ImportInstance(name string, typeIdx uint32) *Component {
	return c.section(compImport, concat(externName(name), []byte{SortInstance}, uleb(typeIdx)))
}

// ImportFunc imports a function of the function type at typeIdx.
func (c *Component) ImportFunc(name string, typeIdx uint32) *Component {
	return c.section(compImport, concat(externName(name), []byte{SortFunc}, uleb(typeIdx)))
}

// Instantiate instantiates core module mod with args.
func (c *Component) Instantiate(mod uint32, args ...Arg) *Component {
	var b bytes.Buffer
	b.WriteByte(0x00)
	writeU32(&b, mod)
	writeU32(&b, uint32(len(args)))
	for _, a := range args {
		writeName(&b, a.Name)
		b.WriteByte(0x12)
		writeU32(&b, a.Instance)
	}
	return c.section(compCoreInstance, b.Bytes())
}

// Arg passes core instance Instance as import module Name.
type Arg struct {
	Name     string
	Instance uint32
}

// Item is an entry of a core instance built from exports.
type Item struct {
	Name  string
	Sort  byte
	Index uint32
}

// FromExports defines a core instance out of existing core items.
func (c *Component) FromExports(items ...Item) *Component {
	var b bytes.Buffer
	b.WriteByte(0x01)
	writeU32(&b, uint32(len(items)))
	for _, it := range items {
		writeName(&b, it.Name)
		b.WriteByte(it.Sort)
		writeU32(&b, it.Index)
	}
	return c.section(compCoreInstance, b.Bytes())
}

// AliasCore aliases an export of a core instance.
func (c *Component) AliasCore(sort byte, instance uint32, name string) *Component {
	return c.section(compAlias, concat([]byte{0x00, sort, 0x01}, uleb(instance), nameBytes(name)))
}

// AliasExport aliases an export of a component instance.
func (c *Component) AliasExport(sort byte, instance uint32, name string) *Component {
	return c.section(compAlias, concat([]byte{sort, 0x00}, uleb(instance), nameBytes(name)))
}

// Lower lowers component function fn into a core function.
func (c *Component) Lower(fn uint32, opts ...[]byte) *Component {
	return c.section(compCanon, concat([]byte{0x01, 0x00}, uleb(fn), options(opts)))
}

// Lift lifts core function core with the function type at typeIdx.
func (c *Component) Lift(core, typeIdx uint32, opts ...[]byte) *Component {
	return c.section(compCanon, concat([]byte{0x00, 0x00}, uleb(core), options(opts), uleb(typeIdx)))
}

// ResourceDrop defines a core function dropping handles of the resource at
// typeIdx.
func (c *Component) ResourceDrop(typeIdx uint32) *Component {
	return c.section(compCanon, concat([]byte{0x03}, uleb(typeIdx)))
}

// Export exports item idx of sort.
func (c *Component) Export(name string, sort byte, idx uint32) *Component {
	return c.section(compExport, concat(externName(name), []byte{sort}, uleb(idx), []byte{0x00}))
}

// Raw appends a section as is.
func (c *Component) Raw(id byte, payload []byte) *Component {
	writeSection(&c.out, id, payload)
	return c
}

// Bytes returns the encoded component.
func (c *Component) Bytes() []byte {
	return bytes.Clone(c.out.Bytes())
}

// Memory selects the core memory at idx.
func Memory(idx uint32) []byte { return append([]byte{0x03}, uleb(idx)...) }

// Realloc selects the core function at idx as allocator.
func Realloc(idx uint32) []byte { return append([]byte{0x04}, uleb(idx)...) }

// PostReturn selects the core function at idx as cleanup.
func PostReturn(idx uint32) []byte { return append([]byte{0x05}, uleb(idx)...) }

// UTF8 selects the UTF-8 string encoding.
func UTF8() []byte { return []byte{0x00} }

// Param is a named function parameter type.
type Param struct {
	Name string
	Type []byte
}

// FuncType encodes a function type. result may be nil.
func FuncType(params []Param, result []byte) []byte {
	b := []byte{0x40}
	b = append(b, uleb(uint32(len(params)))...)
	for _, p := range params {
		b = append(b, nameBytes(p.Name)...)
		b = append(b, p.Type...)
	}
	if result == nil {
		return append(b, 0x01, 0x00)
	}
	return append(append(b, 0x00), result...)
}

// InstanceType encodes an instance type from its declarations.
func InstanceType(decls ...[]byte) []byte {
	b := append([]byte{0x42}, uleb(uint32(len(decls)))...)
	for _, d := range decls {
		b = append(b, d...)
	}
	return b
}

// TypeDecl declares a type inside an instance type.
func TypeDecl(t []byte) []byte { return append([]byte{0x01}, t...) }

// ExportFunc declares a function export inside an instance type.
func ExportFunc(name string, typeIdx uint32) []byte {
	return concat([]byte{0x04}, externName(name), []byte{SortFunc}, uleb(typeIdx))
}

// ExportResource declares an abstract resource inside an instance type.
func ExportResource(name string) []byte {
	return concat([]byte{0x04}, externName(name), []byte{SortType, 0x01})
}

// List encodes list<elem>.
func List(elem []byte) []byte { return append([]byte{0x70}, elem...) }

// Own encodes own<T> for the resource at idx.
func Own(idx uint32) []byte { return append([]byte{0x69}, uleb(idx)...) }

// Borrow encodes borrow<T> for the resource at idx.
func Borrow(idx uint32) []byte { return append([]byte{0x68}, uleb(idx)...) }

// Index refers to the type at idx.
func Index(idx uint32) []byte { return sleb(int64(idx)) }

func options(opts [][]byte) []byte {
	b := uleb(uint32(len(opts)))
	for _, o := range opts {
		b = append(b, o...)
	}
	return b
}

func externName(name string) []byte {
	return append([]byte{0x00}, nameBytes(name)...)
}

func nameBytes(name string) []byte {
	return append(uleb(uint32(len(name))), name...)
}

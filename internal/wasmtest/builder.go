// Package wasmtest assembles small core wasm binaries in memory for tests.
package wasmtest

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	exportFunc   = 0x00
	exportMemory = 0x02
)

// HeapBase is where the bump allocator installed by WithRealloc starts.
const HeapBase = 4096

var (
	I32 = api.ValueTypeI32
	I64 = api.ValueTypeI64
)

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type importEntry struct {
	module, name string
	typeIdx      uint32
}

type memoryImport struct {
	module, name string
	pages        uint32
}

type function struct {
	export  string
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type global struct {
	typ     api.ValueType
	mutable bool
	init    int32
}

type dataSegment struct {
	offset uint32
	data   []byte
}

// Module is a wasm module under construction. Declare imports before
// functions: function indices count imports first.
type Module struct {
	types        []funcType
	imports      []importEntry
	memImport    *memoryImport
	funcs        []function
	globals      []global
	data         []dataSegment
	memoryPages  uint32
	memoryExport string
	hasMemory    bool
}

// New starts an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []api.ValueType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.params, params) && bytes.Equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares a function import and returns its function index.
func (m *Module) Import(module, name string, params, results []api.ValueType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	m.imports = append(m.imports, importEntry{
		module:  module,
		name:    name,
		typeIdx: m.typeIndex(params, results),
	})
	return uint32(len(m.imports) - 1)
}

// ImportMemory imports memory 0 instead of defining it.
func (m *Module) ImportMemory(module, name string, pages uint32) *Module {
	m.memImport = &memoryImport{module: module, name: name, pages: pages}
	return m
}

// Func adds a function, exported under export when non-empty, and returns
// its function index. The trailing end opcode is added automatically.
func (m *Module) Func(export string, params, results, locals []api.ValueType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		export:  export,
		typeIdx: m.typeIndex(params, results),
		locals:  locals,
		body:    bytes.Join(body, nil),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares a memory of pages 64KiB pages, exported as export.
func (m *Module) Memory(pages uint32, export string) *Module {
	m.hasMemory = true
	m.memoryPages = pages
	m.memoryExport = export
	return m
}

// Global declares a global and returns its index.
func (m *Module) Global(typ api.ValueType, mutable bool, init int32) uint32 {
	m.globals = append(m.globals, global{typ: typ, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// Data places bytes at offset in memory 0.
func (m *Module) Data(offset uint32, data []byte) *Module {
	m.data = append(m.data, dataSegment{offset: offset, data: data})
	return m
}

// WithRealloc exports memory and a bump-allocating cabi_realloc starting at
// HeapBase. It never frees.
func (m *Module) WithRealloc() *Module {
	if !m.hasMemory {
		m.Memory(1, "memory")
	}
	heap := m.Global(I32, true, HeapBase)
	m.Func("cabi_realloc",
		[]api.ValueType{I32, I32, I32, I32}, []api.ValueType{I32},
		[]api.ValueType{I32},
		// ptr = (heap + align - 1) & -align
		GlobalGet(heap), LocalGet(2), I32Add(), I32Const(1), I32Sub(),
		I32Const(0), LocalGet(2), I32Sub(), I32And(),
		LocalTee(4),
		LocalGet(3), I32Add(), GlobalSet(heap),
		LocalGet(4),
	)
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(len(m.types)))
		for _, t := range m.types {
			s.WriteByte(0x60)
			writeU32(&s, uint32(len(t.params)))
			s.Write(t.params)
			writeU32(&s, uint32(len(t.results)))
			s.Write(t.results)
		}
		writeSection(&out, sectionType, s.Bytes())
	}

	if n := len(m.imports); n > 0 || m.memImport != nil {
		if m.memImport != nil {
			n++
		}
		var s bytes.Buffer
		writeU32(&s, uint32(n))
		for _, imp := range m.imports {
			writeName(&s, imp.module)
			writeName(&s, imp.name)
			s.WriteByte(exportFunc)
			writeU32(&s, imp.typeIdx)
		}
		if mi := m.memImport; mi != nil {
			writeName(&s, mi.module)
			writeName(&s, mi.name)
			s.WriteByte(exportMemory)
			s.WriteByte(0x00)
			writeU32(&s, mi.pages)
		}
		writeSection(&out, sectionImport, s.Bytes())
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			writeU32(&s, f.typeIdx)
		}
		writeSection(&out, sectionFunction, s.Bytes())
	}

	if m.hasMemory {
		var s bytes.Buffer
		writeU32(&s, 1)
		s.WriteByte(0x00)
		writeU32(&s, m.memoryPages)
		writeSection(&out, sectionMemory, s.Bytes())
	}

	if len(m.globals) > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(len(m.globals)))
		for _, g := range m.globals {
			s.WriteByte(g.typ)
			if g.mutable {
				s.WriteByte(0x01)
			} else {
				s.WriteByte(0x00)
			}
			s.Write(I32Const(g.init))
			s.WriteByte(opEnd)
		}
		writeSection(&out, sectionGlobal, s.Bytes())
	}

	var exports bytes.Buffer
	count := 0
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		writeName(&exports, f.export)
		exports.WriteByte(exportFunc)
		writeU32(&exports, uint32(len(m.imports)+i))
		count++
	}
	if m.hasMemory && m.memoryExport != "" {
		writeName(&exports, m.memoryExport)
		exports.WriteByte(exportMemory)
		writeU32(&exports, 0)
		count++
	}
	if count > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(count))
		s.Write(exports.Bytes())
		writeSection(&out, sectionExport, s.Bytes())
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body bytes.Buffer
			writeU32(&body, uint32(len(f.locals)))
			for _, l := range f.locals {
				writeU32(&body, 1)
				body.WriteByte(l)
			}
			body.Write(f.body)
			body.WriteByte(opEnd)

			writeU32(&s, uint32(body.Len()))
			s.Write(body.Bytes())
		}
		writeSection(&out, sectionCode, s.Bytes())
	}

	if len(m.data) > 0 {
		var s bytes.Buffer
		writeU32(&s, uint32(len(m.data)))
		for _, d := range m.data {
			s.WriteByte(0x00)
			s.Write(I32Const(int32(d.offset)))
			s.WriteByte(opEnd)
			writeU32(&s, uint32(len(d.data)))
			s.Write(d.data)
		}
		writeSection(&out, sectionData, s.Bytes())
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	writeU32(out, uint32(len(payload)))
	out.Write(payload)
}

func writeName(out *bytes.Buffer, s string) {
	writeU32(out, uint32(len(s)))
	out.WriteString(s)
}

func writeU32(out *bytes.Buffer, v uint32) {
	out.Write(uleb(v))
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

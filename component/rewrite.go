package component

import (
	"bytes"
	"fmt"
)

var coreHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const coreSectionImport = 2

// Core import kinds.
const (
	ImportFunc   byte = 0x00
	ImportTable  byte = 0x01
	ImportMemory byte = 0x02
	ImportGlobal byte = 0x03
	ImportTag    byte = 0x04
)

// CoreImport is an import of a core module.
type CoreImport struct {
	Module string
	Name   string
	Kind   byte
}

type coreImportEntry struct {
	CoreImport
	desc []byte
}

// CoreImports lists the imports of a core module in declaration order.
func CoreImports(module []byte) ([]CoreImport, error) {
	var out []CoreImport
	err := walkSections(module, func(id byte, payload []byte) error {
		if id != coreSectionImport {
			return nil
		}
		entries, err := decodeCoreImports(payload)
		if err != nil {
			return err
		}
		for _, e := range entries {
			out = append(out, e.CoreImport)
		}
		return nil
	})
	return out, err
}

// RewriteImports returns a copy of module with the module and field name
// of every import replaced by what rename returns for it. Every other
// section is copied unchanged.
func RewriteImports(module []byte, rename func(CoreImport) (string, string, error)) ([]byte, error) {
	out := make([]byte, 0, len(module)+64)
	out = append(out, coreHeader...)

	err := walkSections(module, func(id byte, payload []byte) error {
		if id == coreSectionImport {
			entries, err := decodeCoreImports(payload)
			if err != nil {
				return err
			}
			payload = appendLEB128(nil, uint32(len(entries)))
			for _, e := range entries {
				mod, name, err := rename(e.CoreImport)
				if err != nil {
					return err
				}
				payload = appendName(payload, mod)
				payload = appendName(payload, name)
				payload = append(payload, e.desc...)
			}
		}
		out = append(out, id)
		out = appendLEB128(out, uint32(len(payload)))
		out = append(out, payload...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func walkSections(module []byte, fn func(id byte, payload []byte) error) error {
	if len(module) < len(coreHeader) || !bytes.Equal(module[:len(coreHeader)], coreHeader) {
		return fmt.Errorf("not a core module")
	}
	r := getReader(module[len(coreHeader):])
	defer putReader(r)

	for r.Len() > 0 {
		id, err := readByte(r)
		if err != nil {
			return err
		}
		size, err := readLEB128(r)
		if err != nil {
			return fmt.Errorf("core section %d: read size: %w", id, err)
		}
		payload, err := readBytes(r, size)
		if err != nil {
			return fmt.Errorf("core section %d: %w", id, err)
		}
		if err := fn(id, payload); err != nil {
			return fmt.Errorf("core section %d: %w", id, err)
		}
	}
	return nil
}

func decodeCoreImports(payload []byte) ([]coreImportEntry, error) {
	r := getReader(payload)
	defer putReader(r)

	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	entries := make([]coreImportEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e coreImportEntry
		if e.Module, err = readName(r); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		if e.Name, err = readName(r); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		start := len(payload) - r.Len()
		if e.Kind, err = skipImportDesc(r); err != nil {
			return nil, fmt.Errorf("import %s#%s: %w", e.Module, e.Name, err)
		}
		e.desc = payload[start : len(payload)-r.Len()]
		entries = append(entries, e)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in import section", r.Len())
	}
	return entries, nil
}

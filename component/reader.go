package component

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxNameLength bounds names read from untrusted binaries.
const maxNameLength = 100000

var errUnexpectedEnd = errors.New("unexpected end of section")

// readerPool pools bytes.Reader instances to reduce allocations
var readerPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Reader{}
	},
}

// getReader gets a pooled reader initialized with data
func getReader(data []byte) *bytes.Reader {
	r := readerPool.Get().(*bytes.Reader)
	r.Reset(data)
	return r
}

// putReader returns a reader to the pool
func putReader(r *bytes.Reader) {
	r.Reset(nil)
	readerPool.Put(r)
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err == io.EOF {
		return 0, errUnexpectedEnd
	}
	return b, err
}

// readLEB128 reads an unsigned LEB128 u32.
func readLEB128(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ { // Max 5 bytes for uint32
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			break
		}
	}
	return 0, fmt.Errorf("LEB128 encoding exceeded maximum length")
}

// readSLEB128 reads a signed LEB128 (var_s33 for type indices)
func readSLEB128(r io.ByteReader) (int64, error) {
	var result int64
	var shift uint
	for i := 0; i < 5; i++ { // Max 5 bytes for 33-bit value
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			// Sign extend if the high bit of the last byte's payload is set
			if shift < 64 && b&0x40 != 0 {
				result |= int64(-1) << shift
			}
			return result, nil
		}
	}
	return 0, fmt.Errorf("SLEB128 encoding exceeded maximum length")
}

func readName(r *bytes.Reader) (string, error) {
	length, err := readLEB128(r)
	if err != nil {
		return "", err
	}
	if length > maxNameLength {
		return "", fmt.Errorf("name too long: %d (max %d)", length, maxNameLength)
	}
	if int(length) > r.Len() {
		return "", errUnexpectedEnd
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readBytes reads n raw bytes.
func readBytes(r *bytes.Reader, n uint32) ([]byte, error) {
	if int(n) > r.Len() {
		return nil, errUnexpectedEnd
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readCount reads a vector length, rejecting lengths that cannot fit in
// the remaining input.
func readCount(r *bytes.Reader) (uint32, error) {
	n, err := readLEB128(r)
	if err != nil {
		return 0, err
	}
	if int(n) > r.Len() {
		return 0, fmt.Errorf("vector length %d exceeds remaining %d bytes", n, r.Len())
	}
	return n, nil
}

func appendLEB128(out []byte, v uint32) []byte {
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

func appendName(out []byte, s string) []byte {
	out = appendLEB128(out, uint32(len(s)))
	return append(out, s...)
}

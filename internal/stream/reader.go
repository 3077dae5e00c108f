// Package stream implements offset-addressed reads of fixed and variable
// width values over a byte-addressable source. All reads are pure: the
// reader keeps no cursor, and every failure carries the absolute offset,
// the requested size and the available size.
package stream

import (
	"fmt"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// Reader decodes primitive values from a ByteSource.
type Reader struct {
	src    types.ByteSource
	limits types.Limits
}

// NewReader wraps src. A zero Limits selects the defaults.
func NewReader(src types.ByteSource, limits types.Limits) *Reader {
	return &Reader{src: src, limits: limits.OrDefault()}
}

// Size returns the total size of the underlying source.
func (r *Reader) Size() int64 { return r.src.Size() }

// Limits returns the decode limits in effect.
func (r *Reader) Limits() types.Limits { return r.limits }

// ReadAt returns n bytes starting at off. A read past the end of the source
// fails with ErrTruncatedData naming the attempted offset.
func (r *Reader) ReadAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("stream: invalid read at offset %d size %d: %w",
			off, n, types.ErrTruncatedData)
	}
	size := r.src.Size()
	if off > size || int64(n) > size-off {
		avail := size - off
		if avail < 0 {
			avail = 0
		}
		return nil, fmt.Errorf("stream: read at offset 0x%X: need %d bytes, have %d: %w",
			off, n, avail, types.ErrTruncatedData)
	}
	p := make([]byte, n)
	if n == 0 {
		return p, nil
	}
	got, err := r.src.ReadAt(p, off)
	if got < n {
		return nil, fmt.Errorf("stream: short read at offset 0x%X: need %d bytes, got %d: %w",
			off, n, got, types.ErrTruncatedData)
	}
	_ = err // a full read with io.EOF at the exact boundary is fine
	return p, nil
}

// U8 reads an unsigned byte at off.
func (r *Reader) U8(off int64) (uint8, error) {
	b, err := r.ReadAt(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16LE reads a little-endian uint16 at off.
func (r *Reader) U16LE(off int64) (uint16, error) {
	b, err := r.ReadAt(off, 2)
	if err != nil {
		return 0, err
	}
	return buf.U16LE(b), nil
}

// U16BE reads a big-endian uint16 at off.
func (r *Reader) U16BE(off int64) (uint16, error) {
	b, err := r.ReadAt(off, 2)
	if err != nil {
		return 0, err
	}
	return buf.U16BE(b), nil
}

// U32LE reads a little-endian uint32 at off.
func (r *Reader) U32LE(off int64) (uint32, error) {
	b, err := r.ReadAt(off, 4)
	if err != nil {
		return 0, err
	}
	return buf.U32LE(b), nil
}

// U32BE reads a big-endian uint32 at off.
func (r *Reader) U32BE(off int64) (uint32, error) {
	b, err := r.ReadAt(off, 4)
	if err != nil {
		return 0, err
	}
	return buf.U32BE(b), nil
}

// U64LE reads a little-endian uint64 at off.
func (r *Reader) U64LE(off int64) (uint64, error) {
	b, err := r.ReadAt(off, 8)
	if err != nil {
		return 0, err
	}
	return buf.U64LE(b), nil
}

// U64BE reads a big-endian uint64 at off.
func (r *Reader) U64BE(off int64) (uint64, error) {
	b, err := r.ReadAt(off, 8)
	if err != nil {
		return 0, err
	}
	return buf.U64BE(b), nil
}

// F32LE reads a little-endian float32 at off.
func (r *Reader) F32LE(off int64) (float32, error) {
	b, err := r.ReadAt(off, 4)
	if err != nil {
		return 0, err
	}
	return buf.F32LE(b), nil
}

// F64LE reads a little-endian float64 at off.
func (r *Reader) F64LE(off int64) (float64, error) {
	b, err := r.ReadAt(off, 8)
	if err != nil {
		return 0, err
	}
	return buf.F64LE(b), nil
}

// VarInt reads a variable-size integer at off. Returns the decoded value
// and the number of bytes consumed.
func (r *Reader) VarInt(off int64) (uint64, int, error) {
	// Worst case is 1 prefix byte plus 7 continuation bytes.
	avail := r.src.Size() - off
	if avail <= 0 {
		return 0, 0, fmt.Errorf("stream: varint at offset 0x%X: need 1 byte, have 0: %w",
			off, types.ErrTruncatedData)
	}
	n := int64(maxVarIntSize)
	if avail < n {
		n = avail
	}
	b, err := r.ReadAt(off, int(n))
	if err != nil {
		return 0, 0, err
	}
	v, consumed, err := DecodeVarInt(b)
	if err != nil {
		return 0, 0, fmt.Errorf("stream: varint at offset 0x%X: %w", off, err)
	}
	return v, consumed, nil
}

// CString reads a null-terminated byte string at off, scanning at most max
// bytes (or the limit default when max <= 0). The terminator is consumed
// but not returned. A missing terminator within the scan window fails with
// ErrTruncatedData.
func (r *Reader) CString(off int64, max int) (string, int, error) {
	if max <= 0 {
		max = r.limits.MaxStringLen
	}
	avail := r.src.Size() - off
	if avail <= 0 {
		return "", 0, fmt.Errorf("stream: string at offset 0x%X: no data: %w",
			off, types.ErrTruncatedData)
	}
	if int64(max) > avail {
		max = int(avail)
	}
	b, err := r.ReadAt(off, max)
	if err != nil {
		return "", 0, err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("stream: unterminated string at offset 0x%X (scanned %d bytes): %w",
		off, max, types.ErrTruncatedData)
}

// UTF16String reads size bytes at off and decodes them as UTF-16LE,
// dropping trailing NUL padding.
func (r *Reader) UTF16String(off int64, size int) (string, error) {
	b, err := r.ReadAt(off, size)
	if err != nil {
		return "", err
	}
	return DecodeUTF16LE(b)
}

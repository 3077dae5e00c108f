package types

import (
	"fmt"
	"io"
)

// ByteSource is the byte-addressable input contract supplied by the
// surrounding collection layer. Implementations must support random reads;
// the decoding core never assumes the underlying medium.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// BytesSource adapts an in-memory buffer to the ByteSource contract.
type BytesSource []byte

// ReadAt implements io.ReaderAt over the buffer.
func (s BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("bytes source: negative offset %d", off)
	}
	if off >= int64(len(s)) {
		return 0, io.EOF
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the buffer length.
func (s BytesSource) Size() int64 { return int64(len(s)) }

package stream

import (
	"errors"
	"fmt"
)

// Variable-size integer codec. The first byte carries a unary run of
// leading 1-bits (0 to 7 of them) indicating how many continuation bytes
// follow; the remaining low bits of the first byte and the continuation
// bytes form a big-endian integer. A first byte of 0xFF (8 leading 1-bits)
// is invalid and decodes to 0, consuming the single byte.

const maxVarIntSize = 8 // 1 prefix byte + up to 7 continuation bytes

// ErrVarIntTruncated indicates the continuation bytes run past the buffer.
var ErrVarIntTruncated = errors.New("varint: truncated continuation bytes")

// DecodeVarInt decodes a variable-size integer from the start of b and
// returns the value and the number of bytes consumed.
func DecodeVarInt(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrVarIntTruncated
	}
	first := b[0]
	extra := leadingOnes(first)
	if extra >= 8 {
		// 0xFF prefix: invalid encoding, defined to decode as zero.
		return 0, 1, nil
	}
	if len(b) < 1+extra {
		return 0, 0, fmt.Errorf("%w: prefix declares %d continuation bytes, have %d",
			ErrVarIntTruncated, extra, len(b)-1)
	}
	value := uint64(first & (0x7f >> extra))
	for i := 1; i <= extra; i++ {
		value = value<<8 | uint64(b[i])
	}
	return value, 1 + extra, nil
}

// EncodeVarInt encodes v into the minimal variable-size representation.
// Values above 56 bits use the 7-continuation-byte form, whose first byte
// carries no value bits.
func EncodeVarInt(v uint64) []byte {
	extra := 0
	for extra < 7 && v >= 1<<(7+7*extra) {
		extra++
	}
	out := make([]byte, 1+extra)
	out[0] = byte(0xff<<(8-extra)) | byte(v>>(8*extra))
	for i := 1; i <= extra; i++ {
		out[i] = byte(v >> (8 * (extra - i)))
	}
	return out
}

func leadingOnes(b byte) int {
	n := 0
	for mask := byte(0x80); mask != 0 && b&mask != 0; mask >>= 1 {
		n++
	}
	return n
}

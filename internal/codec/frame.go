package codec

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// CompressLZ4 frames data as a single bv4 block followed by the end marker.
// When LZ4 cannot shrink the input the block is emitted in stored form.
// Used to build fixtures and synthetic containers.
func CompressLZ4(data []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, dst)
	if err != nil || n == 0 || n >= len(data) {
		// Incompressible input: stored block.
		out := make([]byte, 0, 8+len(data)+4)
		out = append(out, lz4MarkerStored...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
		out = append(out, data...)
		out = append(out, lz4MarkerEnd...)
		return out
	}
	out := make([]byte, 0, 12+n+4)
	out = append(out, lz4MarkerCompressed...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = binary.LittleEndian.AppendUint32(out, uint32(n))
	out = append(out, dst[:n]...)
	out = append(out, lz4MarkerEnd...)
	return out
}

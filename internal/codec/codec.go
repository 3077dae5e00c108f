// Package codec decompresses zlib- and LZ4-framed blocks embedded inside
// artifact containers. The LZ4 framing is the Apple "bv4" block scheme: a
// marker per block ("bv41" compressed, "bv4-" stored) followed by size
// fields and payload, terminated by a mandatory "bv4$" end marker.
package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// Codec identifies a block compression scheme.
type Codec string

const (
	Zlib Codec = "zlib"
	LZ4  Codec = "lz4"
)

// zlibHeaderByte is the CMF byte opening every zlib stream (deflate,
// 32K window).
const zlibHeaderByte = 0x78

var (
	lz4MarkerCompressed = []byte("bv41")
	lz4MarkerStored     = []byte("bv4-")
	lz4MarkerEnd        = []byte("bv4$")
)

// Decompress inflates block with the named codec. expectedSize > 0 declares
// the uncompressed size the container recorded for this block; a mismatch
// is reported as a codec failure rather than returning unverified data.
// The adapter never retries: the caller decides between skipping the page
// and aborting the file.
func Decompress(block []byte, codec Codec, expectedSize int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch codec {
	case Zlib:
		out, err = zlibDecompress(block)
	case LZ4:
		out, err = lz4Decompress(block)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q: %w", codec, types.ErrDecompressionFailed)
	}
	if err != nil {
		return nil, err
	}
	if expectedSize > 0 && len(out) != expectedSize {
		return nil, fmt.Errorf("codec %s: uncompressed %d bytes, container declared %d: %w",
			codec, len(out), expectedSize, types.ErrDecompressionFailed)
	}
	return out, nil
}

func zlibDecompress(block []byte) ([]byte, error) {
	if len(block) < 2 || block[0] != zlibHeaderByte {
		return nil, fmt.Errorf("codec zlib: missing zlib header at offset 0: %w",
			types.ErrDecompressionFailed)
	}
	zr, err := zlib.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, fmt.Errorf("codec zlib: %v: %w", err, types.ErrDecompressionFailed)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("codec zlib: %v: %w", err, types.ErrDecompressionFailed)
	}
	return out, nil
}

// lz4Decompress walks bv4 blocks until the end marker. Stored and
// compressed blocks may interleave; the dictionary chains across blocks so
// later blocks can reference earlier output, matching the Apple compression
// framework's stream framing.
func lz4Decompress(block []byte) ([]byte, error) {
	var (
		out  []byte
		dict []byte
		off  int
	)
	for {
		marker, ok := buf.Slice(block, off, 4)
		if !ok {
			return nil, fmt.Errorf("codec lz4: block ends at offset 0x%X without end-of-block marker: %w",
				off, types.ErrFramingError)
		}
		switch {
		case bytes.Equal(marker, lz4MarkerEnd):
			return out, nil

		case bytes.Equal(marker, lz4MarkerCompressed):
			header, ok := buf.Slice(block, off+4, 8)
			if !ok {
				return nil, fmt.Errorf("codec lz4: truncated block header at offset 0x%X: %w",
					off, types.ErrFramingError)
			}
			uncompressedSize := int(buf.U32LE(header))
			compressedSize := int(buf.U32LE(header[4:]))
			payload, ok := buf.Slice(block, off+12, compressedSize)
			if !ok {
				return nil, fmt.Errorf("codec lz4: truncated payload at offset 0x%X (declared %d bytes): %w",
					off+12, compressedSize, types.ErrFramingError)
			}
			if uncompressedSize > types.DefaultMaxValueSize*16 {
				return nil, fmt.Errorf("codec lz4: implausible uncompressed size %d at offset 0x%X: %w",
					uncompressedSize, off, types.ErrDecompressionFailed)
			}
			dst := make([]byte, uncompressedSize)
			n, err := lz4.UncompressBlockWithDict(payload, dst, dict)
			if err != nil {
				return nil, fmt.Errorf("codec lz4: offset 0x%X: %v: %w",
					off, err, types.ErrDecompressionFailed)
			}
			dict = dst[:n]
			out = append(out, dst[:n]...)
			off += 12 + compressedSize

		case bytes.Equal(marker, lz4MarkerStored):
			header, ok := buf.Slice(block, off+4, 4)
			if !ok {
				return nil, fmt.Errorf("codec lz4: truncated stored-block header at offset 0x%X: %w",
					off, types.ErrFramingError)
			}
			size := int(buf.U32LE(header))
			payload, ok := buf.Slice(block, off+8, size)
			if !ok {
				return nil, fmt.Errorf("codec lz4: truncated stored payload at offset 0x%X (declared %d bytes): %w",
					off+8, size, types.ErrFramingError)
			}
			dict = payload
			out = append(out, payload...)
			off += 8 + size

		default:
			return nil, fmt.Errorf("codec lz4: unknown block marker % X at offset 0x%X: %w",
				marker, off, types.ErrFramingError)
		}
	}
}

package codec

import (
	"bytes"
	"compress/zlib"
	"errors"
	"strings"
	"testing"

	"github.com/joshuapare/artifactkit/pkg/types"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return b.Bytes()
}

func TestZlibRoundTrip(t *testing.T) {
	plain := []byte(strings.Repeat("metadata item page ", 64))
	block := zlibCompress(t, plain)

	out, err := Decompress(block, Zlib, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("round trip mismatch")
	}
}

func TestZlibMissingHeader(t *testing.T) {
	_, err := Decompress([]byte{0x00, 0x01, 0x02}, Zlib, 0)
	if !errors.Is(err, types.ErrDecompressionFailed) {
		t.Fatalf("expected ErrDecompressionFailed, got %v", err)
	}
}

func TestZlibCorruptStream(t *testing.T) {
	block := zlibCompress(t, []byte("payload"))
	block[len(block)-1] ^= 0xff // break the adler32 trailer
	_, err := Decompress(block, Zlib, 0)
	if !errors.Is(err, types.ErrDecompressionFailed) {
		t.Fatalf("expected ErrDecompressionFailed, got %v", err)
	}
}

func TestZlibSizeMismatch(t *testing.T) {
	block := zlibCompress(t, []byte("payload"))
	_, err := Decompress(block, Zlib, 3)
	if !errors.Is(err, types.ErrDecompressionFailed) {
		t.Fatalf("expected size mismatch failure, got %v", err)
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	plain := []byte(strings.Repeat("spotlight page data ", 128))
	block := CompressLZ4(plain)

	out, err := Decompress(block, LZ4, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("round trip mismatch")
	}
}

func TestLZ4StoredBlock(t *testing.T) {
	plain := []byte{0x01, 0x02, 0x03, 0x04} // too short to compress
	block := CompressLZ4(plain)
	out, err := Decompress(block, LZ4, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("stored block mismatch")
	}
}

func TestLZ4MissingEndMarker(t *testing.T) {
	plain := []byte(strings.Repeat("abcd", 64))
	block := CompressLZ4(plain)
	block = block[:len(block)-4] // drop "bv4$"

	_, err := Decompress(block, LZ4, 0)
	if !errors.Is(err, types.ErrFramingError) {
		t.Fatalf("expected ErrFramingError, got %v", err)
	}
}

func TestLZ4CorruptEndMarker(t *testing.T) {
	plain := []byte(strings.Repeat("abcd", 64))
	block := CompressLZ4(plain)
	copy(block[len(block)-4:], "XXXX")

	_, err := Decompress(block, LZ4, 0)
	if !errors.Is(err, types.ErrFramingError) {
		t.Fatalf("expected ErrFramingError, got %v", err)
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3}, Codec("lzvn"), 0)
	if !errors.Is(err, types.ErrDecompressionFailed) {
		t.Fatalf("expected ErrDecompressionFailed, got %v", err)
	}
}

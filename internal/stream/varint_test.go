package stream

import (
	"errors"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7f, // single byte boundary
		0x80, 0x3fff, // two bytes
		0x4000, 0x1fffff, // three bytes
		0x200000, 0xfffffff, // four bytes
		0x10000000, 0xffffffff, // five bytes
		1 << 40, 1<<56 - 1, // long forms
	}
	for _, v := range values {
		enc := EncodeVarInt(v)
		got, n, err := DecodeVarInt(enc)
		if err != nil {
			t.Fatalf("DecodeVarInt(%#x): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %#x: got %#x", v, got)
		}
		if n != len(enc) {
			t.Fatalf("value %#x: consumed %d of %d bytes", v, n, len(enc))
		}
	}
}

func TestVarIntExhaustiveWidths(t *testing.T) {
	// Sweep each encoded width boundary up to 32 bits.
	for shift := 0; shift <= 32; shift += 4 {
		v := uint64(1)<<shift - 1
		enc := EncodeVarInt(v)
		got, n, err := DecodeVarInt(enc)
		if err != nil || got != v || n != len(enc) {
			t.Fatalf("width sweep %#x: got=%#x n=%d err=%v", v, got, n, err)
		}
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	cases := []struct {
		in   []byte
		v    uint64
		n    int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 0x7f, 1},
		{[]byte{0x81, 0x00}, 0x100, 2},
		{[]byte{0xbf, 0xff}, 0x3fff, 2},
		{[]byte{0xc1, 0x00, 0x00}, 0x10000, 3},
		{[]byte{0xfe, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, 0x01020304050607, 8},
	}
	for _, c := range cases {
		v, n, err := DecodeVarInt(c.in)
		if err != nil {
			t.Fatalf("DecodeVarInt(% x): %v", c.in, err)
		}
		if v != c.v || n != c.n {
			t.Fatalf("DecodeVarInt(% x) = %#x,%d want %#x,%d", c.in, v, n, c.v, c.n)
		}
	}
}

func TestVarIntInvalidPrefix(t *testing.T) {
	// 8 leading 1-bits decodes to zero, consuming the prefix byte only.
	v, n, err := DecodeVarInt([]byte{0xff, 0xaa, 0xbb})
	if err != nil {
		t.Fatalf("DecodeVarInt(0xff): %v", err)
	}
	if v != 0 || n != 1 {
		t.Fatalf("DecodeVarInt(0xff) = %d,%d want 0,1", v, n)
	}
}

func TestVarIntTruncated(t *testing.T) {
	if _, _, err := DecodeVarInt(nil); !errors.Is(err, ErrVarIntTruncated) {
		t.Fatalf("empty buffer: %v", err)
	}
	// 0xc1 declares two continuation bytes; only one present.
	if _, _, err := DecodeVarInt([]byte{0xc1, 0x00}); !errors.Is(err, ErrVarIntTruncated) {
		t.Fatalf("missing continuation: %v", err)
	}
}

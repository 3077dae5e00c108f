package stream

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeUTF16LE decodes UTF-16LE bytes to a UTF-8 string, dropping trailing
// NUL padding. Invalid code units are replaced, not rejected: artifact name
// fields routinely carry garbage after the terminator.
func DecodeUTF16LE(b []byte) (string, error) {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("utf16: %w", err)
	}
	return strings.TrimRight(string(out), "\x00"), nil
}

// DecodeCodePage1252 decodes Windows-1252 bytes to a UTF-8 string, dropping
// trailing NUL padding.
func DecodeCodePage1252(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("cp1252: %w", err)
	}
	return strings.TrimRight(string(out), "\x00"), nil
}

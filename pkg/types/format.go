package types

// AnyOffset marks a signature pattern that may appear anywhere in the
// classified buffer.
const AnyOffset int64 = -1 << 62

// Signature is one byte pattern of a format specification. Offset >= 0
// anchors the pattern to the start of the data, a negative offset anchors
// it to the end, and AnyOffset requires a full scan.
type Signature struct {
	ID      string
	Pattern []byte
	Offset  int64
}

// FormatSpec identifies a format by the set of signatures that must ALL
// match. Specification and signature identifiers are unique per registry.
type FormatSpec struct {
	Format     string
	Signatures []Signature
}

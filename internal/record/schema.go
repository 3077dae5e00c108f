// Package record implements a generic structured record decoder: an ordered
// field schema is applied to a byte buffer, producing a decoded record with
// per-field values and the total byte count consumed. Field sizes may be
// fixed, or resolved from an earlier field in the same record.
package record

import "fmt"

// Kind is the wire type of a field.
type Kind int

const (
	U8 Kind = iota
	U16LE
	U16BE
	U32LE
	U32BE
	U64LE
	U64BE
	F32LE
	F64LE
	Bytes  // fixed Size, or byte size resolved via SizeFrom
	VarInt // unary-prefix variable-size integer
)

var kindWidths = map[Kind]int{
	U8: 1, U16LE: 2, U16BE: 2, U32LE: 4, U32BE: 4,
	U64LE: 8, U64BE: 8, F32LE: 4, F64LE: 8,
}

func (k Kind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16LE:
		return "u16le"
	case U16BE:
		return "u16be"
	case U32LE:
		return "u32le"
	case U32BE:
		return "u32be"
	case U64LE:
		return "u64le"
	case U64BE:
		return "u64be"
	case F32LE:
		return "f32le"
	case F64LE:
		return "f64le"
	case Bytes:
		return "bytes"
	case VarInt:
		return "varint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field describes one record member in wire order.
type Field struct {
	Name string
	Kind Kind

	// Size is the fixed byte size for Bytes fields. Ignored for other kinds
	// unless CountFrom is set.
	Size int

	// SizeFrom names an earlier integer field supplying the byte size of a
	// Bytes field. Mutually exclusive with Size.
	SizeFrom string

	// CountFrom names an earlier integer field supplying the element count
	// for a repeated scalar field. The decoded value is []uint64 (or
	// []float64 for float kinds).
	CountFrom string
}

// Schema is an immutable, validated field sequence.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// MustSchema validates the field sequence and returns a Schema. Defects in
// the schema itself (duplicate names, forward or unknown size references,
// size references to non-integer fields) are caller bugs and panic.
func MustSchema(name string, fields ...Field) *Schema {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			panic(fmt.Sprintf("record %q: field %d has no name", name, i))
		}
		if _, dup := index[f.Name]; dup {
			panic(fmt.Sprintf("record %q: duplicate field %q", name, f.Name))
		}
		if f.SizeFrom != "" && f.CountFrom != "" {
			panic(fmt.Sprintf("record %q: field %q sets both SizeFrom and CountFrom", name, f.Name))
		}
		if f.SizeFrom != "" && f.Kind != Bytes {
			panic(fmt.Sprintf("record %q: field %q: SizeFrom requires Bytes kind", name, f.Name))
		}
		if f.CountFrom != "" && (f.Kind == Bytes || f.Kind == VarInt) {
			panic(fmt.Sprintf("record %q: field %q: CountFrom requires a scalar kind", name, f.Name))
		}
		for _, ref := range []string{f.SizeFrom, f.CountFrom} {
			if ref == "" {
				continue
			}
			j, ok := index[ref]
			if !ok {
				panic(fmt.Sprintf("record %q: field %q references %q which is not an earlier field",
					name, f.Name, ref))
			}
			if !isIntegerKind(fields[j].Kind) {
				panic(fmt.Sprintf("record %q: field %q references non-integer field %q",
					name, f.Name, ref))
			}
		}
		if f.Kind == Bytes && f.SizeFrom == "" && f.Size <= 0 {
			panic(fmt.Sprintf("record %q: bytes field %q needs Size or SizeFrom", name, f.Name))
		}
		index[f.Name] = i
	}
	return &Schema{name: name, fields: fields, index: index}
}

// Name returns the schema's diagnostic name.
func (s *Schema) Name() string { return s.name }

func isIntegerKind(k Kind) bool {
	switch k {
	case U8, U16LE, U16BE, U32LE, U32BE, U64LE, U64BE, VarInt:
		return true
	}
	return false
}

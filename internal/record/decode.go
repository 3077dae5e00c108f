package record

import (
	"fmt"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// Decoded is one decoded record: per-field values in schema order plus the
// absolute offset where decoding started and the bytes consumed. Decoded
// records are short-lived value holders; decoders normalize them into
// events and drop them.
type Decoded struct {
	schema *Schema
	Offset int64 // absolute offset of the record start (diagnostics)
	Size   int   // total bytes consumed
	values []any
}

// Decode applies the schema to data, whose first byte is the record start
// at absolute offset base. The decode is atomic: any failure returns a nil
// record. Truncation (a field read past len(data)) fails with
// ErrRecordTruncated; implausible size or count fields fail with
// ErrRecordCorrupt before any allocation is attempted.
func (s *Schema) Decode(data []byte, base int64, limits types.Limits) (*Decoded, error) {
	limits = limits.OrDefault()
	values := make([]any, len(s.fields))
	off := 0

	resolve := func(name string) uint64 {
		// Validated at construction: name is an earlier integer field.
		switch v := values[s.index[name]].(type) {
		case uint64:
			return v
		default:
			panic(fmt.Sprintf("record %q: size field %q not decoded", s.name, name))
		}
	}

	for i, f := range s.fields {
		switch {
		case f.CountFrom != "":
			count := resolve(f.CountFrom)
			width := kindWidths[f.Kind]
			if count > uint64(limits.MaxElementCount) {
				return nil, fmt.Errorf("record %q field %q at offset 0x%X: element count %d exceeds limit %d: %w",
					s.name, f.Name, base+int64(off), count, limits.MaxElementCount, types.ErrRecordCorrupt)
			}
			end, err := buf.CheckListBounds(len(data), off, int(count), width)
			if err != nil {
				return nil, fmt.Errorf("record %q field %q at offset 0x%X: %v: %w",
					s.name, f.Name, base+int64(off), err, types.ErrRecordCorrupt)
			}
			values[i] = decodeArray(data[off:end], f.Kind, int(count))
			off = end

		case f.Kind == Bytes:
			size := f.Size
			if f.SizeFrom != "" {
				v := resolve(f.SizeFrom)
				if v > uint64(limits.MaxValueSize) {
					return nil, fmt.Errorf("record %q field %q at offset 0x%X: size %d exceeds limit %d: %w",
						s.name, f.Name, base+int64(off), v, limits.MaxValueSize, types.ErrRecordCorrupt)
				}
				size = int(v)
			}
			chunk, ok := buf.Slice(data, off, size)
			if !ok {
				return nil, truncated(s, f, base, off, size, len(data))
			}
			out := make([]byte, size)
			copy(out, chunk)
			values[i] = out
			off += size

		case f.Kind == VarInt:
			v, n, err := stream.DecodeVarInt(data[min(off, len(data)):])
			if err != nil {
				return nil, truncated(s, f, base, off, 1, len(data))
			}
			values[i] = v
			off += n

		default:
			width := kindWidths[f.Kind]
			chunk, ok := buf.Slice(data, off, width)
			if !ok {
				return nil, truncated(s, f, base, off, width, len(data))
			}
			values[i] = decodeScalar(chunk, f.Kind)
			off += width
		}
	}

	return &Decoded{schema: s, Offset: base, Size: off, values: values}, nil
}

func truncated(s *Schema, f Field, base int64, off, need, have int) error {
	return fmt.Errorf("record %q field %q at offset 0x%X: need %d bytes, buffer holds %d: %w",
		s.name, f.Name, base+int64(off), need, have-min(off, have), types.ErrRecordTruncated)
}

func decodeScalar(b []byte, k Kind) any {
	switch k {
	case U8:
		return uint64(b[0])
	case U16LE:
		return uint64(buf.U16LE(b))
	case U16BE:
		return uint64(buf.U16BE(b))
	case U32LE:
		return uint64(buf.U32LE(b))
	case U32BE:
		return uint64(buf.U32BE(b))
	case U64LE:
		return buf.U64LE(b)
	case U64BE:
		return buf.U64BE(b)
	case F32LE:
		return float64(buf.F32LE(b))
	case F64LE:
		return buf.F64LE(b)
	default:
		panic(fmt.Sprintf("record: scalar decode of kind %v", k))
	}
}

func decodeArray(b []byte, k Kind, count int) any {
	width := kindWidths[k]
	switch k {
	case F32LE, F64LE:
		out := make([]float64, count)
		for i := range out {
			out[i] = decodeScalar(b[i*width:], k).(float64)
		}
		return out
	default:
		out := make([]uint64, count)
		for i := range out {
			out[i] = decodeScalar(b[i*width:], k).(uint64)
		}
		return out
	}
}

// Uint returns the named integer field.
func (d *Decoded) Uint(name string) (uint64, error) {
	v, err := d.value(name)
	if err != nil {
		return 0, err
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("record %q: field %q is not an integer", d.schema.name, name)
	}
	return u, nil
}

// Float returns the named float field.
func (d *Decoded) Float(name string) (float64, error) {
	v, err := d.value(name)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("record %q: field %q is not a float", d.schema.name, name)
	}
	return f, nil
}

// Bytes returns the named byte field.
func (d *Decoded) Bytes(name string) ([]byte, error) {
	v, err := d.value(name)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("record %q: field %q is not a byte field", d.schema.name, name)
	}
	return b, nil
}

// Uints returns the named repeated integer field.
func (d *Decoded) Uints(name string) ([]uint64, error) {
	v, err := d.value(name)
	if err != nil {
		return nil, err
	}
	u, ok := v.([]uint64)
	if !ok {
		return nil, fmt.Errorf("record %q: field %q is not a repeated integer", d.schema.name, name)
	}
	return u, nil
}

func (d *Decoded) value(name string) (any, error) {
	i, ok := d.schema.index[name]
	if !ok {
		return nil, fmt.Errorf("record %q: no field %q", d.schema.name, name)
	}
	return d.values[i], nil
}

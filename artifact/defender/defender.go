// Package defender decodes Windows Defender DetectionHistory files: a
// versioned header carrying the threat-tracking GUID, followed by typed
// key/value records (UTF-16 strings, FILETIME values, raw blobs). One file
// describes one detection, so the decoder emits a single event per
// container.
package defender

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/internal/record"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/internal/wintime"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the Defender DetectionHistory format.
const FormatID = "defender_history"

// Spec returns the format's signature specification.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "history_header", Pattern: []byte("MPTH"), Offset: 0},
		},
	}
}

const (
	headerSize       = 24
	recordHeaderSize = 12

	minSupportedVersion = 1
	maxSupportedVersion = 2

	valueTypeString   = 0x05
	valueTypeFiletime = 0x06

	// Key whose FILETIME value dates the detection.
	keyTrackingStartTime = "ThreatTrackingStartTime"
)

var historySignature = []byte("MPTH")

var recordHeaderSchema = record.MustSchema("defender_record_header",
	record.Field{Name: "key_size", Kind: record.U32LE},
	record.Field{Name: "value_type", Kind: record.U32LE},
	record.Field{Name: "value_size", Kind: record.U32LE},
)

// EventData is the normalized payload of one detection.
type EventData struct {
	ThreatTrackingGUID string         `json:"threat_tracking_guid"`
	Attributes         map[string]any `json:"attributes,omitempty"`
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "av:defender:detection" }

// Decoder decodes one DetectionHistory file. Single-use.
type Decoder struct {
	r      *stream.Reader
	guid   string
	closed bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the signature and version and decodes the threat
// tracking GUID.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	header, err := r.ReadAt(0, headerSize)
	if err != nil {
		return fmt.Errorf("defender: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(header[:4], historySignature) {
		return fmt.Errorf("defender: signature % X: %w", header[:4], types.ErrWrongFormat)
	}
	version := buf.U32LE(header[4:])
	if version < minSupportedVersion || version > maxSupportedVersion {
		return fmt.Errorf("defender: version %d: %w", version, types.ErrUnsupportedVersion)
	}
	d.guid = formatGUID(header[8:24])
	d.r = r
	return nil
}

// BuildCatalog implements artifact.Decoder. The history file has no
// property tables.
func (d *Decoder) BuildCatalog() error { return nil }

// Stream decodes the key/value records and emits the single detection
// event. Record boundaries come from the declared sizes, so a corrupt size
// field ends the decode; a value of an unknown type is kept as its raw
// bytes rather than rejected.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("defender: %w", types.ErrClosed)
	}
	size := d.r.Size()
	limits := d.r.Limits()
	ev := EventData{ThreatTrackingGUID: d.guid, Attributes: make(map[string]any)}
	var timestamps []types.Timestamp

	for off := int64(headerSize); off < size; {
		data, err := d.r.ReadAt(off, recordHeaderSize)
		if err != nil {
			return fmt.Errorf("defender: record header at offset 0x%X: %w", off, err)
		}
		header, err := recordHeaderSchema.Decode(data, off, limits)
		if err != nil {
			return err
		}
		keySize, _ := header.Uint("key_size")
		valueType, _ := header.Uint("value_type")
		valueSize, _ := header.Uint("value_size")
		total := uint64(recordHeaderSize) + keySize + valueSize
		if keySize%2 != 0 || total > uint64(limits.MaxValueSize) || off+int64(total) > size {
			return fmt.Errorf("defender: record at offset 0x%X declares key %d value %d bytes: %w",
				off, keySize, valueSize, types.ErrRecordCorrupt)
		}
		rec, err := d.r.ReadAt(off, int(total))
		if err != nil {
			return fmt.Errorf("defender: record at offset 0x%X: %w", off, err)
		}
		key, err := stream.DecodeUTF16LE(rec[recordHeaderSize : recordHeaderSize+keySize])
		if err != nil {
			return fmt.Errorf("defender: record key at offset 0x%X: %w", off, err)
		}
		value := rec[recordHeaderSize+keySize : total]

		switch valueType {
		case valueTypeString:
			s, err := stream.DecodeUTF16LE(value)
			if err != nil {
				// Value unrecoverable, record boundary intact.
				warn.Warn(types.Warning{Format: FormatID, Offset: off, Err: err})
			} else {
				ev.Attributes[key] = s
			}
		case valueTypeFiletime:
			if len(value) != 8 {
				warn.Warn(types.Warning{Format: FormatID, Offset: off, Err: fmt.Errorf(
					"defender: filetime value of %d bytes: %w", len(value), types.ErrRecordCorrupt)})
				break
			}
			ts := wintime.FromFiletime(buf.U64LE(value))
			ev.Attributes[key] = ts
			if key == keyTrackingStartTime {
				timestamps = append(timestamps, types.Timestamp{Label: types.TimeRecorded, Time: ts})
			}
		default:
			// Undocumented value types are carried as raw blobs.
			blob := make([]byte, len(value))
			copy(blob, value)
			ev.Attributes[key] = blob
		}
		off += int64(total)
	}

	sink.Emit(types.Event{
		Format:     FormatID,
		Offset:     0,
		Timestamps: timestamps,
		Data:       ev,
	})
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	return nil
}

// formatGUID renders a Windows GUID (mixed endian) in its canonical text
// form.
func formatGUID(b []byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		buf.U32LE(b), buf.U16LE(b[4:]), buf.U16LE(b[6:]),
		uint16(b[8])<<8|uint16(b[9]), b[10:16])
}

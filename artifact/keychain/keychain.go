// Package keychain decodes macOS keychain databases. The container is a
// big-endian table store: a file header points at a tables array, each
// table holds fixed record slots, and password records carry 1-based
// attribute value offsets plus an encrypted key blob tagged "ssgp".
package keychain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/joshuapare/artifactkit/internal/record"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the macOS keychain database format.
const FormatID = "mac_keychain"

// Spec returns the format's signature specification.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "db_header", Pattern: []byte("kych"), Offset: 0},
		},
	}
}

const (
	fileHeaderSize   = 20
	tableHeaderSize  = 28
	recordHeaderSize = 24

	supportedMajorVersion = 1

	recordTypeApplicationPassword = 0x80000000
	recordTypeInternetPassword    = 0x80000001

	applicationAttributeCount = 16
	internetAttributeCount    = 21

	// Attribute value slots shared by both password record types.
	attrCreationDate     = 0
	attrModificationDate = 1
	attrDescription      = 2
	attrAccountName      = 11
	attrEntryName        = 12
	// Internet password records only.
	attrWhere = 16

	// Keychain date strings: "YYYYMMDDhhmmssZ" plus a trailing NUL.
	dateStringSize   = 16
	dateStringLayout = "20060102150405"
)

var keyBlobTag = []byte("ssgp")

var fileHeaderSchema = record.MustSchema("keychain_file_header",
	record.Field{Name: "signature", Kind: record.Bytes, Size: 4},
	record.Field{Name: "major_version", Kind: record.U16BE},
	record.Field{Name: "minor_version", Kind: record.U16BE},
	record.Field{Name: "data_size", Kind: record.U32BE},
	record.Field{Name: "tables_array_offset", Kind: record.U32BE},
	record.Field{Name: "unknown1", Kind: record.U32BE},
)

var tablesArraySchema = record.MustSchema("keychain_tables_array",
	record.Field{Name: "data_size", Kind: record.U32BE},
	record.Field{Name: "number_of_tables", Kind: record.U32BE},
	record.Field{Name: "table_offsets", Kind: record.U32BE, CountFrom: "number_of_tables"},
)

var tableHeaderSchema = record.MustSchema("keychain_table_header",
	record.Field{Name: "data_size", Kind: record.U32BE},
	record.Field{Name: "record_type", Kind: record.U32BE},
	record.Field{Name: "number_of_records", Kind: record.U32BE},
	record.Field{Name: "records_array_offset", Kind: record.U32BE},
	record.Field{Name: "unknown1", Kind: record.U32BE},
	record.Field{Name: "unknown2", Kind: record.U32BE},
	record.Field{Name: "number_of_record_offsets", Kind: record.U32BE},
	record.Field{Name: "record_offsets", Kind: record.U32BE, CountFrom: "number_of_record_offsets"},
)

var recordHeaderSchema = record.MustSchema("keychain_record_header",
	record.Field{Name: "data_size", Kind: record.U32BE},
	record.Field{Name: "record_number", Kind: record.U32BE},
	record.Field{Name: "unknown1", Kind: record.U32BE},
	record.Field{Name: "unknown2", Kind: record.U32BE},
	record.Field{Name: "key_data_size", Kind: record.U32BE},
	record.Field{Name: "unknown3", Kind: record.U32BE},
)

// EventData is the normalized payload of one keychain password record.
type EventData struct {
	RecordType  string `json:"record_type"`
	EntryName   string `json:"entry_name,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	Description string `json:"description,omitempty"`
	Where       string `json:"where,omitempty"`
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "mac:keychain:entry" }

// passwordTable locates one table of password records inside the container.
type passwordTable struct {
	offset     int64
	recordType uint64
	records    []int64 // absolute offsets of used record slots
}

// Decoder decodes one keychain database. Single-use.
type Decoder struct {
	r      *stream.Reader
	tables []passwordTable
	closed bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the file signature and version.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	data, err := r.ReadAt(0, fileHeaderSize)
	if err != nil {
		return fmt.Errorf("keychain: %w", types.ErrWrongFormat)
	}
	header, err := fileHeaderSchema.Decode(data, 0, limits)
	if err != nil {
		return fmt.Errorf("keychain: file header: %w", err)
	}
	sig, _ := header.Bytes("signature")
	if !bytes.Equal(sig, []byte("kych")) {
		return fmt.Errorf("keychain: signature % X: %w", sig, types.ErrWrongFormat)
	}
	major, _ := header.Uint("major_version")
	if major != supportedMajorVersion {
		return fmt.Errorf("keychain: major version %d: %w", major, types.ErrUnsupportedVersion)
	}
	d.r = r
	return nil
}

// BuildCatalog reads the tables array and the header of every table,
// retaining the record slots of the password tables. Table-structural
// failures are fatal: without the offsets no record can be located.
func (d *Decoder) BuildCatalog() error {
	arrayOffset, err := d.r.U32BE(0x0c)
	if err != nil {
		return fmt.Errorf("keychain: tables array offset: %w", err)
	}
	base := int64(arrayOffset)

	prefix, err := d.readPrefix(base)
	if err != nil {
		return fmt.Errorf("keychain: tables array: %w", err)
	}
	array, err := tablesArraySchema.Decode(prefix, base, d.r.Limits())
	if err != nil {
		return fmt.Errorf("keychain: tables array: %w", err)
	}
	tableOffsets, _ := array.Uints("table_offsets")

	for _, rel := range tableOffsets {
		tableBase := base + int64(rel)
		prefix, err := d.readPrefix(tableBase)
		if err != nil {
			return fmt.Errorf("keychain: table at offset 0x%X: %w", tableBase, err)
		}
		table, err := tableHeaderSchema.Decode(prefix, tableBase, d.r.Limits())
		if err != nil {
			return fmt.Errorf("keychain: table at offset 0x%X: %w", tableBase, err)
		}
		recordType, _ := table.Uint("record_type")
		if recordType != recordTypeApplicationPassword && recordType != recordTypeInternetPassword {
			continue
		}
		offsets, _ := table.Uints("record_offsets")
		pt := passwordTable{offset: tableBase, recordType: recordType}
		for _, ro := range offsets {
			if ro == 0 {
				// Unused slot.
				continue
			}
			pt.records = append(pt.records, tableBase+int64(ro))
		}
		d.tables = append(d.tables, pt)
	}
	return nil
}

// readPrefix reads as much of the source from base as a schema with
// count-driven arrays could need, capped at the remaining size.
func (d *Decoder) readPrefix(base int64) ([]byte, error) {
	n := d.r.Size() - base
	if n <= 0 {
		return nil, fmt.Errorf("offset 0x%X past end of data: %w", base, types.ErrTruncatedData)
	}
	const maxPrefix = 1 << 16
	if n > maxPrefix {
		n = maxPrefix
	}
	return d.r.ReadAt(base, int(n))
}

// Stream decodes every password record. Per-record failures (bad key tag,
// truncated values) are warnings; each record is located by the catalog,
// so one bad record never hides the rest.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("keychain: %w", types.ErrClosed)
	}
	for _, table := range d.tables {
		for _, recOffset := range table.records {
			if err := d.decodeRecord(table.recordType, recOffset, sink); err != nil {
				warn.Warn(types.Warning{Format: FormatID, Offset: recOffset, Err: err})
			}
		}
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	d.tables = nil
	return nil
}

func (d *Decoder) decodeRecord(recordType uint64, base int64, sink types.Sink) error {
	headerData, err := d.r.ReadAt(base, recordHeaderSize)
	if err != nil {
		return err
	}
	header, err := recordHeaderSchema.Decode(headerData, base, d.r.Limits())
	if err != nil {
		return err
	}
	dataSize, _ := header.Uint("data_size")
	if dataSize < recordHeaderSize || dataSize > uint64(d.r.Limits().MaxValueSize) {
		return fmt.Errorf("keychain: record at offset 0x%X: size %d implausible: %w",
			base, dataSize, types.ErrRecordCorrupt)
	}
	data, err := d.r.ReadAt(base, int(dataSize))
	if err != nil {
		return err
	}

	attrCount := applicationAttributeCount
	typeName := "application_password"
	if recordType == recordTypeInternetPassword {
		attrCount = internetAttributeCount
		typeName = "internet_password"
	}
	offsetsEnd := recordHeaderSize + attrCount*4
	if offsetsEnd > len(data) {
		return fmt.Errorf("keychain: record at offset 0x%X: attribute offsets truncated: %w",
			base, types.ErrRecordTruncated)
	}
	attrOffsets := make([]uint32, attrCount)
	for i := range attrOffsets {
		attrOffsets[i] = uint32(data[recordHeaderSize+i*4])<<24 |
			uint32(data[recordHeaderSize+i*4+1])<<16 |
			uint32(data[recordHeaderSize+i*4+2])<<8 |
			uint32(data[recordHeaderSize+i*4+3])
	}

	// The encrypted key blob sits right after the attribute offsets and
	// must carry the ssgp tag; anything else means the record layout is
	// not what this decoder understands.
	keySize, _ := header.Uint("key_data_size")
	if keySize > 0 {
		keyEnd := offsetsEnd + int(keySize)
		if keyEnd > len(data) {
			return fmt.Errorf("keychain: record at offset 0x%X: key blob truncated: %w",
				base, types.ErrRecordTruncated)
		}
		keyData := data[offsetsEnd:keyEnd]
		if len(keyData) < len(keyBlobTag) || !bytes.Equal(keyData[:len(keyBlobTag)], keyBlobTag) {
			return fmt.Errorf("keychain: record at offset 0x%X: key blob tag % X, want %q: %w",
				base, keyData[:min(len(keyData), 4)], keyBlobTag, types.ErrRecordCorrupt)
		}
	}

	ev := EventData{RecordType: typeName}
	var timestamps []types.Timestamp

	readString := func(slot int) (string, error) {
		v, ok, err := attributeValue(data, attrOffsets, slot)
		if err != nil || !ok {
			return "", err
		}
		return string(v), nil
	}
	readDate := func(slot int, label types.TimestampLabel) error {
		v, ok, err := attributeValue(data, attrOffsets, slot)
		if err != nil || !ok {
			return err
		}
		ts, err := parseDateString(v)
		if err != nil {
			return fmt.Errorf("keychain: record at offset 0x%X: %w", base, err)
		}
		timestamps = append(timestamps, types.Timestamp{Label: label, Time: ts})
		return nil
	}

	if err := readDate(attrCreationDate, types.TimeCreation); err != nil {
		return err
	}
	if err := readDate(attrModificationDate, types.TimeModification); err != nil {
		return err
	}
	if ev.Description, err = readString(attrDescription); err != nil {
		return err
	}
	if ev.AccountName, err = readString(attrAccountName); err != nil {
		return err
	}
	if ev.EntryName, err = readString(attrEntryName); err != nil {
		return err
	}
	if recordType == recordTypeInternetPassword {
		if ev.Where, err = readString(attrWhere); err != nil {
			return err
		}
	}

	sink.Emit(types.Event{
		Format:     FormatID,
		Offset:     base,
		Timestamps: timestamps,
		Data:       ev,
	})
	return nil
}

// attributeValue resolves one attribute slot. Offsets are 1-based and
// relative to the record start; zero means the attribute is absent. The
// value is length-prefixed with a big-endian uint32.
func attributeValue(data []byte, offsets []uint32, slot int) ([]byte, bool, error) {
	off := offsets[slot]
	if off == 0 {
		return nil, false, nil
	}
	start := int(off) - 1
	if start < 0 || start+4 > len(data) {
		return nil, false, fmt.Errorf("keychain: attribute %d offset %d out of record bounds: %w",
			slot, off, types.ErrRecordCorrupt)
	}
	size := int(uint32(data[start])<<24 | uint32(data[start+1])<<16 |
		uint32(data[start+2])<<8 | uint32(data[start+3]))
	if start+4+size > len(data) {
		return nil, false, fmt.Errorf("keychain: attribute %d value of %d bytes truncated: %w",
			slot, size, types.ErrRecordTruncated)
	}
	return data[start+4 : start+4+size], true, nil
}

// parseDateString decodes the keychain's textual timestamp,
// "YYYYMMDDhhmmssZ" followed by a NUL.
func parseDateString(v []byte) (time.Time, error) {
	if len(v) != dateStringSize {
		return time.Time{}, fmt.Errorf("keychain: date string of %d bytes, want %d: %w",
			len(v), dateStringSize, types.ErrRecordCorrupt)
	}
	s := string(bytes.TrimRight(v, "Z\x00"))
	ts, err := time.ParseInLocation(dateStringLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("keychain: date string %q: %w", v, types.ErrRecordCorrupt)
	}
	return ts, nil
}

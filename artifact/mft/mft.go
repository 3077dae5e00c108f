// Package mft decodes NTFS $MFT file-entry records. Each FILE record is
// fixup-corrected and its resident $STANDARD_INFORMATION and $FILE_NAME
// attributes are normalized into events carrying the four NTFS timestamps.
package mft

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/internal/record"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/internal/wintime"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the NTFS master file table format.
const FormatID = "ntfs_mft"

// Spec returns the format's signature specification: every MFT starts with
// a FILE record at offset zero.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "file_entry", Pattern: []byte("FILE"), Offset: 0},
		},
	}
}

const (
	sectorSize       = 512
	minRecordSize    = 1 << 9
	maxRecordSize    = 1 << 12
	recordHeaderSize = 48
	attrHeaderSize   = 24

	attrTypeStandardInformation = 0x10
	attrTypeFileName            = 0x30
	attrTypeTerminator          = 0xffffffff

	recordFlagInUse     = 0x0001
	recordFlagDirectory = 0x0002
)

var (
	fileSignature = []byte("FILE")
	baadSignature = []byte("BAAD")
)

var recordHeaderSchema = record.MustSchema("mft_file_record_header",
	record.Field{Name: "signature", Kind: record.Bytes, Size: 4},
	record.Field{Name: "fixup_offset", Kind: record.U16LE},
	record.Field{Name: "fixup_count", Kind: record.U16LE},
	record.Field{Name: "journal_sequence", Kind: record.U64LE},
	record.Field{Name: "sequence", Kind: record.U16LE},
	record.Field{Name: "link_count", Kind: record.U16LE},
	record.Field{Name: "attributes_offset", Kind: record.U16LE},
	record.Field{Name: "flags", Kind: record.U16LE},
	record.Field{Name: "used_size", Kind: record.U32LE},
	record.Field{Name: "allocated_size", Kind: record.U32LE},
	record.Field{Name: "base_record_reference", Kind: record.U64LE},
	record.Field{Name: "next_attribute_id", Kind: record.U16LE},
	record.Field{Name: "padding", Kind: record.U16LE},
	record.Field{Name: "record_number", Kind: record.U32LE},
)

var attrHeaderSchema = record.MustSchema("mft_attribute_header",
	record.Field{Name: "type", Kind: record.U32LE},
	record.Field{Name: "size", Kind: record.U32LE},
	record.Field{Name: "non_resident", Kind: record.U8},
	record.Field{Name: "name_size", Kind: record.U8},
	record.Field{Name: "name_offset", Kind: record.U16LE},
	record.Field{Name: "data_flags", Kind: record.U16LE},
	record.Field{Name: "identifier", Kind: record.U16LE},
	record.Field{Name: "data_size", Kind: record.U32LE},
	record.Field{Name: "data_offset", Kind: record.U16LE},
	record.Field{Name: "indexed", Kind: record.U8},
	record.Field{Name: "padding", Kind: record.U8},
)

var standardInformationSchema = record.MustSchema("mft_standard_information",
	record.Field{Name: "creation_time", Kind: record.U64LE},
	record.Field{Name: "modification_time", Kind: record.U64LE},
	record.Field{Name: "entry_modification_time", Kind: record.U64LE},
	record.Field{Name: "access_time", Kind: record.U64LE},
	record.Field{Name: "file_attribute_flags", Kind: record.U32LE},
)

var fileNameSchema = record.MustSchema("mft_file_name",
	record.Field{Name: "parent_file_reference", Kind: record.U64LE},
	record.Field{Name: "creation_time", Kind: record.U64LE},
	record.Field{Name: "modification_time", Kind: record.U64LE},
	record.Field{Name: "entry_modification_time", Kind: record.U64LE},
	record.Field{Name: "access_time", Kind: record.U64LE},
	record.Field{Name: "allocated_size", Kind: record.U64LE},
	record.Field{Name: "data_size", Kind: record.U64LE},
	record.Field{Name: "file_attribute_flags", Kind: record.U32LE},
	record.Field{Name: "extended_data", Kind: record.U32LE},
	record.Field{Name: "name_size", Kind: record.U8},
	record.Field{Name: "name_space", Kind: record.U8},
)

// EventData is the normalized payload of one MFT attribute.
type EventData struct {
	AttributeType       string `json:"attribute_type"`
	RecordNumber        uint32 `json:"record_number"`
	SequenceNumber      uint16 `json:"sequence_number"`
	InUse               bool   `json:"in_use"`
	IsDirectory         bool   `json:"is_directory"`
	FileAttributeFlags  uint32 `json:"file_attribute_flags"`
	Filename            string `json:"filename,omitempty"`
	NameSpace           uint8  `json:"name_space,omitempty"`
	ParentFileReference uint64 `json:"parent_file_reference,omitempty"`
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "fs:ntfs:mft" }

// Decoder decodes one $MFT stream. Single-use.
type Decoder struct {
	r          *stream.Reader
	recordSize int
	closed     bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the first FILE record and derives the record size
// from its allocated-size field.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	sig, err := r.ReadAt(0, 4)
	if err != nil {
		return fmt.Errorf("mft: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(sig, fileSignature) {
		return fmt.Errorf("mft: first record signature % X: %w", sig, types.ErrWrongFormat)
	}
	allocated, err := r.U32LE(0x1c)
	if err != nil {
		return fmt.Errorf("mft: record header: %w", err)
	}
	size := int(allocated)
	if size < minRecordSize || size > maxRecordSize || size&(size-1) != 0 {
		return fmt.Errorf("mft: record size %d outside supported range: %w",
			size, types.ErrUnsupportedVersion)
	}
	d.r = r
	d.recordSize = size
	return nil
}

// BuildCatalog implements artifact.Decoder. The MFT has no property tables.
func (d *Decoder) BuildCatalog() error { return nil }

// Stream walks the table record by record. Record-local failures (bad
// fixups, truncated attributes) are warnings; the fixed record stride means
// subsequent records stay locatable, so streaming always continues.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("mft: %w", types.ErrClosed)
	}
	size := d.r.Size()
	for off := int64(0); off+int64(d.recordSize) <= size; off += int64(d.recordSize) {
		data, err := d.r.ReadAt(off, d.recordSize)
		if err != nil {
			return fmt.Errorf("mft: record at offset 0x%X: %w", off, err)
		}
		if err := d.decodeRecord(data, off, sink); err != nil {
			warn.Warn(types.Warning{Format: FormatID, Offset: off, Err: err})
		}
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	return nil
}

func (d *Decoder) decodeRecord(data []byte, base int64, sink types.Sink) error {
	if isEmptyRecord(data) {
		return nil
	}
	if bytes.Equal(data[:4], baadSignature) {
		return fmt.Errorf("mft: record marked bad by chkdsk: %w", types.ErrRecordCorrupt)
	}
	if !bytes.Equal(data[:4], fileSignature) {
		return fmt.Errorf("mft: record signature % X: %w", data[:4], types.ErrRecordCorrupt)
	}

	header, err := recordHeaderSchema.Decode(data, base, d.r.Limits())
	if err != nil {
		return err
	}
	if err := applyFixups(data, header); err != nil {
		return err
	}

	flags, _ := header.Uint("flags")
	recordNumber, _ := header.Uint("record_number")
	sequence, _ := header.Uint("sequence")
	common := EventData{
		RecordNumber:   uint32(recordNumber),
		SequenceNumber: uint16(sequence),
		InUse:          flags&recordFlagInUse != 0,
		IsDirectory:    flags&recordFlagDirectory != 0,
	}

	attrsOffset, _ := header.Uint("attributes_offset")
	usedSize, _ := header.Uint("used_size")
	end := int(usedSize)
	if end <= 0 || end > len(data) {
		end = len(data)
	}

	off := int(attrsOffset)
	if off < recordHeaderSize || off >= end {
		return fmt.Errorf("mft: attributes offset %d out of record bounds: %w",
			off, types.ErrRecordCorrupt)
	}
	for off+attrHeaderSize <= end {
		attr, err := attrHeaderSchema.Decode(data[off:end], base+int64(off), d.r.Limits())
		if err != nil {
			return err
		}
		attrType, _ := attr.Uint("type")
		if attrType == attrTypeTerminator {
			break
		}
		attrSize, _ := attr.Uint("size")
		if attrSize < attrHeaderSize || off+int(attrSize) > end {
			return fmt.Errorf("mft: attribute size %d at offset 0x%X out of bounds: %w",
				attrSize, base+int64(off), types.ErrRecordCorrupt)
		}
		nonResident, _ := attr.Uint("non_resident")
		if nonResident == 0 {
			dataSize, _ := attr.Uint("data_size")
			dataOffset, _ := attr.Uint("data_offset")
			start := off + int(dataOffset)
			if int(dataOffset) < attrHeaderSize || start+int(dataSize) > off+int(attrSize) {
				return fmt.Errorf("mft: attribute content at offset 0x%X out of bounds: %w",
					base+int64(off), types.ErrRecordCorrupt)
			}
			content := data[start : start+int(dataSize)]
			switch attrType {
			case attrTypeStandardInformation:
				if err := emitStandardInformation(content, base, common, sink, d.r.Limits()); err != nil {
					return err
				}
			case attrTypeFileName:
				if err := emitFileName(content, base, common, sink, d.r.Limits()); err != nil {
					return err
				}
			}
		}
		off += int(attrSize)
	}
	return nil
}

// isEmptyRecord reports whether the record slot was never written.
func isEmptyRecord(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// applyFixups restores the sector-tail bytes the NTFS update sequence
// mechanism replaced, validating the update sequence number on every
// sector boundary.
func applyFixups(data []byte, header *record.Decoded) error {
	fixupCount, _ := header.Uint("fixup_count")
	if fixupCount < 2 {
		// No sectors to patch; nothing recorded.
		return nil
	}
	fixupOffset, _ := header.Uint("fixup_offset")
	arrayLen := int(fixupCount) * 2
	if int(fixupOffset)+arrayLen > len(data) {
		return fmt.Errorf("mft: fixup array out of record bounds: %w", types.ErrRecordCorrupt)
	}
	array := data[fixupOffset : int(fixupOffset)+arrayLen]
	usn := array[:2]
	sectors := int(fixupCount) - 1
	if sectors*sectorSize > len(data) {
		return fmt.Errorf("mft: fixup count %d exceeds record size: %w",
			fixupCount, types.ErrRecordCorrupt)
	}
	for i := 0; i < sectors; i++ {
		tail := (i+1)*sectorSize - 2
		if !bytes.Equal(data[tail:tail+2], usn) {
			return fmt.Errorf("mft: fixup mismatch in sector %d (tail % X, usn % X): %w",
				i, data[tail:tail+2], usn, types.ErrRecordCorrupt)
		}
		copy(data[tail:tail+2], array[(i+1)*2:(i+2)*2])
	}
	return nil
}

func emitStandardInformation(content []byte, base int64, common EventData, sink types.Sink, limits types.Limits) error {
	dec, err := standardInformationSchema.Decode(content, base, limits)
	if err != nil {
		return err
	}
	common.AttributeType = "$STANDARD_INFORMATION"
	flags, _ := dec.Uint("file_attribute_flags")
	common.FileAttributeFlags = uint32(flags)
	sink.Emit(types.Event{
		Format:     FormatID,
		Offset:     base,
		Timestamps: timestampsFrom(dec),
		Data:       common,
	})
	return nil
}

func emitFileName(content []byte, base int64, common EventData, sink types.Sink, limits types.Limits) error {
	dec, err := fileNameSchema.Decode(content, base, limits)
	if err != nil {
		return err
	}
	nameSize, _ := dec.Uint("name_size")
	nameStart := dec.Size
	nameEnd := nameStart + int(nameSize)*2
	if nameEnd > len(content) {
		return fmt.Errorf("mft: file name runs past attribute content: %w",
			types.ErrRecordTruncated)
	}
	name, err := stream.DecodeUTF16LE(content[nameStart:nameEnd])
	if err != nil {
		return fmt.Errorf("mft: file name: %w", err)
	}

	common.AttributeType = "$FILE_NAME"
	flags, _ := dec.Uint("file_attribute_flags")
	nameSpace, _ := dec.Uint("name_space")
	parentRef, _ := dec.Uint("parent_file_reference")
	common.FileAttributeFlags = uint32(flags)
	common.Filename = name
	common.NameSpace = uint8(nameSpace)
	common.ParentFileReference = parentRef
	sink.Emit(types.Event{
		Format:     FormatID,
		Offset:     base,
		Timestamps: timestampsFrom(dec),
		Data:       common,
	})
	return nil
}

func timestampsFrom(dec *record.Decoded) []types.Timestamp {
	creation, _ := dec.Uint("creation_time")
	modification, _ := dec.Uint("modification_time")
	entryModification, _ := dec.Uint("entry_modification_time")
	access, _ := dec.Uint("access_time")
	return []types.Timestamp{
		{Label: types.TimeCreation, Time: wintime.FromFiletime(creation)},
		{Label: types.TimeModification, Time: wintime.FromFiletime(modification)},
		{Label: types.TimeEntryModification, Time: wintime.FromFiletime(entryModification)},
		{Label: types.TimeAccess, Time: wintime.FromFiletime(access)},
	}
}

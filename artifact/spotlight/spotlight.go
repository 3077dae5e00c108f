// Package spotlight decodes Apple Spotlight metadata stores. The container
// is page oriented: a fixed header names the start blocks of four property
// tables (metadata types, values, lists, localized strings) and of the
// metadata-item chain. Item pages are optionally zlib- or lz4-compressed
// and hold varint-coded attribute records that reference the tables.
package spotlight

import (
	"bytes"
	"fmt"
	"time"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/internal/codec"
	"github.com/joshuapare/artifactkit/internal/proptable"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/internal/wintime"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the Apple Spotlight store format.
const FormatID = "spotlight_storedb"

// Spec returns the format's signature specification.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "store_header", Pattern: []byte("8tsd"), Offset: 0},
		},
	}
}

const (
	headerSize       = 32
	supportedVersion = 1
	minPageSize      = 64
	maxPageSize      = 1 << 16

	pageTrailerSize = 4

	codecNone = 0
	codecZlib = 1
	codecLZ4  = 2

	// Metadata attribute value type tags.
	valueTypeInt       = 0x00
	valueTypeFloat     = 0x01
	valueTypeString    = 0x02
	valueTypeDate      = 0x03
	valueTypeReference = 0x04
	valueTypeBytes     = 0x05
)

var (
	storeSignature    = []byte("8tsd")
	propPageSignature = []byte("prop")
	itemPageSignature = []byte("item")
)

// Attribute keys whose date values become event timestamps.
const (
	keyContentCreationDate     = "kMDItemContentCreationDate"
	keyContentModificationDate = "kMDItemContentModificationDate"
	keyLastUsedDate            = "kMDItemLastUsedDate"
)

// EventData is the normalized payload of one Spotlight metadata item. The
// attribute key set is vendor defined, so it stays a map rather than a
// fixed struct.
type EventData struct {
	Identifier uint64         `json:"identifier"`
	Parent     uint64         `json:"parent"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "mac:spotlight:metadata_item" }

// Decoder decodes one Spotlight store. Single-use.
type Decoder struct {
	r        *stream.Reader
	pageSize int

	typesBlock     uint32
	valuesBlock    uint32
	listsBlock     uint32
	localizedBlock uint32
	firstItemBlock uint32

	typesTable     *proptable.Table
	valuesTable    *proptable.Table
	listsTable     *proptable.Table
	localizedTable *proptable.Table

	closed bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the store header: signature, version, page size and
// the five start-block fields.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	header, err := r.ReadAt(0, headerSize)
	if err != nil {
		return fmt.Errorf("spotlight: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(header[:4], storeSignature) {
		return fmt.Errorf("spotlight: signature % X: %w", header[:4], types.ErrWrongFormat)
	}
	if v := buf.U32LE(header[4:]); v != supportedVersion {
		return fmt.Errorf("spotlight: version %d: %w", v, types.ErrUnsupportedVersion)
	}
	pageSize := int(buf.U32LE(header[8:]))
	if pageSize < minPageSize || pageSize > maxPageSize || pageSize&(pageSize-1) != 0 {
		return fmt.Errorf("spotlight: page size %d out of range: %w",
			pageSize, types.ErrUnsupportedVersion)
	}
	d.r = r
	d.pageSize = pageSize
	d.typesBlock = buf.U32LE(header[12:])
	d.valuesBlock = buf.U32LE(header[16:])
	d.listsBlock = buf.U32LE(header[20:])
	d.localizedBlock = buf.U32LE(header[24:])
	d.firstItemBlock = buf.U32LE(header[28:])
	return nil
}

// BuildCatalog walks the four property-table page chains. A start block of
// zero means the store has no entries for that table; a broken chain is a
// container-structural failure since every later record dereference would
// dangle.
func (d *Decoder) BuildCatalog() error {
	var err error
	if d.typesTable, err = d.buildTable("types", d.typesBlock); err != nil {
		return err
	}
	if d.valuesTable, err = d.buildTable("values", d.valuesBlock); err != nil {
		return err
	}
	if d.listsTable, err = d.buildTable("lists", d.listsBlock); err != nil {
		return err
	}
	if d.localizedTable, err = d.buildTable("localized", d.localizedBlock); err != nil {
		return err
	}
	return nil
}

func (d *Decoder) buildTable(name string, startBlock uint32) (*proptable.Table, error) {
	return proptable.Build(name, d.r, d.pageSize, startBlock, d.decodePropertyPage)
}

// decodePropertyPage parses one "prop" page: a record count, the records,
// and the next-block pointer in the page trailer.
func (d *Decoder) decodePropertyPage(page []byte, pageOffset int64) ([]proptable.Descriptor, uint32, error) {
	if !bytes.Equal(page[:4], propPageSignature) {
		return nil, 0, fmt.Errorf("spotlight: page signature % X, want %q: %w",
			page[:4], propPageSignature, types.ErrCorruptIndex)
	}
	count := buf.U32LE(page[4:])
	if count > uint32(d.r.Limits().MaxElementCount) {
		return nil, 0, fmt.Errorf("spotlight: property page declares %d records: %w",
			count, types.ErrCorruptIndex)
	}
	body := page[8 : len(page)-pageTrailerSize]
	nextBlock := buf.U32LE(page[len(page)-pageTrailerSize:])

	entries := make([]proptable.Descriptor, 0, count)
	off := 0
	for i := uint32(0); i < count; i++ {
		desc, n, err := decodePropertyRecord(body[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("spotlight: property record %d at offset 0x%X: %w",
				i, pageOffset+8+int64(off), err)
		}
		entries = append(entries, desc)
		off += n
	}
	return entries, nextBlock, nil
}

// decodePropertyRecord parses one table entry: varint index, type and flag
// bytes, then the varint-length-prefixed key and value strings.
func decodePropertyRecord(b []byte) (proptable.Descriptor, int, error) {
	var desc proptable.Descriptor
	off := 0

	index, n, err := stream.DecodeVarInt(b[off:])
	if err != nil {
		return desc, 0, fmt.Errorf("index: %w", err)
	}
	off += n
	if off+2 > len(b) {
		return desc, 0, fmt.Errorf("spotlight: property record truncated: %w", types.ErrRecordTruncated)
	}
	desc.Index = uint32(index)
	desc.ValueType = b[off]
	desc.Flags = b[off+1]
	off += 2

	key, n, err := varIntString(b[off:])
	if err != nil {
		return desc, 0, fmt.Errorf("key: %w", err)
	}
	desc.Key = key
	off += n

	value, n, err := varIntString(b[off:])
	if err != nil {
		return desc, 0, fmt.Errorf("value: %w", err)
	}
	desc.Value = value
	off += n
	return desc, off, nil
}

func varIntString(b []byte) (string, int, error) {
	size, n, err := stream.DecodeVarInt(b)
	if err != nil {
		return "", 0, err
	}
	end := n + int(size)
	if end > len(b) {
		return "", 0, fmt.Errorf("spotlight: string of %d bytes runs past buffer: %w",
			size, types.ErrRecordTruncated)
	}
	return string(b[n:end]), end, nil
}

// Stream walks the metadata-item page chain. A page whose payload fails to
// decompress or decode yields a warning and zero events, then the walk
// continues from the page trailer: the trailer sits outside the compressed
// payload, so one bad page never hides the chain. Cyclic or runaway chains
// are container-structural and stop the decode.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("spotlight: %w", types.ErrClosed)
	}
	maxPages := int(d.r.Size()/int64(d.pageSize)) + 1
	if limit := d.r.Limits().MaxPageWalk; maxPages > limit {
		maxPages = limit
	}
	visited := make(map[uint32]struct{})
	block := d.firstItemBlock
	for steps := 0; block != 0; steps++ {
		if steps >= maxPages {
			return fmt.Errorf("spotlight: item page chain exceeds %d pages: %w",
				maxPages, types.ErrCorruptIndex)
		}
		if _, seen := visited[block]; seen {
			return fmt.Errorf("spotlight: item page chain revisits block %d: %w",
				block, types.ErrCorruptIndex)
		}
		visited[block] = struct{}{}

		pageOffset := int64(block) * int64(d.pageSize)
		page, err := d.r.ReadAt(pageOffset, d.pageSize)
		if err != nil {
			return fmt.Errorf("spotlight: item block %d: %w", block, err)
		}
		if !bytes.Equal(page[:4], itemPageSignature) {
			return fmt.Errorf("spotlight: item block %d signature % X: %w",
				block, page[:4], types.ErrCorruptIndex)
		}
		nextBlock := buf.U32LE(page[len(page)-pageTrailerSize:])

		if err := d.decodeItemPage(page, pageOffset, sink); err != nil {
			warn.Warn(types.Warning{Format: FormatID, Offset: pageOffset, Err: err})
		}
		block = nextBlock
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	d.typesTable = nil
	d.valuesTable = nil
	d.listsTable = nil
	d.localizedTable = nil
	return nil
}

// decodeItemPage decompresses the page payload and emits one event per
// metadata item. Item records are varint-delimited, so a corrupt item makes
// the remainder of the payload unlocatable; the error covers the page.
func (d *Decoder) decodeItemPage(page []byte, pageOffset int64, sink types.Sink) error {
	pageCodec := page[4]
	uncompressedSize := int(buf.U32LE(page[8:]))
	payloadSize := int(buf.U32LE(page[12:]))
	end, err := buf.CheckListBounds(len(page)-pageTrailerSize, 16, payloadSize, 1)
	if err != nil {
		return fmt.Errorf("spotlight: item page payload: %v: %w", err, types.ErrRecordCorrupt)
	}
	payload := page[16:end]

	switch pageCodec {
	case codecNone:
	case codecZlib:
		if payload, err = codec.Decompress(payload, codec.Zlib, uncompressedSize); err != nil {
			return err
		}
	case codecLZ4:
		if payload, err = codec.Decompress(payload, codec.LZ4, uncompressedSize); err != nil {
			return err
		}
	default:
		return fmt.Errorf("spotlight: item page codec %d unknown: %w",
			pageCodec, types.ErrRecordCorrupt)
	}

	off := 0
	for off < len(payload) {
		n, err := d.decodeItem(payload[off:], pageOffset, sink)
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// decodeItem parses one metadata item and emits its event. Returns the
// bytes consumed.
func (d *Decoder) decodeItem(b []byte, pageOffset int64, sink types.Sink) (int, error) {
	off := 0
	identifier, n, err := stream.DecodeVarInt(b)
	if err != nil {
		return 0, fmt.Errorf("spotlight: item identifier: %w", err)
	}
	off += n
	parent, n, err := stream.DecodeVarInt(b[off:])
	if err != nil {
		return 0, fmt.Errorf("spotlight: item parent: %w", err)
	}
	off += n
	attrCount, n, err := stream.DecodeVarInt(b[off:])
	if err != nil {
		return 0, fmt.Errorf("spotlight: item attribute count: %w", err)
	}
	off += n
	if attrCount > uint64(d.r.Limits().MaxElementCount) {
		return 0, fmt.Errorf("spotlight: item %d declares %d attributes: %w",
			identifier, attrCount, types.ErrRecordCorrupt)
	}

	ev := EventData{
		Identifier: identifier,
		Parent:     parent,
		Attributes: make(map[string]any, attrCount),
	}
	var timestamps []types.Timestamp

	for i := uint64(0); i < attrCount; i++ {
		keyIndex, n, err := stream.DecodeVarInt(b[off:])
		if err != nil {
			return 0, fmt.Errorf("spotlight: item %d attribute %d key: %w", identifier, i, err)
		}
		off += n
		if off >= len(b) {
			return 0, fmt.Errorf("spotlight: item %d attribute %d truncated: %w",
				identifier, i, types.ErrRecordTruncated)
		}
		valueType := b[off]
		off++

		key := proptable.MissingPlaceholder
		if desc, ok := d.typesTable.Dereference(uint32(keyIndex)); ok {
			key = desc.Key
		}

		value, consumed, ts, err := d.decodeAttributeValue(b[off:], valueType)
		if err != nil {
			return 0, fmt.Errorf("spotlight: item %d attribute %q: %w", identifier, key, err)
		}
		off += consumed
		ev.Attributes[key] = value

		if ts != nil {
			switch key {
			case keyContentCreationDate:
				timestamps = append(timestamps, types.Timestamp{Label: types.TimeCreation, Time: *ts})
			case keyContentModificationDate:
				timestamps = append(timestamps, types.Timestamp{Label: types.TimeModification, Time: *ts})
			case keyLastUsedDate:
				timestamps = append(timestamps, types.Timestamp{Label: types.TimeLastUsed, Time: *ts})
			}
		}
	}

	sink.Emit(types.Event{
		Format:     FormatID,
		Offset:     pageOffset,
		Timestamps: timestamps,
		Data:       ev,
	})
	return off, nil
}

// decodeAttributeValue decodes one typed value. Every value must consume
// exactly the bytes its type implies; a short buffer is a parse error, not
// a silent truncation. Date values additionally return the decoded time.
func (d *Decoder) decodeAttributeValue(b []byte, valueType uint8) (any, int, *time.Time, error) {
	switch valueType {
	case valueTypeInt:
		v, n, err := stream.DecodeVarInt(b)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("integer value: %w", err)
		}
		return v, n, nil, nil

	case valueTypeFloat:
		if len(b) < 8 {
			return nil, 0, nil, fmt.Errorf("float value: %w", types.ErrRecordTruncated)
		}
		return buf.F64LE(b), 8, nil, nil

	case valueTypeString:
		s, n, err := varIntString(b)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("string value: %w", err)
		}
		return s, n, nil, nil

	case valueTypeDate:
		if len(b) < 8 {
			return nil, 0, nil, fmt.Errorf("date value: %w", types.ErrRecordTruncated)
		}
		seconds := buf.F64LE(b)
		ts := wintime.FromCocoa(seconds)
		return ts, 8, &ts, nil

	case valueTypeReference:
		index, n, err := stream.DecodeVarInt(b)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("reference value: %w", err)
		}
		if desc, ok := d.valuesTable.Dereference(uint32(index)); ok {
			return desc.Value, n, nil, nil
		}
		return proptable.MissingPlaceholder, n, nil, nil

	case valueTypeBytes:
		size, n, err := stream.DecodeVarInt(b)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("bytes value: %w", err)
		}
		if size > uint64(d.r.Limits().MaxValueSize) {
			return nil, 0, nil, fmt.Errorf("bytes value of %d bytes: %w",
				size, types.ErrRecordCorrupt)
		}
		end := n + int(size)
		if end > len(b) {
			return nil, 0, nil, fmt.Errorf("bytes value of %d bytes: %w",
				size, types.ErrRecordTruncated)
		}
		out := make([]byte, size)
		copy(out, b[n:end])
		return out, end, nil, nil

	default:
		return nil, 0, nil, fmt.Errorf("value type 0x%02X unknown: %w",
			valueType, types.ErrRecordCorrupt)
	}
}

package spotlight

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/joshuapare/artifactkit/internal/codec"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/pkg/types"
)

const testPageSize = 512

var (
	testCreated  = time.Date(2023, 4, 14, 9, 30, 0, 0, time.UTC)
	testModified = time.Date(2023, 4, 15, 18, 45, 30, 0, time.UTC)
)

func cocoaSeconds(t time.Time) float64 {
	return float64(t.Unix() - 978307200)
}

type propEntry struct {
	index uint32
	key   string
	value string
}

func buildPropPage(entries []propEntry, nextBlock uint32) []byte {
	page := make([]byte, testPageSize)
	copy(page, "prop")
	binary.LittleEndian.PutUint32(page[4:], uint32(len(entries)))
	off := 8
	for _, e := range entries {
		rec := stream.EncodeVarInt(uint64(e.index))
		rec = append(rec, 0, 0) // value type, flags
		rec = append(rec, stream.EncodeVarInt(uint64(len(e.key)))...)
		rec = append(rec, e.key...)
		rec = append(rec, stream.EncodeVarInt(uint64(len(e.value)))...)
		rec = append(rec, e.value...)
		copy(page[off:], rec)
		off += len(rec)
	}
	binary.LittleEndian.PutUint32(page[testPageSize-4:], nextBlock)
	return page
}

type attr struct {
	keyIndex  uint64
	valueType uint8
	value     []byte
}

func dateAttr(keyIndex uint64, t time.Time) attr {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, math.Float64bits(cocoaSeconds(t)))
	return attr{keyIndex: keyIndex, valueType: valueTypeDate, value: v}
}

func stringAttr(keyIndex uint64, s string) attr {
	v := append(stream.EncodeVarInt(uint64(len(s))), s...)
	return attr{keyIndex: keyIndex, valueType: valueTypeString, value: v}
}

func refAttr(keyIndex, valueIndex uint64) attr {
	return attr{keyIndex: keyIndex, valueType: valueTypeReference, value: stream.EncodeVarInt(valueIndex)}
}

func buildItem(identifier, parent uint64, attrs ...attr) []byte {
	out := stream.EncodeVarInt(identifier)
	out = append(out, stream.EncodeVarInt(parent)...)
	out = append(out, stream.EncodeVarInt(uint64(len(attrs)))...)
	for _, a := range attrs {
		out = append(out, stream.EncodeVarInt(a.keyIndex)...)
		out = append(out, a.valueType)
		out = append(out, a.value...)
	}
	return out
}

func buildItemPage(pageCodec uint8, payload []byte, uncompressedSize int, nextBlock uint32) []byte {
	page := make([]byte, testPageSize)
	copy(page, "item")
	page[4] = pageCodec
	binary.LittleEndian.PutUint32(page[8:], uint32(uncompressedSize))
	binary.LittleEndian.PutUint32(page[12:], uint32(len(payload)))
	copy(page[16:], payload)
	binary.LittleEndian.PutUint32(page[testPageSize-4:], nextBlock)
	return page
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// buildStore assembles: header page, types table page (block 1), values
// table page (block 2), then the given item pages at blocks 3+.
func buildStore(itemPages ...[]byte) []byte {
	header := make([]byte, testPageSize)
	copy(header, "8tsd")
	binary.LittleEndian.PutUint32(header[4:], 1)
	binary.LittleEndian.PutUint32(header[8:], testPageSize)
	binary.LittleEndian.PutUint32(header[12:], 1) // types table
	binary.LittleEndian.PutUint32(header[16:], 2) // values table
	binary.LittleEndian.PutUint32(header[20:], 0) // no lists table
	binary.LittleEndian.PutUint32(header[24:], 0) // no localized table
	if len(itemPages) > 0 {
		binary.LittleEndian.PutUint32(header[28:], 3)
	}

	types := buildPropPage([]propEntry{
		{index: 1, key: keyContentCreationDate},
		{index: 2, key: keyContentModificationDate},
		{index: 3, key: "kMDItemDisplayName"},
		{index: 4, key: "kMDItemKind"},
	}, 0)
	values := buildPropPage([]propEntry{
		{index: 7, key: "kind", value: "JPEG image"},
	}, 0)

	out := append([]byte{}, header...)
	out = append(out, types...)
	out = append(out, values...)
	for _, p := range itemPages {
		out = append(out, p...)
	}
	return out
}

func runDecoder(t *testing.T, data []byte) (*types.CollectSink, *types.CollectWarnSink, error) {
	t.Helper()
	d := New()
	if err := d.ReadHeader(types.BytesSource(data), types.Limits{}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if err := d.BuildCatalog(); err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	sink := &types.CollectSink{}
	warn := &types.CollectWarnSink{}
	err := d.Stream(sink, warn)
	return sink, warn, err
}

func TestDecodeAcrossCodecs(t *testing.T) {
	itemA := buildItem(100, 1,
		dateAttr(1, testCreated),
		dateAttr(2, testModified),
		stringAttr(3, "photo.jpg"),
		refAttr(4, 7),
	)
	itemB := buildItem(101, 1, stringAttr(3, "notes.txt"))
	itemC := buildItem(102, 1, stringAttr(3, "video.mov"))

	data := buildStore(
		buildItemPage(codecLZ4, codec.CompressLZ4(itemA), len(itemA), 4),
		buildItemPage(codecNone, itemB, 0, 5),
		buildItemPage(codecZlib, zlibCompress(t, itemC), len(itemC), 0),
	)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(sink.Events))
	}

	ev := sink.Events[0]
	got := ev.Data.(EventData)
	if got.Identifier != 100 || got.Parent != 1 {
		t.Errorf("identifier %d parent %d", got.Identifier, got.Parent)
	}
	if got.Attributes["kMDItemDisplayName"] != "photo.jpg" {
		t.Errorf("display name = %v", got.Attributes["kMDItemDisplayName"])
	}
	if got.Attributes["kMDItemKind"] != "JPEG image" {
		t.Errorf("kind = %v (values table dereference)", got.Attributes["kMDItemKind"])
	}
	if len(ev.Timestamps) != 2 {
		t.Fatalf("timestamps = %d, want 2", len(ev.Timestamps))
	}
	if ev.Timestamps[0].Label != types.TimeCreation || !ev.Timestamps[0].Time.Equal(testCreated) {
		t.Errorf("creation = %v %v", ev.Timestamps[0].Label, ev.Timestamps[0].Time)
	}
	if ev.Timestamps[1].Label != types.TimeModification || !ev.Timestamps[1].Time.Equal(testModified) {
		t.Errorf("modification = %v %v", ev.Timestamps[1].Label, ev.Timestamps[1].Time)
	}

	if sink.Events[1].Data.(EventData).Identifier != 101 {
		t.Errorf("second event = %+v", sink.Events[1].Data)
	}
	if sink.Events[2].Data.(EventData).Identifier != 102 {
		t.Errorf("third event = %+v", sink.Events[2].Data)
	}
}

// A corrupted bv4$ end-of-block marker fails that page with a framing
// error; the next-block pointer lives outside the compressed payload, so
// the following page still decodes.
func TestCorruptEndMarkerSkipsPage(t *testing.T) {
	itemA := buildItem(100, 1, stringAttr(3, "before.txt"))
	itemB := buildItem(101, 1, stringAttr(3, "torn.txt"))
	itemC := buildItem(102, 1, stringAttr(3, "after.txt"))

	torn := codec.CompressLZ4(itemB)
	torn[len(torn)-1] = 'X' // bv4$ -> bv4X

	data := buildStore(
		buildItemPage(codecLZ4, codec.CompressLZ4(itemA), len(itemA), 4),
		buildItemPage(codecLZ4, torn, len(itemB), 5),
		buildItemPage(codecLZ4, codec.CompressLZ4(itemC), len(itemC), 0),
	)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(sink.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.Events))
	}
	if sink.Events[0].Data.(EventData).Identifier != 100 ||
		sink.Events[1].Data.(EventData).Identifier != 102 {
		t.Errorf("surviving events = %v", sink.Events)
	}
	if len(warn.Warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warn.Warnings))
	}
	w := warn.Warnings[0]
	if !errors.Is(w.Err, types.ErrFramingError) {
		t.Errorf("warning err = %v, want ErrFramingError", w.Err)
	}
	if w.Offset != 4*testPageSize {
		t.Errorf("warning offset = %d, want %d", w.Offset, 4*testPageSize)
	}
}

func TestItemPageCycleIsFatal(t *testing.T) {
	item := buildItem(100, 1, stringAttr(3, "loop.txt"))
	data := buildStore(
		buildItemPage(codecNone, item, 0, 4),
		buildItemPage(codecNone, item, 0, 3), // points back
	)
	_, _, err := runDecoder(t, data)
	if !errors.Is(err, types.ErrCorruptIndex) {
		t.Fatalf("err = %v, want ErrCorruptIndex", err)
	}
}

func TestUnknownValueTypeFailsPage(t *testing.T) {
	bad := buildItem(100, 1, attr{keyIndex: 3, valueType: 0x09, value: []byte{1, 2}})
	good := buildItem(101, 1, stringAttr(3, "fine.txt"))
	data := buildStore(
		buildItemPage(codecNone, bad, 0, 4),
		buildItemPage(codecNone, good, 0, 0),
	)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	if len(warn.Warnings) != 1 || !errors.Is(warn.Warnings[0].Err, types.ErrRecordCorrupt) {
		t.Fatalf("warnings = %v, want one ErrRecordCorrupt", warn.Warnings)
	}
}

func TestReferenceMissUsesPlaceholder(t *testing.T) {
	item := buildItem(100, 1, refAttr(4, 999))
	data := buildStore(buildItemPage(codecNone, item, 0, 0))
	sink, _, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	got := sink.Events[0].Data.(EventData)
	if got.Attributes["kMDItemKind"] != "(null)" {
		t.Errorf("missing reference = %v, want (null)", got.Attributes["kMDItemKind"])
	}
}

func TestReadHeaderWrongSignature(t *testing.T) {
	data := buildStore()
	copy(data, "kych")
	err := New().ReadHeader(types.BytesSource(data), types.Limits{})
	if !errors.Is(err, types.ErrWrongFormat) {
		t.Fatalf("err = %v, want ErrWrongFormat", err)
	}
}

func TestReadHeaderUnsupportedVersion(t *testing.T) {
	data := buildStore()
	binary.LittleEndian.PutUint32(data[4:], 9)
	err := New().ReadHeader(types.BytesSource(data), types.Limits{})
	if !errors.Is(err, types.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestReadHeaderBadPageSize(t *testing.T) {
	data := buildStore()
	binary.LittleEndian.PutUint32(data[8:], 500) // not a power of two
	err := New().ReadHeader(types.BytesSource(data), types.Limits{})
	if !errors.Is(err, types.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

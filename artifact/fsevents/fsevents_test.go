package fsevents

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/joshuapare/artifactkit/pkg/types"
)

type rec struct {
	path    string
	eventID uint64
	flags   uint32
	nodeID  uint64
}

func buildPage(version int, records ...rec) []byte {
	sig := "1SLD"
	if version == 2 {
		sig = "2SLD"
	}
	page := []byte(sig)
	page = append(page, 0, 0, 0, 0) // unknown
	page = append(page, 0, 0, 0, 0) // page size, patched below
	for _, r := range records {
		page = append(page, r.path...)
		page = append(page, 0)
		page = binary.LittleEndian.AppendUint64(page, r.eventID)
		page = binary.LittleEndian.AppendUint32(page, r.flags)
		if version == 2 {
			page = binary.LittleEndian.AppendUint64(page, r.nodeID)
		}
	}
	binary.LittleEndian.PutUint32(page[8:], uint32(len(page)))
	return page
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

func TestDecodeVersion2Page(t *testing.T) {
	data := buildPage(2,
		rec{path: "Users/kim/Documents/report.txt", eventID: 12345, flags: 0x01000010, nodeID: 8877},
		rec{path: "Users/kim/.Trash", eventID: 12346, flags: 0x00000800, nodeID: 42},
	)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.Events))
	}
	got := sink.Events[0].Data.(EventData)
	if got.Path != "Users/kim/Documents/report.txt" {
		t.Errorf("path = %q", got.Path)
	}
	if got.EventIdentifier != 12345 || got.Flags != 0x01000010 || got.NodeIdentifier != 8877 {
		t.Errorf("record = %+v", got)
	}
	if len(sink.Events[0].Timestamps) != 0 {
		t.Errorf("timestamps = %v, journal records carry none", sink.Events[0].Timestamps)
	}
}

func TestDecodeVersion1Page(t *testing.T) {
	data := buildPage(1, rec{path: "private/var/log", eventID: 99, flags: 0x80000000})
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	got := sink.Events[0].Data.(EventData)
	if got.NodeIdentifier != 0 {
		t.Errorf("node identifier = %d on a v1 record", got.NodeIdentifier)
	}
}

func TestMixedVersionPages(t *testing.T) {
	data := append(
		buildPage(1, rec{path: "a", eventID: 1}),
		buildPage(2, rec{path: "b", eventID: 2, nodeID: 7})...,
	)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.Events))
	}
}

// A truncated record hides the rest of its page, but the next page is
// located from the declared page size and still decodes.
func TestTruncatedRecordSkipsRestOfPage(t *testing.T) {
	bad := buildPage(2, rec{path: "first", eventID: 1, nodeID: 1})
	bad = bad[:len(bad)-4] // cut into the node identifier
	binary.LittleEndian.PutUint32(bad[8:], uint32(len(bad)))
	good := buildPage(2, rec{path: "second", eventID: 2, nodeID: 2})

	data := append(bad, good...)
	sink, warn, err := runDecoder(t, data)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	if got := sink.Events[0].Data.(EventData); got.Path != "second" {
		t.Errorf("surviving record path = %q", got.Path)
	}
	if len(warn.Warnings) != 1 || !errors.Is(warn.Warnings[0].Err, types.ErrRecordTruncated) {
		t.Fatalf("warnings = %v, want one ErrRecordTruncated", warn.Warnings)
	}
}

// A page whose declared size runs past the container makes the following
// page boundary unlocatable: the decode stops with an error.
func TestImplausiblePageSizeIsFatal(t *testing.T) {
	data := buildPage(1, rec{path: "x", eventID: 1})
	binary.LittleEndian.PutUint32(data[8:], uint32(len(data)+100))
	_, _, err := runDecoder(t, data)
	if !errors.Is(err, types.ErrRecordCorrupt) {
		t.Fatalf("err = %v, want ErrRecordCorrupt", err)
	}
}

func TestReadHeaderWrongSignature(t *testing.T) {
	err := New().ReadHeader(types.BytesSource([]byte("3SLDxxxxxxxx")), types.Limits{})
	if !errors.Is(err, types.ErrWrongFormat) {
		t.Fatalf("err = %v, want ErrWrongFormat", err)
	}
}

package keychain

import (
	"errors"
	"testing"
	"time"

	"github.com/joshuapare/artifactkit/pkg/types"
)

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

type recordSpec struct {
	recordType uint32
	keyTag     string
	created    string // "YYYYMMDDhhmmssZ" or "" for absent
	modified   string
	desc       string
	account    string
	entry      string
	where      string
}

// buildRecord assembles one password record: header, 1-based attribute
// value offsets, ssgp key blob, then the length-prefixed values.
func buildRecord(spec recordSpec) []byte {
	attrCount := applicationAttributeCount
	if spec.recordType == recordTypeInternetPassword {
		attrCount = internetAttributeCount
	}
	keyBlob := append([]byte(spec.keyTag), []byte("keykeykey")...)

	offsets := make([]uint32, attrCount)
	var values []byte
	valueBase := recordHeaderSize + attrCount*4 + len(keyBlob)
	addValue := func(slot int, v []byte) {
		offsets[slot] = uint32(valueBase+len(values)) + 1 // 1-based
		values = append(values, be32(uint32(len(v)))...)
		values = append(values, v...)
	}
	addDate := func(slot int, s string) {
		if s == "" {
			return
		}
		addValue(slot, append([]byte(s), 0))
	}
	addString := func(slot int, s string) {
		if s == "" {
			return
		}
		addValue(slot, []byte(s))
	}
	addDate(attrCreationDate, spec.created)
	addDate(attrModificationDate, spec.modified)
	addString(attrDescription, spec.desc)
	addString(attrAccountName, spec.account)
	addString(attrEntryName, spec.entry)
	if spec.recordType == recordTypeInternetPassword {
		addString(attrWhere, spec.where)
	}

	total := valueBase + len(values)
	rec := make([]byte, 0, total)
	rec = append(rec, be32(uint32(total))...)        // data size
	rec = append(rec, be32(1)...)                    // record number
	rec = append(rec, be32(0)...)                    // unknown
	rec = append(rec, be32(0)...)                    // unknown
	rec = append(rec, be32(uint32(len(keyBlob)))...) // key data size
	rec = append(rec, be32(0)...)                    // unknown
	for _, off := range offsets {
		rec = append(rec, be32(off)...)
	}
	rec = append(rec, keyBlob...)
	rec = append(rec, values...)
	return rec
}

type tableSpec struct {
	recordType uint32
	records    [][]byte
}

// buildKeychain assembles a complete container: file header, tables array,
// tables with their records. Every table gets one unused (zero) record
// slot in addition to its records.
func buildKeychain(tables ...tableSpec) []byte {
	var tableBlobs [][]byte
	for _, ts := range tables {
		headerSize := tableHeaderSize + (len(ts.records)+1)*4
		var body []byte
		offsets := make([]uint32, 0, len(ts.records)+1)
		offsets = append(offsets, 0) // unused slot
		for _, rec := range ts.records {
			offsets = append(offsets, uint32(headerSize+len(body)))
			body = append(body, rec...)
		}
		t := make([]byte, 0, headerSize+len(body))
		t = append(t, be32(uint32(headerSize+len(body)))...) // data size
		t = append(t, be32(ts.recordType)...)
		t = append(t, be32(uint32(len(ts.records)))...)
		t = append(t, be32(uint32(headerSize))...) // records array offset
		t = append(t, be32(0)...)                  // unknown
		t = append(t, be32(0)...)                  // unknown
		t = append(t, be32(uint32(len(offsets)))...)
		for _, off := range offsets {
			t = append(t, be32(off)...)
		}
		t = append(t, body...)
		tableBlobs = append(tableBlobs, t)
	}

	arrayHeaderSize := 8 + len(tableBlobs)*4
	var tablesBody []byte
	var tableOffsets []uint32
	for _, t := range tableBlobs {
		tableOffsets = append(tableOffsets, uint32(arrayHeaderSize+len(tablesBody)))
		tablesBody = append(tablesBody, t...)
	}

	var out []byte
	out = append(out, "kych"...)
	out = append(out, be16(1)...) // major version
	out = append(out, be16(0)...) // minor version
	out = append(out, be32(0)...) // data size (unused)
	out = append(out, be32(fileHeaderSize)...)
	out = append(out, be32(0)...) // unknown
	out = append(out, be32(uint32(arrayHeaderSize+len(tablesBody)))...)
	out = append(out, be32(uint32(len(tableBlobs)))...)
	for _, off := range tableOffsets {
		out = append(out, be32(off)...)
	}
	out = append(out, tablesBody...)
	return out
}

func runDecoder(t *testing.T, data []byte) (*types.CollectSink, *types.CollectWarnSink) {
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
	if err := d.Stream(sink, warn); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	return sink, warn
}

func TestApplicationPasswordRecord(t *testing.T) {
	data := buildKeychain(tableSpec{
		recordType: recordTypeApplicationPassword,
		records: [][]byte{buildRecord(recordSpec{
			recordType: recordTypeApplicationPassword,
			keyTag:     "ssgp",
			created:    "20230407083000Z",
			modified:   "20230409170230Z",
			desc:       "application password",
			account:    "kim",
			entry:      "MyService",
		})},
	})
	sink, warn := runDecoder(t, data)

	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	ev := sink.Events[0]
	got := ev.Data.(EventData)
	if got.RecordType != "application_password" {
		t.Errorf("record type = %q", got.RecordType)
	}
	if got.AccountName != "kim" || got.EntryName != "MyService" {
		t.Errorf("account %q entry %q", got.AccountName, got.EntryName)
	}
	if got.Description != "application password" {
		t.Errorf("description = %q", got.Description)
	}
	if len(ev.Timestamps) != 2 {
		t.Fatalf("timestamps = %d, want 2", len(ev.Timestamps))
	}
	wantCreated := time.Date(2023, 4, 7, 8, 30, 0, 0, time.UTC)
	if ev.Timestamps[0].Label != types.TimeCreation || !ev.Timestamps[0].Time.Equal(wantCreated) {
		t.Errorf("creation = %v %v", ev.Timestamps[0].Label, ev.Timestamps[0].Time)
	}
}

func TestInternetPasswordRecord(t *testing.T) {
	data := buildKeychain(tableSpec{
		recordType: recordTypeInternetPassword,
		records: [][]byte{buildRecord(recordSpec{
			recordType: recordTypeInternetPassword,
			keyTag:     "ssgp",
			created:    "20221231235959Z",
			account:    "kim",
			entry:      "intranet",
			where:      "https://intranet.example.com",
		})},
	})
	sink, warn := runDecoder(t, data)

	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	got := sink.Events[0].Data.(EventData)
	if got.RecordType != "internet_password" {
		t.Errorf("record type = %q", got.RecordType)
	}
	if got.Where != "https://intranet.example.com" {
		t.Errorf("where = %q", got.Where)
	}
}

// A record whose key blob does not carry the ssgp tag is rejected with a
// per-record error; other records in the same table still decode.
func TestBadKeyBlobTagIsWarning(t *testing.T) {
	good := buildRecord(recordSpec{
		recordType: recordTypeApplicationPassword,
		keyTag:     "ssgp",
		created:    "20230407083000Z",
		entry:      "good",
	})
	bad := buildRecord(recordSpec{
		recordType: recordTypeApplicationPassword,
		keyTag:     "zzzz",
		created:    "20230407083000Z",
		entry:      "bad",
	})
	data := buildKeychain(tableSpec{
		recordType: recordTypeApplicationPassword,
		records:    [][]byte{bad, good},
	})
	sink, warn := runDecoder(t, data)

	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	if got := sink.Events[0].Data.(EventData); got.EntryName != "good" {
		t.Errorf("surviving record = %+v", got)
	}
	if len(warn.Warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warn.Warnings))
	}
	if !errors.Is(warn.Warnings[0].Err, types.ErrRecordCorrupt) {
		t.Errorf("warning err = %v, want ErrRecordCorrupt", warn.Warnings[0].Err)
	}
}

func TestAbsentAttributes(t *testing.T) {
	data := buildKeychain(tableSpec{
		recordType: recordTypeApplicationPassword,
		records: [][]byte{buildRecord(recordSpec{
			recordType: recordTypeApplicationPassword,
			keyTag:     "ssgp",
		})},
	})
	sink, warn := runDecoder(t, data)

	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
	ev := sink.Events[0]
	if len(ev.Timestamps) != 0 {
		t.Errorf("timestamps = %v, want none", ev.Timestamps)
	}
	if got := ev.Data.(EventData); got.EntryName != "" || got.AccountName != "" {
		t.Errorf("data = %+v, want empty attributes", got)
	}
}

func TestNonPasswordTablesSkipped(t *testing.T) {
	data := buildKeychain(
		tableSpec{recordType: 0x11, records: [][]byte{make([]byte, 64)}},
		tableSpec{
			recordType: recordTypeApplicationPassword,
			records: [][]byte{buildRecord(recordSpec{
				recordType: recordTypeApplicationPassword,
				keyTag:     "ssgp",
				entry:      "only",
			})},
		},
	)
	sink, warn := runDecoder(t, data)

	if len(warn.Warnings) != 0 {
		t.Fatalf("warnings = %v", warn.Warnings)
	}
	if len(sink.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.Events))
	}
}

func TestReadHeaderWrongSignature(t *testing.T) {
	data := buildKeychain()
	copy(data, "FILE")
	err := New().ReadHeader(types.BytesSource(data), types.Limits{})
	if !errors.Is(err, types.ErrWrongFormat) {
		t.Fatalf("err = %v, want ErrWrongFormat", err)
	}
}

func TestReadHeaderUnsupportedVersion(t *testing.T) {
	data := buildKeychain()
	data[4], data[5] = 0, 2 // major version 2
	err := New().ReadHeader(types.BytesSource(data), types.Limits{})
	if !errors.Is(err, types.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

// Package fsevents decodes macOS fseventsd change-journal pages. The input
// is the already-decompressed journal stream (the gzip envelope around
// on-disk journal files is the caller's concern): a sequence of pages, each
// opening with a DLS version signature and a page size, holding records of
// a NUL-terminated UTF-8 path, an event identifier and a flag bitmask.
// Version 2 pages add a file-system node identifier per record.
package fsevents

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/internal/buf"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the fseventsd journal format.
const FormatID = "fseventsd"

// Spec returns the format's signature specification. Both page versions
// anchor at the start of the stream.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "page_v1_or_v2", Pattern: []byte("SLD"), Offset: 1},
		},
	}
}

const pageHeaderSize = 12

var (
	signatureV1 = []byte("1SLD")
	signatureV2 = []byte("2SLD")
)

// EventData is the normalized payload of one journal record. The journal
// records no wall-clock time; events therefore carry no timestamps and the
// event identifier is the only ordering hint.
type EventData struct {
	Path            string `json:"path"`
	EventIdentifier uint64 `json:"event_identifier"`
	Flags           uint32 `json:"flags"`
	NodeIdentifier  uint64 `json:"node_identifier,omitempty"` // version 2 pages only
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "mac:fseventsd:record" }

// Decoder decodes one journal stream. Single-use.
type Decoder struct {
	r      *stream.Reader
	closed bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the first page signature.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	sig, err := r.ReadAt(0, 4)
	if err != nil {
		return fmt.Errorf("fsevents: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(sig, signatureV1) && !bytes.Equal(sig, signatureV2) {
		return fmt.Errorf("fsevents: page signature % X: %w", sig, types.ErrWrongFormat)
	}
	d.r = r
	return nil
}

// BuildCatalog implements artifact.Decoder. The journal has no property
// tables.
func (d *Decoder) BuildCatalog() error { return nil }

// Stream walks the page sequence. A record-local failure skips the rest of
// its page with a warning (records are not self-delimiting, so the failed
// record hides its successors within the page); a page header that cannot
// be read or whose declared size is implausible ends the container, since
// the next page can no longer be located.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("fsevents: %w", types.ErrClosed)
	}
	size := d.r.Size()
	for off := int64(0); off < size; {
		header, err := d.r.ReadAt(off, pageHeaderSize)
		if err != nil {
			return fmt.Errorf("fsevents: page header at offset 0x%X: %w", off, err)
		}
		version := 1
		switch {
		case bytes.Equal(header[:4], signatureV1):
		case bytes.Equal(header[:4], signatureV2):
			version = 2
		default:
			return fmt.Errorf("fsevents: page signature % X at offset 0x%X: %w",
				header[:4], off, types.ErrRecordCorrupt)
		}
		pageSize := int64(buf.U32LE(header[8:]))
		if pageSize <= pageHeaderSize || off+pageSize > size {
			return fmt.Errorf("fsevents: page size %d at offset 0x%X out of bounds: %w",
				pageSize, off, types.ErrRecordCorrupt)
		}
		page, err := d.r.ReadAt(off, int(pageSize))
		if err != nil {
			return fmt.Errorf("fsevents: page at offset 0x%X: %w", off, err)
		}
		if err := d.decodePage(page, off, version, sink); err != nil {
			warn.Warn(types.Warning{Format: FormatID, Offset: off, Err: err})
		}
		off += pageSize
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	return nil
}

func (d *Decoder) decodePage(page []byte, base int64, version int, sink types.Sink) error {
	off := pageHeaderSize
	for off < len(page) {
		rec := page[off:]
		i := bytes.IndexByte(rec, 0)
		if i < 0 {
			return fmt.Errorf("fsevents: unterminated path at offset 0x%X: %w",
				base+int64(off), types.ErrRecordTruncated)
		}
		path := string(rec[:i])
		fixed := i + 1

		need := 12 // event identifier + flags
		if version == 2 {
			need += 8
		}
		if fixed+need > len(rec) {
			return fmt.Errorf("fsevents: record at offset 0x%X truncated: %w",
				base+int64(off), types.ErrRecordTruncated)
		}
		ev := EventData{
			Path:            path,
			EventIdentifier: buf.U64LE(rec[fixed:]),
			Flags:           buf.U32LE(rec[fixed+8:]),
		}
		if version == 2 {
			ev.NodeIdentifier = buf.U64LE(rec[fixed+12:])
		}
		sink.Emit(types.Event{
			Format: FormatID,
			Offset: base + int64(off),
			Data:   ev,
		})
		off += fixed + need
	}
	return nil
}

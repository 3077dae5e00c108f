// Package locate decodes mlocate databases: a big-endian file header with a
// configuration block, followed by directory entries. Each directory
// carries the directory's change time (seconds plus nanoseconds) and the
// NUL-terminated names it contained when updatedb ran.
package locate

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/internal/wintime"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the mlocate database format.
const FormatID = "mlocate_database"

// Spec returns the format's signature specification.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "db_magic", Pattern: []byte("\x00mlocate"), Offset: 0},
		},
	}
}

const (
	fileHeaderSize   = 16
	dirHeaderSize    = 16
	supportedVersion = 0

	entryTypeFile      = 0
	entryTypeDirectory = 1
	entryTypeEnd       = 2
)

var dbMagic = []byte("\x00mlocate")

// EventData is the normalized payload of one directory entry: the
// directory path and the names updatedb recorded under it. Subdirectory
// names keep a trailing separator so the entry kind survives
// normalization.
type EventData struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries,omitempty"`
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "linux:locate:directory" }

// Decoder decodes one mlocate database. Single-use.
type Decoder struct {
	r         *stream.Reader
	dataStart int64
	closed    bool
}

// New returns a fresh decoder.
func New() *Decoder { return &Decoder{} }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the magic and version and locates the end of the
// configuration block, where directory entries begin.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	header, err := r.ReadAt(0, fileHeaderSize)
	if err != nil {
		return fmt.Errorf("locate: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(header[:8], dbMagic) {
		return fmt.Errorf("locate: magic % X: %w", header[:8], types.ErrWrongFormat)
	}
	configSize := uint32(header[8])<<24 | uint32(header[9])<<16 | uint32(header[10])<<8 | uint32(header[11])
	if version := header[12]; version != supportedVersion {
		return fmt.Errorf("locate: format version %d: %w", version, types.ErrUnsupportedVersion)
	}

	// The root database path sits between the fixed header and the
	// configuration block.
	_, n, err := r.CString(fileHeaderSize, 0)
	if err != nil {
		return fmt.Errorf("locate: database path: %w", err)
	}
	d.dataStart = int64(fileHeaderSize) + int64(n) + int64(configSize)
	if d.dataStart > r.Size() {
		return fmt.Errorf("locate: configuration block of %d bytes runs past end: %w",
			configSize, types.ErrTruncatedData)
	}
	d.r = r
	return nil
}

// BuildCatalog implements artifact.Decoder. The database has no property
// tables.
func (d *Decoder) BuildCatalog() error { return nil }

// Stream walks the directory entries. Directory boundaries depend on NUL
// terminators, so any malformed entry ends the container: there is no
// independent way to find the next directory.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("locate: %w", types.ErrClosed)
	}
	size := d.r.Size()
	for off := d.dataStart; off < size; {
		next, err := d.decodeDirectory(off, sink)
		if err != nil {
			return err
		}
		off = next
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	return nil
}

// decodeDirectory decodes one directory header and its entry list,
// returning the offset of the next directory.
func (d *Decoder) decodeDirectory(base int64, sink types.Sink) (int64, error) {
	seconds, err := d.r.U64BE(base)
	if err != nil {
		return 0, fmt.Errorf("locate: directory header at offset 0x%X: %w", base, err)
	}
	nanos, err := d.r.U32BE(base + 8)
	if err != nil {
		return 0, fmt.Errorf("locate: directory header at offset 0x%X: %w", base, err)
	}
	if nanos >= 1e9 {
		return 0, fmt.Errorf("locate: directory at offset 0x%X: %d nanoseconds: %w",
			base, nanos, types.ErrRecordCorrupt)
	}
	path, n, err := d.r.CString(base+dirHeaderSize, 0)
	if err != nil {
		return 0, fmt.Errorf("locate: directory path at offset 0x%X: %w", base, err)
	}

	ev := EventData{Path: path}
	off := base + dirHeaderSize + int64(n)
	for {
		entryType, err := d.r.U8(off)
		if err != nil {
			return 0, fmt.Errorf("locate: entry at offset 0x%X: %w", off, err)
		}
		off++
		if entryType == entryTypeEnd {
			break
		}
		if entryType != entryTypeFile && entryType != entryTypeDirectory {
			return 0, fmt.Errorf("locate: entry type %d at offset 0x%X: %w",
				entryType, off-1, types.ErrRecordCorrupt)
		}
		name, n, err := d.r.CString(off, 0)
		if err != nil {
			return 0, fmt.Errorf("locate: entry name at offset 0x%X: %w", off, err)
		}
		off += int64(n)
		if entryType == entryTypeDirectory {
			name += "/"
		}
		ev.Entries = append(ev.Entries, name)
	}

	sink.Emit(types.Event{
		Format: FormatID,
		Offset: base,
		Timestamps: []types.Timestamp{
			{Label: types.TimeModification, Time: wintime.FromPosix(int64(seconds), nanos)},
		},
		Data: ev,
	})
	return off, nil
}

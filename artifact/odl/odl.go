// Package odl decodes OneDrive sync-client ODL log files: a fixed file
// header followed by log blocks, each carrying a FILETIME, the code file
// and function that produced the entry, and a parameter string. Parameter
// strings may be obfuscated with AES-CBC under a per-installation key; a
// decoder given that key unwraps them, and plaintext parameters pass
// through untouched.
package odl

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/internal/crypt"
	"github.com/joshuapare/artifactkit/internal/record"
	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/internal/wintime"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// FormatID identifies the OneDrive ODL log format.
const FormatID = "onedrive_odl"

// Spec returns the format's signature specification.
func Spec() types.FormatSpec {
	return types.FormatSpec{
		Format: FormatID,
		Signatures: []types.Signature{
			{ID: "file_header", Pattern: []byte("EBFGONED"), Offset: 0},
		},
	}
}

const (
	fileHeaderSize  = 16
	blockHeaderSize = 24
	blockMagic      = 0xccddeeff

	minSupportedVersion = 1
	maxSupportedVersion = 3
)

var fileSignature = []byte("EBFGONED")

var blockHeaderSchema = record.MustSchema("odl_block_header",
	record.Field{Name: "magic", Kind: record.U32LE},
	record.Field{Name: "timestamp", Kind: record.U64LE},
	record.Field{Name: "code_file_size", Kind: record.U32LE},
	record.Field{Name: "code_function_size", Kind: record.U32LE},
	record.Field{Name: "params_size", Kind: record.U32LE},
)

// EventData is the normalized payload of one ODL log block.
type EventData struct {
	CodeFile     string `json:"code_file"`
	CodeFunction string `json:"code_function"`
	Params       string `json:"params,omitempty"`
	Unwrapped    bool   `json:"unwrapped,omitempty"` // params were obfuscated and decrypted
}

// DataType implements types.EventData.
func (EventData) DataType() string { return "windows:onedrive:odl" }

// Decoder decodes one ODL log. Single-use.
type Decoder struct {
	r      *stream.Reader
	key    []byte
	closed bool
}

// New returns a decoder without an obfuscation key: obfuscated parameter
// strings are carried through as their token form.
func New() *Decoder { return &Decoder{} }

// SetKey supplies the 32-byte per-installation obfuscation key. Must be
// called before Stream.
func (d *Decoder) SetKey(key []byte) { d.key = key }

// Format implements artifact.Decoder.
func (d *Decoder) Format() string { return FormatID }

// ReadHeader validates the file signature and version.
func (d *Decoder) ReadHeader(src types.ByteSource, limits types.Limits) error {
	r := stream.NewReader(src, limits)
	header, err := r.ReadAt(0, fileHeaderSize)
	if err != nil {
		return fmt.Errorf("odl: %w", types.ErrWrongFormat)
	}
	if !bytes.Equal(header[:8], fileSignature) {
		return fmt.Errorf("odl: signature % X: %w", header[:8], types.ErrWrongFormat)
	}
	version := uint32(header[8]) | uint32(header[9])<<8 | uint32(header[10])<<16 | uint32(header[11])<<24
	if version < minSupportedVersion || version > maxSupportedVersion {
		return fmt.Errorf("odl: version %d: %w", version, types.ErrUnsupportedVersion)
	}
	d.r = r
	return nil
}

// BuildCatalog implements artifact.Decoder. ODL logs have no property
// tables.
func (d *Decoder) BuildCatalog() error { return nil }

// Stream walks the block sequence. Block sizes come from each block's own
// header, so a corrupt header makes every later block unlocatable and ends
// the container; a parameter string that fails to unwrap only costs that
// value.
func (d *Decoder) Stream(sink types.Sink, warn types.WarnSink) error {
	if d.closed || d.r == nil {
		return fmt.Errorf("odl: %w", types.ErrClosed)
	}
	size := d.r.Size()
	limits := d.r.Limits()
	for off := int64(fileHeaderSize); off < size; {
		data, err := d.r.ReadAt(off, blockHeaderSize)
		if err != nil {
			return fmt.Errorf("odl: block header at offset 0x%X: %w", off, err)
		}
		header, err := blockHeaderSchema.Decode(data, off, limits)
		if err != nil {
			return fmt.Errorf("odl: block header at offset 0x%X: %w", off, err)
		}
		magic, _ := header.Uint("magic")
		if magic != blockMagic {
			return fmt.Errorf("odl: block magic 0x%08X at offset 0x%X: %w",
				magic, off, types.ErrRecordCorrupt)
		}
		codeFileSize, _ := header.Uint("code_file_size")
		codeFunctionSize, _ := header.Uint("code_function_size")
		paramsSize, _ := header.Uint("params_size")
		total := uint64(blockHeaderSize) + codeFileSize + codeFunctionSize + paramsSize
		if total > uint64(limits.MaxValueSize) || off+int64(total) > size {
			return fmt.Errorf("odl: block at offset 0x%X declares %d bytes: %w",
				off, total, types.ErrRecordCorrupt)
		}
		block, err := d.r.ReadAt(off, int(total))
		if err != nil {
			return fmt.Errorf("odl: block at offset 0x%X: %w", off, err)
		}

		timestamp, _ := header.Uint("timestamp")
		codeFile := string(block[blockHeaderSize : blockHeaderSize+codeFileSize])
		codeFunction := string(block[blockHeaderSize+codeFileSize : blockHeaderSize+codeFileSize+codeFunctionSize])
		params := string(block[uint64(blockHeaderSize)+codeFileSize+codeFunctionSize : total])

		ev := EventData{CodeFile: codeFile, CodeFunction: codeFunction, Params: params}
		if d.key != nil {
			out, unwrapped, err := crypt.UnwrapString(params, d.key)
			if err != nil {
				// Value unrecoverable; the block itself stands.
				warn.Warn(types.Warning{Format: FormatID, Offset: off, Err: err})
				ev.Params = ""
			} else {
				ev.Params = out
				ev.Unwrapped = unwrapped
			}
		}

		sink.Emit(types.Event{
			Format: FormatID,
			Offset: off,
			Timestamps: []types.Timestamp{
				{Label: types.TimeRecorded, Time: wintime.FromFiletime(timestamp)},
			},
			Data: ev,
		})
		off += int64(total)
	}
	return nil
}

// Close implements artifact.Decoder.
func (d *Decoder) Close() error {
	d.closed = true
	d.r = nil
	return nil
}

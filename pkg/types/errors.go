package types

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies decode errors so callers can branch on intent rather
// than text. The central distinction is WrongFormat (a normal negative
// result: try the next decoder) versus everything else (a hard failure for
// the current record, page, or container).
type ErrKind int

const (
	ErrKindWrongFormat ErrKind = iota // signature/header does not match
	ErrKindUnsupported                // recognized format, unsupported version
	ErrKindTruncated                  // a read would exceed the available data
	ErrKindCorrupt                    // structural inconsistency (sizes, counts, cycles)
	ErrKindCodec                      // compression codec failure
	ErrKindFraming                    // block framing marker missing or wrong
	ErrKindPadding                    // cryptographic padding integrity failure
	ErrKindRegistry                   // registry configuration error at build time
	ErrKindState                      // invalid operation for the current session state
)

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinels returned (wrapped) by the decoding core. Match with errors.Is.
var (
	// ErrWrongFormat indicates the header or signature does not match the
	// decoder's format. Non-fatal: callers try the next candidate decoder.
	ErrWrongFormat = &Error{Kind: ErrKindWrongFormat, Msg: "not this format"}
	// ErrUnsupportedVersion indicates the header matched but the declared
	// version is outside the supported range. Fatal for the file only.
	ErrUnsupportedVersion = &Error{Kind: ErrKindUnsupported, Msg: "unsupported format version"}
	// ErrTruncatedData indicates a read past the end of the available data.
	ErrTruncatedData = &Error{Kind: ErrKindTruncated, Msg: "truncated data"}
	// ErrRecordTruncated indicates a record decode would exceed its buffer.
	// The whole record decode fails; no partial record is produced.
	ErrRecordTruncated = &Error{Kind: ErrKindTruncated, Msg: "truncated record"}
	// ErrRecordCorrupt indicates an internal consistency check failed, such
	// as an implausible element count or size field.
	ErrRecordCorrupt = &Error{Kind: ErrKindCorrupt, Msg: "corrupt record"}
	// ErrCorruptIndex indicates a property-table page chain is inconsistent
	// (cycle, out-of-range block pointer).
	ErrCorruptIndex = &Error{Kind: ErrKindCorrupt, Msg: "corrupt index"}
	// ErrDecompressionFailed indicates a codec-level failure inflating a block.
	ErrDecompressionFailed = &Error{Kind: ErrKindCodec, Msg: "decompression failed"}
	// ErrFramingError indicates a compressed block's framing markers are
	// missing or malformed.
	ErrFramingError = &Error{Kind: ErrKindFraming, Msg: "block framing error"}
	// ErrInvalidPadding indicates PKCS#7 unpadding failed its integrity check.
	ErrInvalidPadding = &Error{Kind: ErrKindPadding, Msg: "invalid padding"}
	// ErrDuplicateFormat indicates a specification or signature identifier
	// was registered twice. This is a configuration defect, not a parse error.
	ErrDuplicateFormat = &Error{Kind: ErrKindRegistry, Msg: "duplicate format identifier"}
	// ErrClosed indicates an operation on a closed decoder session.
	ErrClosed = &Error{Kind: ErrKindState, Msg: "decoder is closed"}
)

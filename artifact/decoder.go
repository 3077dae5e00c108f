package artifact

import "github.com/joshuapare/artifactkit/pkg/types"

// Decoder is one format decoder bound to a single container. Instances are
// single-use and single-threaded: a decoder owns its reader and property
// tables for exactly one input and is discarded afterwards.
//
// The Session drives the calls in order: ReadHeader, BuildCatalog, Stream,
// Close. Close is valid from any state and must release references to the
// source; no further reads are permitted afterwards.
type Decoder interface {
	// Format returns the decoder's format identifier.
	Format() string

	// ReadHeader validates the container's fixed header. It fails with
	// ErrWrongFormat when the signature does not match (try another
	// decoder) and ErrUnsupportedVersion when the format is recognized but
	// the declared version is out of range (fatal for this file only).
	ReadHeader(src types.ByteSource, limits types.Limits) error

	// BuildCatalog constructs the container's property tables, if the
	// format uses them. Called after ReadHeader succeeds. Failures are
	// container-structural and fatal for the file.
	BuildCatalog() error

	// Stream iterates the container's records, emitting one event per
	// decoded record in container order. Record-local failures go to warn
	// and streaming continues; a failure that prevents locating subsequent
	// records stops the container and is returned.
	Stream(sink types.Sink, warn types.WarnSink) error

	// Close releases the decoder's state.
	Close() error
}

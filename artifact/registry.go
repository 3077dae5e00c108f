package artifact

import (
	"fmt"
	"io"

	"github.com/joshuapare/artifactkit/internal/sigspec"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// Constructor builds a fresh decoder instance for one container.
type Constructor func() Decoder

// Registry maps format specifications to decoder constructors. The set of
// supported formats is an explicit, enumerable registration list; there is
// no registration through package import side effects.
type Registry struct {
	store *sigspec.Store
	ctors map[string]Constructor
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		store: sigspec.NewStore(),
		ctors: make(map[string]Constructor),
	}
}

// Register adds a format. Duplicate specification or signature identifiers
// fail with ErrDuplicateFormat.
func (r *Registry) Register(spec types.FormatSpec, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("artifact: format %q has no constructor: %w",
			spec.Format, types.ErrDuplicateFormat)
	}
	if err := r.store.Register(sigspec.FromSpec(spec)); err != nil {
		return err
	}
	r.ctors[spec.Format] = ctor
	r.order = append(r.order, spec.Format)
	return nil
}

// Formats returns the registered format identifiers in registration order.
func (r *Registry) Formats() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Classify identifies the format of buffer, or "" when no registered
// specification matches. Unknown is a normal negative result.
func (r *Registry) Classify(buffer []byte) string {
	return r.store.Classify(buffer)
}

// ClassifySource reads the classification prefix from src and classifies
// it. The prefix covers every start-anchored signature; end-anchored and
// scan signatures are evaluated against the whole source only when it is
// small enough to read outright.
func (r *Registry) ClassifySource(src types.ByteSource) (string, error) {
	size := src.Size()
	n := r.store.MaxReach()
	const wholeReadCutoff = 1 << 20
	if size <= wholeReadCutoff {
		n = size
	}
	if n > size {
		n = size
	}
	prefix := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(io.NewSectionReader(src, 0, n), prefix); err != nil {
			return "", fmt.Errorf("artifact: classify read: %w", err)
		}
	}
	return r.Classify(prefix), nil
}

// NewDecoder constructs a fresh decoder for the given format identifier.
func (r *Registry) NewDecoder(format string) (Decoder, bool) {
	ctor, ok := r.ctors[format]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// NewSession classifies src and binds the matching decoder. When nothing
// matches it fails with ErrWrongFormat, which callers treat as "unknown
// format" rather than corruption.
func (r *Registry) NewSession(src types.ByteSource, limits types.Limits) (*Session, error) {
	format, err := r.ClassifySource(src)
	if err != nil {
		return nil, err
	}
	if format == "" {
		return nil, fmt.Errorf("artifact: no registered format matches: %w", types.ErrWrongFormat)
	}
	dec, ok := r.NewDecoder(format)
	if !ok {
		return nil, fmt.Errorf("artifact: format %q has no constructor: %w",
			format, types.ErrWrongFormat)
	}
	return NewSession(dec, src, limits), nil
}

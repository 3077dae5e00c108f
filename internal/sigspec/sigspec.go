// Package sigspec matches byte-pattern signatures against input buffers to
// identify artifact formats without relying on file names or extensions.
package sigspec

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/artifactkit/pkg/types"
)

// AnyOffset marks a signature that may appear anywhere in the buffer.
const AnyOffset = types.AnyOffset

// Signature is a byte pattern anchored at an offset. Offset >= 0 anchors to
// the start of the data, a negative offset anchors to the end, and
// AnyOffset means the pattern must appear somewhere in the buffer.
type Signature struct {
	Identifier string
	Pattern    []byte
	Offset     int64
}

// Matches reports whether the signature matches buffer.
func (s Signature) Matches(buffer []byte) bool {
	if len(s.Pattern) == 0 {
		return false
	}
	if s.Offset == AnyOffset {
		return bytes.Contains(buffer, s.Pattern)
	}
	off := s.Offset
	if off < 0 {
		off += int64(len(buffer))
	}
	if off < 0 || off+int64(len(s.Pattern)) > int64(len(buffer)) {
		return false
	}
	return bytes.Equal(buffer[off:off+int64(len(s.Pattern))], s.Pattern)
}

// Specification describes one format: an identifier plus the signatures
// that must ALL match for the specification to match.
type Specification struct {
	Identifier string
	Signatures []Signature
}

// NewSpecification returns a specification with no signatures yet.
func NewSpecification(identifier string) *Specification {
	return &Specification{Identifier: identifier}
}

// FromSpec converts a public FormatSpec into a Specification.
func FromSpec(fs types.FormatSpec) *Specification {
	spec := NewSpecification(fs.Format)
	for _, sig := range fs.Signatures {
		spec.AddSignature(sig.ID, sig.Pattern, sig.Offset)
	}
	return spec
}

// AddSignature appends a signature to the specification.
func (s *Specification) AddSignature(identifier string, pattern []byte, offset int64) *Specification {
	s.Signatures = append(s.Signatures, Signature{
		Identifier: identifier,
		Pattern:    pattern,
		Offset:     offset,
	})
	return s
}

// Matches reports whether every signature of the specification matches.
func (s *Specification) Matches(buffer []byte) bool {
	if len(s.Signatures) == 0 {
		return false
	}
	for _, sig := range s.Signatures {
		if !sig.Matches(buffer) {
			return false
		}
	}
	return true
}

// MaxReach returns the number of leading bytes a classifier must supply for
// all start-anchored signatures of the specification to be evaluable.
func (s *Specification) MaxReach() int64 {
	var reach int64
	for _, sig := range s.Signatures {
		if sig.Offset < 0 {
			continue
		}
		if end := sig.Offset + int64(len(sig.Pattern)); end > reach {
			reach = end
		}
	}
	return reach
}

// Store holds registered specifications and classifies buffers against
// them. Registration order is preserved: the first matching specification
// wins. Identifiers (specification and signature alike) are globally unique
// within one store.
type Store struct {
	specs []*Specification
	seen  map[string]struct{}
}

// NewStore returns an empty specification store.
func NewStore() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// Register adds a specification. Reusing the specification identifier or
// any of its signature identifiers fails with ErrDuplicateFormat.
func (st *Store) Register(spec *Specification) error {
	if spec == nil || spec.Identifier == "" {
		return fmt.Errorf("sigspec: empty specification: %w", types.ErrDuplicateFormat)
	}
	ids := make([]string, 0, 1+len(spec.Signatures))
	ids = append(ids, spec.Identifier)
	for _, sig := range spec.Signatures {
		ids = append(ids, spec.Identifier+"."+sig.Identifier)
	}
	for _, id := range ids {
		if _, dup := st.seen[id]; dup {
			return fmt.Errorf("sigspec: %q already registered: %w", id, types.ErrDuplicateFormat)
		}
	}
	for _, id := range ids {
		st.seen[id] = struct{}{}
	}
	st.specs = append(st.specs, spec)
	return nil
}

// Classify returns the identifier of the first registered specification
// whose signatures all match buffer, or "" when no specification matches.
// An unknown format is a normal negative result, never an error.
func (st *Store) Classify(buffer []byte) string {
	for _, spec := range st.specs {
		if spec.Matches(buffer) {
			return spec.Identifier
		}
	}
	return ""
}

// MaxReach returns the largest start-anchored reach over all registered
// specifications; callers sizing a classification prefix read this.
func (st *Store) MaxReach() int64 {
	var reach int64
	for _, spec := range st.specs {
		if r := spec.MaxReach(); r > reach {
			reach = r
		}
	}
	return reach
}

// Package proptable builds the per-container lookup tables (metadata types,
// values, lists, localized strings) that later records reference by small
// integer index. A table is built once during the catalog pass by walking a
// linked chain of fixed-size pages, and is read-only afterwards.
package proptable

import (
	"fmt"

	"github.com/joshuapare/artifactkit/internal/stream"
	"github.com/joshuapare/artifactkit/pkg/types"
)

// MissingPlaceholder is the documented substitute for a dereference miss.
// Property indices are intentionally sparse in real containers.
const MissingPlaceholder = "(null)"

// Descriptor is one decoded property entry.
type Descriptor struct {
	Index     uint32
	Key       string
	ValueType uint8
	Flags     uint8
	Value     string // payload for value and localized-string tables
}

// Table maps integer indices to property descriptors. Immutable after Build.
type Table struct {
	name    string
	entries map[uint32]Descriptor
}

// Name returns the table's diagnostic name.
func (t *Table) Name() string { return t.name }

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Dereference resolves index into a descriptor. A missing index returns
// ok = false, never an error: callers substitute MissingPlaceholder.
func (t *Table) Dereference(index uint32) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.entries[index]
	return d, ok
}

// PageDecoder decodes the property records of one page and returns them
// along with the next block number from the page's trailer. A next block
// of zero terminates the chain.
type PageDecoder func(page []byte, pageOffset int64) (entries []Descriptor, nextBlock uint32, err error)

// Build walks the page chain starting at startBlock (a page index; byte
// offset = block * pageSize). The walk is bounded by the number of pages
// the container can hold, so a cyclic or out-of-range next pointer fails
// with ErrCorruptIndex instead of looping.
func Build(name string, r *stream.Reader, pageSize int, startBlock uint32, decode PageDecoder) (*Table, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("proptable %s: invalid page size %d: %w",
			name, pageSize, types.ErrCorruptIndex)
	}
	maxPages := int(r.Size()/int64(pageSize)) + 1
	if limit := r.Limits().MaxPageWalk; maxPages > limit {
		maxPages = limit
	}

	table := &Table{name: name, entries: make(map[uint32]Descriptor)}
	visited := make(map[uint32]struct{})
	block := startBlock
	for steps := 0; block != 0; steps++ {
		if steps >= maxPages {
			return nil, fmt.Errorf("proptable %s: page chain exceeds %d pages: %w",
				name, maxPages, types.ErrCorruptIndex)
		}
		if _, seen := visited[block]; seen {
			return nil, fmt.Errorf("proptable %s: page chain revisits block %d: %w",
				name, block, types.ErrCorruptIndex)
		}
		visited[block] = struct{}{}

		pageOffset := int64(block) * int64(pageSize)
		page, err := r.ReadAt(pageOffset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("proptable %s: block %d: %w", name, block, err)
		}
		entries, next, err := decode(page, pageOffset)
		if err != nil {
			return nil, fmt.Errorf("proptable %s: block %d: %w", name, block, err)
		}
		for _, e := range entries {
			table.entries[e.Index] = e
		}
		block = next
	}
	return table, nil
}

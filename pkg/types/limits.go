package types

// Decode limits guard against corrupt size and count fields driving huge
// allocations or unbounded page walks. The defaults are generous enough for
// every well-formed artifact observed in the wild.

const (
	// DefaultMaxElementCount bounds decoded array/table element counts.
	DefaultMaxElementCount = 1 << 20

	// DefaultMaxStringLen bounds decoded string lengths in bytes.
	DefaultMaxStringLen = 1 << 16

	// DefaultMaxValueSize bounds a single decoded value payload (1 MB).
	DefaultMaxValueSize = 1 << 20

	// DefaultMaxPageWalk bounds linked page-chain walks when the container
	// size gives no tighter bound.
	DefaultMaxPageWalk = 1 << 16
)

// Limits constrains a decode pass. A zero Limits means DefaultLimits.
type Limits struct {
	// MaxElementCount is the maximum element count accepted for a repeated
	// field before the record is declared corrupt.
	MaxElementCount int

	// MaxStringLen is the maximum byte length accepted for a decoded string.
	MaxStringLen int

	// MaxValueSize is the maximum byte size accepted for a single value
	// payload (attribute data, decompressed block).
	MaxValueSize int

	// MaxPageWalk is the maximum number of pages followed in a linked
	// page chain before the chain is declared corrupt.
	MaxPageWalk int
}

// DefaultLimits returns limits suitable for real-world artifacts.
func DefaultLimits() Limits {
	return Limits{
		MaxElementCount: DefaultMaxElementCount,
		MaxStringLen:    DefaultMaxStringLen,
		MaxValueSize:    DefaultMaxValueSize,
		MaxPageWalk:     DefaultMaxPageWalk,
	}
}

// StrictLimits returns conservative limits for constrained environments.
func StrictLimits() Limits {
	return Limits{
		MaxElementCount: DefaultMaxElementCount >> 4,
		MaxStringLen:    DefaultMaxStringLen >> 4,
		MaxValueSize:    DefaultMaxValueSize >> 4,
		MaxPageWalk:     DefaultMaxPageWalk >> 4,
	}
}

// OrDefault fills zero fields from DefaultLimits.
func (l Limits) OrDefault() Limits {
	d := DefaultLimits()
	if l.MaxElementCount <= 0 {
		l.MaxElementCount = d.MaxElementCount
	}
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = d.MaxStringLen
	}
	if l.MaxValueSize <= 0 {
		l.MaxValueSize = d.MaxValueSize
	}
	if l.MaxPageWalk <= 0 {
		l.MaxPageWalk = d.MaxPageWalk
	}
	return l
}

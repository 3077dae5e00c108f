package artifact

import (
	"fmt"

	"github.com/joshuapare/artifactkit/pkg/types"
)

// State is a session's lifecycle position.
type State int

const (
	StateUnopened State = iota
	StateHeaderRead
	StateCatalogBuilt
	StateStreaming
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateHeaderRead:
		return "header-read"
	case StateCatalogBuilt:
		return "catalog-built"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result summarizes one completed decode pass.
type Result struct {
	Format   string
	Events   int
	Warnings int
}

// Session drives a decoder through its lifecycle over one container.
type Session struct {
	dec    Decoder
	src    types.ByteSource
	limits types.Limits
	state  State
}

// NewSession binds a decoder to a source. The decoder must be fresh.
func NewSession(dec Decoder, src types.ByteSource, limits types.Limits) *Session {
	return &Session{dec: dec, src: src, limits: limits.OrDefault()}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Format returns the bound decoder's format identifier.
func (s *Session) Format() string { return s.dec.Format() }

// Run executes the full decode pass: header validation, catalog
// construction, record streaming, close. Events go to sink as soon as each
// record is decoded; recoverable failures go to warn. On error the session
// moves to StateError, the decoder is closed, and the partial Result is
// still returned (events already emitted stand).
func (s *Session) Run(sink types.Sink, warn types.WarnSink) (Result, error) {
	res := Result{Format: s.dec.Format()}
	if s.state != StateUnopened {
		return res, fmt.Errorf("artifact: session already ran (state %s): %w",
			s.state, types.ErrClosed)
	}
	if warn == nil {
		warn = types.DiscardWarnSink{}
	}
	cs := &countingSink{next: sink}
	cw := &countingWarnSink{next: warn}

	fail := func(err error) (Result, error) {
		s.state = StateError
		_ = s.dec.Close()
		res.Events = cs.n
		res.Warnings = cw.n
		return res, err
	}

	if err := s.dec.ReadHeader(s.src, s.limits); err != nil {
		return fail(err)
	}
	s.state = StateHeaderRead

	if err := s.dec.BuildCatalog(); err != nil {
		return fail(err)
	}
	s.state = StateCatalogBuilt

	s.state = StateStreaming
	if err := s.dec.Stream(cs, cw); err != nil {
		return fail(err)
	}

	if err := s.dec.Close(); err != nil {
		return fail(err)
	}
	s.state = StateClosed
	res.Events = cs.n
	res.Warnings = cw.n
	return res, nil
}

// Close abandons the session between records. Safe in any state.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	return s.dec.Close()
}

type countingSink struct {
	next types.Sink
	n    int
}

func (c *countingSink) Emit(ev types.Event) {
	c.n++
	if c.next != nil {
		c.next.Emit(ev)
	}
}

type countingWarnSink struct {
	next types.WarnSink
	n    int
}

func (c *countingWarnSink) Warn(w types.Warning) {
	c.n++
	c.next.Warn(w)
}

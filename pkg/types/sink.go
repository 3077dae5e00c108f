package types

import "log/slog"

// Sink receives normalized events. Implementations own persistence,
// deduplication and downstream formatting; the core never reads back.
type Sink interface {
	Emit(ev Event)
}

// Warning describes a recoverable per-record decode failure. The decoder
// reports it and continues with the next record or page.
type Warning struct {
	Format string // decoder identifier
	Offset int64  // container offset of the failed record or page
	Err    error
}

// WarnSink receives recoverable decode warnings. Implementations must not
// panic; a decoder treats Warn as fire-and-forget.
type WarnSink interface {
	Warn(w Warning)
}

// CollectSink gathers events in memory. Test and CLI helper.
type CollectSink struct {
	Events []Event
}

func (s *CollectSink) Emit(ev Event) { s.Events = append(s.Events, ev) }

// CollectWarnSink gathers warnings in memory. Test helper.
type CollectWarnSink struct {
	Warnings []Warning
}

func (s *CollectWarnSink) Warn(w Warning) { s.Warnings = append(s.Warnings, w) }

// DiscardWarnSink drops all warnings.
type DiscardWarnSink struct{}

func (DiscardWarnSink) Warn(Warning) {}

// SlogWarnSink routes warnings to a structured logger.
type SlogWarnSink struct {
	L *slog.Logger
}

func (s SlogWarnSink) Warn(w Warning) {
	if s.L == nil {
		return
	}
	s.L.Warn("recoverable decode failure",
		"format", w.Format,
		"offset", w.Offset,
		"err", w.Err,
	)
}

package types

import (
	"encoding/json"
	"time"
)

// TimestampLabel names the semantic of a timestamp attached to an event.
type TimestampLabel string

const (
	TimeCreation          TimestampLabel = "creation"
	TimeModification      TimestampLabel = "modification"
	TimeAccess            TimestampLabel = "access"
	TimeEntryModification TimestampLabel = "entry_modification"
	TimeRecorded          TimestampLabel = "recorded"
	TimeLastUsed          TimestampLabel = "last_used"
)

// Timestamp is one labelled point in time on a normalized event.
type Timestamp struct {
	Label TimestampLabel `json:"label"`
	Time  time.Time      `json:"time"`
}

// EventData is the per-format payload of a normalized event. Each decoder
// package declares its own concrete EventData struct so the fields a format
// produces are statically known; genuinely dynamic vendor-defined key sets
// (Spotlight metadata attributes) go into that struct's own extra map.
type EventData interface {
	// DataType returns a stable identifier for the payload shape, e.g.
	// "fs:ntfs:mft". Used by sinks for routing and by the CLI for display.
	DataType() string
}

// Event is a normalized, timestamped record produced by a format decoder.
// Events are emitted to the sink one at a time, as soon as they are decoded;
// the core retains no reference after Emit returns.
type Event struct {
	Format     string      `json:"format"` // decoder identifier that produced the event
	Offset     int64       `json:"offset"` // container offset of the source record
	Timestamps []Timestamp `json:"timestamps"`
	Data       EventData   `json:"data"`
}

// MarshalJSON flattens the data type identifier next to the payload so the
// JSON stream stays self-describing.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		DataType string `json:"data_type"`
		alias
	}{DataType: e.Data.DataType(), alias: alias(e)})
}

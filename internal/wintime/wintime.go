// Package wintime converts the timestamp encodings found in artifact
// containers to time.Time: Windows FILETIME, Mac absolute (Cocoa) time and
// POSIX seconds with optional fractional part.
package wintime

import (
	"math"
	"time"
)

const (
	filetimeOffset = 116444736000000000 // FILETIME epoch (1601) to Unix epoch in 100ns units
	filetimeUnit   = 100                // FILETIME units are 100ns

	// cocoaEpochUnix is 2001-01-01T00:00:00Z as Unix seconds.
	cocoaEpochUnix = 978307200
)

// FromFiletime converts a Windows FILETIME value to time.Time.
func FromFiletime(v uint64) time.Time {
	if v <= filetimeOffset {
		return time.Unix(0, 0).UTC()
	}
	ns := int64((v - filetimeOffset) * filetimeUnit)
	sec := ns / int64(time.Second)
	nsec := ns % int64(time.Second)
	return time.Unix(sec, nsec).UTC()
}

// ToFiletime converts a time.Time to a Windows FILETIME value. Used for
// building synthetic fixtures.
func ToFiletime(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	return uint64(ns)/filetimeUnit + filetimeOffset
}

// FromCocoa converts Mac absolute time (float seconds since 2001-01-01) to
// time.Time.
func FromCocoa(seconds float64) time.Time {
	sec, frac := math.Modf(seconds)
	return time.Unix(cocoaEpochUnix+int64(sec), int64(frac*float64(time.Second))).UTC()
}

// FromPosix converts POSIX seconds plus a nanosecond remainder to time.Time.
func FromPosix(sec int64, nsec uint32) time.Time {
	return time.Unix(sec, int64(nsec)).UTC()
}

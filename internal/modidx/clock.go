package modidx

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the ISO-8601, second precision layout used for every
// persisted timestamp (first_seen_at, last_seen_at, created_at).
const TimestampLayout = "2006-01-02T15:04:05"

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// FormatTimestamp renders t in local time using TimestampLayout, dropping
// sub-second precision.
func FormatTimestamp(t time.Time) string {
	return t.Local().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses a value written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

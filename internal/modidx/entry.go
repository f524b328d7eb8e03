package modidx

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Status is the lifecycle classification of an indexed file.
type Status string

const (
	StatusNormal  Status = "normal"
	StatusChanged Status = "changed"
	StatusMissing Status = "missing"
)

// ParseStatus validates a status name. The empty string is accepted and
// means "any status" to the listing helpers.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusNormal, StatusChanged, StatusMissing:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q (want normal, changed or missing)", s)
	}
}

// DefaultSource is the provenance tag used when a scan does not name one.
const DefaultSource = "external"

// IndexEntry is one row of the file index, keyed by AbsPath.
// Entries are never deleted; a file that disappears is kept with StatusMissing.
type IndexEntry struct {
	AbsPath        string
	RelPath        string
	FileName       string
	Extension      string
	Size           int64
	MTime          float64 // seconds since the epoch
	QuickSignature string
	Checksum       *string // reserved, never computed
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	Status         Status
	Source         string
}

// MTimeSeconds converts a modification time to the numeric form stored in
// the index.
func MTimeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// QuickSignature derives the "{size}:{mtime}" change indicator.
func QuickSignature(size int64, mtime float64) string {
	return strconv.FormatInt(size, 10) + ":" + strconv.FormatFloat(mtime, 'f', -1, 64)
}

// newEntry builds an entry for a file observed on disk.
func newEntry(file *Path, source string, now time.Time) *IndexEntry {
	info := file.Info()
	mtime := MTimeSeconds(info.ModTime())
	return &IndexEntry{
		AbsPath:        file.String(),
		RelPath:        file.Rel(),
		FileName:       file.Name(),
		Extension:      filepath.Ext(file.Name()),
		Size:           info.Size(),
		MTime:          mtime,
		QuickSignature: QuickSignature(info.Size(), mtime),
		FirstSeenAt:    now,
		LastSeenAt:     now,
		Status:         StatusNormal,
		Source:         source,
	}
}

// ScanSummary is the result of one scan. It is not persisted.
type ScanSummary struct {
	Root     string
	Added    int
	Changed  int
	Removed  int
	Skipped  int
	Duration time.Duration
}

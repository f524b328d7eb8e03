package modidx

import (
	"context"
	"time"
)

// Database provides the persistence operations used by the file index and
// the operation log. Every error returned by an implementation wraps a
// *StoreIOError, except context cancellation, which wraps ctx.Err().
type Database interface {
	// EnsureFileIndexSchema creates the file index table and its abs_path
	// index if they do not exist. Safe to call repeatedly.
	EnsureFileIndexSchema(ctx context.Context) error

	// LoadIndexEntries returns every entry stored under root (root itself
	// included), keyed by absolute path.
	LoadIndexEntries(ctx context.Context, root string) (map[string]*IndexEntry, error)

	// BeginScan starts the single transaction a scan writes through.
	BeginScan(ctx context.Context) (ScanWriter, error)

	// ListIndexEntries returns entries ordered by path. An empty status
	// matches every entry.
	ListIndexEntries(ctx context.Context, status Status) ([]*IndexEntry, error)

	// FindIndexEntry returns the entry for absPath, or nil if there is none.
	FindIndexEntry(ctx context.Context, absPath string) (*IndexEntry, error)

	// InsertOperation appends one operation log row and commits it.
	InsertOperation(ctx context.Context, op *StoredOperation) error

	// RecentOperations returns up to limit rows, newest first.
	RecentOperations(ctx context.Context, limit int) ([]*StoredOperation, error)

	// Close closes the database connection.
	Close() error
}

// ScanWriter is the write side of one scan. Nothing is visible to other
// readers until Commit.
type ScanWriter interface {
	// InsertEntry stores a newly observed file.
	InsertEntry(e *IndexEntry) error

	// UpdateEntry rewrites the descriptive fields, signature, last_seen_at
	// and status of an existing entry.
	UpdateEntry(e *IndexEntry) error

	// TouchEntry sets last_seen_at and status of an unchanged entry.
	TouchEntry(absPath string, seenAt time.Time, status Status) error

	// MarkMissing sets status=missing and last_seen_at on every given path.
	MarkMissing(absPaths []string, seenAt time.Time) error

	Commit() error
	Rollback() error
}

// StoredOperation is the persisted form of an operation record; the payload
// is kept as encoded JSON text.
type StoredOperation struct {
	ID          int64
	OpType      string
	PayloadJSON string
	Status      string
	CreatedAt   time.Time
}

package modidx

import (
	"errors"
	"fmt"
)

var (
	// ErrRootNotFound is returned when a scan root does not exist.
	ErrRootNotFound = errors.New("root not found")

	// ErrNotDirectory is returned when a scan root exists but is not a directory.
	ErrNotDirectory = errors.New("root is not a directory")
)

// StoreIOError reports a failure of the underlying persistent store.
// It is never retried by the core.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// ScanIOError reports a single filesystem entry that could not be read
// during a scan. The entry is skipped and the scan continues.
type ScanIOError struct {
	Path string
	Err  error
}

func (e *ScanIOError) Error() string {
	return fmt.Sprintf("scan: %s: %v", e.Path, e.Err)
}

func (e *ScanIOError) Unwrap() error { return e.Err }

// SerializationError reports an operation record whose stored payload could
// not be decoded.
type SerializationError struct {
	ID  int64
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("operation %d: decoding payload: %v", e.ID, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

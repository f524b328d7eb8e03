package modidx

// WalkFunc is called once for every regular file found under a root.
// Returning an error aborts the walk.
type WalkFunc func(file *Path) error

// SkipFunc is called for every entry that could not be read during a walk.
// The walk continues after it returns.
type SkipFunc func(err *ScanIOError)

// FilesystemManager provides an interface for filesystem operations.
// It abstracts file access to enable testing without touching the real filesystem.
type FilesystemManager interface {
	// Resolve expands a leading "~", converts rawPath to an absolute path and
	// stats it. A path that does not exist yields an error wrapping
	// ErrRootNotFound.
	Resolve(rawPath string) (*Path, error)

	// WalkFiles visits every regular file below root recursively.
	// Directories are descended into; symbolic links and special files are
	// never visited or followed. Unreadable entries are reported to skip and
	// the walk continues.
	WalkFiles(root *Path, fn WalkFunc, skip SkipFunc) error
}

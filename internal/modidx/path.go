package modidx

import (
	"io/fs"
	"path/filepath"
)

// Path represents a validated filesystem path with cached metadata.
// Path objects are created by FilesystemManager.Resolve (for roots) or
// handed to a WalkFunc (for files found under a root).
type Path struct {
	absPath string
	relPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components.
// This is primarily for use by FilesystemManager implementations.
// relPath is empty for a resolved root.
func NewPath(absPath, relPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{
		absPath: absPath,
		relPath: relPath,
		isDir:   isDir,
		info:    info,
	}
}

// String returns the absolute path as a string.
func (p *Path) String() string {
	return p.absPath
}

// Rel returns the path relative to the root it was discovered under.
func (p *Path) Rel() string {
	return p.relPath
}

// Name returns the final element of the path.
func (p *Path) Name() string {
	return filepath.Base(p.absPath)
}

// IsDir returns true if this path points to a directory.
func (p *Path) IsDir() bool {
	return p.isDir
}

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo {
	return p.info
}

package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"modidx/internal/modidx"
)

// IgnoreFileName is read from the root of every walk; its patterns are
// added to the configured ones.
const IgnoreFileName = ".modidxignore"

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// It performs actual filesystem operations using the os package.
type OSFilesystemManager struct {
	ignore []string
}

// NewOSFilesystemManager creates a new filesystem manager that operates on the
// real filesystem. Files matching any of the ignore patterns are never visited.
func NewOSFilesystemManager(ignore []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: ignore}
}

// Resolve expands a leading "~", makes rawPath absolute and stats it.
// When rawPath itself is a symlink the link target is returned, so a walk
// of the result enters it; links below the root are never followed.
func (m *OSFilesystemManager) Resolve(rawPath string) (*modidx.Path, error) {
	expanded, err := expandHome(rawPath)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", modidx.ErrRootNotFound, absPath)
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}

	if link, err := os.Lstat(absPath); err == nil && link.Mode()&fs.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(absPath)
		if err != nil {
			return nil, fmt.Errorf("following %s: %w", absPath, err)
		}
		absPath = target
	}

	return modidx.NewPath(absPath, "", info.IsDir(), info), nil
}

// WalkFiles visits every regular file below root in lexical order.
// Symlinks, devices, pipes and sockets are skipped without being reported.
// An entry that cannot be read is reported to skip; an unreadable
// directory is not descended into.
func (m *OSFilesystemManager) WalkFiles(root *modidx.Path, fn modidx.WalkFunc, skip modidx.SkipFunc) error {
	if !root.IsDir() {
		return fmt.Errorf("path is not a directory: %s", root.String())
	}

	matcher, err := m.matcherFor(root.String())
	if err != nil {
		return err
	}

	return filepath.WalkDir(root.String(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root.String() {
				return fmt.Errorf("reading root: %w", err)
			}
			skip(&modidx.ScanIOError{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if p == root.String() {
			return nil
		}

		rel, err := filepath.Rel(root.String(), p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}

		if d.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher.Match(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skip(&modidx.ScanIOError{Path: p, Err: err})
			return nil
		}
		return fn(modidx.NewPath(p, rel, false, info))
	})
}

// matcherFor combines the configured patterns with the root's ignore file.
func (m *OSFilesystemManager) matcherFor(root string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}

	patterns := make([]string, 0, len(defaultIgnorePatterns)+len(m.ignore)+len(fromFile))
	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, m.ignore...)
	patterns = append(patterns, fromFile...)
	return NewIgnoreMatcher(patterns), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Compile-time check that OSFilesystemManager implements modidx.FilesystemManager interface
var _ modidx.FilesystemManager = (*OSFilesystemManager)(nil)

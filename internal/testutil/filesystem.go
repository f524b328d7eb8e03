package testutil

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"modidx/internal/modidx"
)

// MockHome is what "~" expands to in the mock filesystem.
const MockHome = "/home/test"

// ErrUnreadable is reported for entries marked with SetUnreadable.
var ErrUnreadable = errors.New("permission denied")

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Size        int64
	ModTime     time.Time
	IsDirectory bool
	Unreadable  bool
}

// MockFilesystemManager is an in-memory filesystem for testing. Sizes and
// modification times are set explicitly so scans are deterministic.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
	}
}

// AddFile adds or replaces a regular file. Parent directories are created.
func (m *MockFilesystemManager) AddFile(path string, size int64, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.addParents(path)
	m.files[path] = &MockFile{Size: size, ModTime: modTime}
}

// AddDirectory adds a directory and its parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.addParents(path)
	m.files[path] = &MockFile{IsDirectory: true, ModTime: time.Now()}
}

// RemoveFile deletes a file, or a directory together with everything below it.
func (m *MockFilesystemManager) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
}

// SetUnreadable makes the walk report path as unreadable instead of visiting it.
func (m *MockFilesystemManager) SetUnreadable(path string, unreadable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[filepath.Clean(path)]; ok {
		f.Unreadable = unreadable
	}
}

func (m *MockFilesystemManager) addParents(path string) {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, ok := m.files[dir]; !ok {
			m.files[dir] = &MockFile{IsDirectory: true}
		}
		if dir == filepath.Dir(dir) {
			return
		}
	}
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*modidx.Path, error) {
	if rawPath == "~" || strings.HasPrefix(rawPath, "~/") {
		rawPath = MockHome + strings.TrimPrefix(rawPath, "~")
	}
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", modidx.ErrRootNotFound, absPath)
	}
	return modidx.NewPath(absPath, "", file.IsDirectory, newMockFileInfo(absPath, file)), nil
}

// WalkFiles visits the regular files below root in lexical order.
func (m *MockFilesystemManager) WalkFiles(root *modidx.Path, fn modidx.WalkFunc, skip modidx.SkipFunc) error {
	type found struct {
		path string
		file MockFile
	}

	m.mu.Lock()
	prefix := root.String() + string(filepath.Separator)
	var entries []found
	for p, f := range m.files {
		if strings.HasPrefix(p, prefix) {
			entries = append(entries, found{path: p, file: *f})
		}
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var blocked []string
	for _, e := range entries {
		if underAny(e.path, blocked) {
			continue
		}
		if e.file.Unreadable {
			skip(&modidx.ScanIOError{Path: e.path, Err: ErrUnreadable})
			if e.file.IsDirectory {
				blocked = append(blocked, e.path+string(filepath.Separator))
			}
			continue
		}
		if e.file.IsDirectory {
			continue
		}

		rel, err := filepath.Rel(root.String(), e.path)
		if err != nil {
			return err
		}
		file := e.file
		if err := fn(modidx.NewPath(e.path, rel, false, newMockFileInfo(e.path, &file))); err != nil {
			return err
		}
	}
	return nil
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func newMockFileInfo(path string, f *MockFile) *mockFileInfo {
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    f.Size,
		modTime: f.ModTime,
		isDir:   f.IsDirectory,
	}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

func (m *mockFileInfo) Mode() fs.FileMode {
	if m.isDir {
		return fs.ModeDir | 0755
	}
	return 0644
}

// Compile-time check
var _ modidx.FilesystemManager = (*MockFilesystemManager)(nil)

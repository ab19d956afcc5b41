package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// RealFileSystem implements the FileSystem interface using the standard os package.
type RealFileSystem struct{}

// NewRealFileSystem creates a new instance of RealFileSystem.
func NewRealFileSystem() *RealFileSystem {
	return &RealFileSystem{}
}

// OpenFile opens a file using os.OpenFile.
func (rfs *RealFileSystem) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFile reads the named file using os.ReadFile.
func (rfs *RealFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to the named file using os.WriteFile.
func (rfs *RealFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// Stat returns a FileInfo using os.Stat.
func (rfs *RealFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// MkdirAll creates a directory using os.MkdirAll.
func (rfs *RealFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

// WalkDir walks the file tree using filepath.WalkDir.
func (rfs *RealFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// Remove removes the named file or directory using os.Remove.
func (rfs *RealFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// Rename renames (moves) a file using os.Rename.
func (rfs *RealFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Chtimes changes the access and modification times. Zero values are left untouched.
func (rfs *RealFileSystem) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return chtimes(name, atime, mtime)
}

// Times reads the three timestamps of the named entity.
func (rfs *RealFileSystem) Times(name string) (Times, error) {
	return statTimes(name)
}

// ResolvePath canonicalizes name with filepath.EvalSymlinks.
func (rfs *RealFileSystem) ResolvePath(name string, followLast bool) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return filepath.Clean(name)
	}
	if followLast {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			return resolved
		}
	}
	dir, base := filepath.Split(abs)
	if base == "" {
		return abs
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return abs
}

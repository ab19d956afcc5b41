package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// BillyFileSystem implements FileSystem on top of a go-billy filesystem.
// go-billy's memfs reports the current instant as every file's modification
// time and no backend tracks creation or access, so the instants observed
// through this adapter are kept in an in-memory overlay.
type BillyFileSystem struct {
	fs billy.Filesystem

	mu     sync.Mutex
	stamps map[string]*stamp
}

// stamp holds the overlay instants for one path; a zero field defers to the backend.
type stamp struct {
	created  time.Time
	modified time.Time
	accessed time.Time
}

// NewBillyFileSystem wraps the given go-billy filesystem.
func NewBillyFileSystem(fsys billy.Filesystem) *BillyFileSystem {
	return &BillyFileSystem{
		fs:     fsys,
		stamps: make(map[string]*stamp),
	}
}

// NewInMemoryFileSystem creates a FileSystem backed by go-billy's memfs.
func NewInMemoryFileSystem() *BillyFileSystem {
	return NewBillyFileSystem(memfs.New())
}

// NewChrootFileSystem creates a FileSystem backed by go-billy's osfs, rooted at root.
func NewChrootFileSystem(root string) *BillyFileSystem {
	return NewBillyFileSystem(osfs.New(root))
}

// Raw returns the underlying go-billy filesystem.
//
//nolint:ireturn // exposes the adapter target.
func (b *BillyFileSystem) Raw() billy.Filesystem {
	return b.fs
}

func (b *BillyFileSystem) stampLocked(name string) *stamp {
	name = filepath.Clean(name)
	st, ok := b.stamps[name]
	if !ok {
		st = &stamp{}
		b.stamps[name] = st
	}
	return st
}

func (b *BillyFileSystem) noteCreated(name string) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stampLocked(name)
	st.created, st.modified, st.accessed = now, now, now
}

func (b *BillyFileSystem) noteModified(name string) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stampLocked(name).modified = now
}

// OpenFile implements FileSystem.OpenFile.
//
//nolint:ireturn // API returns the File interface.
func (b *BillyFileSystem) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	info, statErr := b.fs.Stat(name)
	if statErr == nil && info.IsDir() {
		if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.EISDIR}
		}
		return &billyDir{name: name, fs: b}, nil
	}

	f, err := b.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("billy: openfile %q: %w", name, err)
	}
	switch {
	case statErr != nil && flag&os.O_CREATE != 0:
		b.noteCreated(name)
	case flag&os.O_TRUNC != 0:
		b.noteModified(name)
	}
	return &billyFile{file: f, name: name, fs: b}, nil
}

// ReadFile implements FileSystem.ReadFile.
func (b *BillyFileSystem) ReadFile(name string) ([]byte, error) {
	bts, err := util.ReadFile(b.fs, name)
	if err != nil {
		return nil, fmt.Errorf("billy: readfile %q: %w", name, err)
	}
	return bts, nil
}

// WriteFile implements FileSystem.WriteFile.
func (b *BillyFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	_, statErr := b.fs.Stat(name)
	if err := util.WriteFile(b.fs, name, data, perm); err != nil {
		return fmt.Errorf("billy: writefile %q: %w", name, err)
	}
	if statErr != nil {
		b.noteCreated(name)
	} else {
		b.noteModified(name)
	}
	return nil
}

// Stat implements FileSystem.Stat.
func (b *BillyFileSystem) Stat(name string) (fs.FileInfo, error) {
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("billy: stat %q: %w", name, err)
	}
	return info, nil
}

// MkdirAll implements FileSystem.MkdirAll.
func (b *BillyFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	_, statErr := b.fs.Stat(path)
	if err := b.fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("billy: mkdirall %q: %w", path, err)
	}
	if statErr != nil {
		b.noteCreated(path)
	}
	return nil
}

// WalkDir implements FileSystem.WalkDir on top of util.Walk.
func (b *BillyFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	err := util.Walk(b.fs, root, func(path string, info os.FileInfo, err error) error {
		var d fs.DirEntry
		if info != nil {
			d = fs.FileInfoToDirEntry(info)
		}
		return fn(path, d, err)
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return fmt.Errorf("billy: walk %q: %w", root, err)
	}
	return nil
}

// Remove implements FileSystem.Remove.
func (b *BillyFileSystem) Remove(name string) error {
	if err := b.fs.Remove(name); err != nil {
		return fmt.Errorf("billy: remove %q: %w", name, err)
	}
	b.mu.Lock()
	delete(b.stamps, filepath.Clean(name))
	b.mu.Unlock()
	return nil
}

// Rename implements FileSystem.Rename. Overlay entries for oldpath and anything
// beneath it move with the rename.
func (b *BillyFileSystem) Rename(oldpath, newpath string) error {
	if err := b.fs.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("billy: rename %q to %q: %w", oldpath, newpath, err)
	}
	from, to := filepath.Clean(oldpath), filepath.Clean(newpath)
	prefix := from + string(filepath.Separator)

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, st := range b.stamps {
		switch {
		case name == from:
			delete(b.stamps, name)
			b.stamps[to] = st
		case strings.HasPrefix(name, prefix):
			delete(b.stamps, name)
			b.stamps[filepath.Join(to, strings.TrimPrefix(name, prefix))] = st
		}
	}
	return nil
}

// Chtimes implements FileSystem.Chtimes. Both instants are recorded in the
// overlay; the modification time is also forwarded when the backend supports billy.Change.
func (b *BillyFileSystem) Chtimes(name string, atime time.Time, mtime time.Time) error {
	info, err := b.fs.Stat(name)
	if err != nil {
		return fmt.Errorf("billy: chtimes %q: %w", name, err)
	}
	if changer, ok := b.fs.(billy.Change); ok && !mtime.IsZero() {
		at := atime
		if at.IsZero() {
			at = info.ModTime()
		}
		if err := changer.Chtimes(name, at, mtime); err != nil {
			return fmt.Errorf("billy: chtimes %q: %w", name, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stampLocked(name)
	if !atime.IsZero() {
		st.accessed = atime
	}
	if !mtime.IsZero() {
		st.modified = mtime
	}
	return nil
}

// Times implements FileSystem.Times. Instants missing from the overlay fall
// back to the last write time, which itself falls back to the backend's ModTime.
func (b *BillyFileSystem) Times(name string) (Times, error) {
	info, err := b.fs.Stat(name)
	if err != nil {
		return Times{}, fmt.Errorf("billy: stat %q: %w", name, err)
	}

	b.mu.Lock()
	var st stamp
	if s, ok := b.stamps[filepath.Clean(name)]; ok {
		st = *s
	}
	b.mu.Unlock()

	t := Times{LastWrite: info.ModTime()}
	if !st.modified.IsZero() {
		t.LastWrite = st.modified
	}
	t.Creation, t.LastAccess = t.LastWrite, t.LastWrite
	if !st.created.IsZero() {
		t.Creation = st.created
	}
	if !st.accessed.IsZero() {
		t.LastAccess = st.accessed
	}
	return t, nil
}

// billyFile wraps a go-billy File and satisfies the File interface.
type billyFile struct {
	file billy.File
	name string
	fs   *BillyFileSystem
}

func (f *billyFile) Name() string {
	return f.name
}

func (f *billyFile) Read(p []byte) (int, error) {
	// io.EOF is passed through unwrapped so io.ReadFull and friends see it.
	return f.file.Read(p)
}

func (f *billyFile) Write(p []byte) (int, error) {
	n, err := f.file.Write(p)
	if n > 0 {
		f.fs.noteModified(f.name)
	}
	if err != nil {
		return n, fmt.Errorf("billy: write %q: %w", f.name, err)
	}
	return n, nil
}

func (f *billyFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.file.Seek(offset, whence)
	if err != nil {
		return pos, fmt.Errorf("billy: seek %q off=%d whence=%d: %w", f.file.Name(), offset, whence, err)
	}
	return pos, nil
}

func (f *billyFile) Close() error {
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("billy: close %q: %w", f.file.Name(), err)
	}
	return nil
}

func (f *billyFile) Stat() (fs.FileInfo, error) {
	return f.fs.Stat(f.name)
}

// Sync is a no-op: go-billy files expose no durability primitive.
func (f *billyFile) Sync() error {
	return nil
}

// billyDir is the handle returned when a directory is opened; go-billy has no directory handles.
type billyDir struct {
	name string
	fs   *BillyFileSystem
}

func (d *billyDir) Name() string { return d.name }

func (d *billyDir) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: syscall.EISDIR}
}

func (d *billyDir) Write(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: d.name, Err: syscall.EISDIR}
}

func (d *billyDir) Seek(offset int64, whence int) (int64, error) { return 0, nil }

func (d *billyDir) Close() error { return nil }

func (d *billyDir) Stat() (fs.FileInfo, error) { return d.fs.Stat(d.name) }

func (d *billyDir) Sync() error { return nil }

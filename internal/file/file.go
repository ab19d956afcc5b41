// Package file implements a path-bound file handle with explicit access modes,
// in-process sharing rules and directory-as-file semantics, plus free
// operations over paths (copy, rename, delete, read-all, enumerate).
package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/stackvity/filekit/internal/filesystem"
)

const (
	filePerm os.FileMode = 0o644
	dirPerm  os.FileMode = 0o755
)

// Times is the set of timestamps reported for a file or directory.
type Times = filesystem.Times

var defaultFileSystem filesystem.FileSystem = filesystem.NewRealFileSystem()

// File binds an optional path to an optional open handle.
//
// A File starts unbound (empty path) or bound-closed. Create and Open move it
// to the open state; Close, SetFile and Delete move it back. A path ending in a
// separator names a directory: Create builds it (with any missing ancestors)
// and the resulting handle reports length 0 and refuses non-empty reads and writes.
//
// A File is not safe for concurrent use. Handles on the same entity coordinate
// only through the sharing flags they were opened with.
type File struct {
	path   string
	fsys   filesystem.FileSystem
	logger *slog.Logger

	h       filesystem.File
	mode    Flags
	pos     int64
	isDir   bool
	touched bool

	share   *shareEntry
	cleanup runtime.Cleanup
}

// Option configures a File.
type Option func(*File)

// WithFileSystem selects the backend a File operates on. The default is the OS filesystem.
func WithFileSystem(fsys filesystem.FileSystem) Option {
	return func(f *File) {
		if fsys != nil {
			f.fsys = fsys
		}
	}
}

// WithLogger sets the logger used for debug output. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New returns a closed File bound to path. An empty path leaves it unbound.
func New(path string, opts ...Option) *File {
	f := &File{
		path:   path,
		fsys:   defaultFileSystem,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the bound path, which survives Close and Delete.
func (f *File) Path() string {
	return f.path
}

// IsOpen reports whether the File holds a live handle.
func (f *File) IsOpen() bool {
	return f.h != nil
}

// IsDir reports whether the open handle is on a directory.
func (f *File) IsDir() bool {
	return f.h != nil && f.isDir
}

// Mode returns the flags of the current or most recent open.
func (f *File) Mode() Flags {
	return f.mode
}

// SetFile binds the File to path, closing any open handle first.
func (f *File) SetFile(path string) {
	_ = f.Close()
	f.path = path
}

// Create creates the bound entity and opens it with flags.
//
// A path ending in a separator creates a directory and every missing ancestor;
// an existing directory is reused. Otherwise missing parent directories are
// created and the file is created or truncated.
func (f *File) Create(flags Flags) error {
	const op = "create"
	if f.path == "" {
		return newError(op, "", KindNotBound, nil)
	}
	if err := flags.validate(); err != nil {
		return newError(op, f.path, KindInvalidArgument, err)
	}
	_ = f.Close()

	name := filepath.Clean(f.path)
	info, statErr := f.fsys.Stat(name)

	if isDirPath(f.path) {
		if statErr == nil && !info.IsDir() {
			return newError(op, f.path, KindAlreadyExists, errors.New("a regular file exists at this path"))
		}
		if err := f.fsys.MkdirAll(name, dirPerm); err != nil {
			return wrapOS(op, f.path, err)
		}
		return f.openDir(op, name, flags)
	}

	if statErr == nil && info.IsDir() {
		return newError(op, f.path, KindAlreadyExists, errors.New("a directory exists at this path"))
	}
	if err := f.fsys.MkdirAll(filepath.Dir(name), dirPerm); err != nil {
		return wrapOS(op, f.path, err)
	}

	// The share check runs before the OS open so a refused Create never truncates.
	entry, err := shares.acquire(keyFor(f.fsys, name, true), flags)
	if err != nil {
		return newError(op, f.path, KindSharingViolation, err)
	}
	h, err := f.fsys.OpenFile(name, flags.createFlag(), filePerm)
	if err != nil {
		shares.release(entry)
		return wrapOS(op, f.path, err)
	}
	f.attach(h, flags, false, entry)
	return nil
}

// Open opens the existing bound entity with flags. An existing directory is
// opened as a directory handle whether or not the path ends in a separator.
func (f *File) Open(flags Flags) error {
	const op = "open"
	if f.path == "" {
		return newError(op, "", KindNotBound, nil)
	}
	if err := flags.validate(); err != nil {
		return newError(op, f.path, KindInvalidArgument, err)
	}
	_ = f.Close()

	name := filepath.Clean(f.path)
	info, err := f.fsys.Stat(name)
	if err != nil {
		return wrapOS(op, f.path, err)
	}
	if info.IsDir() {
		return f.openDir(op, name, flags)
	}
	if isDirPath(f.path) {
		return newError(op, f.path, KindInvalidArgument, errors.New("path names a directory but a regular file exists"))
	}

	entry, err := shares.acquire(keyFor(f.fsys, name, true), flags)
	if err != nil {
		return newError(op, f.path, KindSharingViolation, err)
	}
	h, err := f.fsys.OpenFile(name, flags.openFlag(), 0)
	if err != nil {
		shares.release(entry)
		return wrapOS(op, f.path, err)
	}
	f.attach(h, flags, false, entry)
	return nil
}

// openDir opens a directory handle. Directories are always opened read-only at
// the OS level; the requested flags are kept as the File's mode.
func (f *File) openDir(op, name string, flags Flags) error {
	entry, err := shares.acquire(keyFor(f.fsys, name, true), flags)
	if err != nil {
		return newError(op, f.path, KindSharingViolation, err)
	}
	h, err := f.fsys.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		shares.release(entry)
		return wrapOS(op, f.path, err)
	}
	f.attach(h, flags, true, entry)
	return nil
}

// leakedHandle is what a File's cleanup needs to release a handle that was never closed.
type leakedHandle struct {
	h     filesystem.File
	entry *shareEntry
}

func releaseLeaked(l leakedHandle) {
	_ = l.h.Close()
	shares.release(l.entry)
}

func (f *File) attach(h filesystem.File, flags Flags, isDir bool, entry *shareEntry) {
	f.h = h
	f.mode = flags
	f.pos = 0
	f.isDir = isDir
	f.touched = false
	f.share = entry
	f.cleanup = runtime.AddCleanup(f, releaseLeaked, leakedHandle{h: h, entry: entry})

	if !isDir {
		switch {
		case flags.Has(SequentialScan):
			f.advise(filesystem.AdviceSequential)
		case flags.Has(RandomAccess):
			f.advise(filesystem.AdviceRandom)
		}
	}
	f.logger.Debug("File opened", "path", f.path, "flags", flags.String(), "dir", isDir)
}

func (f *File) advise(a filesystem.Advice) {
	if err := filesystem.Advise(f.h, a); err != nil {
		f.logger.Debug("Cache hint rejected", "path", f.path, "advice", a.String(), "error", err)
	}
}

// Close releases the handle. It is idempotent; the File is closed afterwards
// even when the OS reports an error, which is returned.
func (f *File) Close() error {
	if f.h == nil {
		return nil
	}
	if !f.isDir && f.mode.Has(NoBuffering) {
		f.advise(filesystem.AdviceDontNeed)
	}
	f.cleanup.Stop()
	err := f.h.Close()
	shares.release(f.share)

	f.h = nil
	f.share = nil
	f.pos = 0
	f.isDir = false
	f.logger.Debug("File closed", "path", f.path)

	if err != nil {
		return wrapOS("close", f.path, err)
	}
	return nil
}

func (f *File) checkOpen(op string) error {
	if f.path == "" {
		return newError(op, "", KindNotBound, nil)
	}
	if f.h == nil {
		return newError(op, f.path, KindNotOpen, nil)
	}
	return nil
}

func (f *File) checkAccess(op string, need Flags) error {
	if err := f.checkOpen(op); err != nil {
		return err
	}
	if !f.mode.Has(need) {
		return newError(op, f.path, KindModeViolation, fmt.Errorf("handle opened as %s, needs %s", f.mode, need))
	}
	return nil
}

// Read fills p from the current position. Reaching end of file before p is
// full is not an error; use ReadCount to learn how many bytes arrived.
func (f *File) Read(p []byte) error {
	_, err := f.ReadCount(p)
	return err
}

// ReadCount reads up to len(p) bytes from the current position and returns the
// number read, which is 0 at end of file. Only I/O faults are errors.
func (f *File) ReadCount(p []byte) (int, error) {
	const op = "read"
	if err := f.checkAccess(op, Read); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.isDir {
		return 0, newError(op, f.path, KindModeViolation, errors.New("cannot read from a directory"))
	}

	n, err := io.ReadFull(f.h, p)
	f.pos += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, newError(op, f.path, KindIOFailure, err)
	}
	f.touchAccess()
	return n, nil
}

// touchAccess refreshes the access time once per open so it advances even on
// relatime/noatime mounts. Failure (read-only media, foreign owner) is logged only.
func (f *File) touchAccess() {
	if f.touched {
		return
	}
	f.touched = true
	if err := f.fsys.Chtimes(filepath.Clean(f.path), time.Now(), time.Time{}); err != nil {
		f.logger.Debug("Access time not updated", "path", f.path, "error", err)
	}
}

// Write writes all of p at the current position, extending the file as needed.
// A gap left by seeking past the end is zero-filled. On failure the position is restored.
func (f *File) Write(p []byte) error {
	const op = "write"
	if err := f.checkAccess(op, Write); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if f.isDir {
		return newError(op, f.path, KindModeViolation, errors.New("cannot write to a directory"))
	}

	n, err := f.h.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if _, serr := f.h.Seek(f.pos, io.SeekStart); serr != nil {
			f.logger.Warn("Could not restore position after failed write", "path", f.path, "error", serr)
		}
		return wrapOS(op, f.path, err)
	}
	f.pos += int64(n)
	return nil
}

// SetPos moves the position to the absolute offset off. Offsets past the end are allowed.
func (f *File) SetPos(off int64) error {
	const op = "seek"
	if err := f.checkOpen(op); err != nil {
		return err
	}
	if off < 0 {
		return newError(op, f.path, KindInvalidArgument, fmt.Errorf("negative offset %d", off))
	}
	if !f.isDir {
		if _, err := f.h.Seek(off, io.SeekStart); err != nil {
			return wrapOS(op, f.path, err)
		}
	}
	f.pos = off
	return nil
}

// Pos returns the current position; 0 when closed.
func (f *File) Pos() int64 {
	return f.pos
}

// Length returns the size in bytes of the bound entity. Directories report 0.
// A closed File stats the path, so the length is available without opening it.
func (f *File) Length() (int64, error) {
	const op = "length"
	if f.path == "" {
		return 0, newError(op, "", KindNotBound, nil)
	}
	if f.h != nil {
		if f.isDir {
			return 0, nil
		}
		info, err := f.h.Stat()
		if err != nil {
			return 0, wrapOS(op, f.path, err)
		}
		return info.Size(), nil
	}
	info, err := f.fsys.Stat(filepath.Clean(f.path))
	if err != nil {
		return 0, wrapOS(op, f.path, err)
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

// Flush hands buffered writes to the OS. File keeps no user-space buffer, so
// this only checks that a handle is open. Use Sync for durability.
func (f *File) Flush() error {
	return f.checkOpen("flush")
}

// Sync commits the file's content to stable storage.
func (f *File) Sync() error {
	const op = "sync"
	if err := f.checkOpen(op); err != nil {
		return err
	}
	if err := f.h.Sync(); err != nil {
		return wrapOS(op, f.path, err)
	}
	return nil
}

// Times returns the creation, last write and last access times of the bound entity.
// It works whether or not the File is open.
func (f *File) Times() (Times, error) {
	const op = "times"
	if f.path == "" {
		return Times{}, newError(op, "", KindNotBound, nil)
	}
	t, err := f.fsys.Times(filepath.Clean(f.path))
	if err != nil {
		return Times{}, wrapOS(op, f.path, err)
	}
	return t, nil
}

// Delete closes the File and removes the bound entity. Directories must be empty.
func (f *File) Delete() error {
	const op = "delete"
	if f.path == "" {
		return newError(op, "", KindNotBound, nil)
	}
	_ = f.Close()
	return removePath(op, f.fsys, f.path)
}

func removePath(op string, fsys filesystem.FileSystem, path string) error {
	name := filepath.Clean(path)
	violation, err := shares.remove(fsys, name, func() error { return fsys.Remove(name) })
	if violation != nil {
		return newError(op, path, KindSharingViolation, violation)
	}
	if err != nil {
		return wrapOS(op, path, err)
	}
	return nil
}

func isDirPath(p string) bool {
	return len(p) > 0 && os.IsPathSeparator(p[len(p)-1])
}

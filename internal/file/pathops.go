package file

import (
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/stackvity/filekit/internal/filesystem"
)

// copyChunkSize is the buffer size CopyFile streams with.
const copyChunkSize = 1 << 20

// PathOps performs operations on paths rather than on an open File.
// The zero value uses the OS filesystem and discards logs.
type PathOps struct {
	FS     filesystem.FileSystem
	Logger *slog.Logger
}

// NewPathOps returns PathOps bound to fsys. A nil logger discards output.
func NewPathOps(fsys filesystem.FileSystem, logger *slog.Logger) *PathOps {
	return &PathOps{FS: fsys, Logger: logger}
}

func (o *PathOps) fsys() filesystem.FileSystem {
	if o == nil || o.FS == nil {
		return defaultFileSystem
	}
	return o.FS
}

func (o *PathOps) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *PathOps) open(path string) *File {
	return New(path, WithFileSystem(o.fsys()), WithLogger(o.logger()))
}

// CopyFile copies the content of src to dst byte for byte. Missing parents of
// dst are created. When overwrite is false an existing dst fails with
// AlreadyExists. Timestamps are not carried over.
func (o *PathOps) CopyFile(src, dst string, overwrite bool) (err error) {
	const op = "copy"
	if src == "" || dst == "" {
		return newError(op, "", KindNotBound, nil)
	}
	if !overwrite {
		if _, serr := o.fsys().Stat(filepath.Clean(dst)); serr == nil {
			return newError(op, dst, KindAlreadyExists, nil)
		} else if !errors.Is(serr, fs.ErrNotExist) {
			return wrapOS(op, dst, serr)
		}
	}

	in := o.open(src)
	if err := in.Open(Read | SharedRead | SequentialScan); err != nil {
		return err
	}
	defer in.Close()
	if in.IsDir() {
		return newError(op, src, KindInvalidArgument, errors.New("source is a directory"))
	}
	if o.sameFile(src, dst) {
		return newError(op, dst, KindInvalidArgument, errors.New("destination is the source file"))
	}

	out := o.open(dst)
	if err := out.Create(Write | SequentialScan); err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		n, rerr := in.ReadCount(buf)
		if rerr != nil {
			return rerr
		}
		if n == 0 {
			break
		}
		if werr := out.Write(buf[:n]); werr != nil {
			return werr
		}
		total += int64(n)
	}
	o.logger().Debug("File copied", "src", src, "dst", dst, "bytes", total)
	return nil
}

// sameFile reports whether dst exists and reaches the same entity as src,
// through a link or otherwise.
func (o *PathOps) sameFile(src, dst string) bool {
	srcInfo, err := o.fsys().Stat(filepath.Clean(src))
	if err != nil {
		return false
	}
	dstInfo, err := o.fsys().Stat(filepath.Clean(dst))
	if err != nil {
		return false
	}
	if os.SameFile(srcInfo, dstInfo) {
		return true
	}
	return keyFor(o.fsys(), src, true) == keyFor(o.fsys(), dst, true)
}

// Rename moves src to dst. Within one volume the move is atomic; across
// volumes it falls back to copy and delete. A live handle on src, or on an
// existing dst that would be replaced, blocks the move unless it grants
// SharedDelete. Handles open on src stay attached to the moved entity.
func (o *PathOps) Rename(src, dst string) error {
	const op = "rename"
	if src == "" || dst == "" {
		return newError(op, "", KindNotBound, nil)
	}
	fsys := o.fsys()
	from, to := filepath.Clean(src), filepath.Clean(dst)
	violation, err := shares.rename(fsys, from, to, func() error { return fsys.Rename(from, to) })
	if violation != nil {
		return newError(op, src, KindSharingViolation, violation)
	}
	if err == nil {
		o.logger().Debug("File renamed", "src", src, "dst", dst)
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return wrapOS(op, src, err)
	}

	o.logger().Debug("Cross-device rename, copying instead", "src", src, "dst", dst)
	if cerr := o.CopyFile(src, dst, true); cerr != nil {
		return cerr
	}
	return o.Delete(src)
}

// Delete removes the file or empty directory at path.
func (o *PathOps) Delete(path string) error {
	const op = "delete"
	if path == "" {
		return newError(op, "", KindNotBound, nil)
	}
	if err := removePath(op, o.fsys(), path); err != nil {
		return err
	}
	o.logger().Debug("File deleted", "path", path)
	return nil
}

// ReadEntireFile returns the whole content of the file at path.
func (o *PathOps) ReadEntireFile(path string) ([]byte, error) {
	const op = "readall"
	f := o.open(path)
	if err := f.Open(Read | SharedRead | SequentialScan); err != nil {
		return nil, err
	}
	defer f.Close()
	if f.IsDir() {
		return nil, newError(op, path, KindInvalidArgument, errors.New("path is a directory"))
	}

	size, err := f.Length()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	buf := make([]byte, copyChunkSize)
	for {
		n, err := f.ReadCount(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}

// Enumerate walks root lazily in pre-order and yields every descendant path,
// excluding root itself. Ranging over the sequence again restarts the walk.
// Errors met while walking are yielded with an empty path; the walk continues
// past unreadable directories.
func (o *PathOps) Enumerate(root string) iter.Seq2[string, error] {
	fsys := o.fsys()
	return func(yield func(string, error) bool) {
		if root == "" {
			yield("", newError("enumerate", "", KindNotBound, nil))
			return
		}
		start := filepath.Clean(root)
		stopped := false
		err := fsys.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == start {
					return err
				}
				if !yield("", wrapOS("enumerate", path, err)) {
					stopped = true
					return fs.SkipAll
				}
				return nil
			}
			if path == start || d.Name() == "" {
				return nil
			}
			if !yield(path, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped && !errors.Is(err, fs.SkipAll) {
			yield("", wrapOS("enumerate", root, err))
		}
	}
}

var defaultPathOps = &PathOps{}

// CopyFile copies src to dst on the OS filesystem. See PathOps.CopyFile.
func CopyFile(src, dst string, overwrite bool) error {
	return defaultPathOps.CopyFile(src, dst, overwrite)
}

// Rename moves src to dst on the OS filesystem. See PathOps.Rename.
func Rename(src, dst string) error {
	return defaultPathOps.Rename(src, dst)
}

// Delete removes path on the OS filesystem. See PathOps.Delete.
func Delete(path string) error {
	return defaultPathOps.Delete(path)
}

// ReadEntireFile reads the whole file at path on the OS filesystem.
func ReadEntireFile(path string) ([]byte, error) {
	return defaultPathOps.ReadEntireFile(path)
}

// Enumerate walks root on the OS filesystem. See PathOps.Enumerate.
func Enumerate(root string) iter.Seq2[string, error] {
	return defaultPathOps.Enumerate(root)
}

package filesystem

import (
	"io"
	"io/fs"
	"time"
)

// File is an open handle returned by FileSystem.OpenFile.
// *os.File satisfies it directly; other backends wrap their own handle type.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the name the handle was opened with.
	Name() string

	// Stat returns a FileInfo describing the open entity.
	Stat() (fs.FileInfo, error)

	// Sync commits the handle's content to stable storage.
	Sync() error
}

// Times holds the three wall-clock timestamps tracked for a filesystem entity.
// Resolution is whatever the backend reports, nanoseconds on Linux.
type Times struct {
	Creation   time.Time `json:"creation" yaml:"creation" toml:"creation"`
	LastWrite  time.Time `json:"lastWrite" yaml:"lastWrite" toml:"lastWrite"`
	LastAccess time.Time `json:"lastAccess" yaml:"lastAccess" toml:"lastAccess"`
}

// FileSystem defines an interface for interacting with the filesystem.
// This allows for decoupling core logic from the OS package, facilitating testing
// and alternative backends such as an in-memory tree.
type FileSystem interface {
	// OpenFile opens the named file with the given os.O_* flags and permissions.
	// Opening an existing directory read-only yields a handle on the directory.
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)

	// ReadFile reads the named file and returns the contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	// If the file does not exist, WriteFile creates it with permissions perm;
	// otherwise WriteFile truncates it before writing, without changing permissions.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory named path,
	// along with any necessary parents, and returns nil,
	// or else returns an error.
	// The permission bits perm (before umask) are used for all
	// directories that MkdirAll creates.
	MkdirAll(path string, perm fs.FileMode) error

	// WalkDir walks the file tree rooted at root, calling fn for each file or
	// directory in the tree, including root.
	// All errors that arise visiting files or directories are filtered by fn:
	// see the WalkDirFunc documentation for details.
	WalkDir(root string, fn fs.WalkDirFunc) error

	// Remove removes the named file or (empty) directory.
	Remove(name string) error

	// Rename renames (moves) oldpath to newpath.
	// If newpath already exists and is not a directory, Rename replaces it.
	Rename(oldpath, newpath string) error

	// Chtimes changes the access and modification times of the named file.
	// A zero time.Time leaves the corresponding timestamp unchanged.
	Chtimes(name string, atime time.Time, mtime time.Time) error

	// Times returns the creation, last write and last access times of the named entity.
	Times(name string) (Times, error)
}

// PathResolver is implemented by backends on which several names can reach the
// same entity, such as through symbolic links.
type PathResolver interface {
	// ResolvePath returns the canonical absolute name of name. Links in the
	// parent directories are always followed; a link in the final component is
	// followed only when followLast is set. Names that do not exist yet resolve
	// through their parent directory.
	ResolvePath(name string, followLast bool) string
}

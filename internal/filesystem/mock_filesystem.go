package filesystem

import (
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Operation names accepted by MockFileSystem.SimulateError and the call assertions.
const (
	OpOpen     = "open"
	OpReadFile = "readfile"
	OpWrite    = "writefile"
	OpStat     = "stat"
	OpMkdirAll = "mkdirall"
	OpWalk     = "walk"
	OpRemove   = "remove"
	OpRename   = "rename"
	OpChtimes  = "chtimes"
	OpTimes    = "times"
)

// MockFileSystem is an in-memory FileSystem for tests. Storage is a go-billy memfs;
// on top of it the mock records calls per (operation, path) and can be told to
// fail a given operation on a given path.
type MockFileSystem struct {
	*BillyFileSystem

	mu     sync.RWMutex
	errs   map[string]map[string]error // op -> path -> error
	calls  map[string]map[string]int   // op -> path -> count
	onCall func(op, path string)
}

// NewMockFileSystem creates a new instance of MockFileSystem, ready for use.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		BillyFileSystem: NewInMemoryFileSystem(),
		errs:            make(map[string]map[string]error),
		calls:           make(map[string]map[string]int),
	}
}

// --- Helper methods for setting up the mock state ---

// AddFile adds a file with content to the mock filesystem, creating parents as needed.
func (mfs *MockFileSystem) AddFile(path string, content []byte) {
	_ = mfs.BillyFileSystem.WriteFile(path, content, 0o644)
}

// AddDir adds a directory (and its parents) to the mock filesystem.
func (mfs *MockFileSystem) AddDir(path string) {
	_ = mfs.BillyFileSystem.MkdirAll(path, 0o755)
}

// SimulateError makes every subsequent call of op on path return err.
// Passing a nil err clears a previous simulation.
func (mfs *MockFileSystem) SimulateError(op, path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	if mfs.errs[op] == nil {
		mfs.errs[op] = make(map[string]error)
	}
	if err == nil {
		delete(mfs.errs[op], path)
		return
	}
	mfs.errs[op][path] = err
}

// OnCall registers a hook invoked on every recorded call, before any simulated error.
func (mfs *MockFileSystem) OnCall(hook func(op, path string)) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.onCall = hook
}

// Calls returns how many times op was invoked on path.
func (mfs *MockFileSystem) Calls(op, path string) int {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	return mfs.calls[op][path]
}

func (mfs *MockFileSystem) record(op, path string) error {
	mfs.mu.Lock()
	if mfs.calls[op] == nil {
		mfs.calls[op] = make(map[string]int)
	}
	mfs.calls[op][path]++
	hook := mfs.onCall
	err := mfs.errs[op][path]
	mfs.mu.Unlock()

	if hook != nil {
		hook(op, path)
	}
	return err
}

// --- Assert helpers (Using testify for convenience) ---

func (mfs *MockFileSystem) AssertCalled(t *testing.T, op, path string) {
	t.Helper()
	assert.Greater(t, mfs.Calls(op, path), 0, "%s was not called for %s", op, path)
}

func (mfs *MockFileSystem) AssertNotCalled(t *testing.T, op, path string) {
	t.Helper()
	assert.Equal(t, 0, mfs.Calls(op, path), "%s should not have been called for %s", op, path)
}

// --- Implement FileSystem interface methods ---

//nolint:ireturn // API returns the File interface.
func (mfs *MockFileSystem) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	if err := mfs.record(OpOpen, name); err != nil {
		return nil, err
	}
	return mfs.BillyFileSystem.OpenFile(name, flag, perm)
}

func (mfs *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if err := mfs.record(OpReadFile, name); err != nil {
		return nil, err
	}
	return mfs.BillyFileSystem.ReadFile(name)
}

func (mfs *MockFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if err := mfs.record(OpWrite, name); err != nil {
		return err
	}
	return mfs.BillyFileSystem.WriteFile(name, data, perm)
}

func (mfs *MockFileSystem) Stat(name string) (fs.FileInfo, error) {
	if err := mfs.record(OpStat, name); err != nil {
		return nil, err
	}
	return mfs.BillyFileSystem.Stat(name)
}

func (mfs *MockFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	if err := mfs.record(OpMkdirAll, path); err != nil {
		return err
	}
	return mfs.BillyFileSystem.MkdirAll(path, perm)
}

func (mfs *MockFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	if err := mfs.record(OpWalk, root); err != nil {
		return err
	}
	return mfs.BillyFileSystem.WalkDir(root, fn)
}

func (mfs *MockFileSystem) Remove(name string) error {
	if err := mfs.record(OpRemove, name); err != nil {
		return err
	}
	return mfs.BillyFileSystem.Remove(name)
}

// Rename records and simulates errors keyed by oldpath.
func (mfs *MockFileSystem) Rename(oldpath, newpath string) error {
	if err := mfs.record(OpRename, oldpath); err != nil {
		return err
	}
	return mfs.BillyFileSystem.Rename(oldpath, newpath)
}

func (mfs *MockFileSystem) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if err := mfs.record(OpChtimes, name); err != nil {
		return err
	}
	return mfs.BillyFileSystem.Chtimes(name, atime, mtime)
}

func (mfs *MockFileSystem) Times(name string) (Times, error) {
	if err := mfs.record(OpTimes, name); err != nil {
		return Times{}, err
	}
	return mfs.BillyFileSystem.Times(name)
}

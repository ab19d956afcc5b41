package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Setup ---

// Helper to create a temporary file with content for real filesystem tests
func createRealTempFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err, "Failed to create temp file for real FS test")
	return path
}

// --- RealFileSystem Tests ---

func TestRealFileSystem_ReadWriteFile(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()

	path := filepath.Join(tempDir, "test.txt")
	require.NoError(t, rfs.WriteFile(path, []byte("hello world"), 0644))

	data, err := rfs.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	_, err = rfs.ReadFile(filepath.Join(tempDir, "nonexistent.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "Expected os.ErrNotExist")
}

func TestRealFileSystem_OpenFile(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()

	t.Run("CreateWriteSeekRead", func(t *testing.T) {
		path := filepath.Join(tempDir, "rw.bin")
		f, err := rfs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abcdef"))
		require.NoError(t, err)
		_, err = f.Seek(2, io.SeekStart)
		require.NoError(t, err)

		buf := make([]byte, 3)
		_, err = io.ReadFull(f, buf)
		require.NoError(t, err)
		assert.Equal(t, "cde", string(buf))

		info, err := f.Stat()
		require.NoError(t, err)
		assert.Equal(t, int64(6), info.Size())
	})

	t.Run("OpenDirectoryReadOnly", func(t *testing.T) {
		f, err := rfs.OpenFile(tempDir, os.O_RDONLY, 0)
		require.NoError(t, err)
		defer f.Close()

		info, err := f.Stat()
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("OpenMissing", func(t *testing.T) {
		f, err := rfs.OpenFile(filepath.Join(tempDir, "ghost"), os.O_RDONLY, 0)
		assert.Nil(t, f)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestRealFileSystem_StatAndMkdirAll(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()

	nestedPath := filepath.Join(tempDir, "a", "b", "c")
	require.NoError(t, rfs.MkdirAll(nestedPath, 0755))

	info, err := rfs.Stat(nestedPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Call again, should succeed without error
	assert.NoError(t, rfs.MkdirAll(nestedPath, 0755))

	filePath := createRealTempFile(t, nestedPath, "file.txt", "test")
	assert.Error(t, rfs.MkdirAll(filePath, 0755), "creating a directory over a file must fail")
}

func TestRealFileSystem_RemoveAndRename(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()

	oldPath := createRealTempFile(t, tempDir, "old.txt", "move me")
	newPath := filepath.Join(tempDir, "new.txt")

	require.NoError(t, rfs.Rename(oldPath, newPath))
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)

	require.NoError(t, rfs.Remove(newPath))
	assert.NoFileExists(t, newPath)

	err := rfs.Remove(newPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	dir := filepath.Join(tempDir, "full")
	require.NoError(t, os.Mkdir(dir, 0755))
	createRealTempFile(t, dir, "child", "x")
	assert.Error(t, rfs.Remove(dir), "non-empty directory must not be removed")
}

func TestRealFileSystem_ResolvePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symbolic links need extra privileges on windows")
	}
	rfs := NewRealFileSystem()
	tempDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	target := createRealTempFile(t, tempDir, "target.txt", "x")
	link := filepath.Join(tempDir, "link.txt")
	require.NoError(t, os.Symlink(target, link))
	linkedDir := filepath.Join(tempDir, "linked")
	require.NoError(t, os.Symlink(tempDir, linkedDir))

	assert.Equal(t, target, rfs.ResolvePath(link, true))
	assert.Equal(t, link, rfs.ResolvePath(link, false), "The final link is kept when not followed")
	assert.Equal(t, target, rfs.ResolvePath(filepath.Join(linkedDir, "target.txt"), false), "Parent links are always followed")
	assert.Equal(t, filepath.Join(tempDir, "absent.txt"), rfs.ResolvePath(filepath.Join(linkedDir, "absent.txt"), true))
}

func TestRealFileSystem_WalkDir(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "dir1", "sub1"), 0755))
	createRealTempFile(t, tempDir, "file1.txt", "content1")
	createRealTempFile(t, filepath.Join(tempDir, "dir1", "sub1"), "file3.txt", "content3")

	var visited []string
	err := rfs.WalkDir(tempDir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(tempDir, path)
		visited = append(visited, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(visited)
	assert.Equal(t, []string{".", "dir1", filepath.Join("dir1", "sub1"), filepath.Join("dir1", "sub1", "file3.txt"), "file1.txt"}, visited)
}

func TestRealFileSystem_Times(t *testing.T) {
	rfs := NewRealFileSystem()
	tempDir := t.TempDir()
	path := createRealTempFile(t, tempDir, "times.txt", "tick")

	past := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	require.NoError(t, rfs.Chtimes(path, past, past))

	tm, err := rfs.Times(path)
	require.NoError(t, err)
	assert.True(t, tm.LastWrite.Equal(past), "write time: got %v want %v", tm.LastWrite, past)
	assert.False(t, tm.Creation.IsZero())

	if runtime.GOOS != "linux" {
		t.Skip("access time is only tracked separately on linux")
	}
	assert.True(t, tm.LastAccess.Equal(past), "access time: got %v want %v", tm.LastAccess, past)

	t.Run("ZeroLeavesTimestampUnchanged", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, rfs.Chtimes(path, now, time.Time{}))

		after, err := rfs.Times(path)
		require.NoError(t, err)
		assert.True(t, after.LastWrite.Equal(past), "write time must be untouched")
		assert.True(t, after.LastAccess.After(past))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := rfs.Times(filepath.Join(tempDir, "ghost"))
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestAdvise(t *testing.T) {
	tempDir := t.TempDir()
	path := createRealTempFile(t, tempDir, "hint.bin", "data")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	for _, a := range []Advice{AdviceNormal, AdviceSequential, AdviceRandom, AdviceDontNeed} {
		assert.NoError(t, Advise(f, a), "advice %s", a)
	}

	mem := NewInMemoryFileSystem()
	mf, err := mem.OpenFile("x", os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	assert.NoError(t, Advise(mf, AdviceSequential), "handles without a descriptor are ignored")
}

// --- BillyFileSystem Tests ---

func TestBillyFileSystem_OpenFile(t *testing.T) {
	bfs := NewInMemoryFileSystem()

	f, err := bfs.OpenFile("dir/file.bin", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = f.Seek(4, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
	require.NoError(t, f.Close())

	t.Run("DirectoryHandle", func(t *testing.T) {
		d, err := bfs.OpenFile("dir", os.O_RDONLY, 0)
		require.NoError(t, err)
		info, err := d.Stat()
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		_, err = d.Read(make([]byte, 1))
		assert.Error(t, err)
		assert.NoError(t, d.Close())
	})

	t.Run("DirectoryForWrite", func(t *testing.T) {
		_, err := bfs.OpenFile("dir", os.O_WRONLY, 0)
		assert.Error(t, err)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := bfs.OpenFile("ghost", os.O_RDONLY, 0)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestBillyFileSystem_TimesOverlay(t *testing.T) {
	bfs := NewInMemoryFileSystem()
	require.NoError(t, bfs.WriteFile("a.txt", []byte("a"), 0644))

	before, err := bfs.Times("a.txt")
	require.NoError(t, err)

	later := before.LastAccess.Add(time.Minute)
	require.NoError(t, bfs.Chtimes("a.txt", later, time.Time{}))

	after, err := bfs.Times("a.txt")
	require.NoError(t, err)
	assert.True(t, after.LastAccess.Equal(later))
	assert.True(t, after.LastWrite.Equal(before.LastWrite))
	assert.True(t, after.Creation.Equal(before.Creation))

	require.NoError(t, bfs.Rename("a.txt", "b.txt"))
	moved, err := bfs.Times("b.txt")
	require.NoError(t, err)
	assert.True(t, moved.LastAccess.Equal(later), "overlay follows renames")

	require.NoError(t, bfs.Remove("b.txt"))
	_, err = bfs.Times("b.txt")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestBillyFileSystem_WriteUpdatesLastWrite(t *testing.T) {
	bfs := NewInMemoryFileSystem()
	require.NoError(t, bfs.WriteFile("w.txt", []byte("a"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, bfs.Chtimes("w.txt", past, past))

	stable, err := bfs.Times("w.txt")
	require.NoError(t, err)
	again, err := bfs.Times("w.txt")
	require.NoError(t, err)
	assert.True(t, stable.LastWrite.Equal(again.LastWrite), "memfs ModTime must not leak through")
	assert.True(t, stable.LastWrite.Equal(past))

	f, err := bfs.OpenFile("w.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	after, err := bfs.Times("w.txt")
	require.NoError(t, err)
	assert.True(t, after.LastWrite.After(past))
	assert.True(t, after.Creation.Equal(stable.Creation))
	assert.True(t, after.LastAccess.Equal(past))
}

func TestBillyFileSystem_WalkDir(t *testing.T) {
	bfs := NewInMemoryFileSystem()
	require.NoError(t, bfs.WriteFile("root/a.txt", []byte("a"), 0644))
	require.NoError(t, bfs.WriteFile("root/sub/b.txt", []byte("b"), 0644))

	var visited []string
	require.NoError(t, bfs.WalkDir("root", func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		visited = append(visited, filepath.ToSlash(path))
		return nil
	}))
	sort.Strings(visited)
	assert.Equal(t, []string{"root", "root/a.txt", "root/sub", "root/sub/b.txt"}, visited)

	t.Run("SkipAllStopsQuietly", func(t *testing.T) {
		count := 0
		err := bfs.WalkDir("root", func(path string, d fs.DirEntry, err error) error {
			count++
			return fs.SkipAll
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

// --- MockFileSystem Tests ---

func TestMockFileSystem_SimulateError(t *testing.T) {
	mfs := NewMockFileSystem()
	mfs.AddFile("data/file.txt", []byte("content"))
	mfs.AddDir("data/empty")

	boom := errors.New("boom")
	mfs.SimulateError(OpStat, "data/file.txt", boom)

	_, err := mfs.Stat("data/file.txt")
	assert.ErrorIs(t, err, boom)
	mfs.AssertCalled(t, OpStat, "data/file.txt")

	mfs.SimulateError(OpStat, "data/file.txt", nil)
	info, err := mfs.Stat("data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())
	assert.Equal(t, 2, mfs.Calls(OpStat, "data/file.txt"))

	info, err = mfs.Stat("data/empty")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	mfs.AssertNotCalled(t, OpRemove, "data/file.txt")
}

func TestMockFileSystem_OnCall(t *testing.T) {
	mfs := NewMockFileSystem()
	mfs.AddFile("x", []byte("x"))

	var seen []string
	mfs.OnCall(func(op, path string) { seen = append(seen, op+":"+path) })

	_, _ = mfs.ReadFile("x")
	_ = mfs.Remove("x")
	assert.Equal(t, []string{"readfile:x", "remove:x"}, seen)
}

package file

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/filekit/internal/filesystem"
)

// --- Test Setup ---

// writeTestFile creates path with content through os, bypassing File.
func writeTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i & 0xFF)
	}
	return b
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}

// --- State machine ---

func TestFile_Unbound(t *testing.T) {
	f := New("")
	assert.Equal(t, "", f.Path())
	assert.False(t, f.IsOpen())

	requireKind(t, f.Open(Read), KindNotBound)
	requireKind(t, f.Create(Write), KindNotBound)
	requireKind(t, f.Read(make([]byte, 1)), KindNotBound)
	requireKind(t, f.Write([]byte{1}), KindNotBound)
	requireKind(t, f.SetPos(0), KindNotBound)
	requireKind(t, f.Flush(), KindNotBound)
	requireKind(t, f.Delete(), KindNotBound)

	n, err := f.Length()
	requireKind(t, err, KindNotBound)
	assert.Zero(t, n)

	_, err = f.Times()
	assert.ErrorIs(t, err, ErrNotBound)

	assert.Zero(t, f.Pos())
	assert.NoError(t, f.Close())
}

func TestFile_BoundClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.bin")
	writeTestFile(t, path, []byte("abc"))

	f := New(path)
	assert.Equal(t, path, f.Path())
	assert.False(t, f.IsOpen())

	requireKind(t, f.Read(make([]byte, 1)), KindNotOpen)
	requireKind(t, f.Write([]byte{1}), KindNotOpen)
	requireKind(t, f.SetPos(1), KindNotOpen)
	requireKind(t, f.Flush(), KindNotOpen)
	requireKind(t, f.Sync(), KindNotOpen)

	n, err := f.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = f.Times()
	assert.NoError(t, err)
}

func TestFile_SetFileClosesOpenHandle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	writeTestFile(t, a, []byte("a"))
	writeTestFile(t, b, []byte("bb"))

	f := New(a)
	require.NoError(t, f.Open(Read))
	f.SetFile(b)
	assert.False(t, f.IsOpen())
	assert.Equal(t, b, f.Path())

	// The handle on a was released, so an exclusive open succeeds.
	other := New(a)
	require.NoError(t, other.Open(Read|Write))
	require.NoError(t, other.Close())

	n, err := f.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFile_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.txt")
	f := New(path)
	require.NoError(t, f.Create(Write))
	require.NoError(t, f.Write([]byte("x")))
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
	assert.False(t, f.IsOpen())
	assert.Zero(t, f.Pos())
	assert.Equal(t, Write, f.Mode())
}

// --- Flags ---

func TestFlags_Validation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.txt")
	writeTestFile(t, path, []byte("x"))

	cases := []struct {
		name  string
		flags Flags
		ok    bool
	}{
		{"ReadOnly", Read, true},
		{"WriteOnly", Write, true},
		{"ReadWriteShared", Read | Write | SharedRead | SharedWrite | SharedDelete, true},
		{"SequentialScan", Read | SequentialScan, true},
		{"RandomAccess", Read | RandomAccess, true},
		{"WriteThroughNoBuffering", Write | WriteThrough | NoBuffering, true},
		{"NoAccess", SharedRead, false},
		{"Zero", 0, false},
		{"ConflictingHints", Read | SequentialScan | RandomAccess, false},
		{"UnknownBits", Read | Flags(1<<20), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := New(path)
			err := f.Open(tc.flags)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.flags, f.Mode())
				require.NoError(t, f.Close())
				return
			}
			requireKind(t, err, KindInvalidArgument)
			assert.False(t, f.IsOpen())
		})
	}
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "0", Flags(0).String())
	assert.Equal(t, "Read", Read.String())
	assert.Equal(t, "Read|SharedRead", (Read | SharedRead).String())
	assert.Equal(t, "Write|WriteThrough|NoBuffering", (NoBuffering | Write | WriteThrough).String())
	assert.Equal(t, "Read|0x100000", (Read | Flags(1<<20)).String())
}

func TestFlags_Has(t *testing.T) {
	f := Read | SharedRead
	assert.True(t, f.Has(Read))
	assert.True(t, f.Has(Read|SharedRead))
	assert.False(t, f.Has(Write))
	assert.False(t, f.Has(Read|Write))
}

// --- Errors ---

func TestError_Format(t *testing.T) {
	cause := errors.New("boom")
	err := newError("read", "/tmp/x", KindIOFailure, cause)
	assert.Equal(t, `file: read "/tmp/x": i/o failure: boom`, err.Error())
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)

	bare := newError("open", "", KindNotBound, nil)
	assert.Equal(t, "file: open: no path bound", bare.Error())
	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestError_Classification(t *testing.T) {
	dir := t.TempDir()

	f := New(filepath.Join(dir, "missing.txt"))
	err := f.Open(Read)
	requireKind(t, err, KindNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, f.IsOpen())

	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		locked := filepath.Join(dir, "locked.txt")
		writeTestFile(t, locked, []byte("x"))
		require.NoError(t, os.Chmod(locked, 0o000))
		requireKind(t, New(locked).Open(Read), KindAccessDenied)
	}
}

// --- Read / Write / position ---

func TestFile_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1024, 1 << 20}
	if os.Getenv("FILEKIT_LARGE_TESTS") != "" {
		sizes = append(sizes, 1<<29)
	}
	dir := t.TempDir()

	for _, n := range sizes {
		path := filepath.Join(dir, "roundtrip.bin")
		want := pattern(n)

		w := New(path)
		require.NoError(t, w.Create(Write))
		require.NoError(t, w.Write(want))
		length, err := w.Length()
		require.NoError(t, err)
		assert.Equal(t, int64(n), length, "length while open")
		require.NoError(t, w.Close())

		length, err = w.Length()
		require.NoError(t, err)
		assert.Equal(t, int64(n), length, "length after close")

		r := New(path)
		require.NoError(t, r.Open(Read|SequentialScan))
		got := make([]byte, n)
		require.NoError(t, r.Read(got))
		assert.True(t, bytes.Equal(want, got), "content mismatch for n=%d", n)
		assert.Equal(t, int64(n), r.Pos())
		require.NoError(t, r.Close())
	}
}

func TestFile_ReadAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.txt")
	writeTestFile(t, path, []byte("hello"))

	f := New(path)
	require.NoError(t, f.Open(Read))
	defer f.Close()

	buf := make([]byte, 10)
	n, err := f.ReadCount(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = f.ReadCount(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Strict Read treats a short read at end of file as success.
	require.NoError(t, f.SetPos(3))
	assert.NoError(t, f.Read(buf))
	assert.Equal(t, int64(5), f.Pos())

	n, err = f.ReadCount(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestFile_Position(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.bin")
	writeTestFile(t, path, pattern(4096))

	f := New(path)
	require.NoError(t, f.Open(Read|RandomAccess))
	defer f.Close()

	for _, tc := range []struct{ k, m int64 }{{0, 10}, {100, 1}, {1234, 1024}, {4000, 96}} {
		require.NoError(t, f.SetPos(tc.k))
		buf := make([]byte, tc.m)
		require.NoError(t, f.Read(buf))
		assert.Equal(t, tc.k+tc.m, f.Pos())
		assert.Equal(t, byte(tc.k&0xFF), buf[0])
	}

	requireKind(t, f.SetPos(-1), KindInvalidArgument)
	assert.Equal(t, int64(4096), f.Pos(), "failed SetPos leaves position alone")

	require.NoError(t, f.SetPos(10_000))
	assert.Equal(t, int64(10_000), f.Pos())
	n, err := f.ReadCount(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFile_WritePastEndZeroFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.bin")
	f := New(path)
	require.NoError(t, f.Create(Read|Write))
	defer f.Close()

	require.NoError(t, f.SetPos(4))
	require.NoError(t, f.Write([]byte("x")))
	assert.Equal(t, int64(5), f.Pos())

	length, err := f.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)

	require.NoError(t, f.SetPos(0))
	buf := make([]byte, 5)
	require.NoError(t, f.Read(buf))
	assert.Equal(t, []byte{0, 0, 0, 0, 'x'}, buf)
}

func TestFile_ModeEnforcement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.txt")
	writeTestFile(t, path, []byte("original"))

	f := New(path)
	require.NoError(t, f.Open(Read))
	err := f.Write([]byte("changed"))
	requireKind(t, err, KindModeViolation)
	assert.ErrorIs(t, err, ErrModeViolation)
	assert.Zero(t, f.Pos())
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	w := New(path)
	require.NoError(t, w.Open(Write))
	requireKind(t, w.Read(make([]byte, 1)), KindModeViolation)
	require.NoError(t, w.Close())
}

func TestFile_CreateTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.txt")
	writeTestFile(t, path, []byte("a long original content"))

	f := New(path)
	require.NoError(t, f.Create(Write))
	require.NoError(t, f.Write([]byte("short")))
	require.NoError(t, f.Flush())
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestFile_WriteThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.txt")
	f := New(path)
	require.NoError(t, f.Create(Write|WriteThrough|NoBuffering))
	require.NoError(t, f.Write([]byte("durable")))
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(got))
}

// --- Paths and directories ---

func TestFile_DeepCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c", "file.txt")

	f := New(path)
	require.NoError(t, f.Create(Write))
	require.NoError(t, f.Close())

	for _, p := range []string{"a", "a/b", "a/b/c"} {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p)))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), p)
	}
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestFile_DirectoryAsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x", "y") + string(os.PathSeparator)

	f := New(path)
	require.NoError(t, f.Create(Write))
	assert.True(t, f.IsOpen())
	assert.True(t, f.IsDir())
	requireKind(t, f.Write([]byte{1}), KindModeViolation)
	assert.NoError(t, f.Write(nil))
	require.NoError(t, f.Close())

	require.NoError(t, f.Open(Read))
	assert.True(t, f.IsDir())
	length, err := f.Length()
	require.NoError(t, err)
	assert.Zero(t, length)
	requireKind(t, f.Read(make([]byte, 1)), KindModeViolation)
	n, err := f.ReadCount(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, f.SetPos(7))
	assert.Equal(t, int64(7), f.Pos())
	require.NoError(t, f.Close())

	// Reopening without the trailing separator still yields a directory handle.
	plain := New(strings.TrimSuffix(path, string(os.PathSeparator)))
	require.NoError(t, plain.Open(Read))
	assert.True(t, plain.IsDir())
	require.NoError(t, plain.Close())

	require.NoError(t, f.Delete())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFile_CreateExistingDirectoryReuses(t *testing.T) {
	dir := t.TempDir()
	path := dir + string(os.PathSeparator)
	writeTestFile(t, filepath.Join(dir, "keep.txt"), []byte("x"))

	f := New(path)
	require.NoError(t, f.Create(Write))
	require.NoError(t, f.Close())
	_, err := os.Stat(filepath.Join(dir, "keep.txt"))
	assert.NoError(t, err)
}

func TestFile_WrongKind(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "regular")
	writeTestFile(t, regular, []byte("x"))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	requireKind(t, New(regular+string(os.PathSeparator)).Create(Write), KindAlreadyExists)
	requireKind(t, New(sub).Create(Write), KindAlreadyExists)
	requireKind(t, New(regular+string(os.PathSeparator)).Open(Read), KindInvalidArgument)
}

func TestFile_DeleteNonEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "full") + string(os.PathSeparator)
	writeTestFile(t, filepath.Join(sub, "child.txt"), []byte("x"))

	err := New(sub).Delete()
	requireKind(t, err, KindIOFailure)
	_, statErr := os.Stat(sub)
	assert.NoError(t, statErr)
}

func TestFile_DeleteMissing(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "gone.txt"))
	requireKind(t, f.Delete(), KindNotFound)
}

func TestFile_DeleteClosesFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.txt")
	f := New(path)
	require.NoError(t, f.Create(Write))
	require.NoError(t, f.Delete())
	assert.False(t, f.IsOpen())
	assert.Equal(t, path, f.Path())
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

// --- Sharing ---

func TestFile_Sharing(t *testing.T) {
	cases := []struct {
		name   string
		first  Flags
		second Flags
		ok     bool
	}{
		{"ExclusiveReaders", Read, Read, false},
		{"SharedReaders", Read | SharedRead, Read | SharedRead, true},
		{"ReaderDeniesWriter", Read | SharedRead, Write, false},
		{"ReaderAllowsWriter", Read | SharedRead | SharedWrite, Write | SharedRead, true},
		{"WriterSharesButSecondExcludes", Write | SharedRead, Read, false},
		{"WritersShared", Write | SharedWrite, Write | SharedWrite, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shared.txt")
			writeTestFile(t, path, []byte("content"))

			a := New(path)
			require.NoError(t, a.Open(tc.first))
			defer a.Close()

			b := New(path)
			err := b.Open(tc.second)
			if tc.ok {
				require.NoError(t, err)
				require.NoError(t, b.Close())
				return
			}
			requireKind(t, err, KindSharingViolation)
			assert.False(t, b.IsOpen())

			require.NoError(t, a.Close())
			require.NoError(t, b.Open(tc.second), "closing the first handle releases the path")
			require.NoError(t, b.Close())
		})
	}
}

func TestFile_SharingViolationDoesNotTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.txt")
	writeTestFile(t, path, []byte("precious"))

	a := New(path)
	require.NoError(t, a.Open(Read|SharedRead))
	defer a.Close()

	requireKind(t, New(path).Create(Write), KindSharingViolation)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(got))
}

func TestFile_SharedDelete(t *testing.T) {
	dir := t.TempDir()

	held := filepath.Join(dir, "held.txt")
	writeTestFile(t, held, []byte("x"))
	a := New(held)
	require.NoError(t, a.Open(Read|SharedRead))
	requireKind(t, Delete(held), KindSharingViolation)
	requireKind(t, Rename(held, held+".moved"), KindSharingViolation)
	require.NoError(t, a.Close())
	require.NoError(t, Delete(held))

	if runtime.GOOS == "windows" {
		return
	}
	loose := filepath.Join(dir, "loose.txt")
	writeTestFile(t, loose, []byte("x"))
	b := New(loose)
	require.NoError(t, b.Open(Read|SharedRead|SharedDelete))
	require.NoError(t, Delete(loose))
	require.NoError(t, b.Close())
}

func TestFile_ShareTableReleased(t *testing.T) {
	fsys := filesystem.NewInMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("a.txt", []byte("x"), 0o644))
	key := keyFor(fsys, "a.txt", true)

	f := New("a.txt", WithFileSystem(fsys))
	require.NoError(t, f.Open(Read|SharedRead))
	g := New("a.txt", WithFileSystem(fsys))
	require.NoError(t, g.Open(Read|SharedRead))
	assert.Equal(t, 2, shares.count(key))

	require.NoError(t, f.Close())
	assert.Equal(t, 1, shares.count(key))
	g.SetFile("b.txt")
	assert.Equal(t, 0, shares.count(key))
}

// --- Times ---

func TestFile_AccessTimeAdvance(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("per-field timestamps are only reported on linux")
	}
	path := filepath.Join(t.TempDir(), "atime.txt")
	writeTestFile(t, path, []byte("some content"))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	f := New(path)
	t0, err := f.Times()
	require.NoError(t, err)

	require.NoError(t, f.Open(Read))
	require.NoError(t, f.Read(make([]byte, 1)))
	require.NoError(t, f.Close())

	t1, err := f.Times()
	require.NoError(t, err)
	assert.True(t, t1.LastAccess.After(t0.LastAccess), "last access %v should be after %v", t1.LastAccess, t0.LastAccess)
	assert.True(t, t1.LastWrite.Equal(t0.LastWrite), "last write changed: %v -> %v", t0.LastWrite, t1.LastWrite)
	assert.True(t, t1.Creation.Equal(t0.Creation), "creation changed: %v -> %v", t0.Creation, t1.Creation)
}

func TestFile_TimesOnDirectory(t *testing.T) {
	dir := t.TempDir()
	f := New(dir + string(os.PathSeparator))
	times, err := f.Times()
	require.NoError(t, err)
	assert.False(t, times.LastWrite.IsZero())
	assert.False(t, times.Creation.IsZero())
}

// --- Benchmarks ---

func BenchmarkFile_Write(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bin")
	chunk := bytes.Repeat([]byte{0xEE}, 1<<20)
	b.SetBytes(int64(len(chunk)))
	for b.Loop() {
		f := New(path)
		if err := f.Create(Write | SequentialScan); err != nil {
			b.Fatal(err)
		}
		if err := f.Write(chunk); err != nil {
			b.Fatal(err)
		}
		_ = f.Close()
	}
}

func BenchmarkFile_Read(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bin")
	chunk := bytes.Repeat([]byte{0xEE}, 1<<20)
	if err := os.WriteFile(path, chunk, 0o644); err != nil {
		b.Fatal(err)
	}
	buf := make([]byte, len(chunk))
	b.SetBytes(int64(len(chunk)))
	for b.Loop() {
		f := New(path)
		if err := f.Open(Read | SequentialScan); err != nil {
			b.Fatal(err)
		}
		if err := f.Read(buf); err != nil {
			b.Fatal(err)
		}
		_ = f.Close()
	}
}

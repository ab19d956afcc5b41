package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/stackvity/filekit/internal/cache"
	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/file"
	"github.com/stackvity/filekit/internal/filesystem"
)

// Constants for result status
const (
	StatusMatched  = "Matched"
	StatusDiffered = "Differed"
	StatusMissing  = "Missing"
	StatusCached   = "Cached"
	StatusSkipped  = "Skipped"
	StatusError    = "Error"
)

// Skip reasons reported with StatusSkipped.
const (
	ReasonHidden  = "Hidden"
	ReasonIgnored = "Ignored"
)

// Result holds the outcome of verifying a single file.
// Offset is the first differing byte and is only meaningful for StatusDiffered.
type Result struct {
	Path   string `json:"path" yaml:"path" toml:"path"` // Relative to the source root, slash-separated.
	Status string `json:"status" yaml:"status" toml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty" toml:"reason,omitempty"`
	Offset int64  `json:"offset" yaml:"offset" toml:"offset"`
	Size   int64  `json:"size" yaml:"size" toml:"size"`
	Error  error  `json:"-" yaml:"-" toml:"-"`
}

// Worker holds dependencies needed for verifying a file.
type Worker struct {
	Opts          *config.Options
	FS            filesystem.FileSystem
	CacheManager  cache.CacheManager
	Logger        *slog.Logger
	IgnoreMatcher func(string) bool
	ConfigHash    []byte
}

// NewWorker creates a new Worker instance.
func NewWorker(
	opts *config.Options,
	fs filesystem.FileSystem,
	cm cache.CacheManager,
	logger *slog.Logger,
	ignoreMatcher func(string) bool,
	configHash []byte,
) *Worker {
	return &Worker{
		Opts:          opts,
		FS:            fs,
		CacheManager:  cm,
		Logger:        logger,
		IgnoreMatcher: ignoreMatcher,
		ConfigHash:    configHash,
	}
}

// NewIgnoreMatcher builds a matcher reporting whether a path matches any pattern,
// either by base name or by the full path. Malformed patterns never match.
func NewIgnoreMatcher(patterns []string) func(string) bool {
	if len(patterns) == 0 {
		return nil
	}
	compiled := append([]string(nil), patterns...)
	return func(path string) bool {
		base := filepath.Base(path)
		for _, pattern := range compiled {
			if ok, _ := filepath.Match(pattern, base); ok {
				return true
			}
			if ok, _ := filepath.Match(pattern, path); ok {
				return true
			}
		}
		return false
	}
}

// TargetPath maps a path under the source root to the same relative path under the target root.
func TargetPath(sourceRoot, targetRoot, sourcePath string) (rel, target string, err error) {
	rel, err = filepath.Rel(sourceRoot, sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to calculate relative path for '%s' from base '%s': %w", sourcePath, sourceRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path '%s' is outside source root '%s'", sourcePath, sourceRoot)
	}
	return rel, filepath.Join(targetRoot, rel), nil
}

// VerifyFile compares one regular file under the source root with its counterpart under the target root.
func (w *Worker) VerifyFile(ctx context.Context, sourcePath string) Result {
	rel, targetPath, err := TargetPath(w.Opts.Source, w.Opts.Target, sourcePath)
	if err != nil {
		w.Logger.Error("File verification error", "file", sourcePath, "error", err)
		return Result{Path: filepath.ToSlash(sourcePath), Status: StatusError, Reason: "Path calculation failed", Error: err}
	}
	res := Result{Path: filepath.ToSlash(rel)}

	if err := ctx.Err(); err != nil {
		return w.fail(res, "Verification cancelled", err)
	}

	// --- Skip Checks ---
	if w.Opts.SkipHiddenFiles && strings.HasPrefix(filepath.Base(sourcePath), ".") {
		w.Logger.Debug("Skipping hidden file", "file", sourcePath)
		res.Status, res.Reason = StatusSkipped, ReasonHidden
		return res
	}
	if w.IgnoreMatcher != nil && w.IgnoreMatcher(sourcePath) {
		w.Logger.Debug("Skipping file due to ignore rule", "file", sourcePath)
		res.Status, res.Reason = StatusSkipped, ReasonIgnored
		return res
	}

	srcInfo, err := w.FS.Stat(sourcePath)
	if err != nil {
		return w.fail(res, "Stat failed", fmt.Errorf("failed to get file info for '%s': %w", sourcePath, err))
	}
	res.Size = srcInfo.Size()

	dstInfo, err := w.FS.Stat(targetPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.Logger.Debug("Target file missing", "file", sourcePath, "target", targetPath)
		res.Status = StatusMissing
		return res
	case err != nil:
		return w.fail(res, "Target stat failed", fmt.Errorf("failed to get file info for '%s': %w", targetPath, err))
	case dstInfo.IsDir():
		res.Status, res.Reason = StatusDiffered, "Target is a directory"
		return res
	}

	// --- Cache Check ---
	cacheStatus := cache.StatusMiss
	if w.Opts.UseCache && w.CacheManager != nil {
		cacheStatus, err = w.CacheManager.Check(rel, sourcePath, targetPath, w.ConfigHash)
		if err != nil {
			w.Logger.Warn("Cache check failed, proceeding as cache miss", "file", sourcePath, "error", err)
			cacheStatus = cache.StatusMiss
		}
	}
	if cacheStatus == cache.StatusHit {
		w.Logger.Debug("Cache hit", "file", sourcePath)
		res.Status = StatusCached
		return res
	}
	w.Logger.Debug("Cache miss or disabled", "file", sourcePath, "status", cacheStatus)

	// --- Compare ---
	equal, offset, err := Compare(ctx, w.FS, sourcePath, targetPath, w.Opts.ChunkSize, w.Logger)
	if err != nil {
		return w.fail(res, "Compare failed", err)
	}
	if !equal {
		if dstInfo.Size() != srcInfo.Size() {
			res.Reason = fmt.Sprintf("Size %d != %d", srcInfo.Size(), dstInfo.Size())
		}
		w.Logger.Debug("Files differ", "file", sourcePath, "offset", offset)
		res.Status, res.Offset = StatusDiffered, offset
		return res
	}

	// --- Update Cache ---
	if w.Opts.UseCache && w.CacheManager != nil {
		entry, err := cache.EntryFor(w.FS, sourcePath, targetPath, w.ConfigHash)
		if err == nil {
			err = w.CacheManager.Update(rel, entry)
		}
		if err != nil {
			w.Logger.Warn("Failed to update cache", "file", sourcePath, "error", err)
		}
	}

	w.Logger.Debug("Files match", "file", sourcePath, "target", targetPath)
	res.Status = StatusMatched
	return res
}

func (w *Worker) fail(res Result, reason string, err error) Result {
	w.Logger.Error("File verification error", "file", res.Path, "error", err)
	res.Status, res.Reason, res.Error = StatusError, reason, err
	return res
}

// Compare reads a and b in chunks of chunkSize bytes and reports whether their
// contents are equal. When they differ, offset is the first differing byte; a
// file that is a strict prefix of the other differs at its length.
// ctx is checked between chunks.
func Compare(ctx context.Context, fsys filesystem.FileSystem, a, b string, chunkSize int, logger *slog.Logger) (equal bool, offset int64, err error) {
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}

	src := file.New(a, file.WithFileSystem(fsys), file.WithLogger(logger))
	if err := src.Open(file.Read | file.SharedRead | file.SequentialScan); err != nil {
		return false, 0, err
	}
	defer src.Close()

	dst := file.New(b, file.WithFileSystem(fsys), file.WithLogger(logger))
	if err := dst.Open(file.Read | file.RandomAccess); err != nil {
		return false, 0, err
	}
	defer dst.Close()

	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return false, offset, err
		}
		na, err := src.ReadCount(bufA)
		if err != nil {
			return false, offset, err
		}
		nb, err := dst.ReadCount(bufB)
		if err != nil {
			return false, offset, err
		}

		n := min(na, nb)
		if i := mismatch(bufA[:n], bufB[:n]); i >= 0 {
			return false, offset + int64(i), nil
		}
		if na != nb {
			return false, offset + int64(n), nil
		}
		if na < chunkSize {
			return true, 0, nil
		}
		offset += int64(na)
	}
}

// mismatch returns the index of the first differing byte of two equal-length slices, or -1.
func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

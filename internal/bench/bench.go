// Package bench compares write and read throughput of file.File against a
// buffered stream over *os.File and whole-file os.WriteFile/os.ReadFile.
package bench

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/file"
)

// Operations measured for every strategy.
const (
	OpWrite = "write"
	OpRead  = "read"
)

// Strategy names.
const (
	StrategyFile      = "file"
	StrategyBufio     = "bufio"
	StrategyWholeFile = "whole-file"
)

const (
	fillByte       = 0xEE
	streamBufSize  = 1 << 20
	bytesPerMB     = 1 << 20
	scratchPattern = "filekit-bench-*"
)

// Options controls a benchmark run.
type Options struct {
	SizeMB int
	Dir    string // Parent of the scratch directory; the system temp dir when empty.
}

// OptionsFrom extracts bench settings from the loaded configuration.
func OptionsFrom(opts *config.Options) Options {
	return Options{SizeMB: opts.Bench.SizeMB, Dir: opts.Bench.Dir}
}

// Result is one timed operation.
type Result struct {
	Name     string        `json:"name" yaml:"name" toml:"name"`
	Op       string        `json:"op" yaml:"op" toml:"op"`
	Bytes    int64         `json:"bytes" yaml:"bytes" toml:"bytes"`
	Duration time.Duration `json:"duration" yaml:"duration" toml:"duration"`
	MBPerSec float64       `json:"mbPerSec" yaml:"mbPerSec" toml:"mbPerSec"`
}

type strategy struct {
	name  string
	write func(path string, data []byte) error
	read  func(path string, out []byte) error
}

// Run writes then reads a buffer of opts.SizeMB megabytes with each strategy and
// reports the timings. Scratch files are removed before returning.
func Run(ctx context.Context, opts Options, logger *slog.Logger) ([]Result, error) {
	if opts.SizeMB <= 0 {
		opts.SizeMB = config.DefaultBenchSizeMB
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dir, err := os.MkdirTemp(opts.Dir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove scratch directory", "path", dir, "error", err)
		}
	}()

	data := make([]byte, opts.SizeMB*bytesPerMB)
	for i := range data {
		data[i] = fillByte
	}
	out := make([]byte, len(data))

	strategies := []strategy{
		{StrategyFile, writeFile(logger), readFile(logger)},
		{StrategyBufio, writeBufio, readBufio},
		{StrategyWholeFile, writeWhole, readWhole},
	}

	results := make([]Result, 0, 2*len(strategies))
	for _, s := range strategies {
		path := filepath.Join(dir, s.name+".bin")
		logger.Debug("Benchmarking strategy", "name", s.name, "path", path, "bytes", len(data))

		for _, step := range []struct {
			op string
			fn func() error
		}{
			{OpWrite, func() error { return s.write(path, data) }},
			{OpRead, func() error { return s.read(path, out) }},
		} {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			start := time.Now()
			if err := step.fn(); err != nil {
				return results, fmt.Errorf("%s %s: %w", s.name, step.op, err)
			}
			results = append(results, newResult(s.name, step.op, int64(len(data)), time.Since(start)))
		}

		if out[0] != fillByte || out[len(out)-1] != fillByte {
			return results, fmt.Errorf("%s: read back unexpected contents", s.name)
		}
		clear(out)
	}
	return results, nil
}

func newResult(name, op string, n int64, d time.Duration) Result {
	r := Result{Name: name, Op: op, Bytes: n, Duration: d}
	if secs := d.Seconds(); secs > 0 {
		r.MBPerSec = float64(n) / bytesPerMB / secs
	}
	return r
}

func writeFile(logger *slog.Logger) func(string, []byte) error {
	return func(path string, data []byte) error {
		f := file.New(path, file.WithLogger(logger))
		if err := f.Create(file.Write | file.SequentialScan); err != nil {
			return err
		}
		if err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

func readFile(logger *slog.Logger) func(string, []byte) error {
	return func(path string, out []byte) error {
		f := file.New(path, file.WithLogger(logger))
		if err := f.Open(file.Read | file.SequentialScan); err != nil {
			return err
		}
		defer f.Close()
		return f.Read(out)
	}
}

func writeBufio(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, streamBufSize)
	if _, err := w.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readBufio(path string, out []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.ReadFull(bufio.NewReaderSize(f, streamBufSize), out)
	return err
}

func writeWhole(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func readWhole(path string, out []byte) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(b) != len(out) {
		return fmt.Errorf("read %d bytes, want %d", len(b), len(out))
	}
	copy(out, b)
	return nil
}

package bench

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/filekit/internal/config"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()

	results, err := Run(context.Background(), Options{SizeMB: 1, Dir: dir}, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)

	names := []string{StrategyFile, StrategyFile, StrategyBufio, StrategyBufio, StrategyWholeFile, StrategyWholeFile}
	for i, r := range results {
		assert.Equal(t, names[i], r.Name)
		wantOp := OpWrite
		if i%2 == 1 {
			wantOp = OpRead
		}
		assert.Equal(t, wantOp, r.Op, "result %d", i)
		assert.Equal(t, int64(1<<20), r.Bytes)
		assert.Positive(t, r.Duration)
		assert.Positive(t, r.MBPerSec)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "Scratch files are removed")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Run(ctx, Options{SizeMB: 1, Dir: t.TempDir()}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestRun_BadDir(t *testing.T) {
	_, err := Run(context.Background(), Options{SizeMB: 1, Dir: "/nonexistent/filekit/bench"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scratch directory")
}

func TestOptionsFrom(t *testing.T) {
	opts := &config.Options{Bench: config.BenchConfig{SizeMB: 8, Dir: "/scratch"}}
	assert.Equal(t, Options{SizeMB: 8, Dir: "/scratch"}, OptionsFrom(opts))
}

func TestNewResult(t *testing.T) {
	r := newResult(StrategyBufio, OpRead, 4<<20, 2*time.Second)
	assert.InDelta(t, 2.0, r.MBPerSec, 1e-9)

	r = newResult(StrategyBufio, OpRead, 4<<20, 0)
	assert.Zero(t, r.MBPerSec)
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stackvity/filekit/internal/cache"
	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/engine"
	"github.com/stackvity/filekit/internal/worker"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify --source DIR --target DIR",
		Short: "Verify that every file under the source tree has an identical copy under the target tree",
		Args:  usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.verify(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringP("source", "s", "", "Source directory (required)")
	f.StringP("target", "t", "", "Target directory holding the copy (required)")
	f.StringSlice("ignore", []string{}, "Glob patterns for files/directories to ignore (can be repeated)")
	f.Bool("skip-hidden-files", false, "Skip files and directories starting with '.'")
	f.Int("concurrency", 0, "Number of parallel workers (0 for auto-detect CPU cores)")
	f.Int("chunk-size", config.DefaultChunkSize, "Bytes compared per read")
	f.Bool("cache", true, "Skip pairs unchanged since the last successful comparison (use --no-cache to disable)")
	f.Bool("no-cache", false, "Disable the verification cache")
	f.Bool("clear-cache", false, "Clear the cache file before running")
	f.BoolP("watch", "w", false, "Keep running and re-verify files as they change")
	f.Duration("debounce", config.DefaultDebounce, "Quiet period before re-verifying in watch mode")
	return cmd
}

func (a *app) verify(ctx context.Context) error {
	opts := a.opts
	if err := opts.ValidateVerify(); err != nil {
		return withCode(ExitCodeConfigError, err)
	}

	cm, err := a.cacheManager()
	if err != nil {
		return withCode(ExitCodeOpError, err)
	}

	configHash, err := cache.CalculateConfigHash(opts)
	if err != nil {
		return withCode(ExitCodeConfigError, fmt.Errorf("failed to calculate configuration hash: %w", err))
	}

	eng := engine.NewEngine(opts, a.fs, cm, a.logger, worker.NewIgnoreMatcher(opts.Ignore), configHash)
	eng.Summary = a.errOut
	a.logger.Debug("Engine initialized")

	rep, err := eng.Run(ctx)
	if ctx.Err() != nil {
		a.logger.Info("Verification interrupted.")
		if renderErr := a.render(rep); renderErr != nil {
			return renderErr
		}
		return withCode(ExitCodeInterrupt, ctx.Err())
	}
	if err != nil {
		return withCode(ExitCodeOpError, err)
	}
	if err := a.render(rep); err != nil {
		return err
	}

	if n := rep.Mismatches(); n > 0 {
		return withCode(ExitCodeMismatch, fmt.Errorf("%d file(s) differ or are missing in %s", n, opts.Target))
	}
	if rep.Errored > 0 {
		return withCode(ExitCodeOpError, fmt.Errorf("%d file(s) could not be verified", rep.Errored))
	}
	a.logger.Info("Verification completed successfully.")
	return nil
}

// cacheManager builds the cache for the target tree. The cache lives inside
// the target directory, so a missing target disables it.
func (a *app) cacheManager() (cache.CacheManager, error) {
	opts := a.opts
	cacheFilePath := cache.DefaultCachePath(opts.Target)

	if opts.ClearCache {
		a.logger.Info("Clearing cache file...", "path", cacheFilePath)
		tmp, err := cache.NewFileCacheManager(cacheFilePath, a.fs, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache manager for clearing: %w", err)
		}
		if err := tmp.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	if !opts.UseCache {
		a.logger.Info("Cache is disabled via configuration.")
		return cache.NewNoOpCacheManager(), nil
	}
	if info, err := a.fs.Stat(filepath.Clean(opts.Target)); err != nil || !info.IsDir() {
		a.logger.Debug("Target directory not present, cache disabled", "target", opts.Target)
		return cache.NewNoOpCacheManager(), nil
	}

	cm, err := cache.NewFileCacheManager(cacheFilePath, a.fs, a.logger)
	if err != nil {
		a.logger.Warn("Failed to initialize file cache manager, falling back to no-cache behavior", "error", err)
		return cache.NewNoOpCacheManager(), nil
	}
	a.logger.Debug("File cache manager initialized", "path", cacheFilePath)
	return cm, nil
}

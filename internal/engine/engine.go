package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stackvity/filekit/internal/cache"
	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/file"
	"github.com/stackvity/filekit/internal/filesystem"
	"github.com/stackvity/filekit/internal/worker"
)

var errFailedToAddWatchPaths = errors.New("failed to add one or more paths to the watcher")

// Report summarizes the results of a verification run.
type Report struct {
	Matched  int               `json:"matched" yaml:"matched" toml:"matched"`
	Differed int               `json:"differed" yaml:"differed" toml:"differed"`
	Missing  int               `json:"missing" yaml:"missing" toml:"missing"`
	Cached   int               `json:"cached" yaml:"cached" toml:"cached"`
	Skipped  int               `json:"skipped" yaml:"skipped" toml:"skipped"`
	Errored  int               `json:"errored" yaml:"errored" toml:"errored"`
	Duration time.Duration     `json:"duration" yaml:"duration" toml:"duration"`
	Results  []worker.Result   `json:"results" yaml:"results" toml:"results"` // Sorted by path.
	Errors   map[string]string `json:"errors,omitempty" yaml:"errors,omitempty" toml:"errors,omitempty"`
}

// Mismatches counts files whose target is absent or has different contents.
func (r Report) Mismatches() int {
	return r.Differed + r.Missing
}

// Clean reports whether every verified file matched.
func (r Report) Clean() bool {
	return r.Mismatches() == 0 && r.Errored == 0
}

// fileWatcher is the subset of fsnotify.Watcher the watch loop uses.
type fileWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (a fsnotifyWatcher) Add(name string) error         { return a.w.Add(name) }
func (a fsnotifyWatcher) Close() error                  { return a.w.Close() }
func (a fsnotifyWatcher) Events() <-chan fsnotify.Event { return a.w.Events }
func (a fsnotifyWatcher) Errors() <-chan error          { return a.w.Errors }

// newWatcher is replaced in tests.
var newWatcher = func() (fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsnotifyWatcher{w: w}, nil
}

// Engine orchestrates tree verification.
type Engine struct {
	Opts          *config.Options
	FS            filesystem.FileSystem
	CM            cache.CacheManager
	Logger        *slog.Logger
	IgnoreMatcher func(string) bool
	ConfigHash    []byte

	// Summary receives the per-rebuild summary in watch mode.
	Summary io.Writer
}

// NewEngine creates a new Engine instance with dependencies.
func NewEngine(
	opts *config.Options,
	fs filesystem.FileSystem,
	cm cache.CacheManager,
	logger *slog.Logger,
	ignoreMatcher func(string) bool,
	configHash []byte,
) *Engine {
	return &Engine{
		Opts:          opts,
		FS:            fs,
		CM:            cm,
		Logger:        logger,
		IgnoreMatcher: ignoreMatcher,
		ConfigHash:    configHash,
		Summary:       os.Stderr,
	}
}

// resolveConcurrency determines the number of workers based on options or CPU cores.
func (e *Engine) resolveConcurrency() int {
	numWorkers := e.Opts.Concurrency
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		e.Logger.Debug("Concurrency set to auto-detect", "detected_cores", numWorkers)
		if numWorkers <= 0 {
			e.Logger.Warn("Auto-detected 0 or fewer CPU cores, defaulting to 1 worker")
			numWorkers = 1
		}
	}
	return numWorkers
}

// Run verifies the source tree against the target tree, either once or in watch mode.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	startTime := time.Now()

	if e.Opts.WatchMode {
		report, err := e.watch(ctx)
		report.Duration = time.Since(startTime)
		return report, err
	}

	report, err := e.runOnce(ctx)
	report.Duration = time.Since(startTime)
	if err != nil {
		return report, fmt.Errorf("verification run failed: %w", err)
	}
	e.persistCache("run finished")
	return report, nil
}

func (e *Engine) persistCache(when string) {
	if !e.Opts.UseCache || e.CM == nil {
		return
	}
	if err := e.CM.Persist(); err != nil {
		e.Logger.Warn("Failed to persist cache", "when", when, "error", err)
		return
	}
	e.Logger.Debug("Cache persisted", "when", when)
}

// runOnce performs a single full scan and verification.
func (e *Engine) runOnce(ctx context.Context) (Report, error) {
	e.Logger.Info("Starting verification run", "source", e.Opts.Source, "target", e.Opts.Target)
	report, err := e.pool(ctx, func(taskChan chan<- string) error {
		return e.scanDirectory(ctx, e.Opts.Source, taskChan)
	})
	e.logReport("Verification run finished", report)
	return report, err
}

// reRun verifies only the given source paths.
func (e *Engine) reRun(ctx context.Context, pathsToProcess map[string]struct{}) (Report, error) {
	e.Logger.Info("Starting incremental verification...", "files_changed", len(pathsToProcess))
	if len(pathsToProcess) == 0 {
		e.Logger.Info("No changed paths to process in re-run.")
		return Report{Errors: make(map[string]string)}, nil
	}
	report, err := e.pool(ctx, func(taskChan chan<- string) error {
		return e.dispatchTasks(ctx, taskChan, pathsToProcess)
	})
	e.logReport("Incremental verification finished", report)
	return report, err
}

func (e *Engine) logReport(msg string, report Report) {
	e.Logger.Info(msg,
		"matched", report.Matched,
		"differed", report.Differed,
		"missing", report.Missing,
		"cached", report.Cached,
		"skipped", report.Skipped,
		"errors", report.Errored,
	)
}

// pool runs workers over the paths produced by feed and aggregates their results.
func (e *Engine) pool(ctx context.Context, feed func(chan<- string) error) (Report, error) {
	report := Report{Errors: make(map[string]string)}

	numWorkers := e.resolveConcurrency()
	e.Logger.Debug("Resolved concurrency", "workers", numWorkers)

	taskChan := make(chan string, numWorkers*2)
	resultChan := make(chan worker.Result, numWorkers*2)
	var wg sync.WaitGroup

	e.startWorkers(ctx, numWorkers, taskChan, resultChan, &wg)

	doneAggregating := make(chan struct{})
	go func() {
		defer close(doneAggregating)
		e.aggregateResults(resultChan, &report)
	}()

	feedErr := feed(taskChan)
	close(taskChan)
	wg.Wait()
	close(resultChan)
	<-doneAggregating

	slices.SortFunc(report.Results, func(a, b worker.Result) int { return cmp.Compare(a.Path, b.Path) })
	return report, feedErr
}

// dispatchTasks sends changed paths to the task channel. Directories are
// scanned; paths that vanished since the event are dropped.
func (e *Engine) dispatchTasks(ctx context.Context, taskChan chan<- string, paths map[string]struct{}) error {
	for path := range paths {
		info, err := e.FS.Stat(path)
		if err != nil {
			e.Logger.Debug("Changed path no longer present, skipping", "path", path, "error", err)
			continue
		}
		if info.IsDir() {
			if err := e.scanDirectory(ctx, path, taskChan); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			e.Logger.Info("Task dispatch cancelled")
			return ctx.Err()
		case taskChan <- path:
			e.Logger.Debug("Dispatched task", "file", path)
		}
	}
	e.Logger.Debug("Finished dispatching tasks")
	return nil
}

// startWorkers launches the worker goroutines.
func (e *Engine) startWorkers(ctx context.Context, numWorkers int, taskChan <-chan string, resultChan chan<- worker.Result, wg *sync.WaitGroup) {
	for i := range numWorkers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.Logger.Debug("Worker started", "id", workerID)

			w := worker.NewWorker(e.Opts, e.FS, e.CM, e.Logger, e.IgnoreMatcher, e.ConfigHash)

			for {
				select {
				case <-ctx.Done():
					e.Logger.Debug("Worker shutting down due to context cancellation", "id", workerID)
					return
				case filePath, ok := <-taskChan:
					if !ok {
						e.Logger.Debug("Worker shutting down as task channel closed", "id", workerID)
						return
					}
					e.Logger.Debug("Worker received task", "id", workerID, "file", filePath)
					res := w.VerifyFile(ctx, filePath)
					select {
					case resultChan <- res:
					case <-ctx.Done():
						e.Logger.Debug("Worker could not send result due to context cancellation", "id", workerID, "file", filePath)
						return
					}
				}
			}
		}(i)
	}
}

// isTargetRoot reports whether path is the target tree nested inside the source tree.
func (e *Engine) isTargetRoot(path string) bool {
	return e.Opts.Target != "" && filepath.Clean(path) == filepath.Clean(e.Opts.Target)
}

// scanDirectory enumerates root and sends regular file paths to the task
// channel. Enumeration cannot prune, so skipped directories are remembered and
// their descendants dropped before they cost a Stat.
func (e *Engine) scanDirectory(ctx context.Context, root string, taskChan chan<- string) error {
	e.Logger.Debug("Starting directory scan", "path", root)
	var firstScanErr error
	var skipped []string

	for path, enumErr := range file.NewPathOps(e.FS, e.Logger).Enumerate(root) {
		if err := ctx.Err(); err != nil {
			e.Logger.Info("Directory scan cancelled")
			return err
		}

		if enumErr != nil {
			e.Logger.Warn("Error accessing path during scan", "root", root, "error", enumErr)
			if firstScanErr == nil {
				firstScanErr = fmt.Errorf("directory scan failed: %w", enumErr)
			}
			continue
		}

		if slices.ContainsFunc(skipped, func(dir string) bool { return isBelow(path, dir) }) {
			continue
		}

		switch {
		case e.isTargetRoot(path):
			e.Logger.Debug("Skipping target tree nested in source", "path", path)
			skipped = append(skipped, path)
			continue
		case e.IgnoreMatcher != nil && e.IgnoreMatcher(path):
			e.Logger.Debug("Skipping ignored path during scan", "path", path)
			skipped = append(skipped, path)
			continue
		case e.Opts.SkipHiddenFiles && strings.HasPrefix(filepath.Base(path), "."):
			e.Logger.Debug("Skipping hidden path during scan", "path", path)
			skipped = append(skipped, path)
			continue
		}

		info, err := e.FS.Stat(path)
		if err != nil {
			e.Logger.Warn("Error accessing path during scan", "path", path, "error", err)
			if firstScanErr == nil {
				firstScanErr = fmt.Errorf("accessing '%s': %w", path, err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		select {
		case taskChan <- path:
			e.Logger.Debug("Dispatched task", "file", path)
		case <-ctx.Done():
			e.Logger.Info("Directory scan cancelled while sending task")
			return ctx.Err()
		}
	}

	if firstScanErr != nil {
		e.Logger.Error("Directory scan completed with errors", "error", firstScanErr)
		return firstScanErr
	}

	e.Logger.Debug("Directory scan completed successfully")
	return nil
}

// isBelow reports whether path lies inside dir.
func isBelow(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// aggregateResults collects results from workers and updates the report.
func (e *Engine) aggregateResults(resultChan <-chan worker.Result, report *Report) {
	for res := range resultChan {
		switch res.Status {
		case worker.StatusMatched:
			report.Matched++
		case worker.StatusDiffered:
			report.Differed++
			e.Logger.Warn("Contents differ", "file", res.Path, "offset", res.Offset, "reason", res.Reason)
		case worker.StatusMissing:
			report.Missing++
			e.Logger.Warn("Target file missing", "file", res.Path)
		case worker.StatusCached:
			report.Cached++
		case worker.StatusSkipped:
			report.Skipped++
		case worker.StatusError:
			report.Errored++
			errMsg := "Unknown verification error"
			if res.Error != nil {
				errMsg = res.Error.Error()
			}
			report.Errors[res.Path] = errMsg
			e.Logger.Warn("File verification error reported", "file", res.Path, "reason", res.Reason, "error", errMsg)
		default:
			e.Logger.Warn("Received result with unknown status", "status", res.Status, "file", res.Path)
			continue
		}
		report.Results = append(report.Results, res)
	}
	e.Logger.Debug("Result aggregation finished")
}

// watch verifies once, then re-verifies changed source paths after each debounce window.
func (e *Engine) watch(ctx context.Context) (Report, error) {
	watcher, err := newWatcher()
	if err != nil {
		return Report{}, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := e.addPathsToWatcher(watcher, e.Opts.Source); err != nil {
		if !errors.Is(err, errFailedToAddWatchPaths) {
			return Report{}, fmt.Errorf("failed to add paths to watcher: %w", err)
		}
		e.Logger.Warn("Failed to add some paths to the watcher, proceeding but some changes might be missed", "error", err)
	}

	lastReport, initialErr := e.runOnce(ctx)
	switch {
	case initialErr == nil:
		e.printWatchSummary(e.Summary, lastReport)
	case errors.Is(initialErr, context.Canceled):
	case errors.Is(initialErr, fs.ErrNotExist):
		return lastReport, fmt.Errorf("aborting watch mode due to critical initial run failure: %w", initialErr)
	default:
		e.Logger.Warn("Initial run had non-critical errors, watch mode will continue", "error", initialErr)
	}
	e.persistCache("initial watch run")

	e.Logger.Info("Entering watch mode, monitoring for changes...", "path", e.Opts.Source)

	debounceDuration := e.Opts.Watch.Debounce
	if debounceDuration <= 0 {
		debounceDuration = config.DefaultDebounce
	}
	var debounceTimer *time.Timer
	pendingPaths := make(map[string]struct{})
	triggerRebuildChan := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("Received cancellation signal, exiting watch mode gracefully.")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			e.persistCache("shutdown")
			return lastReport, context.Canceled

		case event, ok := <-watcher.Events():
			if !ok {
				e.Logger.Warn("File watcher event channel closed unexpectedly.")
				return lastReport, errors.New("watcher event channel closed")
			}
			e.Logger.Debug("Watcher event received", "event", event.String())

			if e.isTargetRoot(event.Name) ||
				(e.IgnoreMatcher != nil && e.IgnoreMatcher(event.Name)) ||
				(e.Opts.SkipHiddenFiles && len(filepath.Base(event.Name)) > 0 && filepath.Base(event.Name)[0] == '.') {
				e.Logger.Debug("Ignoring change in ignored/hidden path", "path", event.Name)
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if event.Has(fsnotify.Create) {
					if info, err := e.FS.Stat(event.Name); err == nil && info.IsDir() {
						if err := e.addPathsToWatcher(watcher, event.Name); err != nil {
							e.Logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
						}
					}
				}
				pendingPaths[event.Name] = struct{}{}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					select {
					case triggerRebuildChan <- struct{}{}:
					default:
						e.Logger.Debug("Rebuild trigger channel full, skipping signal")
					}
				})
				e.Logger.Debug("Debounce timer reset", "duration", debounceDuration)
			}

		case <-triggerRebuildChan:
			pathsToProcessNow := pendingPaths
			pendingPaths = make(map[string]struct{})

			if len(pathsToProcessNow) > 0 {
				rebuildReport, rebuildErr := e.triggerReRun(ctx, &lastReport, pathsToProcessNow)
				if rebuildErr != nil && !errors.Is(rebuildErr, context.Canceled) {
					e.Logger.Error("Re-verification failed", "error", rebuildErr)
				}
				lastReport = rebuildReport
				e.printWatchSummary(e.Summary, lastReport)
			} else {
				e.Logger.Debug("Debounce timer fired but no pending paths.")
			}
			e.Logger.Info("Watching for changes...")

		case err, ok := <-watcher.Errors():
			if !ok {
				e.Logger.Warn("File watcher error channel closed unexpectedly.")
				return lastReport, errors.New("watcher error channel closed")
			}
			e.Logger.Error("File watcher error encountered, attempting to continue", "error", err)
		}
	}
}

// addPathsToWatcher recursively adds directories under root to the watcher.
// Returns errFailedToAddWatchPaths if some paths fail, or another error if walking fails.
func (e *Engine) addPathsToWatcher(watcher fileWatcher, root string) error {
	encounteredAddError := false

	walkErr := e.FS.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.Logger.Warn("Error accessing path during watcher setup", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if e.isTargetRoot(path) {
			return filepath.SkipDir
		}
		if e.IgnoreMatcher != nil && e.IgnoreMatcher(path) {
			e.Logger.Debug("Skipping ignored directory for watching", "path", path)
			return filepath.SkipDir
		}
		if e.Opts.SkipHiddenFiles && len(d.Name()) > 0 && d.Name()[0] == '.' && path != root {
			e.Logger.Debug("Skipping hidden directory for watching", "path", path)
			return filepath.SkipDir
		}

		e.Logger.Debug("Adding path to watcher", "path", path)
		if addErr := watcher.Add(path); addErr != nil {
			e.Logger.Error("Failed to add path to watcher, continuing...", "path", path, "error", addErr)
			encounteredAddError = true
		}
		return nil
	})

	if walkErr != nil {
		return fmt.Errorf("error walking source directory for watcher setup: %w", walkErr)
	}
	if encounteredAddError {
		return errFailedToAddWatchPaths
	}
	return nil
}

// triggerReRun re-verifies the changed paths and returns the report to show.
// A failed re-run merges its errors into lastReport instead of replacing it.
func (e *Engine) triggerReRun(ctx context.Context, lastReport *Report, pathsToProcess map[string]struct{}) (Report, error) {
	e.Logger.Info("Change detected, triggering re-verification...", "changed_count", len(pathsToProcess))

	report, err := e.reRun(ctx, pathsToProcess)
	if err != nil {
		lastReport.Errored += report.Errored
		if len(report.Errors) > 0 {
			if lastReport.Errors == nil {
				lastReport.Errors = make(map[string]string)
			}
			for k, v := range report.Errors {
				lastReport.Errors[k] = v
			}
		}
		return *lastReport, err
	}

	if report.Matched > 0 {
		e.persistCache("re-verification")
	} else {
		e.Logger.Debug("Skipping cache persistence as no files matched in re-verification.")
	}
	return report, nil
}

// printWatchSummary prints the report summary, intended for use in watch mode.
func (e *Engine) printWatchSummary(writer io.Writer, report Report) {
	if writer == nil {
		return
	}
	fmt.Fprintf(writer, "\n--- Verification Summary ---\n")
	fmt.Fprintf(writer, "Duration: %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(writer, "Matched:  %d\n", report.Matched)
	fmt.Fprintf(writer, "Differed: %d\n", report.Differed)
	fmt.Fprintf(writer, "Missing:  %d\n", report.Missing)
	fmt.Fprintf(writer, "Cached:   %d\n", report.Cached)
	fmt.Fprintf(writer, "Skipped:  %d\n", report.Skipped)
	fmt.Fprintf(writer, "Errored:  %d\n", report.Errored)

	if report.Errored > 0 && report.Errors != nil {
		fmt.Fprintf(writer, "\n--- Errors Encountered ---\n")
		for _, path := range slices.Sorted(maps.Keys(report.Errors)) {
			fmt.Fprintf(writer, "ERROR: %s: %s\n", path, report.Errors[path])
		}
	}
	fmt.Fprintf(writer, "----------------------------\n\n")
}

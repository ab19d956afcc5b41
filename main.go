package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/file"
	"github.com/stackvity/filekit/internal/filesystem"
	"github.com/stackvity/filekit/internal/report"
)

// Variables for version embedding via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	ExitCodeSuccess     = 0
	ExitCodeMismatch    = 1
	ExitCodeConfigError = 2
	ExitCodeInterrupt   = 3
	ExitCodeOpError     = 4
	ExitCodeUnknown     = 10
)

// exitError carries the process exit code for a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// usage reports argument validation failures as usage errors.
func usage(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(ExitCodeConfigError, validate(cmd, args))
	}
}

// app holds what every subcommand needs once configuration is resolved.
type app struct {
	opts     *config.Options
	logger   *slog.Logger
	fs       filesystem.FileSystem
	ops      *file.PathOps
	renderer *report.Renderer
	out      io.Writer
	errOut   io.Writer
}

// newApp loads and validates configuration for cmd and builds the shared dependencies.
func newApp(cmd *cobra.Command) (*app, error) {
	opts, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return nil, withCode(ExitCodeConfigError, err)
	}
	if err := opts.ValidateConfig(); err != nil {
		return nil, withCode(ExitCodeConfigError, err)
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("Configuration loaded and validated successfully", "options", *opts)

	fs := filesystem.NewRealFileSystem()
	renderer, err := report.NewRenderer(opts.Format, opts.TemplateFile, fs)
	if err != nil {
		return nil, withCode(ExitCodeConfigError, err)
	}

	return &app{
		opts:     opts,
		logger:   logger,
		fs:       fs,
		ops:      file.NewPathOps(fs, logger),
		renderer: renderer,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}, nil
}

// render writes v in the configured output format.
func (a *app) render(v any) error {
	return withCode(ExitCodeOpError, a.renderer.Render(a.out, v))
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "filekit",
		Short: "File handles with explicit access and sharing modes, and tools built on them",
		Long: `filekit exposes path-bound file handles with explicit read/write access,
in-process sharing rules and directory-as-file semantics.

Its subcommands copy, rename, delete, read and enumerate paths, verify that
one directory tree is a byte-for-byte copy of another, and compare file
handle throughput with buffered and whole-file I/O.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("filekit version %s (commit: %s, built: %s)\n", version, commit, date))
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(ExitCodeConfigError, err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Configuration file path (default: .filekit.yaml, filekit.yaml)")
	pf.BoolP("verbose", "v", false, "Enable verbose debug logging")
	pf.StringP("format", "f", config.FormatText, "Output format: text, json, yaml or toml")
	pf.String("template", "", "Path to a Go template used to render command output")

	rootCmd.AddCommand(
		newCatCmd(),
		newCopyCmd(),
		newRenameCmd(),
		newRmCmd(),
		newMkdirCmd(),
		newTimesCmd(),
		newTreeCmd(),
		newVerifyCmd(),
		newBenchCmd(),
	)
	return rootCmd
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitCodeSuccess
	}

	code := ExitCodeUnknown
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		code = ee.code
	case errors.Is(err, context.Canceled):
		code = ExitCodeInterrupt
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return code
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

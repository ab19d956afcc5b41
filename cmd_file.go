package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackvity/filekit/internal/file"
	"github.com/stackvity/filekit/internal/report"
)

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH",
		Short: "Write the contents of a file to standard output",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			data, err := a.ops.ReadEntireFile(args[0])
			if err != nil {
				return withCode(ExitCodeOpError, err)
			}
			_, err = a.out.Write(data)
			return withCode(ExitCodeOpError, err)
		},
	}
}

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy SRC DST",
		Short: "Copy a file, creating missing parent directories of DST",
		Args:  usage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.ops.CopyFile(args[0], args[1], a.opts.Overwrite); err != nil {
				return withCode(ExitCodeOpError, err)
			}
			a.logger.Info("Copied", "source", args[0], "destination", args[1])
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "Replace DST if it already exists")
	return cmd
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename SRC DST",
		Short: "Rename a file or directory",
		Args:  usage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.ops.Rename(args[0], args[1]); err != nil {
				return withCode(ExitCodeOpError, err)
			}
			a.logger.Info("Renamed", "source", args[0], "destination", args[1])
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH",
		Short: "Delete a file or an empty directory",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.ops.Delete(args[0]); err != nil {
				return withCode(ExitCodeOpError, err)
			}
			a.logger.Info("Deleted", "path", args[0])
			return nil
		},
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a directory and any missing ancestors",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			path := args[0]
			if !strings.HasSuffix(path, string(os.PathSeparator)) && !strings.HasSuffix(path, "/") {
				path += string(os.PathSeparator)
			}
			f := file.New(path, file.WithFileSystem(a.fs), file.WithLogger(a.logger))
			if err := f.Create(file.Write); err != nil {
				return withCode(ExitCodeOpError, err)
			}
			return withCode(ExitCodeOpError, f.Close())
		},
	}
}

func newTimesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "times PATH",
		Short: "Show the creation, last write and last access times of a path",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			f := file.New(args[0], file.WithFileSystem(a.fs), file.WithLogger(a.logger))
			t, err := f.Times()
			if err != nil {
				return withCode(ExitCodeOpError, err)
			}
			return a.render(report.NewPathTimes(args[0], t))
		},
	}
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [ROOT]",
		Short: "List every path below ROOT (default: the working directory)",
		Args:  usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			tree := report.Tree{Root: root, Paths: []string{}}
			var errs []error
			for path, err := range a.ops.Enumerate(root) {
				if err != nil {
					a.logger.Warn("Enumeration error", "root", root, "error", err)
					errs = append(errs, err)
					continue
				}
				tree.Paths = append(tree.Paths, path)
			}
			if err := a.render(tree); err != nil {
				return err
			}
			return withCode(ExitCodeOpError, errors.Join(errs...))
		},
	}
}

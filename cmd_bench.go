package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/stackvity/filekit/internal/bench"
	"github.com/stackvity/filekit/internal/config"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare write and read throughput of file handles, buffered streams and whole-file I/O",
		Args:  usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			results, err := bench.Run(cmd.Context(), bench.OptionsFrom(a.opts), a.logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return withCode(ExitCodeInterrupt, err)
				}
				return withCode(ExitCodeOpError, err)
			}
			return a.render(results)
		},
	}
	cmd.Flags().Int("bench-size", config.DefaultBenchSizeMB, "Megabytes written and read per strategy")
	cmd.Flags().String("bench-dir", "", "Directory for scratch files (default: system temp dir)")
	return cmd
}

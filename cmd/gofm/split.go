package main

import (
	"context"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/scheduler"
)

var (
	splitCmd = &cobra.Command{
		Use:   "split FILE OUTPUT_DIR",
		Short: "Split a file into numbered parts",
		Args:  cobra.ExactArgs(2),
		RunE:  runSplit,
	}

	joinCmd = &cobra.Command{
		Use:   "join OUTPUT_FILE PART...",
		Short: "Concatenate parts, in name order, into one file",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runJoin,
	}

	partSize string
)

func init() {
	rootCmd.AddCommand(splitCmd, joinCmd)
	splitCmd.Flags().StringVar(&partSize, "part-size", "100MiB", "Size of each part (e.g. 700MB, 4GiB)")
}

func runSplit(cmd *cobra.Command, args []string) error {
	size, err := humanize.ParseBytes(partSize)
	if err != nil {
		return errors.Wrap(err, "invalid --part-size")
	}
	source, output := args[0], args[1]

	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	j := s.start("split", filepath.Base(source)+" in parts of "+humanize.IBytes(size),
		func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			return s.engine.Split(ctx, source, int64(size), output, progress)
		},
		scheduler.WithSourcePath(source),
		scheduler.WithDestinationPath(output),
	)
	return s.wait(cmd.Context(), j)
}

func runJoin(cmd *cobra.Command, args []string) error {
	output, parts := args[0], args[1:]

	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	opts := []scheduler.JobOption{
		scheduler.WithDestinationPath(output),
		scheduler.WithRelatedPaths(parts...),
	}
	if len(parts) > 0 {
		opts = append(opts, scheduler.WithSourcePath(parts[0]))
	}
	j := s.start("join", filepath.Base(output),
		func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			return s.engine.Join(ctx, parts, output, progress)
		},
		opts...,
	)
	return s.wait(cmd.Context(), j)
}

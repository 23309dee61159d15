package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/provider"
	"github.com/franksops/gofm/scheduler"
)

var (
	compareCmd = &cobra.Command{
		Use:   "compare LEFT_DIR RIGHT_DIR",
		Short: "Mark files present on both sides by size, timestamp or name",
		Args:  cobra.ExactArgs(2),
		RunE:  runCompare,
	}

	compareBy        string
	compareTolerance time.Duration
)

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVar(&compareBy, "by", "name", "Criteria: size, timestamp or name")
	compareCmd.Flags().DurationVar(&compareTolerance, "tolerance", 0, "Timestamp tolerance (defaults to compare.tolerance)")
}

func listEntries(ctx context.Context, fs provider.Provider, dir string) ([]*engine.Entry, error) {
	infos, err := fs.List(ctx, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	entries := make([]*engine.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, &engine.Entry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return entries, nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	criteria, err := engine.ParseCompareCriteria(compareBy)
	if err != nil {
		return err
	}
	tolerance := compareTolerance
	if tolerance <= 0 {
		tolerance = cfg.CompareTolerance
	}
	leftDir, rightDir := args[0], args[1]

	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	var left, right []*engine.Entry
	j := s.start("compare", fmt.Sprintf("%s and %s by %s", leftDir, rightDir, criteria),
		func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			var err error
			if left, err = listEntries(ctx, s.fs, leftDir); err != nil {
				return engine.OperationResult{Message: err.Error()}, err
			}
			if right, err = listEntries(ctx, s.fs, rightDir); err != nil {
				return engine.OperationResult{Message: err.Error()}, err
			}
			return engine.CompareFiles(left, right, criteria, tolerance), nil
		},
		scheduler.WithRelatedPaths(leftDir, rightDir),
	)
	if err := s.wait(cmd.Context(), j); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, side := range []struct {
		dir     string
		entries []*engine.Entry
	}{{leftDir, left}, {rightDir, right}} {
		fmt.Fprintf(out, "%s:\n", side.dir)
		for _, e := range side.entries {
			if e.Marked {
				fmt.Fprintf(out, "  * %s\n", e.Name)
			}
		}
	}
	return nil
}

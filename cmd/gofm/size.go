package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/scheduler"
)

var sizeCmd = &cobra.Command{
	Use:   "size PATH...",
	Short: "Calculate the recursive size of directories",
	Long: `Calculate the recursive size of directories. Every path is measured by its
own job, so several paths are walked concurrently.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSize,
}

func init() {
	rootCmd.AddCommand(sizeCmd)
}

func runSize(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	jobs := make([]*scheduler.Job, 0, len(args))
	for _, path := range args {
		jobs = append(jobs, s.start("size", path, sizeAction(s.engine, path), scheduler.WithSourcePath(path)))
	}
	return s.wait(cmd.Context(), jobs...)
}

func sizeAction(e *engine.Engine, path string) scheduler.Action {
	return func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		size, err := e.CalculateDirectorySize(ctx, path, progress, cfg.ProgressInterval)
		result := engine.OperationResult{
			FilesProcessed:       size.Files,
			DirectoriesProcessed: size.Dirs,
			BytesProcessed:       size.Bytes,
		}
		switch {
		case ctx.Err() != nil:
			result.Cancelled = true
			result.Message = "Cancelled after " + humanize.IBytes(uint64(size.Bytes))
			return result, nil
		case err != nil:
			result.Message = err.Error()
			return result, err
		}
		result.Success = true
		result.Message = fmt.Sprintf("%s in %s files, %s directories",
			humanize.IBytes(uint64(size.Bytes)), humanize.Comma(int64(size.Files)), humanize.Comma(int64(size.Dirs)))
		return result, nil
	}
}

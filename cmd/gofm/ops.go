package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/scheduler"
)

var (
	copyCmd = &cobra.Command{
		Use:   "copy SOURCE... DESTINATION_DIR",
		Short: "Copy files and directories into a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runTransfer("copy"),
	}

	moveCmd = &cobra.Command{
		Use:   "move SOURCE... DESTINATION_DIR",
		Short: "Move files and directories into a directory",
		Long: `Move files and directories into a directory. Moves within one volume
are atomic renames; across volumes the items are copied and then deleted.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runTransfer("move"),
	}

	deleteCmd = &cobra.Command{
		Use:   "delete PATH...",
		Short: "Delete files and directory trees",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDelete,
	}

	renameCmd = &cobra.Command{
		Use:   "rename PATTERN [REPLACEMENT] -- PATH...",
		Short: "Rename files by pattern",
		Long: `Rename files by pattern. PATTERN is one of
  s/<regexp>/<replacement>/   regular expression substitution ($1 expands groups)
  tr/<from>/<to>/             character transliteration
  <text>                      literal replacement of text with REPLACEMENT`,
		Args: cobra.MinimumNArgs(2),
		RunE: runRename,
	}
)

func init() {
	rootCmd.AddCommand(copyCmd, moveCmd, deleteCmd, renameCmd)
}

func runTransfer(operation string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		handler, err := collisionPolicy(onConflict)
		if err != nil {
			return err
		}
		sources, destination := args[:len(args)-1], args[len(args)-1]

		s, err := newSession(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer s.close()

		run := s.engine.Copy
		if operation == "move" {
			run = s.engine.Move
		}
		j := s.start(operation, fmt.Sprintf("%d item(s) to %s", len(sources), destination),
			func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
				return run(ctx, sources, destination, handler, progress)
			},
			scheduler.WithSourcePath(sources[0]),
			scheduler.WithDestinationPath(destination),
			scheduler.WithRelatedPaths(sources...),
		)
		return s.wait(cmd.Context(), j)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	j := s.start("delete", fmt.Sprintf("%d item(s)", len(args)),
		func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			return s.engine.Delete(ctx, args, progress)
		},
		scheduler.WithSourcePath(args[0]),
		scheduler.WithRelatedPaths(args...),
	)
	return s.wait(cmd.Context(), j)
}

func runRename(cmd *cobra.Command, args []string) error {
	pattern, replacement, entries := args[0], "", args[1:]
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		if dash == 0 || dash > 2 {
			return errors.New("expected PATTERN [REPLACEMENT] before --")
		}
		if dash == 2 {
			replacement = args[1]
		}
		entries = args[dash:]
	}
	if len(entries) == 0 {
		return engine.ErrNoSources
	}
	if _, err := engine.ParseRenamePattern(pattern, replacement); err != nil {
		return err
	}

	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close()

	j := s.start("rename", pattern,
		func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			return s.engine.Rename(ctx, entries, pattern, replacement, progress)
		},
		scheduler.WithSourcePath(entries[0]),
		scheduler.WithRelatedPaths(entries...),
	)
	return s.wait(cmd.Context(), j)
}

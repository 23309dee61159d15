package main

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/config"
)

var (
	cfgFile    string
	tabContext string
	onConflict string
	tuiEnabled bool

	v   = config.NewViper()
	cfg *config.Config

	logCloser io.Closer

	rootCmd = &cobra.Command{
		Use:   "gofm",
		Short: "Run file manager operations as background jobs",
		Long: `gofm runs copy, move, delete, rename, split, join, compare and size
operations as background jobs under a bounded concurrency budget, with
cancellation, throttled progress reporting and collision handling.`,
		SilenceUsage:       true,
		PersistentPreRunE:  initConfig,
		PersistentPostRunE: closeLogging,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	flags.StringVar(&tabContext, "tab", "cli", "Logical context the jobs are attributed to")
	flags.StringVar(&onConflict, "on-conflict", "skip", "Collision policy: skip, overwrite or rename")
	flags.BoolVar(&tuiEnabled, "tui", false, "Show the job monitor instead of logging progress")

	flags.Int("jobs", 4, "Maximum number of jobs running at once")
	flags.String("buffer-size", "1MiB", "Chunk size used to stream file content")
	flags.Bool("verify", false, "Verify copies with a CRC64 checksum")
	flags.Bool("preserve-owner", false, "Carry file ownership over to copies")
	flags.String("journal", "", "Path of the job history journal (disabled when empty)")
	flags.String("metrics-textfile", "", "Write job metrics to this file on exit")
	flags.String("log-level", "info", "Log level")
	flags.String("log-file", "", "Also write the log to this file")

	for key, flag := range map[string]string{
		config.KeyMaxJobs:         "jobs",
		config.KeyBufferSize:      "buffer-size",
		config.KeyVerifyChecksum:  "verify",
		config.KeyPreserveOwner:   "preserve-owner",
		config.KeyJournalPath:     "journal",
		config.KeyMetricsTextfile: "metrics-textfile",
		config.KeyLogLevel:        "log-level",
		config.KeyLogFile:         "log-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Errorln("Failed to bind flag", flag, ":", err)
		}
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadFrom(v, cfgFile)
	if err != nil {
		return err
	}
	logCloser, err = config.SetupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return errors.Wrap(err, "failed to set up logging")
	}
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/franksops/gofm/store"
)

var (
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List jobs recorded in the journal",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	historyPrune int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyPrune, "prune", -1, "Keep only this many finished jobs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.JournalPath == "" {
		return errors.New("no journal configured (set --journal or journal.path)")
	}
	journal, err := store.NewBoltStore(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	out := cmd.OutOrStdout()
	if historyPrune >= 0 {
		n, err := journal.Prune(historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d job(s)\n", n)
	}

	records, err := journal.ListJobs()
	if err != nil {
		return err
	}
	return printHistory(out, records, time.Now())
}

func printHistory(out io.Writer, records []*store.JobRecord, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATE\tJOB\tSTARTED\tDURATION\tBYTES\tMESSAGE")
	for _, r := range records {
		duration := "-"
		if !r.EndTime.IsZero() {
			duration = r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
		}
		message := r.Message
		if r.Error != "" {
			message = r.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.State, r.Name, r.Description,
			humanize.RelTime(r.StartTime, now, "ago", "from now"),
			duration, humanize.IBytes(uint64(r.BytesProcessed)), message)
	}
	return w.Flush()
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/metrics"
	"github.com/franksops/gofm/provider"
	"github.com/franksops/gofm/scheduler"
	"github.com/franksops/gofm/store"
	"github.com/franksops/gofm/ui"
)

// session wires the engine, the scheduler and the optional journal for one
// command invocation.
type session struct {
	out     io.Writer
	fs      *provider.LocalProvider
	engine  *engine.Engine
	sched   *scheduler.Scheduler
	journal *store.BoltStore
	log     *log.Entry

	stopSignals func()
}

func newSession(out io.Writer) (*session, error) {
	s := &session{
		out: out,
		fs:  provider.NewLocalProvider(""),
		log: log.WithField("component", "cli"),
	}
	if cfg.PreserveOwner {
		s.fs.WithMetadataMapper(provider.NewMetadataMapper())
	}
	s.engine = engine.New(s.fs,
		engine.WithBufferSize(cfg.BufferSize),
		engine.WithChecksumVerification(cfg.VerifyChecksum),
		engine.WithLogger(log.WithField("component", "engine")),
	)

	opts := []scheduler.Option{
		scheduler.WithMaxJobs(cfg.MaxJobs),
		scheduler.WithProgressInterval(cfg.ProgressInterval),
		scheduler.WithMetrics(true),
		scheduler.WithLogger(log.WithField("component", "scheduler")),
	}
	if cfg.JournalPath != "" {
		journal, err := store.NewBoltStore(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		s.journal = journal
		opts = append(opts, scheduler.WithRecorder(scheduler.NewJobRecorder(journal, scheduler.DefaultCheckpointConfig)))
	}
	s.sched = scheduler.New(opts...)

	if !tuiEnabled {
		s.sched.OnJobUpdated(s.logProgress)
	}
	s.stopSignals = s.handleResizeSignals()
	return s, nil
}

// handleResizeSignals lets SIGUSR1 and SIGUSR2 raise and lower the number of
// concurrent jobs while the command runs.
func (s *session) handleResizeSignals() func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				n := s.sched.MaxJobs()
				if sig == syscall.SIGUSR1 {
					n++
				} else {
					n = max(n-1, 1)
				}
				s.sched.SetMaxJobs(n)
				s.log.WithField("max_jobs", n).Info("Adjusted job concurrency")
			}
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func (s *session) logProgress(j *scheduler.Job) {
	if j.Status() != scheduler.StatusRunning {
		return
	}
	fields := log.Fields{
		"job":     j.Seq,
		"percent": fmt.Sprintf("%.1f", j.Percent()),
	}
	if total := j.BytesTotal(); total > 0 {
		fields["bytes"] = humanize.IBytes(uint64(j.BytesProcessed())) + "/" + humanize.IBytes(uint64(total))
	}
	if item := j.CurrentItem(); item != "" {
		fields["item"] = item
	}
	s.log.WithFields(fields).Info(j.Name)
}

func (s *session) start(name, description string, action scheduler.Action, opts ...scheduler.JobOption) *scheduler.Job {
	return s.sched.StartJob(name, description, tabContext, action, opts...)
}

// wait blocks until every job has finished, showing the monitor when enabled.
// An interrupt cancels the jobs that are still active.
func (s *session) wait(ctx context.Context, jobs ...*scheduler.Job) error {
	if tuiEnabled {
		aborted, err := ui.Run(ctx, s.sched, true)
		if err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "job monitor failed")
		}
		if aborted {
			s.cancel(jobs)
		}
	}

	for _, j := range jobs {
		if err := scheduler.Wait(ctx, j); err != nil {
			s.log.Warn("Interrupted, cancelling jobs")
			s.cancel(jobs)
			for _, j := range jobs {
				<-j.Done()
			}
			break
		}
	}

	var failures []string
	for _, j := range jobs {
		if err := s.report(j); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.New(strings.Join(failures, "; "))
	}
	return nil
}

func (s *session) cancel(jobs []*scheduler.Job) {
	for _, j := range jobs {
		s.sched.CancelJob(j.ID)
	}
}

// report prints the outcome of j and returns an error unless it completed.
func (s *session) report(j *scheduler.Job) error {
	fmt.Fprintf(s.out, "[%d] %s %s: %s (%s)\n", j.Seq, j.Name, strings.ToLower(j.Status().String()), j.Message(), j.Elapsed().Round(time.Millisecond))
	if result, ok := j.Result(); ok {
		for _, e := range result.Errors {
			s.log.WithField("job", j.Seq).Warn(e)
		}
	}

	switch j.Status() {
	case scheduler.StatusCompleted:
		return nil
	case scheduler.StatusCancelled:
		return errors.Errorf("%s cancelled", j.Name)
	default:
		return errors.Errorf("%s failed: %s", j.Name, j.Message())
	}
}

// close stops the scheduler, trims the journal and writes metrics.
func (s *session) close() {
	s.stopSignals()
	s.sched.Close()

	if s.journal != nil {
		if cfg.JournalKeep > 0 {
			if n, err := s.journal.Prune(cfg.JournalKeep); err != nil {
				s.log.WithError(err).Warn("Failed to prune job journal")
			} else if n > 0 {
				s.log.WithField("removed", n).Debug("Pruned job journal")
			}
		}
		if err := s.journal.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close job journal")
		}
	}

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			s.log.WithError(err).Warn("Failed to write metrics")
		}
	}
}

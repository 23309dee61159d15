package scheduler

import (
	"context"
	"iter"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/metrics"
)

const (
	DefaultMaxJobs          = 4
	DefaultProgressInterval = 250 * time.Millisecond

	queueSize = 1024
)

// Listener is notified of a job lifecycle event. Listeners run synchronously
// on the goroutine that caused the event and must not block.
type Listener func(*Job)

// Scheduler owns the job table and runs jobs on a bounded worker pool.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	queue chan *Job
	pool  *workerPool
	seq   atomic.Int64

	progressInterval time.Duration
	metrics          bool
	log              *log.Entry

	mu   sync.RWMutex
	jobs map[string]*Job

	listenerMu sync.RWMutex
	started    []Listener
	updated    []Listener
	completed  []Listener

	closeOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxJobs sets how many jobs may run at once.
func WithMaxJobs(n int) Option {
	return func(s *Scheduler) {
		s.pool.SetWorkerCount(max(n, 1))
	}
}

// WithProgressInterval sets the minimum time between two forwarded progress
// updates of one job.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.progressInterval = d
	}
}

// WithRecorder journals every job through r.
func WithRecorder(r *JobRecorder) Option {
	return func(s *Scheduler) {
		r.Attach(s)
	}
}

// WithLogger sets the logger used for job lifecycle messages.
func WithLogger(entry *log.Entry) Option {
	return func(s *Scheduler) {
		s.log = entry
	}
}

// WithMetrics enables the prometheus job collectors.
func WithMetrics(enabled bool) Option {
	return func(s *Scheduler) {
		s.metrics = enabled
	}
}

// New creates a Scheduler and starts its workers.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:              ctx,
		cancel:           cancel,
		queue:            make(chan *Job, queueSize),
		progressInterval: DefaultProgressInterval,
		log:              log.WithField("component", "scheduler"),
		jobs:             make(map[string]*Job),
	}
	s.pool = newWorkerPool(ctx, s.queue, s.run)
	s.pool.SetWorkerCount(DefaultMaxJobs)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMaxJobs changes the number of jobs allowed to run at once. Lowering it
// lets running jobs finish; they are not interrupted.
func (s *Scheduler) SetMaxJobs(n int) {
	s.pool.SetWorkerCount(max(n, 1))
}

// MaxJobs returns the number of jobs allowed to run at once.
func (s *Scheduler) MaxJobs() int {
	return s.pool.WorkerCount()
}

func (s *Scheduler) OnJobStarted(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.started = append(s.started, l)
}

func (s *Scheduler) OnJobUpdated(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.updated = append(s.updated, l)
}

func (s *Scheduler) OnJobCompleted(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.completed = append(s.completed, l)
}

func (s *Scheduler) fire(listeners *[]Listener, j *Job) {
	s.listenerMu.RLock()
	ls := slices.Clone(*listeners)
	s.listenerMu.RUnlock()
	for _, l := range ls {
		l(j)
	}
}

// StartJob registers a new Pending job and queues action to run once a
// worker is free. "Started" listeners are notified before StartJob returns.
func (s *Scheduler) StartJob(name, description, tabContext string, action Action, opts ...JobOption) *Job {
	ctx, cancel := context.WithCancel(s.ctx)
	j := &Job{
		ID:          uuid.NewString(),
		Seq:         s.seq.Inc(),
		Name:        name,
		Description: description,
		TabContext:  tabContext,
		StartTime:   time.Now(),
		related:     make(map[string]struct{}),
		action:      action,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.message.Store("Queued")

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.jobLog(j).Debug("Job queued")
	if s.metrics {
		metrics.JobStarted(j.Name)
	}
	s.fire(&s.started, j)

	if s.ctx.Err() != nil {
		s.cancelPending(j, "Scheduler closed")
		return j
	}
	s.enqueue(j)
	return j
}

func (s *Scheduler) enqueue(j *Job) {
	select {
	case s.queue <- j:
		return
	default:
	}

	// The queue is full. Hand the job over from a goroutine so StartJob
	// never blocks; ordering against other overflowed jobs is not kept.
	go func() {
		select {
		case s.queue <- j:
		case <-s.ctx.Done():
			s.cancelPending(j, "Scheduler closed")
		}
	}()
}

func (s *Scheduler) jobLog(j *Job) *log.Entry {
	return s.log.WithFields(log.Fields{"job": j.Seq, "name": j.Name})
}

// run executes one job on a worker.
func (s *Scheduler) run(j *Job) {
	if !j.transition(StatusPending, StatusRunning) {
		// Cancelled while queued; already finalized.
		return
	}
	j.ran.Store(true)
	j.message.Store("Running")
	logger := s.jobLog(j)
	logger.Info("Job started")
	if s.metrics {
		metrics.JobRunning()
	}
	s.fire(&s.updated, j)

	result, err := s.invoke(j, logger)

	// The last progress report is always forwarded, whatever the throttle
	// let through before.
	s.fire(&s.updated, j)
	s.finish(j, result, err)
}

// invoke calls the job action, turning a panic into an error.
func (s *Scheduler) invoke(j *Job, logger *log.Entry) (result engine.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Job panicked: %v\n%s", r, debug.Stack())
			err = errors.Errorf("panic: %v", r)
		}
	}()

	forward := func() { s.fire(&s.updated, j) }
	throttle := &rate.Sometimes{Interval: s.progressInterval}
	return j.action(j.ctx, func(p engine.Progress) {
		j.apply(p)
		if s.progressInterval <= 0 {
			forward()
			return
		}
		throttle.Do(forward)
	})
}

// finish moves a job that ran to its terminal state.
func (s *Scheduler) finish(j *Job, result engine.OperationResult, err error) {
	target := StatusCompleted
	switch {
	case j.ctx.Err() != nil || result.Cancelled:
		target = StatusCancelled
	case err != nil:
		target = StatusFailed
	case !result.Success:
		target = StatusFailed
		err = errors.New(result.Message)
		if result.Message == "" {
			err = errors.New("operation failed")
		}
	}
	if !j.transition(StatusRunning, target) {
		// CancelJob got there first.
		target = j.Status()
	}

	switch target {
	case StatusCompleted:
		j.percent.Store(100)
		j.message.Store(result.Message)
	case StatusFailed:
		j.message.Store(err.Error())
	case StatusCancelled:
		msg := "Cancelled"
		if result.Message != "" {
			msg = result.Message
		}
		j.message.Store(msg)
		err = nil
	}
	s.settle(j, &result, err)
}

// cancelPending finalizes a job that never got a worker.
func (s *Scheduler) cancelPending(j *Job, message string) bool {
	if !j.transition(StatusPending, StatusCancelled) {
		return false
	}
	j.message.Store(message)
	s.settle(j, nil, nil)
	return true
}

func (s *Scheduler) settle(j *Job, result *engine.OperationResult, err error) {
	if !j.end(result, err) {
		return
	}

	logger := s.jobLog(j).WithFields(log.Fields{"status": j.Status(), "elapsed": j.Elapsed().Round(time.Millisecond)})
	switch j.Status() {
	case StatusFailed:
		logger.Warnf("Job failed: %s", j.Message())
	default:
		logger.Infof("Job finished: %s", j.Message())
	}

	if s.metrics {
		var bytes int64
		if result != nil {
			bytes = result.BytesProcessed
		}
		metrics.JobFinished(j.Name, j.Status().String(), j.Elapsed(), bytes, j.ran.Load())
	}
	s.fire(&s.completed, j)
	close(j.done)
}

// CancelJob requests cancellation of an active job. A Pending job becomes
// Cancelled at once and never runs. A Running job is marked Cancelled
// immediately and its action is signalled; it is finalized when the action
// returns. CancelJob reports whether the job was active.
func (s *Scheduler) CancelJob(id string) bool {
	j, ok := s.Job(id)
	if !ok {
		return false
	}

	if s.cancelPending(j, "Cancelled before start") {
		return true
	}
	if j.transition(StatusRunning, StatusCancelled) {
		s.jobLog(j).Info("Cancelling running job")
		j.message.Store("Cancelling")
		j.cancel()
		s.fire(&s.updated, j)
		return true
	}
	return false
}

// Job looks a job up by id.
func (s *Scheduler) Job(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// AllJobs returns every job ordered by start time.
func (s *Scheduler) AllJobs() []*Job {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return int(a.Seq - b.Seq)
	})
	return jobs
}

// ActiveJobs returns the Pending and Running jobs ordered by start time.
func (s *Scheduler) ActiveJobs() []*Job {
	return slices.DeleteFunc(s.AllJobs(), func(j *Job) bool {
		return !j.IsActive()
	})
}

// IsTabBusy reports whether tabContext has an active job.
func (s *Scheduler) IsTabBusy(tabContext string) bool {
	return s.ActiveJobCount(tabContext) > 0
}

// ActiveJobCount counts the active jobs of tabContext. An empty tabContext
// counts all active jobs.
func (s *Scheduler) ActiveJobCount(tabContext string) int {
	n := 0
	for _, j := range s.ActiveJobs() {
		if tabContext == "" || j.TabContext == tabContext {
			n++
		}
	}
	return n
}

// BusyPaths yields the current item and the related paths of every active
// job. A path may be yielded more than once. The set is advisory: jobs keep
// running while it is enumerated.
func (s *Scheduler) BusyPaths() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, j := range s.ActiveJobs() {
			if item := j.CurrentItem(); item != "" {
				if !yield(item) {
					return
				}
			}
			for _, p := range j.RelatedPaths() {
				if !yield(p) {
					return
				}
			}
		}
	}
}

// Wait blocks until j has reached a terminal state or ctx is done.
func Wait(ctx context.Context, j *Job) error {
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every active job, waits for running actions to return and
// stops the workers. Jobs started afterwards are cancelled immediately.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		for _, j := range s.ActiveJobs() {
			s.CancelJob(j.ID)
		}
		s.cancel()
		s.pool.Stop()
	})
}

package scheduler_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/scheduler"
)

const waitFor = 5 * time.Second

func newScheduler(t *testing.T, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(opts...)
	t.Cleanup(s.Close)
	return s
}

func wait(t *testing.T, j *scheduler.Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, scheduler.Wait(ctx, j), "job %s did not finish", j.Name)
}

// gate is an action that blocks until released or cancelled.
type gate struct {
	release chan struct{}
	running *atomic.Int32
	peak    *atomic.Int32
	ran     *atomic.Int32
}

func newGate() *gate {
	return &gate{
		release: make(chan struct{}),
		running: atomic.NewInt32(0),
		peak:    atomic.NewInt32(0),
		ran:     atomic.NewInt32(0),
	}
}

func (g *gate) action(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
	g.ran.Inc()
	n := g.running.Inc()
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer g.running.Dec()

	select {
	case <-g.release:
		return engine.OperationResult{Success: true, Message: "done", FilesProcessed: 1}, nil
	case <-ctx.Done():
		return engine.OperationResult{Cancelled: true, Message: "Cancelled: Copied 0 files"}, nil
	}
}

func succeed(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
	return engine.OperationResult{Success: true, Message: "Copied 1 file", FilesProcessed: 1}, nil
}

func TestStartJob_Completes(t *testing.T) {
	s := newScheduler(t)

	var started, completed atomic.Int32
	var startedStatus atomic.Int32
	s.OnJobStarted(func(j *scheduler.Job) {
		started.Inc()
		startedStatus.Store(int32(j.Status()))
	})
	s.OnJobCompleted(func(j *scheduler.Job) { completed.Inc() })

	j := s.StartJob("copy", "copy one file", "left", succeed, scheduler.WithSourcePath("/a"), scheduler.WithDestinationPath("/b"))
	assert.Equal(t, int32(1), started.Load(), "started listeners run before StartJob returns")
	assert.Equal(t, int32(scheduler.StatusPending), startedStatus.Load())

	wait(t, j)
	assert.Equal(t, scheduler.StatusCompleted, j.Status())
	assert.Equal(t, 100.0, j.Percent())
	assert.Equal(t, "Copied 1 file", j.Message())
	assert.False(t, j.EndTime().IsZero())
	assert.Equal(t, int32(1), completed.Load())
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, "/a", j.SourcePath)

	res, ok := j.Result()
	require.True(t, ok)
	assert.Equal(t, 1, res.FilesProcessed)
}

func TestConcurrencyLimit(t *testing.T) {
	s := newScheduler(t, scheduler.WithMaxJobs(2))
	g := newGate()

	var jobs []*scheduler.Job
	for i := 0; i < 6; i++ {
		jobs = append(jobs, s.StartJob("copy", "", "", g.action))
	}

	require.Eventually(t, func() bool { return g.running.Load() == 2 }, waitFor, 5*time.Millisecond)
	// Give a third worker the chance to show up if the limit were broken.
	time.Sleep(50 * time.Millisecond)

	running := 0
	for _, j := range s.ActiveJobs() {
		if j.Status() == scheduler.StatusRunning {
			running++
		}
	}
	assert.Equal(t, 2, running)
	assert.Equal(t, 6, s.ActiveJobCount(""))

	close(g.release)
	for _, j := range jobs {
		wait(t, j)
		assert.Equal(t, scheduler.StatusCompleted, j.Status())
	}
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
	assert.Equal(t, int32(6), g.ran.Load())
}

func TestCancelJob_Pending(t *testing.T) {
	s := newScheduler(t, scheduler.WithMaxJobs(1))
	blocker := newGate()
	a := s.StartJob("copy", "", "", blocker.action)
	require.Eventually(t, func() bool { return a.Status() == scheduler.StatusRunning }, waitFor, 5*time.Millisecond)

	pending := newGate()
	b := s.StartJob("delete", "", "", pending.action)
	require.Equal(t, scheduler.StatusPending, b.Status())

	assert.True(t, s.CancelJob(b.ID))
	assert.Equal(t, scheduler.StatusCancelled, b.Status())
	assert.False(t, b.EndTime().IsZero())
	wait(t, b)

	close(blocker.release)
	wait(t, a)

	// Let the worker dequeue the cancelled job.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, pending.ran.Load(), "a job cancelled while pending never runs")
	assert.Equal(t, scheduler.StatusCancelled, b.Status())
	_, ok := b.Result()
	assert.False(t, ok)

	assert.False(t, s.CancelJob(b.ID), "cancelling a finished job is a no-op")
	assert.False(t, s.CancelJob("unknown"))
}

func TestCancelJob_Running(t *testing.T) {
	s := newScheduler(t)
	g := newGate()
	j := s.StartJob("copy", "", "", g.action)
	require.Eventually(t, func() bool { return g.running.Load() == 1 }, waitFor, 5*time.Millisecond)

	require.True(t, s.CancelJob(j.ID))
	assert.Equal(t, scheduler.StatusCancelled, j.Status(), "status is set optimistically")

	wait(t, j)
	assert.Equal(t, scheduler.StatusCancelled, j.Status())
	assert.Equal(t, "Cancelled: Copied 0 files", j.Message())
	assert.NoError(t, j.Err())
}

func TestPermitReleasedAfterTerminal(t *testing.T) {
	cases := []struct {
		name   string
		action scheduler.Action
		status scheduler.Status
	}{
		{"completed", succeed, scheduler.StatusCompleted},
		{"failed", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			return engine.OperationResult{}, errors.New("disk full")
		}, scheduler.StatusFailed},
		{"panicked", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
			panic("boom")
		}, scheduler.StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newScheduler(t, scheduler.WithMaxJobs(1))
			g := newGate()
			first := s.StartJob("first", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
				<-g.release
				return tc.action(ctx, progress)
			})
			second := s.StartJob("second", "", "", succeed)

			require.Eventually(t, func() bool { return first.Status() == scheduler.StatusRunning }, waitFor, 5*time.Millisecond)
			assert.Equal(t, scheduler.StatusPending, second.Status())

			close(g.release)
			wait(t, first)
			assert.Equal(t, tc.status, first.Status())

			wait(t, second)
			assert.Equal(t, scheduler.StatusCompleted, second.Status())
		})
	}
}

func TestFailedJobMessage(t *testing.T) {
	s := newScheduler(t)

	j := s.StartJob("copy", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		return engine.OperationResult{}, engine.ErrDestinationNotFound
	})
	wait(t, j)
	assert.Equal(t, scheduler.StatusFailed, j.Status())
	assert.Equal(t, engine.ErrDestinationNotFound.Error(), j.Message())
	assert.ErrorIs(t, j.Err(), engine.ErrDestinationNotFound)

	p := s.StartJob("copy", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		panic("boom")
	})
	wait(t, p)
	assert.Equal(t, scheduler.StatusFailed, p.Status())
	assert.Equal(t, "panic: boom", p.Message())

	u := s.StartJob("delete", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		return engine.OperationResult{Success: false, Message: "Deleted 0 files, 1 error"}, nil
	})
	wait(t, u)
	assert.Equal(t, scheduler.StatusFailed, u.Status())
	assert.Equal(t, "Deleted 0 files, 1 error", u.Message())
}

func TestProgressThrottling(t *testing.T) {
	s := newScheduler(t, scheduler.WithProgressInterval(time.Hour))

	var mu sync.Mutex
	var forwarded []int64
	s.OnJobUpdated(func(j *scheduler.Job) {
		mu.Lock()
		forwarded = append(forwarded, j.BytesProcessed())
		mu.Unlock()
	})

	j := s.StartJob("copy", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		for i := int64(1); i <= 100; i++ {
			progress(engine.Progress{Percent: float64(i), BytesProcessed: i, BytesTotal: 100, CurrentItem: "/src/f"})
		}
		return engine.OperationResult{Success: true, Message: "ok", BytesProcessed: 100}, nil
	})
	wait(t, j)

	mu.Lock()
	defer mu.Unlock()
	// Admission, the first report, and the final forward after the action.
	assert.Equal(t, []int64{0, 1, 100}, forwarded)
	assert.EqualValues(t, 100, j.BytesProcessed())
	assert.EqualValues(t, 100, j.BytesTotal())
}

func TestBusyPathsAndTabs(t *testing.T) {
	s := newScheduler(t)
	g := newGate()

	j := s.StartJob("copy", "", "left", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		progress(engine.Progress{CurrentItem: "/src/a.txt", DestinationItem: "/dst/sub/a.txt"})
		return g.action(ctx, progress)
	}, scheduler.WithSourcePath("/src"), scheduler.WithDestinationPath("/dst"), scheduler.WithRelatedPaths("/extra"))

	require.Eventually(t, func() bool { return g.running.Load() == 1 }, waitFor, 5*time.Millisecond)

	assert.True(t, s.IsTabBusy("left"))
	assert.False(t, s.IsTabBusy("right"))
	assert.Equal(t, 1, s.ActiveJobCount("left"))
	assert.Zero(t, s.ActiveJobCount("right"))

	busy := slices.Collect(s.BusyPaths())
	assert.Contains(t, busy, "/src/a.txt")
	assert.Contains(t, busy, "/src")
	assert.Contains(t, busy, "/dst")
	assert.Contains(t, busy, "/dst/sub")
	assert.Contains(t, busy, "/extra")

	// Early termination of the iterator.
	for range s.BusyPaths() {
		break
	}

	close(g.release)
	wait(t, j)
	assert.False(t, s.IsTabBusy("left"))
	assert.Empty(t, slices.Collect(s.BusyPaths()))
}

func TestAllJobsOrderedByStart(t *testing.T) {
	s := newScheduler(t, scheduler.WithMaxJobs(1))
	a := s.StartJob("a", "", "", succeed)
	b := s.StartJob("b", "", "", succeed)
	c := s.StartJob("c", "", "", succeed)
	wait(t, a)
	wait(t, b)
	wait(t, c)

	all := s.AllJobs()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})
	assert.Less(t, all[0].Seq, all[1].Seq)
	assert.Empty(t, s.ActiveJobs())

	got, ok := s.Job(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestSetMaxJobs(t *testing.T) {
	s := newScheduler(t, scheduler.WithMaxJobs(1))
	assert.Equal(t, 1, s.MaxJobs())

	g := newGate()
	for i := 0; i < 3; i++ {
		s.StartJob("copy", "", "", g.action)
	}
	require.Eventually(t, func() bool { return g.running.Load() == 1 }, waitFor, 5*time.Millisecond)

	s.SetMaxJobs(3)
	assert.Equal(t, 3, s.MaxJobs())
	require.Eventually(t, func() bool { return g.running.Load() == 3 }, waitFor, 5*time.Millisecond)

	s.SetMaxJobs(0)
	assert.Equal(t, 1, s.MaxJobs(), "at least one job can always run")
	close(g.release)
}

func TestSetMaxJobs_LowerThenRaiseKeepsLimit(t *testing.T) {
	s := newScheduler(t, scheduler.WithMaxJobs(2))
	g := newGate()
	var jobs []*scheduler.Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, s.StartJob("copy", "", "", g.action))
	}
	require.Eventually(t, func() bool { return g.running.Load() == 2 }, waitFor, 5*time.Millisecond)

	s.SetMaxJobs(1)
	s.SetMaxJobs(2)
	assert.Equal(t, 2, s.MaxJobs())
	assert.Never(t, func() bool { return g.running.Load() > 2 }, 100*time.Millisecond, 5*time.Millisecond)

	close(g.release)
	for _, j := range jobs {
		wait(t, j)
		assert.Equal(t, scheduler.StatusCompleted, j.Status())
	}
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
	assert.Equal(t, int32(5), g.ran.Load())
}

func TestClose(t *testing.T) {
	s := scheduler.New()
	g := newGate()
	j := s.StartJob("copy", "", "", g.action)
	require.Eventually(t, func() bool { return g.running.Load() == 1 }, waitFor, 5*time.Millisecond)

	s.Close()
	assert.Equal(t, scheduler.StatusCancelled, j.Status())
	assert.False(t, j.EndTime().IsZero())

	late := s.StartJob("copy", "", "", succeed)
	assert.Equal(t, scheduler.StatusCancelled, late.Status())
	s.Close()
}

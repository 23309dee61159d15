package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/franksops/gofm/engine"
)

// Status is the lifecycle state of a Job. It only moves forward:
// Pending -> Running -> Completed|Failed|Cancelled, or Pending -> Cancelled.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// IsActive reports whether the job has not reached a terminal state.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Action is the work a job performs. It must honor ctx and may report
// progress through the given sink.
type Action func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error)

// Job is one tracked unit of background work. Identity fields are fixed at
// creation. Everything else is written by the job's worker (and by
// cancellation) and read through the accessor methods, which are safe for
// concurrent use.
type Job struct {
	ID              string
	Seq             int64
	Name            string
	Description     string
	TabContext      string
	SourcePath      string
	DestinationPath string
	StartTime       time.Time

	status          atomic.Int32
	percent         atomic.Float64
	message         atomic.String
	currentItem     atomic.String
	destinationItem atomic.String
	bytesProcessed  atomic.Int64
	bytesTotal      atomic.Int64
	endTime         atomic.Time
	finished        atomic.Bool
	ran             atomic.Bool

	mu      sync.Mutex
	related map[string]struct{}
	result  *engine.OperationResult
	err     error

	action Action
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// JobOption sets optional fields of a new job.
type JobOption func(*Job)

// WithSourcePath records the main input of the job.
func WithSourcePath(path string) JobOption {
	return func(j *Job) {
		j.SourcePath = path
		if path != "" {
			j.related[path] = struct{}{}
		}
	}
}

// WithDestinationPath records the main output of the job.
func WithDestinationPath(path string) JobOption {
	return func(j *Job) {
		j.DestinationPath = path
		if path != "" {
			j.related[path] = struct{}{}
		}
	}
}

// WithRelatedPaths adds paths the job touches to its busy set.
func WithRelatedPaths(paths ...string) JobOption {
	return func(j *Job) {
		for _, p := range paths {
			if p != "" {
				j.related[p] = struct{}{}
			}
		}
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status { return Status(j.status.Load()) }

// IsActive reports whether the job is Pending or Running.
func (j *Job) IsActive() bool { return j.Status().IsActive() }

func (j *Job) Percent() float64 { return j.percent.Load() }

func (j *Job) Message() string { return j.message.Load() }

func (j *Job) CurrentItem() string { return j.currentItem.Load() }

func (j *Job) DestinationItem() string { return j.destinationItem.Load() }

func (j *Job) BytesProcessed() int64 { return j.bytesProcessed.Load() }

func (j *Job) BytesTotal() int64 { return j.bytesTotal.Load() }

// EndTime returns the time of the terminal transition, or the zero time.
func (j *Job) EndTime() time.Time { return j.endTime.Load() }

// Done is closed once the job has reached a terminal state and the
// completion listeners have returned.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) transition(from, to Status) bool {
	return j.status.CompareAndSwap(int32(from), int32(to))
}

// Elapsed returns the running time of the job, up to now for an active job.
func (j *Job) Elapsed() time.Duration {
	if end := j.EndTime(); !end.IsZero() {
		return end.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// RelatedPaths returns a sorted copy of the paths the job touches.
func (j *Job) RelatedPaths() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	paths := make([]string, 0, len(j.related))
	for p := range j.related {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// AddRelatedPath adds path to the busy set of the job.
func (j *Job) AddRelatedPath(path string) {
	if path == "" {
		return
	}
	j.mu.Lock()
	j.related[path] = struct{}{}
	j.mu.Unlock()
}

// Result returns the outcome of the action once the job has finished. The
// bool is false while the job is active or when it never ran.
func (j *Job) Result() (engine.OperationResult, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return engine.OperationResult{}, false
	}
	return *j.result, true
}

// Err returns the error of a failed job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// apply copies a progress report into the job.
func (j *Job) apply(p engine.Progress) {
	j.percent.Store(p.Percent)
	if p.Message != "" {
		j.message.Store(p.Message)
	}
	j.currentItem.Store(p.CurrentItem)
	j.destinationItem.Store(p.DestinationItem)
	j.bytesProcessed.Store(p.BytesProcessed)
	if p.BytesTotal > 0 {
		j.bytesTotal.Store(p.BytesTotal)
	}
	if p.DestinationItem != "" {
		j.AddRelatedPath(filepath.Dir(p.DestinationItem))
	}
}

// end stamps the end time. It reports false if the job had already ended.
func (j *Job) end(result *engine.OperationResult, err error) bool {
	if !j.finished.CompareAndSwap(false, true) {
		return false
	}
	j.mu.Lock()
	j.result = result
	j.err = err
	j.mu.Unlock()
	j.endTime.Store(time.Now())
	j.cancel()
	return true
}

// Snapshot is a consistent-enough plain copy of a Job for display and
// journaling. Each field is read atomically on its own.
type Snapshot struct {
	ID              string
	Seq             int64
	Name            string
	Description     string
	TabContext      string
	SourcePath      string
	DestinationPath string
	Status          Status
	Percent         float64
	Message         string
	CurrentItem     string
	DestinationItem string
	BytesProcessed  int64
	BytesTotal      int64
	RelatedPaths    []string
	StartTime       time.Time
	EndTime         time.Time
	Error           string
}

// Snapshot copies the current state of the job.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:              j.ID,
		Seq:             j.Seq,
		Name:            j.Name,
		Description:     j.Description,
		TabContext:      j.TabContext,
		SourcePath:      j.SourcePath,
		DestinationPath: j.DestinationPath,
		Status:          j.Status(),
		Percent:         j.Percent(),
		Message:         j.Message(),
		CurrentItem:     j.CurrentItem(),
		DestinationItem: j.DestinationItem(),
		BytesProcessed:  j.BytesProcessed(),
		BytesTotal:      j.BytesTotal(),
		RelatedPaths:    j.RelatedPaths(),
		StartTime:       j.StartTime,
		EndTime:         j.EndTime(),
	}
	if err := j.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

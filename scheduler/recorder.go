package scheduler

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/franksops/gofm/store"
)

// CheckpointConfig defines when a running job's progress is written to the
// journal.
type CheckpointConfig struct {
	// BytesInterval triggers a save after this many bytes have been processed
	BytesInterval int64
	// TimeInterval triggers a save after this much time has passed
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 64 * 1024 * 1024, // 64 MB
	TimeInterval:  5 * time.Second,
}

type checkpoint struct {
	status Status
	bytes  int64
	at     time.Time
}

// JobRecorder journals job lifecycle transitions to a store. Journal writes
// never affect the job: failures are logged and dropped.
type JobRecorder struct {
	store  store.Store
	config CheckpointConfig
	log    *log.Entry

	// mu is held across snapshot and write so records of one job reach the
	// store in the order they were taken.
	mu    sync.Mutex
	saved map[string]checkpoint
}

// NewJobRecorder creates a JobRecorder writing to s.
func NewJobRecorder(s store.Store, config CheckpointConfig) *JobRecorder {
	return &JobRecorder{
		store:  s,
		config: config,
		log:    log.WithField("component", "journal"),
		saved:  make(map[string]checkpoint),
	}
}

// Attach subscribes the recorder to the lifecycle events of s.
func (r *JobRecorder) Attach(s *Scheduler) {
	s.OnJobStarted(r.Started)
	s.OnJobUpdated(r.Updated)
	s.OnJobCompleted(r.Completed)
}

// Started records a newly queued job.
func (r *JobRecorder) Started(j *Job) {
	r.save(j)
}

// Updated records a status change at once and progress at checkpoint
// intervals.
func (r *JobRecorder) Updated(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, seen := r.saved[j.ID]
	due := !seen ||
		j.Status() != last.status ||
		j.BytesProcessed()-last.bytes >= r.config.BytesInterval ||
		time.Since(last.at) >= r.config.TimeInterval
	if due {
		r.saveLocked(j)
	}
}

// Completed records the terminal state and forgets the job.
func (r *JobRecorder) Completed(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked(j)
	delete(r.saved, j.ID)
}

func (r *JobRecorder) save(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked(j)
}

func (r *JobRecorder) saveLocked(j *Job) {
	snap := j.Snapshot()
	if err := r.store.SaveJob(RecordOf(snap)); err != nil {
		r.log.WithField("job", snap.Seq).Warnf("Failed to journal job: %v", err)
		return
	}
	if snap.Status.IsActive() {
		r.saved[j.ID] = checkpoint{status: snap.Status, bytes: snap.BytesProcessed, at: time.Now()}
	}
}

// RecordOf converts a job snapshot to its journal form.
func RecordOf(s Snapshot) *store.JobRecord {
	return &store.JobRecord{
		ID:              s.ID,
		Seq:             s.Seq,
		Name:            s.Name,
		Description:     s.Description,
		TabContext:      s.TabContext,
		SourcePath:      s.SourcePath,
		DestinationPath: s.DestinationPath,
		State:           stateOf(s.Status),
		Percent:         s.Percent,
		Message:         s.Message,
		BytesProcessed:  s.BytesProcessed,
		BytesTotal:      s.BytesTotal,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Error:           s.Error,
	}
}

func stateOf(s Status) store.JobState {
	switch s {
	case StatusRunning:
		return store.StateRunning
	case StatusCompleted:
		return store.StateCompleted
	case StatusFailed:
		return store.StateFailed
	case StatusCancelled:
		return store.StateCancelled
	default:
		return store.StatePending
	}
}

package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	// ErrJobNotFound is returned when a job is not found in the journal.
	ErrJobNotFound = errors.New("job not found")
)

var (
	jobsBucket = []byte("jobs")
)

// JobState is the lifecycle state of a recorded job.
type JobState string

const (
	StatePending   JobState = "Pending"
	StateRunning   JobState = "Running"
	StateCompleted JobState = "Completed"
	StateFailed    JobState = "Failed"
	StateCancelled JobState = "Cancelled"
)

// JobRecord is the journaled view of a job.
type JobRecord struct {
	ID              string    `json:"id"`
	Seq             int64     `json:"seq"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	TabContext      string    `json:"tab_context,omitempty"`
	SourcePath      string    `json:"source_path,omitempty"`
	DestinationPath string    `json:"destination_path,omitempty"`
	State           JobState  `json:"state"`
	Percent         float64   `json:"percent"`
	Message         string    `json:"message,omitempty"`
	BytesProcessed  int64     `json:"bytes_processed"`
	BytesTotal      int64     `json:"bytes_total"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Store is a journal of job records.
type Store interface {
	SaveJob(job *JobRecord) error
	GetJob(id string) (*JobRecord, error)
	ListJobs() ([]*JobRecord, error)
	Close() error
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the journal at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bbolt database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create jobs bucket")
	}

	return &BoltStore{db: db}, nil
}

// SaveJob inserts or replaces a job record.
func (s *BoltStore) SaveJob(job *JobRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)

		data, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "failed to marshal job")
		}

		if err := b.Put([]byte(job.ID), data); err != nil {
			return errors.Wrap(err, "failed to put job")
		}
		return nil
	})
}

// GetJob retrieves a job record by id.
func (s *BoltStore) GetJob(id string) (*JobRecord, error) {
	var job JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(id))
		if data == nil {
			return errors.Wrap(ErrJobNotFound, id)
		}

		if err := json.Unmarshal(data, &job); err != nil {
			return errors.Wrap(err, "failed to unmarshal job")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// ListJobs returns every record ordered by start time, oldest first.
func (s *BoltStore) ListJobs() ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			var job JobRecord
			if err := json.Unmarshal(v, &job); err != nil {
				return errors.Wrapf(err, "failed to unmarshal job %s", k)
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].StartTime.Equal(jobs[j].StartTime) {
			return jobs[i].Seq < jobs[j].Seq
		}
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs, nil
}

// Prune deletes all but the newest keep records. It returns the number of
// records removed.
func (s *BoltStore) Prune(keep int) (int, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(jobs) <= keep {
		return 0, nil
	}

	stale := jobs[:len(jobs)-keep]
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		for _, job := range stale {
			if err := b.Delete([]byte(job.ID)); err != nil {
				return errors.Wrapf(err, "failed to delete job %s", job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

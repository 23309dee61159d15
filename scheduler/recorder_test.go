package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gofm/engine"
	"github.com/franksops/gofm/scheduler"
	"github.com/franksops/gofm/store"
)

// mockStore keeps every saved record, in order.
type mockStore struct {
	mu      sync.Mutex
	history []store.JobRecord
	fail    bool
}

func (m *mockStore) SaveJob(job *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("journal unavailable")
	}
	m.history = append(m.history, *job)
	return nil
}

func (m *mockStore) GetJob(id string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			rec := m.history[i]
			return &rec, nil
		}
	}
	return nil, store.ErrJobNotFound
}

func (m *mockStore) ListJobs() ([]*store.JobRecord, error) { return nil, nil }

func (m *mockStore) Close() error { return nil }

func (m *mockStore) states(id string) []store.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []store.JobState
	for _, rec := range m.history {
		if rec.ID != id {
			continue
		}
		if len(states) == 0 || states[len(states)-1] != rec.State {
			states = append(states, rec.State)
		}
	}
	return states
}

func TestJobRecorder_Lifecycle(t *testing.T) {
	ms := &mockStore{}
	rec := scheduler.NewJobRecorder(ms, scheduler.DefaultCheckpointConfig)
	s := newScheduler(t, scheduler.WithRecorder(rec))

	j := s.StartJob("copy", "copy a", "left", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		progress(engine.Progress{Percent: 50, BytesProcessed: 10, BytesTotal: 20})
		return engine.OperationResult{Success: true, Message: "Copied 1 file", BytesProcessed: 20}, nil
	}, scheduler.WithSourcePath("/src/a"), scheduler.WithDestinationPath("/dst"))
	wait(t, j)

	assert.Equal(t, []store.JobState{store.StatePending, store.StateRunning, store.StateCompleted}, ms.states(j.ID))

	last, err := ms.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "copy", last.Name)
	assert.Equal(t, "/src/a", last.SourcePath)
	assert.Equal(t, "Copied 1 file", last.Message)
	assert.Equal(t, 100.0, last.Percent)
	assert.False(t, last.EndTime.IsZero())
}

func TestJobRecorder_FailureAndCancel(t *testing.T) {
	ms := &mockStore{}
	rec := scheduler.NewJobRecorder(ms, scheduler.DefaultCheckpointConfig)
	s := newScheduler(t, scheduler.WithRecorder(rec), scheduler.WithMaxJobs(1))

	g := newGate()
	blocker := s.StartJob("copy", "", "", g.action)
	queued := s.StartJob("move", "", "", succeed)
	require.True(t, s.CancelJob(queued.ID))

	close(g.release)
	wait(t, blocker)
	wait(t, queued)

	failing := s.StartJob("split", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		return engine.OperationResult{}, engine.ErrInvalidPartSize
	})
	wait(t, failing)

	assert.Equal(t, []store.JobState{store.StatePending, store.StateCancelled}, ms.states(queued.ID))

	last, err := ms.GetJob(failing.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, last.State)
	assert.Equal(t, engine.ErrInvalidPartSize.Error(), last.Error)
}

func TestJobRecorder_StoreErrorsDoNotFailJobs(t *testing.T) {
	ms := &mockStore{fail: true}
	rec := scheduler.NewJobRecorder(ms, scheduler.DefaultCheckpointConfig)
	s := newScheduler(t, scheduler.WithRecorder(rec))

	j := s.StartJob("copy", "", "", succeed)
	wait(t, j)
	assert.Equal(t, scheduler.StatusCompleted, j.Status())
}

func TestJobRecorder_BoltJournal(t *testing.T) {
	bs, err := store.NewBoltStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer bs.Close()

	rec := scheduler.NewJobRecorder(bs, scheduler.CheckpointConfig{BytesInterval: 1, TimeInterval: time.Hour})
	s := newScheduler(t, scheduler.WithRecorder(rec), scheduler.WithProgressInterval(0))

	j := s.StartJob("copy", "", "", func(ctx context.Context, progress engine.ProgressFunc) (engine.OperationResult, error) {
		for i := int64(1); i <= 3; i++ {
			progress(engine.Progress{BytesProcessed: i * 10, BytesTotal: 30})
		}
		return engine.OperationResult{Success: true, Message: "Copied 3 files", BytesProcessed: 30}, nil
	})
	wait(t, j)

	got, err := bs.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, got.State)
	assert.EqualValues(t, 30, got.BytesProcessed)
	assert.EqualValues(t, 30, got.BytesTotal)

	jobs, err := bs.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.Seq, jobs[0].Seq)
}

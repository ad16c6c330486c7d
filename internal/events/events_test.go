package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	events     []types.Event
	logs       []types.Log
	jobs       map[string]*types.Job
	createErr  error
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[string]*types.Job{}} }

func (s *fakeStore) CreateJob(*types.Job) error                 { return nil }
func (s *fakeStore) GetJob(string) (*types.Job, error)          { return nil, store.ErrNotFound }
func (s *fakeStore) UpdateJob(job *types.Job) error {
	s.jobs[job.ID] = job
	return nil
}
func (s *fakeStore) ListJobsByHPC(string) ([]*types.Job, error) { return nil, nil }

func (s *fakeStore) CreateFolder(*types.Folder) error          { return nil }
func (s *fakeStore) GetFolder(string) (*types.Folder, error)   { return nil, store.ErrNotFound }
func (s *fakeStore) DeleteFolder(string) error                 { return nil }

func (s *fakeStore) GetCache(string, string) (*types.Cache, error) { return nil, store.ErrNotFound }
func (s *fakeStore) UpsertCache(*types.Cache) error                { return nil }
func (s *fakeStore) DeleteCache(string, string) error              { return nil }

func (s *fakeStore) CreateEvent(event *types.Event) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.events = append(s.events, *event)
	return nil
}
func (s *fakeStore) ListEventsByJob(string) ([]*types.Event, error) { return nil, nil }

func (s *fakeStore) CreateLog(l *types.Log) error {
	s.logs = append(s.logs, *l)
	return nil
}
func (s *fakeStore) ListLogsByJob(string) ([]*types.Log, error) { return nil, nil }

func (s *fakeStore) GetGit(string) (*types.Git, error) { return nil, store.ErrNotFound }
func (s *fakeStore) UpdateGit(*types.Git) error        { return nil }
func (s *fakeStore) Close() error                      { return nil }

func TestEmitEventSetsInitializedAt(t *testing.T) {
	st := newFakeStore()
	e := New(st)
	job := &types.Job{ID: "job-1"}

	e.EmitEvent(context.Background(), job, types.EventJobInit, "staged and submitted")

	assert.NotNil(t, job.InitializedAt)
	assert.Len(t, st.events, 1)
	assert.Equal(t, types.EventJobInit, st.events[0].Type)
}

func TestEmitEventSetsFinishedAtAndFailedOnFailure(t *testing.T) {
	st := newFakeStore()
	e := New(st)
	job := &types.Job{ID: "job-1"}

	e.EmitEvent(context.Background(), job, types.EventJobFailed, "retries exhausted")

	assert.NotNil(t, job.FinishedAt)
	assert.True(t, job.IsFailed)
}

func TestEmitEventSetsFinishedAtOnSuccessWithoutFailing(t *testing.T) {
	st := newFakeStore()
	e := New(st)
	job := &types.Job{ID: "job-1"}

	e.EmitEvent(context.Background(), job, types.EventJobEnded, "done")

	assert.NotNil(t, job.FinishedAt)
	assert.False(t, job.IsFailed)
}

func TestEmitEventToleratesStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.createErr = fmt.Errorf("boom")
	e := New(st)
	job := &types.Job{ID: "job-1"}

	assert.NotPanics(t, func() {
		e.EmitEvent(context.Background(), job, types.EventJobQueued, "queued")
	})
}

func TestRecentWrapsAroundRingSize(t *testing.T) {
	st := newFakeStore()
	e := New(st)
	job := &types.Job{ID: "job-1"}

	for i := 0; i < ringSize+10; i++ {
		e.EmitEvent(context.Background(), job, types.EventJobRetry, fmt.Sprintf("attempt %d", i))
	}

	recent := e.Recent()
	assert.Len(t, recent, ringSize)
	assert.Equal(t, "attempt 10", recent[0].Message)
	assert.Equal(t, fmt.Sprintf("attempt %d", ringSize+9), recent[len(recent)-1].Message)
}

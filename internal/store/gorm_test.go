package store

import (
	"testing"
	"time"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobCRUD(t *testing.T) {
	s := newTestStore(t)

	job := &types.Job{ID: "job-1", UserID: "u1", HPC: "cluster-a", Maintainer: "plain", CreatedAt: time.Now()}
	require.NoError(t, s.CreateJob(job))

	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "cluster-a", got.HPC)

	now := time.Now()
	got.FinishedAt = &now
	require.NoError(t, s.UpdateJob(got))

	reloaded, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.NotNil(t, reloaded.FinishedAt)

	_, err = s.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheUpsertAndDelete(t *testing.T) {
	s := newTestStore(t)

	c := &types.Cache{HPC: "cluster-a", HPCPath: "/root/cache/fp.zip", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.UpsertCache(c))

	got, err := s.GetCache("cluster-a", "/root/cache/fp.zip")
	require.NoError(t, err)
	assert.Equal(t, c.HPCPath, got.HPCPath)

	require.NoError(t, s.DeleteCache("cluster-a", "/root/cache/fp.zip"))
	_, err = s.GetCache("cluster-a", "/root/cache/fp.zip")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventsAndLogsAppendOnly(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateEvent(&types.Event{JobID: "job-1", Type: types.EventJobQueued, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateEvent(&types.Event{JobID: "job-1", Type: types.EventJobEnded, CreatedAt: time.Now()}))

	events, err := s.ListEventsByJob("job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventJobQueued, events[0].Type)

	logEntry := types.NewLog("job-1", "hello")
	require.NoError(t, s.CreateLog(&logEntry))

	logs, err := s.ListLogsByJob("job-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hello", logs[0].Message)
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cybergis/compute-supervisor/internal/events"
	"github.com/cybergis/compute-supervisor/internal/maintainer"
	"github.com/cybergis/compute-supervisor/internal/queue"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVariant = "scheduler-test-variant"

// fakeMaintainer is a test double that never touches a remote host:
// Init succeeds immediately, Maintain ends the job after a configurable
// number of iterations, OnCancel ends it immediately.
type fakeMaintainer struct {
	mu          sync.Mutex
	maintainHit int
	endAfter    int
	ended       bool
	cancelled   bool
	onHPC       bool
}

func (f *fakeMaintainer) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onHPC = true
	return nil
}
func (f *fakeMaintainer) Maintain(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maintainHit++
	if f.maintainHit >= f.endAfter {
		f.ended = true
	}
	return nil
}
func (f *fakeMaintainer) OnCancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	f.ended = true
	return nil
}
func (f *fakeMaintainer) OnPause(ctx context.Context) error  { return maintainer.ErrNotSupported }
func (f *fakeMaintainer) OnResume(ctx context.Context) error { return maintainer.ErrNotSupported }
func (f *fakeMaintainer) DumpEvents() []types.Event          { return nil }
func (f *fakeMaintainer) DumpLogs() []types.Log              { return nil }
func (f *fakeMaintainer) IsInit() bool                       { return true }
func (f *fakeMaintainer) IsEnd() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}
func (f *fakeMaintainer) JobOnHPC() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onHPC
}

func init() {
	maintainer.Register(testVariant, func(deps maintainer.Deps) (maintainer.Maintainer, error) {
		return &fakeMaintainer{endAfter: 1000000}, nil
	})
}

// fakeResolver hands back an empty Deps for every job; the test cares
// about admission bookkeeping, not staging semantics.
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, job *types.Job, hpc types.HPCConfig) (maintainer.Deps, error) {
	return maintainer.Deps{}, nil
}

// fakeStore implements store.Store with an in-memory job map; every
// other method is a no-op since the scheduler only touches jobs.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: make(map[string]*types.Job)} }

func (s *fakeStore) CreateJob(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}
func (s *fakeStore) GetJob(id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}
func (s *fakeStore) UpdateJob(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}
func (s *fakeStore) ListJobsByHPC(hpc string) ([]*types.Job, error) { return nil, nil }
func (s *fakeStore) CreateFolder(*types.Folder) error               { return nil }
func (s *fakeStore) GetFolder(string) (*types.Folder, error)        { return nil, store.ErrNotFound }
func (s *fakeStore) DeleteFolder(string) error                      { return nil }
func (s *fakeStore) GetCache(string, string) (*types.Cache, error)  { return nil, store.ErrNotFound }
func (s *fakeStore) UpsertCache(*types.Cache) error                  { return nil }
func (s *fakeStore) DeleteCache(string, string) error                { return nil }
func (s *fakeStore) CreateEvent(*types.Event) error                  { return nil }
func (s *fakeStore) ListEventsByJob(string) ([]*types.Event, error)   { return nil, nil }
func (s *fakeStore) CreateLog(*types.Log) error                      { return nil }
func (s *fakeStore) ListLogsByJob(string) ([]*types.Log, error)       { return nil, nil }
func (s *fakeStore) GetGit(string) (*types.Git, error)                { return nil, store.ErrNotFound }
func (s *fakeStore) UpdateGit(*types.Git) error                       { return nil }
func (s *fakeStore) Close() error                                     { return nil }

// fakeSecrets implements secretstore.Store trivially; scheduler tests
// never assign a CredentialID so no method here is exercised, it only
// satisfies the dependency.
type fakeSecrets struct{}

func (fakeSecrets) Put(ctx context.Context, cred types.Credential, ttl time.Duration) (string, error) {
	return "", nil
}
func (fakeSecrets) Get(ctx context.Context, id string) (*types.Credential, error) {
	return nil, nil
}
func (fakeSecrets) Delete(ctx context.Context, id string) error { return nil }

func newHydratedQueue(t *testing.T, st *fakeStore) *queue.MemoryQueue {
	t.Helper()
	return queue.NewMemoryQueue(storeHydrator{st})
}

type storeHydrator struct{ st *fakeStore }

func (h storeHydrator) HydrateJob(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := h.st.GetJob(jobID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return job, err
}

func newTestScheduler(t *testing.T, capacity int) (*Scheduler, *fakeStore, queue.Queue) {
	t.Helper()
	st := newFakeStore()
	q := newHydratedQueue(t, st)
	hpc := types.HPCConfig{Name: "cluster-a", JobPoolCapacity: capacity}

	s := New(
		Config{TickPeriod: 20 * time.Millisecond, MaintainTick: 5 * time.Millisecond},
		[]string{"cluster-a"},
		map[string]types.HPCConfig{"cluster-a": hpc},
		map[string]queue.Queue{"cluster-a": q},
		st, nil, nil, events.New(st), fakeSecrets{}, nil, fakeResolver{},
	)
	return s, st, q
}

func pushJob(t *testing.T, s *Scheduler, st *fakeStore, id string) *types.Job {
	t.Helper()
	job := &types.Job{ID: id, HPC: "cluster-a", Maintainer: testVariant}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, s.PushJobToQueue(context.Background(), job))
	return job
}

func TestAdmitRespectsCapacity(t *testing.T) {
	s, st, _ := newTestScheduler(t, 1)
	pushJob(t, s, st, "job-1")
	pushJob(t, s, st, "job-2")

	ctx := context.Background()
	s.admitCluster(ctx, "cluster-a")
	assert.LessOrEqual(t, s.RunningCount("cluster-a"), 1)

	// second tick must not over-admit while job-1 still occupies the
	// only slot
	s.admitCluster(ctx, "cluster-a")
	assert.LessOrEqual(t, s.RunningCount("cluster-a"), 1)
}

func TestAdmitEmptyQueueIsNoop(t *testing.T) {
	s, _, _ := newTestScheduler(t, 5)
	s.admitCluster(context.Background(), "cluster-a")
	assert.Equal(t, 0, s.RunningCount("cluster-a"))
}

func TestZeroCapacityNeverAdmits(t *testing.T) {
	s, st, _ := newTestScheduler(t, 0)
	pushJob(t, s, st, "job-1")
	s.admitCluster(context.Background(), "cluster-a")
	assert.Equal(t, 0, s.RunningCount("cluster-a"))
}

func TestCancelUnknownJobIsNoop(t *testing.T) {
	s, _, _ := newTestScheduler(t, 5)
	assert.Nil(t, s.CancelJob("does-not-exist"))
}

func TestCancelRunningJobTriggersOnCancel(t *testing.T) {
	s, st, _ := newTestScheduler(t, 5)
	job := pushJob(t, s, st, "job-1")
	s.admitCluster(context.Background(), "cluster-a")
	require.Equal(t, 1, s.RunningCount("cluster-a"))

	cs := s.clusters["cluster-a"]
	cs.mu.Lock()
	rj, ok := cs.running[job.ID]
	cs.mu.Unlock()
	require.True(t, ok)
	fm := rj.maintainer.(*fakeMaintainer)
	fm.mu.Lock()
	fm.onHPC = true
	fm.mu.Unlock()

	got := s.CancelJob(job.ID)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	require.Eventually(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cancelled
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.RunningCount("cluster-a") == 0
	}, time.Second, 5*time.Millisecond)
}

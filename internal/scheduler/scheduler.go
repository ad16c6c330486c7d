// Package scheduler implements the admission loop: a periodic pass
// that, for each configured cluster, drains its queue into worker
// slots up to the cluster's capacity and runs a Maintainer per
// admitted job until it reaches a terminal state. Running/cancel
// bookkeeping uses one mutex per cluster rather than a single
// manager-wide lock — a shared lock would serialize admission work
// that has no reason to contend.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cybergis/compute-supervisor/internal/connpool"
	"github.com/cybergis/compute-supervisor/internal/events"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/maintainer"
	"github.com/cybergis/compute-supervisor/internal/metrics"
	"github.com/cybergis/compute-supervisor/internal/queue"
	"github.com/cybergis/compute-supervisor/internal/resultcache"
	"github.com/cybergis/compute-supervisor/internal/secretstore"
	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentConstructs bounds concurrent maintainer.New/Resolve calls
// within a single admission tick, independent of however many clusters
// are ticked.
const maxConcurrentConstructs = 8

// Resolver builds the maintainer-specific dependencies for a job — which
// staging sources to stage, and, for Git-sourced variants, the Git
// entity and executable manifest — from the job's folder/param fields.
// The HTTP boundary is the natural home for a concrete implementation
// since it already knows how a job's folder descriptors were submitted.
type Resolver interface {
	Resolve(ctx context.Context, job *types.Job, hpc types.HPCConfig) (maintainer.Deps, error)
}

// runningJob is one cluster's admitted-job bookkeeping entry.
type runningJob struct {
	job        *types.Job
	maintainer maintainer.Maintainer
	cancelFn   context.CancelFunc
}

// clusterState holds the three per-cluster shared structures that need
// explicit mutual exclusion: the running set, the cancel set, and
// (implicitly, via len(running)) the pool counter.
type clusterState struct {
	mu      sync.Mutex
	running map[string]*runningJob
	cancel  map[string]struct{}
}

// Config bundles the Scheduler's tunables.
type Config struct {
	// TickPeriod is the admission loop's period, default a few seconds.
	TickPeriod time.Duration
	// MaintainTick is the cooperative yield between a job's Maintain
	// calls.
	MaintainTick time.Duration
	// ShutdownDeadline bounds how long Destroy waits for running
	// workers before cancelling their contexts.
	ShutdownDeadline time.Duration
	// Retry configures the backoff every Maintainer wraps its remote
	// calls in; zero value falls back to maintainer.DefaultRetryConfig.
	Retry maintainer.RetryConfig
}

// Scheduler is the process-wide admission loop and worker supervisor.
type Scheduler struct {
	cfg Config

	hpcs     map[string]types.HPCConfig
	queues   map[string]queue.Queue
	order    []string // deterministic per-tick cluster processing order

	clusters map[string]*clusterState

	store       store.Store
	pool        *connpool.Pool
	staging     *staging.Engine
	events      *events.Emitter
	secrets     secretstore.Store
	resultCache resultcache.Cache
	resolver    Resolver

	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex // guards stopCh/stopped lifecycle only
}

// New builds a Scheduler. hpcs and queues must share the same key set
// (cluster name); order controls the deterministic per-tick processing
// sequence.
func New(cfg Config, order []string, hpcs map[string]types.HPCConfig, queues map[string]queue.Queue,
	st store.Store, pool *connpool.Pool, stagingEngine *staging.Engine, emitter *events.Emitter,
	secrets secretstore.Store, resultCache resultcache.Cache, resolver Resolver) *Scheduler {

	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 5 * time.Second
	}
	if cfg.MaintainTick <= 0 {
		cfg.MaintainTick = 3 * time.Second
	}
	if cfg.Retry == (maintainer.RetryConfig{}) {
		cfg.Retry = maintainer.DefaultRetryConfig
	}

	clusters := make(map[string]*clusterState, len(hpcs))
	for name := range hpcs {
		clusters[name] = &clusterState{
			running: make(map[string]*runningJob),
			cancel:  make(map[string]struct{}),
		}
		metrics.ClusterCapacity.WithLabelValues(name).Set(float64(hpcs[name].JobPoolCapacity))
	}

	return &Scheduler{
		cfg:      cfg,
		hpcs:     hpcs,
		queues:   queues,
		order:    order,
		clusters: clusters,
		store:    st,
		pool:     pool,
		staging:  stagingEngine,
		events:      emitter,
		secrets:     secrets,
		resultCache: resultCache,
		resolver:    resolver,
		stopCh:      make(chan struct{}),
	}
}

// PushJobToQueue enqueues job for admission on its target cluster,
// setting QueuedAt and emitting JOB_QUEUED.
func (s *Scheduler) PushJobToQueue(ctx context.Context, job *types.Job) error {
	q, ok := s.queues[job.HPC]
	if !ok {
		return fmt.Errorf("scheduler: unknown cluster %q", job.HPC)
	}
	now := time.Now()
	job.QueuedAt = &now
	if err := s.store.UpdateJob(job); err != nil {
		return fmt.Errorf("scheduler: persist queued job %s: %w", job.ID, err)
	}
	if err := q.Push(ctx, job.ID); err != nil {
		return fmt.Errorf("scheduler: push job %s: %w", job.ID, err)
	}
	s.events.EmitEvent(ctx, job, types.EventJobQueued, "job queued")
	return nil
}

// CancelJob marks jobID for cancellation if it is currently running on
// any cluster — it scans the running set, not the queue.
// Queued-but-not-yet-admitted cancellation stays a documented no-op.
func (s *Scheduler) CancelJob(jobID string) *types.Job {
	for _, cs := range s.clusters {
		cs.mu.Lock()
		rj, ok := cs.running[jobID]
		if ok {
			cs.cancel[jobID] = struct{}{}
		}
		cs.mu.Unlock()
		if ok {
			return rj.job
		}
	}
	return nil
}

// RunningCount returns the number of admitted jobs on cluster hpc, for
// tests and metrics.
func (s *Scheduler) RunningCount(hpc string) int {
	cs, ok := s.clusters[hpc]
	if !ok {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.running)
}

// Start launches the admission ticker. It returns immediately; the loop
// runs until ctx is done or Destroy is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Destroy stops the admission ticker. It does not interrupt running
// workers until shutdownDeadline elapses, after which their contexts
// are cancelled.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.cfg.ShutdownDeadline <= 0 {
		return
	}
	timer := time.AfterFunc(s.cfg.ShutdownDeadline, s.cancelAllRunning)
	defer timer.Stop()
	s.wg.Wait()
}

func (s *Scheduler) cancelAllRunning() {
	for name, cs := range s.clusters {
		cs.mu.Lock()
		for _, rj := range cs.running {
			rj.cancelFn()
		}
		cs.mu.Unlock()
		log.WithHPC(name).Warn().Msg("shutdown deadline reached, cancelling running workers")
	}
}

// tick runs one admission pass over every configured cluster, in
// deterministic order.
func (s *Scheduler) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AdmissionLatency)

	for _, name := range s.order {
		s.admitCluster(ctx, name)
	}
}

// admitCluster drains cluster's queue into worker slots up to its
// capacity: pop while room remains and the queue is non-empty,
// construct a Maintainer per job (bounded concurrency via errgroup),
// then register and spawn a worker per successfully constructed job.
func (s *Scheduler) admitCluster(ctx context.Context, name string) {
	hpc := s.hpcs[name]
	q := s.queues[name]
	cs := s.clusters[name]

	metrics.RunningJobs.WithLabelValues(name).Set(float64(s.RunningCount(name)))
	if length, err := q.Length(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues(name).Set(float64(length))
	}

	var jobs []*types.Job
	for {
		cs.mu.Lock()
		room := hpc.JobPoolCapacity - len(cs.running)
		cs.mu.Unlock()
		if room <= len(jobs) {
			break
		}

		job, err := q.Pop(ctx)
		if err != nil {
			log.WithComponent("scheduler").Error().Err(err).Str("hpc", name).Msg("queue pop failed")
			break
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return
	}

	constructed := make([]*runningJob, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentConstructs)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			rj, err := s.construct(gctx, job, hpc)
			if err != nil {
				s.failConstruct(ctx, job, err)
				return nil
			}
			constructed[i] = rj
			return nil
		})
	}
	_ = g.Wait()

	for _, rj := range constructed {
		if rj == nil {
			continue
		}
		s.admit(ctx, name, cs, rj)
	}
}

// construct resolves a job's staging sources and builds its Maintainer,
// without performing any remote I/O itself (that happens in the worker
// loop's Init call).
func (s *Scheduler) construct(ctx context.Context, job *types.Job, hpc types.HPCConfig) (*runningJob, error) {
	deps, err := s.resolver.Resolve(ctx, job, hpc)
	if err != nil {
		return nil, fmt.Errorf("resolve job %s: %w", job.ID, err)
	}

	deps.Job = job
	deps.HPC = hpc
	deps.Store = s.store
	deps.Pool = s.pool
	deps.Staging = s.staging
	deps.Events = s.events
	deps.ResultCache = s.resultCache
	deps.Retry = s.cfg.Retry

	if job.CredentialID != "" {
		cred, err := s.secrets.Get(ctx, job.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("load credential for job %s: %w", job.ID, err)
		}
		deps.Credential = cred
	}

	m, err := maintainer.New(job.Maintainer, deps)
	if err != nil {
		return nil, err
	}

	return &runningJob{job: job, maintainer: m}, nil
}

// failConstruct records a construction failure without ever admitting
// the job: emit JOB_INIT_ERROR, stamp finishedAt, persist, move on to
// the next job.
func (s *Scheduler) failConstruct(ctx context.Context, job *types.Job, err error) {
	now := time.Now()
	job.FinishedAt = &now
	job.IsFailed = true
	s.events.EmitEvent(ctx, job, types.EventJobInitError, err.Error())
	if uerr := s.store.UpdateJob(job); uerr != nil {
		log.WithComponent("scheduler").Warn().Err(uerr).Str("job_id", job.ID).Msg("failed to persist construct-failure state")
	}
}

// admit registers rj in the cluster's running set, emits
// JOB_REGISTERED, and spawns its worker loop.
func (s *Scheduler) admit(ctx context.Context, hpcName string, cs *clusterState, rj *runningJob) {
	workerCtx, cancel := context.WithCancel(context.Background())
	rj.cancelFn = cancel

	cs.mu.Lock()
	cs.running[rj.job.ID] = rj
	cs.mu.Unlock()
	metrics.RunningJobs.WithLabelValues(hpcName).Set(float64(s.RunningCount(hpcName)))

	s.events.EmitEvent(ctx, rj.job, types.EventJobRegistered, fmt.Sprintf("admitted on %s", hpcName))

	s.wg.Add(1)
	go s.runWorker(workerCtx, hpcName, cs, rj)
}

// runWorker drives one admitted job from init through a terminal state,
// observing the cancel set between maintain ticks.
func (s *Scheduler) runWorker(ctx context.Context, hpcName string, cs *clusterState, rj *runningJob) {
	defer s.wg.Done()
	defer s.release(hpcName, cs, rj)

	logger := log.WithJobID(rj.job.ID)

	if err := rj.maintainer.Init(ctx); err != nil {
		logger.Warn().Err(err).Msg("job initialization failed")
		return
	}

	ticker := time.NewTicker(s.cfg.MaintainTick)
	defer ticker.Stop()

	for !rj.maintainer.IsEnd() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cs.mu.Lock()
		_, cancelled := cs.cancel[rj.job.ID]
		cs.mu.Unlock()

		if cancelled {
			if rj.maintainer.JobOnHPC() {
				if err := rj.maintainer.OnCancel(ctx); err != nil {
					logger.Warn().Err(err).Msg("cancellation failed")
				}
			}
			cs.mu.Lock()
			delete(cs.cancel, rj.job.ID)
			cs.mu.Unlock()
			continue
		}

		if err := rj.maintainer.Maintain(ctx); err != nil {
			logger.Warn().Err(err).Msg("maintain iteration failed")
		}
	}
}

// release removes rj from the cluster's running/cancel sets and tears
// down its credential — a credential must not outlive its job.
func (s *Scheduler) release(hpcName string, cs *clusterState, rj *runningJob) {
	cs.mu.Lock()
	delete(cs.running, rj.job.ID)
	delete(cs.cancel, rj.job.ID)
	running := len(cs.running)
	cs.mu.Unlock()
	metrics.RunningJobs.WithLabelValues(hpcName).Set(float64(running))

	if rj.job.CredentialID != "" {
		if err := s.secrets.Delete(context.Background(), rj.job.CredentialID); err != nil {
			log.WithComponent("scheduler").Warn().Err(err).Str("job_id", rj.job.ID).Msg("failed to delete credential for terminal job")
		}
	}
}

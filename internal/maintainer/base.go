package maintainer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cybergis/compute-supervisor/internal/connpool"
	"github.com/cybergis/compute-supervisor/internal/events"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/resultcache"
	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// base implements the state machine, retry wrapper, and poll/collect
// logic shared by every maintainer variant — variants differ only in
// how Init builds the submission. Embedding variants supply Init.
type base struct {
	job  *types.Job
	hpc  types.HPCConfig
	cred *types.Credential

	store       store.Store
	pool        *connpool.Pool
	staging     *staging.Engine
	events      *events.Emitter
	resultCache resultcache.Cache
	retry       RetryConfig

	defaultResultFile string

	mu          sync.Mutex
	isInit      bool
	isEnd       bool
	jobOnHPC    bool
	remoteJobID string
	resultPath  string
}

func newBase(deps Deps) *base {
	retry := deps.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig
	}
	return &base{
		job:         deps.Job,
		hpc:         deps.HPC,
		cred:        deps.Credential,
		store:       deps.Store,
		pool:        deps.Pool,
		staging:     deps.Staging,
		events:      deps.Events,
		resultCache: deps.ResultCache,
		retry:       retry,
	}
}

func (b *base) IsInit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isInit
}

func (b *base) IsEnd() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isEnd
}

func (b *base) JobOnHPC() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobOnHPC
}

// DumpEvents returns this job's full event history from the store, not
// the Emitter's global recent-events ring.
func (b *base) DumpEvents() []types.Event {
	evs, err := b.store.ListEventsByJob(b.job.ID)
	if err != nil {
		log.WithComponent("maintainer").Warn().Err(err).Str("job_id", b.job.ID).Msg("failed to dump events")
		return nil
	}
	out := make([]types.Event, len(evs))
	for i, e := range evs {
		out[i] = *e
	}
	return out
}

func (b *base) DumpLogs() []types.Log {
	logs, err := b.store.ListLogsByJob(b.job.ID)
	if err != nil {
		log.WithComponent("maintainer").Warn().Err(err).Str("job_id", b.job.ID).Msg("failed to dump logs")
		return nil
	}
	out := make([]types.Log, len(logs))
	for i, l := range logs {
		out[i] = *l
	}
	return out
}

// OnPause/OnResume are part of the common contract but unimplemented
// by every shipped variant: suspending a Slurm job needs scontrol
// privileges most clusters don't grant the supervisor.
func (b *base) OnPause(ctx context.Context) error  { return ErrNotSupported }
func (b *base) OnResume(ctx context.Context) error { return ErrNotSupported }

// OnCancel issues scancel against the remote job, if one has been
// submitted, and transitions the job to a terminal, failed state.
func (b *base) OnCancel(ctx context.Context) error {
	b.mu.Lock()
	if b.isEnd || !b.jobOnHPC {
		b.mu.Unlock()
		return nil
	}
	remoteJobID := b.remoteJobID
	b.mu.Unlock()

	handle, err := b.pool.Acquire(ctx, b.job.ID, b.hpc, b.cred)
	if err != nil {
		return fmt.Errorf("maintainer: acquire shell for cancel: %w", err)
	}
	defer handle.Release()

	cancelErr := withRetry(ctx, b.retry, func() error {
		_, execErr := handle.Exec(ctx, fmt.Sprintf("scancel %s", remoteJobID))
		return execErr
	})

	b.mu.Lock()
	b.jobOnHPC = false
	b.isEnd = true
	b.mu.Unlock()

	if cancelErr != nil {
		b.events.EmitEvent(ctx, b.job, types.EventJobFailed, fmt.Sprintf("cancel failed: %v", cancelErr))
		return cancelErr
	}
	b.events.EmitEvent(ctx, b.job, types.EventJobFailed, "job cancelled")
	return nil
}

// Maintain polls the remote job once. On a completed or failed status
// it collects results (or records the failure) and transitions to the
// terminal state; otherwise it is a no-op until the next tick.
func (b *base) Maintain(ctx context.Context) error {
	b.mu.Lock()
	if b.isEnd || !b.jobOnHPC {
		b.mu.Unlock()
		return nil
	}
	remoteJobID := b.remoteJobID
	b.mu.Unlock()

	handle, err := b.pool.Acquire(ctx, b.job.ID, b.hpc, b.cred)
	if err != nil {
		return fmt.Errorf("maintainer: acquire shell for maintain: %w", err)
	}
	defer handle.Release()

	var status string
	err = withRetry(ctx, b.retry, func() error {
		s, pollErr := pollStatus(ctx, handle, remoteJobID)
		if pollErr != nil {
			return pollErr
		}
		status = s
		return nil
	})
	if err != nil {
		b.fail(ctx, fmt.Sprintf("status poll failed: %v", err))
		return err
	}

	switch {
	case isFailedStatus(status):
		b.fail(ctx, fmt.Sprintf("remote job reported status %s", status))
		return nil
	case isCompletedStatus(status):
		if err := b.collect(ctx, handle, remoteJobID); err != nil {
			b.fail(ctx, fmt.Sprintf("result collection failed: %v", err))
			return err
		}
		b.mu.Lock()
		b.isEnd = true
		b.jobOnHPC = false
		b.mu.Unlock()
		b.events.EmitEvent(ctx, b.job, types.EventJobEnded, "job completed")
		return nil
	default:
		return nil
	}
}

func (b *base) fail(ctx context.Context, message string) {
	b.mu.Lock()
	b.isEnd = true
	b.jobOnHPC = false
	b.mu.Unlock()
	b.events.EmitEvent(ctx, b.job, types.EventJobFailed, message)
}

// stageDirect uploads source into a fresh uncached workspace, retried
// per b.retry.
func (b *base) stageDirect(ctx context.Context, handle *connpool.Handle, source staging.Source) (*types.Folder, error) {
	var folder *types.Folder
	err := withRetry(ctx, b.retry, func() error {
		f, stageErr := b.staging.Stage(ctx, handle.Shell, source, b.hpc, b.job.UserID, b.job.ID)
		folder = f
		return stageErr
	})
	return folder, err
}

// stageCached uploads source via the content-addressed cache, retried
// per b.retry.
func (b *base) stageCached(ctx context.Context, handle *connpool.Handle, source staging.Source) (*types.Folder, error) {
	var folder *types.Folder
	err := withRetry(ctx, b.retry, func() error {
		f, stageErr := b.staging.CachedStage(ctx, handle.Shell, source, b.hpc, b.job.UserID, b.job.ID)
		folder = f
		return stageErr
	})
	return folder, err
}

// createResultFolder stages an EmptySource to produce a fresh remote
// directory with a persisted Folder row, the "create an empty remote
// result folder" step of Init.
func (b *base) createResultFolder(ctx context.Context, handle *connpool.Handle) (*types.Folder, error) {
	return b.stageDirect(ctx, handle, staging.EmptySource{})
}

// submitScript writes script to resultFolder and runs sbatch, recording
// the returned remote job id. Every step is retried.
func (b *base) submitScript(ctx context.Context, handle *connpool.Handle, resultFolder *types.Folder, script string) error {
	scriptPath := path.Join(resultFolder.HPCPath, "job.sbatch")

	err := withRetry(ctx, b.retry, func() error {
		_, execErr := handle.Exec(ctx, fmt.Sprintf("cat > %s <<'SUPERVISOR_EOF'\n%s\nSUPERVISOR_EOF", scriptPath, script))
		return execErr
	})
	if err != nil {
		return fmt.Errorf("maintainer: write submission script: %w", err)
	}

	var remoteJobID string
	err = withRetry(ctx, b.retry, func() error {
		res, execErr := handle.Exec(ctx, fmt.Sprintf("cd %s && sbatch %s", resultFolder.HPCPath, "job.sbatch"))
		if execErr != nil {
			return execErr
		}
		id, parseErr := parseSbatchOutput(res.Stdout)
		if parseErr != nil {
			return parseErr
		}
		remoteJobID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("maintainer: submit job: %w", err)
	}

	b.mu.Lock()
	b.remoteJobID = remoteJobID
	b.jobOnHPC = true
	b.resultPath = resultFolder.HPCPath
	b.mu.Unlock()
	return nil
}

// markInitialized flips isInit and emits JOB_INIT.
func (b *base) markInitialized(ctx context.Context) {
	b.mu.Lock()
	b.isInit = true
	b.mu.Unlock()
	b.events.EmitEvent(ctx, b.job, types.EventJobInit, "job initialized and submitted")
}

// failInit records that init ran at least once but did not succeed,
// and transitions the job straight to FAILED — Init's own shell calls
// already retried internally, so a surfaced error here means retries
// were exhausted.
func (b *base) failInit(ctx context.Context, err error) {
	b.mu.Lock()
	b.isInit = true
	b.isEnd = true
	b.jobOnHPC = false
	b.mu.Unlock()
	b.events.EmitEvent(ctx, b.job, types.EventJobInitError, err.Error())
	b.events.EmitEvent(ctx, b.job, types.EventJobFailed, fmt.Sprintf("initialization failed: %v", err))
}

func parseSbatchOutput(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sbatch output")
	}
	return fields[len(fields)-1], nil
}

func pollStatus(ctx context.Context, handle *connpool.Handle, remoteJobID string) (string, error) {
	res, err := handle.Exec(ctx, fmt.Sprintf("squeue -h -j %s -o %%t 2>/dev/null", remoteJobID))
	if err != nil {
		return "", err
	}
	status := strings.TrimSpace(res.Stdout)
	if status == "" {
		return "UNKNOWN", nil
	}
	return status, nil
}

func isFailedStatus(status string) bool {
	switch status {
	case "F", "NF", "ERROR":
		return true
	}
	return false
}

func isCompletedStatus(status string) bool {
	switch status {
	case "C", "CD", "UNKNOWN":
		return true
	}
	return false
}

// collect fetches stdout/stderr, usage counters, and the result
// folder's listing after a job has finished running.
func (b *base) collect(ctx context.Context, handle *connpool.Handle, remoteJobID string) error {
	b.mu.Lock()
	resultPath := b.resultPath
	b.mu.Unlock()

	if stdout := b.readRemoteFile(ctx, handle, path.Join(resultPath, fmt.Sprintf("job-%s.out", remoteJobID))); stdout != "" {
		b.events.EmitLog(ctx, b.job.ID, stdout)
	}
	if stderr := b.readRemoteFile(ctx, handle, path.Join(resultPath, fmt.Sprintf("job-%s.err", remoteJobID))); stderr != "" {
		b.events.EmitLog(ctx, b.job.ID, stderr)
	}

	if err := b.collectUsage(ctx, handle, remoteJobID); err != nil {
		log.WithComponent("maintainer").Warn().Err(err).Str("job_id", b.job.ID).Msg("failed to collect usage counters")
	}

	entries, err := b.listResultFolder(ctx, handle, resultPath)
	if err != nil {
		return fmt.Errorf("list result folder %s: %w", resultPath, err)
	}
	if b.resultCache != nil {
		if err := b.resultCache.Put(ctx, b.job.ID, entries); err != nil {
			log.WithComponent("maintainer").Warn().Err(err).Str("job_id", b.job.ID).Msg("failed to publish result listing to cache")
		}
	}
	return nil
}

func (b *base) readRemoteFile(ctx context.Context, handle *connpool.Handle, remotePath string) string {
	res, err := handle.Exec(ctx, fmt.Sprintf("cat %s 2>/dev/null", remotePath))
	if err != nil {
		return ""
	}
	return res.Stdout
}

// collectUsage parses sacct accounting fields into the job's usage
// counters: nodes, cpus, cpuTime, memoryUsage, and walltime.
func (b *base) collectUsage(ctx context.Context, handle *connpool.Handle, remoteJobID string) error {
	res, err := handle.Exec(ctx, fmt.Sprintf(
		"sacct -j %s --format=NNodes,NCPUS,CPUTimeRAW,MaxRSS,ElapsedRaw --noheader --parsable2 | head -n1", remoteJobID))
	if err != nil {
		return err
	}
	line := strings.TrimSpace(res.Stdout)
	if line == "" {
		return fmt.Errorf("empty sacct output")
	}
	fields := strings.Split(line, "|")
	if len(fields) < 5 {
		return fmt.Errorf("unexpected sacct output %q", line)
	}

	nodes, _ := strconv.Atoi(strings.TrimSpace(fields[0]))
	cpus, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
	cpuTime, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	memUsage := parseMemorySuffix(strings.TrimSpace(fields[3]))
	walltime, _ := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)

	b.job.Nodes = nodes
	b.job.CPUs = cpus
	b.job.CPUTime = cpuTime
	b.job.MemoryUsage = memUsage
	b.job.Walltime = walltime
	return nil
}

var memorySuffixes = map[byte]int64{'K': 1 << 10, 'M': 1 << 20, 'G': 1 << 30, 'T': 1 << 40}

// parseMemorySuffix parses sacct's MaxRSS-style K/M/G/T-suffixed values
// into bytes; an unparseable or empty value yields 0 rather than an
// error, since accounting fields are frequently blank for short jobs.
func parseMemorySuffix(s string) int64 {
	if s == "" {
		return 0
	}
	unit := int64(1)
	numPart := s
	last := strings.ToUpper(s[len(s)-1:])[0]
	if scale, ok := memorySuffixes[last]; ok {
		unit = scale
		numPart = s[:len(s)-1]
	}
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0
	}
	return int64(value * float64(unit))
}

// listResultFolder lists the immediate children of path on the remote
// host, sorting the manifest-declared default result file first if one
// is configured.
func (b *base) listResultFolder(ctx context.Context, handle *connpool.Handle, dirPath string) ([]resultcache.Entry, error) {
	res, err := handle.Exec(ctx, fmt.Sprintf(`find %s -mindepth 1 -maxdepth 1 -printf '%%f\t%%y\t%%s\n'`, dirPath))
	if err != nil {
		return nil, err
	}

	var entries []resultcache.Entry
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		size, _ := strconv.ParseInt(parts[2], 10, 64)
		entries = append(entries, resultcache.Entry{
			Name:  parts[0],
			IsDir: parts[1] == "d",
			Size:  size,
		})
	}

	if b.defaultResultFile != "" {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Name == b.defaultResultFile && entries[j].Name != b.defaultResultFile
		})
	}
	return entries, nil
}

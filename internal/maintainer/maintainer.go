// Package maintainer implements the Maintainer: a per-job state
// machine driving a Slurm submission from staging through completion.
// Staging, script submission, status polling and scancel run under
// bounded retry; acquiring the shell and collecting results after
// completion are single attempts.
package maintainer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cybergis/compute-supervisor/internal/connpool"
	"github.com/cybergis/compute-supervisor/internal/events"
	"github.com/cybergis/compute-supervisor/internal/resultcache"
	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// ErrNotSupported is returned by OnPause/OnResume: suspending a Slurm
// job needs privileges most clusters don't grant the supervisor, and
// no shipped variant supports it.
var ErrNotSupported = errors.New("maintainer: operation not supported by this variant")

// Maintainer drives one job's remote lifecycle: init → submit → poll →
// collect → terminal. Implementations differ only in how Init builds
// the submission.
type Maintainer interface {
	Init(ctx context.Context) error
	Maintain(ctx context.Context) error
	OnCancel(ctx context.Context) error
	OnPause(ctx context.Context) error
	OnResume(ctx context.Context) error
	DumpEvents() []types.Event
	DumpLogs() []types.Log
	IsInit() bool
	IsEnd() bool
	JobOnHPC() bool
}

// Deps bundles the collaborators every variant needs. A given job
// supplies only the fields relevant to its maintainer/source kind; see
// plain.go and community.go for which fields each variant requires.
type Deps struct {
	Job        *types.Job
	HPC        types.HPCConfig
	Credential *types.Credential

	Store       store.Store
	Pool        *connpool.Pool
	Staging     *staging.Engine
	Events      *events.Emitter
	ResultCache resultcache.Cache

	// ExecutableSource/DataSource are resolved by the caller (the
	// scheduler's Resolver, at admission) from the job's declared local executable/data
	// folder descriptor (local path, git, or Globus); the maintainer
	// only knows how to stage a staging.Source, not how to resolve one.
	ExecutableSource staging.Source
	DataSource       staging.Source

	// Git identifies the source repository for community_contribution
	// jobs; Manifest describes its container wrap and staged commands.
	Git       *types.Git
	Manifest  *types.ExecutableManifest
	Container types.ContainerConfig
	Kernel    types.KernelConfig

	Retry RetryConfig
}

// Constructor builds a Maintainer for one job from deps.
type Constructor func(deps Deps) (Maintainer, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Constructor)
)

// Register adds variant to the static registry. Called from package
// init() by plain.go and community.go; resolved by the job's
// `maintainer` discriminator rather than any dynamic file load.
func Register(variant string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[variant] = ctor
}

// New builds a Maintainer for variant, or an error if variant is
// unregistered — the boundary should reject an unknown job.maintainer
// before it ever reaches the queue.
func New(variant string, deps Deps) (Maintainer, error) {
	registryMu.Lock()
	ctor, ok := registry[variant]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("maintainer: unknown variant %q", variant)
	}
	return ctor(deps)
}

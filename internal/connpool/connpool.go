// Package connpool implements the Connection Pool: a process-wide, keyed
// owner of shell.Session handles. Shared-account entries are ref-counted
// per cluster; private-account entries are owned per job. No component
// other than the pool may hold a shell beyond the scope of one maintainer
// iteration.
package connpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// Factory constructs a new, unconnected shell.Session. Exposed so tests
// can substitute a fake.
type Factory func() shell.Session

// sharedEntry backs a community-account cluster: one SSH session used
// concurrently by every job running on that cluster.
type sharedEntry struct {
	mu       sync.Mutex // serializes Connect and Handle.Exec on the shared session
	refcount int
	shell    shell.Session
	cfg      shell.Config
}

// privateEntry backs a per-user credential: one SSH session per job.
type privateEntry struct {
	shell shell.Session
	cfg   shell.Config
}

// Pool is the sole owner of shell.Session handles.
type Pool struct {
	mu      sync.Mutex
	shared  map[string]*sharedEntry // keyed by cluster name
	private map[string]*privateEntry // keyed by job id
	factory Factory
}

// New creates an empty pool. If factory is nil, shell.New is used.
func New(factory Factory) *Pool {
	if factory == nil {
		factory = func() shell.Session { return shell.New() }
	}
	return &Pool{
		shared:  make(map[string]*sharedEntry),
		private: make(map[string]*privateEntry),
		factory: factory,
	}
}

// Handle is a leased shell.Session plus the function to release it. The
// handle is valid only for the scope of a single maintainer iteration.
type Handle struct {
	Shell   shell.Session
	release func()
	exec    func(ctx context.Context, cmd string) (shell.Result, error)
}

// Exec runs a command on the leased session. For shared (community
// account) handles this serializes against concurrent users of the same
// underlying SSH session; for private handles it is a direct passthrough.
func (h *Handle) Exec(ctx context.Context, cmd string) (shell.Result, error) {
	return h.exec(ctx, cmd)
}

// Release returns the handle to the pool, decrementing refcounts and
// disposing shared sessions that reach zero, or disposing private
// sessions outright.
func (h *Handle) Release() {
	h.release()
}

// AcquireShared leases (and, on first use, lazily connects) the shared
// session for a community-account cluster.
func (p *Pool) AcquireShared(ctx context.Context, hpc types.HPCConfig) (*Handle, error) {
	p.mu.Lock()
	entry, ok := p.shared[hpc.Name]
	if !ok {
		entry = &sharedEntry{shell: p.factory()}
		p.shared[hpc.Name] = entry
	}
	entry.refcount++
	p.mu.Unlock()

	if !entry.shell.IsConnected() {
		cfg := shell.Config{Host: hpc.IP, Port: hpc.Port}
		if hpc.CommunityLogin != nil {
			cfg.User = hpc.CommunityLogin.User
			cfg.Password = hpc.CommunityLogin.Password
		}
		entry.mu.Lock()
		err := entry.shell.Connect(ctx, cfg)
		entry.mu.Unlock()
		if err != nil {
			p.releaseShared(hpc.Name)
			return nil, fmt.Errorf("connect shared session for %s: %w", hpc.Name, err)
		}
		entry.cfg = cfg
	}

	hpcName := hpc.Name
	return &Handle{
		Shell: entry.shell,
		exec: func(ctx context.Context, cmd string) (shell.Result, error) {
			entry.mu.Lock()
			defer entry.mu.Unlock()
			return entry.shell.Exec(ctx, cmd)
		},
		release: func() { p.releaseShared(hpcName) },
	}, nil
}

func (p *Pool) releaseShared(hpc string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.shared[hpc]
	if !ok {
		return
	}
	entry.refcount--
	if entry.refcount <= 0 {
		delete(p.shared, hpc)
		go func() {
			if err := entry.shell.Dispose(); err != nil {
				log.WithComponent("connpool").Warn().Err(err).Str("hpc", hpc).Msg("failed to dispose shared shell")
			}
		}()
	}
}

// AcquirePrivate leases a fresh, job-owned session authenticated with a
// private credential.
func (p *Pool) AcquirePrivate(ctx context.Context, jobID string, hpc types.HPCConfig, cred types.Credential) (*Handle, error) {
	sh := p.factory()
	cfg := shell.Config{Host: hpc.IP, Port: hpc.Port, User: cred.User, Password: cred.Password}
	if err := sh.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connect private session for job %s: %w", jobID, err)
	}

	p.mu.Lock()
	p.private[jobID] = &privateEntry{shell: sh, cfg: cfg}
	p.mu.Unlock()

	return &Handle{
		Shell: sh,
		exec:  sh.Exec,
		release: func() {
			p.mu.Lock()
			entry, ok := p.private[jobID]
			delete(p.private, jobID)
			p.mu.Unlock()
			if ok {
				if err := entry.shell.Dispose(); err != nil {
					log.WithComponent("connpool").Warn().Err(err).Str("job_id", jobID).Msg("failed to dispose private shell")
				}
			}
		},
	}, nil
}

// Acquire dispatches to AcquireShared or AcquirePrivate based on the
// cluster's account mode.
func (p *Pool) Acquire(ctx context.Context, jobID string, hpc types.HPCConfig, cred *types.Credential) (*Handle, error) {
	if hpc.IsCommunityAccount {
		return p.AcquireShared(ctx, hpc)
	}
	if cred == nil {
		return nil, fmt.Errorf("job %s targets private-account cluster %s without a credential", jobID, hpc.Name)
	}
	return p.AcquirePrivate(ctx, jobID, hpc, *cred)
}

// SharedRefcount returns the current refcount for a shared cluster entry,
// for tests and metrics.
func (p *Pool) SharedRefcount(hpc string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.shared[hpc]; ok {
		return e.refcount
	}
	return 0
}

// PrivateCount returns the number of live private entries, for tests.
func (p *Pool) PrivateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.private)
}

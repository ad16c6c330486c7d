package connpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShell struct {
	mu          sync.Mutex
	connected   bool
	execCount   int
	inFlight    int
	maxInFlight int
}

func (f *fakeShell) Connect(ctx context.Context, cfg shell.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}
func (f *fakeShell) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeShell) Exec(ctx context.Context, cmd string) (shell.Result, error) {
	f.mu.Lock()
	f.execCount++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return shell.Result{}, nil
}
func (f *fakeShell) Upload(context.Context, string, string, bool, bool) error { return nil }
func (f *fakeShell) Download(context.Context, string, string) error          { return nil }
func (f *fakeShell) Mkdir(context.Context, string, bool) error               { return nil }
func (f *fakeShell) RemoteExists(context.Context, string) (bool, error)      { return true, nil }
func (f *fakeShell) Rm(context.Context, string) error                        { return nil }
func (f *fakeShell) Zip(context.Context, string, string) error               { return nil }
func (f *fakeShell) Unzip(context.Context, string, string) error             { return nil }
func (f *fakeShell) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func newFakePool() *Pool {
	return New(func() shell.Session { return &fakeShell{} })
}

func TestSharedAcquireReleaseRefcount(t *testing.T) {
	p := newFakePool()
	hpc := types.HPCConfig{Name: "cluster-a", IsCommunityAccount: true}

	h1, err := p.AcquireShared(context.Background(), hpc)
	require.NoError(t, err)
	assert.Equal(t, 1, p.SharedRefcount("cluster-a"))

	h2, err := p.AcquireShared(context.Background(), hpc)
	require.NoError(t, err)
	assert.Equal(t, 2, p.SharedRefcount("cluster-a"))

	h1.Release()
	assert.Equal(t, 1, p.SharedRefcount("cluster-a"))

	h2.Release()
	assert.Equal(t, 0, p.SharedRefcount("cluster-a"))
}

func TestPrivateAcquireReleaseCount(t *testing.T) {
	p := newFakePool()
	hpc := types.HPCConfig{Name: "cluster-b"}
	cred := types.Credential{User: "u", Password: "p"}

	h, err := p.AcquirePrivate(context.Background(), "job-1", hpc, cred)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PrivateCount())

	h.Release()
	assert.Equal(t, 0, p.PrivateCount())
}

func TestAcquireDispatchesOnAccountMode(t *testing.T) {
	p := newFakePool()

	_, err := p.Acquire(context.Background(), "job-1", types.HPCConfig{Name: "priv"}, nil)
	assert.Error(t, err, "private cluster requires a credential")

	h, err := p.Acquire(context.Background(), "job-2", types.HPCConfig{Name: "shared", IsCommunityAccount: true}, nil)
	require.NoError(t, err)
	h.Release()
}

func TestSharedHandleSerializesExec(t *testing.T) {
	fs := &fakeShell{}
	p := New(func() shell.Session { return fs })
	hpc := types.HPCConfig{Name: "cluster-c", IsCommunityAccount: true}

	h, err := p.AcquireShared(context.Background(), hpc)
	require.NoError(t, err)
	defer h.Release()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Exec(context.Background(), "echo hi")
		}()
	}
	wg.Wait()

	fs.mu.Lock()
	execCount, maxInFlight := fs.execCount, fs.maxInFlight
	fs.mu.Unlock()
	assert.Equal(t, 10, execCount)
	assert.Equal(t, 1, maxInFlight, "shared handle never runs two Execs at once")
}

package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShell records Upload/Unzip/Rm/Mkdir calls without touching a real
// remote host.
type fakeShell struct {
	mu      sync.Mutex
	uploads []string
	unzips  []string
	zips    []string
	removed []string
	mkdirs  []string
}

func (f *fakeShell) Connect(context.Context, shell.Config) error { return nil }
func (f *fakeShell) IsConnected() bool                           { return true }
func (f *fakeShell) Exec(context.Context, string) (shell.Result, error) {
	return shell.Result{}, nil
}
func (f *fakeShell) Upload(_ context.Context, local, remote string, _, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, local+"->"+remote)
	return nil
}
func (f *fakeShell) Download(context.Context, string, string) error { return nil }
func (f *fakeShell) Mkdir(_ context.Context, path string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirs = append(f.mkdirs, path)
	return nil
}
func (f *fakeShell) RemoteExists(context.Context, string) (bool, error) { return true, nil }
func (f *fakeShell) Rm(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}
func (f *fakeShell) Zip(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zips = append(f.zips, src+"->"+dst)
	return nil
}
func (f *fakeShell) Unzip(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unzips = append(f.unzips, src+"->"+dst)
	return nil
}
func (f *fakeShell) Dispose() error { return nil }

// fakeStore implements store.Store in-process, covering only what
// staging exercises (folders and caches); the rest panic if ever called.
type fakeStore struct {
	mu      sync.Mutex
	folders map[string]*types.Folder
	caches  map[string]*types.Cache
}

func newFakeStore() *fakeStore {
	return &fakeStore{folders: map[string]*types.Folder{}, caches: map[string]*types.Cache{}}
}

func cacheKey(hpc, path string) string { return hpc + "\x00" + path }

func (s *fakeStore) CreateJob(*types.Job) error                { panic("not used") }
func (s *fakeStore) GetJob(string) (*types.Job, error)         { panic("not used") }
func (s *fakeStore) UpdateJob(*types.Job) error                { panic("not used") }
func (s *fakeStore) ListJobsByHPC(string) ([]*types.Job, error) { panic("not used") }

func (s *fakeStore) CreateFolder(folder *types.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder.ID] = folder
	return nil
}
func (s *fakeStore) GetFolder(id string) (*types.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f, nil
}
func (s *fakeStore) DeleteFolder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, id)
	return nil
}

func (s *fakeStore) GetCache(hpc, hpcPath string) (*types.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cacheKey(hpc, hpcPath)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}
func (s *fakeStore) UpsertCache(cache *types.Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches[cacheKey(cache.HPC, cache.HPCPath)] = cache
	return nil
}
func (s *fakeStore) DeleteCache(hpc, hpcPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, cacheKey(hpc, hpcPath))
	return nil
}

func (s *fakeStore) CreateEvent(*types.Event) error                     { panic("not used") }
func (s *fakeStore) ListEventsByJob(string) ([]*types.Event, error)      { panic("not used") }
func (s *fakeStore) CreateLog(*types.Log) error                         { panic("not used") }
func (s *fakeStore) ListLogsByJob(string) ([]*types.Log, error)         { panic("not used") }
func (s *fakeStore) GetGit(string) (*types.Git, error)                  { panic("not used") }
func (s *fakeStore) UpdateGit(*types.Git) error                         { panic("not used") }
func (s *fakeStore) Close() error                                       { return nil }

func testHPC() types.HPCConfig {
	return types.HPCConfig{Name: "cluster-a", RootPath: "/scratch/supervisor"}
}

// localProject creates an empty local directory named "project" for a
// LocalSource to zip; its base name is the source's cache fingerprint.
func localProject(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.Mkdir(dir, 0o755))
	return dir
}

func TestStageLocalSource(t *testing.T) {
	sh := &fakeShell{}
	st := newFakeStore()
	e := New(st, nil)

	folder, err := e.Stage(context.Background(), sh, LocalSource{Path: localProject(t)}, testHPC(), "user-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "cluster-a", folder.HPC)
	assert.Len(t, sh.uploads, 1)
	assert.Len(t, sh.unzips, 1)
	assert.Len(t, sh.removed, 1, "remote zip is deleted after unzip")
}

func TestCachedStageBuildsOnFirstUse(t *testing.T) {
	sh := &fakeShell{}
	st := newFakeStore()
	e := New(st, nil)

	folder, err := e.CachedStage(context.Background(), sh, LocalSource{Path: localProject(t)}, testHPC(), "user-1", "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, folder.ID)

	cache, err := st.GetCache("cluster-a", "/scratch/supervisor/cache/project.zip")
	require.NoError(t, err)
	assert.NotNil(t, cache)
}

func TestCachedStageReusesExistingEntry(t *testing.T) {
	sh := &fakeShell{}
	st := newFakeStore()
	e := New(st, nil)
	source := LocalSource{Path: localProject(t)}

	_, err := e.CachedStage(context.Background(), sh, source, testHPC(), "user-1", "job-1")
	require.NoError(t, err)
	firstUploads := len(sh.uploads)
	assert.Len(t, sh.zips, 1, "first call builds the cache zip")

	_, err = e.CachedStage(context.Background(), sh, source, testHPC(), "user-1", "job-2")
	require.NoError(t, err)
	assert.Equal(t, firstUploads, len(sh.uploads), "second call reuses the cache, no new upload")
	assert.Len(t, sh.zips, 1, "second call does not rebuild the cache")
	workspaceUnzips := 0
	for _, u := range sh.unzips {
		if strings.HasPrefix(u, "/scratch/supervisor/cache/project.zip->") {
			workspaceUnzips++
		}
	}
	assert.Equal(t, 2, workspaceUnzips, "each call still gets its own fresh workspace unzip from the cache zip")
}

func TestFingerprintLocksSerializeSameKey(t *testing.T) {
	l := newFingerprintLocks()
	var order []int
	var mu sync.Mutex
	var inside, maxInside int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := l.lock("hpc", "fp")
			defer unlock()
			mu.Lock()
			order = append(order, i)
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, order, 5)
	assert.Equal(t, 1, maxInside, "only one holder of the same key at a time")
}

package staging

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// lockCacheSize bounds the number of distinct (hpc,fingerprint) locks
// tracked at once; eviction only discards the mutex once nobody holds it,
// since golang-lru never evicts an entry while this package still has a
// reference to its value.
const lockCacheSize = 4096

// fingerprintLocks hands out one *sync.Mutex per (hpc,fingerprint) pair,
// serializing cache rebuilds against a single cluster-local fingerprint.
type fingerprintLocks struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *sync.Mutex]
}

func newFingerprintLocks() *fingerprintLocks {
	cache, err := lru.New[string, *sync.Mutex](lockCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// lockCacheSize never is.
		panic(err)
	}
	return &fingerprintLocks{cache: cache}
}

// lock acquires the mutex for (hpc,fingerprint), creating it on first use,
// and returns a function that releases it.
func (l *fingerprintLocks) lock(hpc, fingerprint string) (unlock func()) {
	key := hpc + "\x00" + fingerprint

	l.mu.Lock()
	m, ok := l.cache.Get(key)
	if !ok {
		m = &sync.Mutex{}
		l.cache.Add(key, m)
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

package secretstore

import (
	"context"
	"sync"
	"time"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/google/uuid"
)

type memoryEntry struct {
	cred    types.Credential
	expires time.Time
}

// MemoryStore is an in-process Store used by tests and local trials.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore returns an empty in-process secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(ctx context.Context, cred types.Credential, ttl time.Duration) (string, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cred.ID] = memoryEntry{cred: cred, expires: time.Now().Add(ttl)}
	return cred.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || time.Now().After(entry.expires) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	cred := entry.cred
	return &cred, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Package secretstore holds ephemeral {user, password} credential records
// keyed by an opaque id, backed by Redis with a TTL matching job lifetime.
package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a credential id has expired or never existed.
var ErrNotFound = errors.New("secretstore: credential not found")

// Store is the credential guard's secret-storage dependency.
type Store interface {
	// Put stores cred with the given TTL, assigning a fresh opaque id
	// when cred.ID is empty, and returns the id actually stored under.
	Put(ctx context.Context, cred types.Credential, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (*types.Credential, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore implements Store over a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func credKey(id string) string { return id }

// Put generates a fresh opaque id if cred.ID is empty and writes the
// record with the given TTL.
func (s *RedisStore) Put(ctx context.Context, cred types.Credential, ttl time.Duration) (string, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("marshal credential: %w", err)
	}
	if err := s.client.Set(ctx, credKey(cred.ID), data, ttl).Err(); err != nil {
		return "", fmt.Errorf("store credential %s: %w", cred.ID, err)
	}
	return cred.ID, nil
}

// Get reads a credential by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*types.Credential, error) {
	data, err := s.client.Get(ctx, credKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	var cred types.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential %s: %w", id, err)
	}
	return &cred, nil
}

// Delete removes a credential ahead of its TTL, used once a job reaches
// a terminal state.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, credKey(id)).Err(); err != nil {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	return nil
}

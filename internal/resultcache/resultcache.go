// Package resultcache stores each job's result-folder directory listing
// under a per-job Redis key (`job_result_folder_content<jobId>`), so a
// status poll can return results without a fresh remote `ls` on every
// request.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a job has no cached listing yet.
var ErrNotFound = errors.New("resultcache: no cached listing for job")

// Entry is a single file or directory found under a job's result folder.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// Cache stores and retrieves a job's result folder listing.
type Cache interface {
	Put(ctx context.Context, jobID string, entries []Entry) error
	Get(ctx context.Context, jobID string) ([]Entry, error)
	Delete(ctx context.Context, jobID string) error
}

// RedisCache implements Cache over a single Redis instance.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func resultKey(jobID string) string { return "job_result_folder_content" + jobID }

func (c *RedisCache) Put(ctx context.Context, jobID string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal result listing for job %s: %w", jobID, err)
	}
	if err := c.client.Set(ctx, resultKey(jobID), data, 0).Err(); err != nil {
		return fmt.Errorf("store result listing for job %s: %w", jobID, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, jobID string) ([]Entry, error) {
	data, err := c.client.Get(ctx, resultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result listing for job %s: %w", jobID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal result listing for job %s: %w", jobID, err)
	}
	return entries, nil
}

func (c *RedisCache) Delete(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, resultKey(jobID)).Err(); err != nil {
		return fmt.Errorf("delete result listing for job %s: %w", jobID, err)
	}
	return nil
}

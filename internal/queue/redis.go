package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over a Redis list using RPUSH/LPOP
// against a per-cluster key.
type RedisQueue struct {
	client   *redis.Client
	key      string
	hydrator Hydrator
}

// NewRedisQueue returns a Queue for one cluster's key.
func NewRedisQueue(client *redis.Client, cluster string, hydrator Hydrator) *RedisQueue {
	return &RedisQueue{client: client, key: cluster, hydrator: hydrator}
}

// Push enqueues a job id.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Pop removes and returns the oldest hydrated job. If a popped id refers
// to a row that no longer exists in the store, it is skipped silently
// and the next one is tried; an empty queue returns (nil, nil) — the
// queue never blocks callers.
func (q *RedisQueue) Pop(ctx context.Context) (*types.Job, error) {
	for {
		id, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lpop %s: %w", q.key, err)
		}

		job, err := q.hydrator.HydrateJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("hydrate job %s: %w", id, err)
		}
		if job == nil {
			log.WithComponent("queue").Warn().Str("job_id", id).Msg("queue entry missing from store, skipping")
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Peek(ctx context.Context) (string, bool, error) {
	id, err := q.client.LIndex(ctx, q.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lindex %s: %w", q.key, err)
	}
	return id, true, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

func (q *RedisQueue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Length(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

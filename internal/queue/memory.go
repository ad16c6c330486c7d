package queue

import (
	"context"
	"sync"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// MemoryQueue is an in-process FIFO without a Redis dependency, used by
// tests.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []string
	hydrator Hydrator
}

// NewMemoryQueue returns an empty in-process queue.
func NewMemoryQueue(hydrator Hydrator) *MemoryQueue {
	return &MemoryQueue{hydrator: hydrator}
}

func (q *MemoryQueue) Push(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, jobID)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (*types.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil, nil
		}
		id := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		job, err := q.hydrator.HydrateJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			log.WithComponent("queue").Warn().Str("job_id", id).Msg("queue entry missing from store, skipping")
			continue
		}
		return job, nil
	}
}

func (q *MemoryQueue) Peek(ctx context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	return q.items[0], true, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) IsEmpty(ctx context.Context) (bool, error) {
	n, _ := q.Length(ctx)
	return n == 0, nil
}

// Package queue implements the Per-Cluster Queue: a durable FIFO of job
// IDs awaiting admission on a given cluster. Pop hydrates the Job row
// (including its folder refs) through a Hydrator; missing rows are
// skipped silently and the queue never blocks callers. Pop does not load
// the job's credential from the secret store.
package queue

import (
	"context"

	"github.com/cybergis/compute-supervisor/internal/types"
)

// Queue is a durable FIFO of job IDs for one cluster.
type Queue interface {
	Push(ctx context.Context, jobID string) error
	Pop(ctx context.Context) (*types.Job, error)
	Peek(ctx context.Context) (string, bool, error)
	Length(ctx context.Context) (int64, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// Hydrator loads a Job given its id,
// returning (nil, nil) when the id is not found so Pop can skip it.
type Hydrator interface {
	HydrateJob(ctx context.Context, jobID string) (*types.Job, error)
}

package queue

import (
	"context"
	"testing"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapHydrator map[string]*types.Job

func (m mapHydrator) HydrateJob(ctx context.Context, jobID string) (*types.Job, error) {
	return m[jobID], nil
}

func TestMemoryQueueFIFO(t *testing.T) {
	hydrator := mapHydrator{
		"a": {ID: "a"},
		"b": {ID: "b"},
	}
	q := NewMemoryQueue(hydrator)
	ctx := context.Background()

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, q.Push(ctx, "a"))
	require.NoError(t, q.Push(ctx, "b"))

	n, _ := q.Length(ctx)
	assert.EqualValues(t, 2, n)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	empty, _ = q.IsEmpty(ctx)
	assert.True(t, empty)
}

func TestMemoryQueueSkipsMissingRows(t *testing.T) {
	hydrator := mapHydrator{"present": {ID: "present"}}
	q := NewMemoryQueue(hydrator)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "ghost"))
	require.NoError(t, q.Push(ctx, "present"))

	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "present", job.ID)

	job, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueuePopOnEmptyIsNilNotBlocking(t *testing.T) {
	q := NewMemoryQueue(mapHydrator{})
	job, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

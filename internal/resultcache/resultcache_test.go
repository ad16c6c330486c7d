package resultcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCachePutGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, err := c.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	entries := []Entry{{Name: "out.txt", Size: 42}, {Name: "logs", IsDir: true}}
	require.NoError(t, c.Put(ctx, "job-1", entries))

	got, err := c.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, c.Delete(ctx, "job-1"))
	_, err = c.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

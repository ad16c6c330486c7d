package secretstore

import (
	"context"
	"testing"
	"time"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cred := types.Credential{User: "alice", Password: "hunter2"}
	id, err := s.Put(ctx, cred, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.User)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePreservesSuppliedID(t *testing.T) {
	s := NewMemoryStore()
	cred := types.Credential{ID: "explicit-id", User: "bob"}
	id, err := s.Put(context.Background(), cred, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", id)
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cred := types.Credential{ID: "short-lived", User: "carol"}
	_, err := s.Put(ctx, cred, -time.Second)
	require.NoError(t, err)

	_, err = s.Get(ctx, "short-lived")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

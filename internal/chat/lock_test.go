package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockSerializesWriters(t *testing.T) {
	lock := NewMemoryLock(time.Minute)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "conv-1", "session-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A second writer is refused while the lease is live.
	ok, err = lock.Acquire(ctx, "conv-1", "session-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other conversations are independent.
	ok, err = lock.Acquire(ctx, "conv-2", "session-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// The holder may re-acquire its own lease.
	ok, err = lock.Acquire(ctx, "conv-1", "session-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockReleaseFreesLease(t *testing.T) {
	lock := NewMemoryLock(time.Minute)
	ctx := context.Background()

	ok, _ := lock.Acquire(ctx, "conv-1", "session-a")
	require.True(t, ok)

	// A foreign release is a no-op.
	require.NoError(t, lock.Release(ctx, "conv-1", "session-b"))
	ok, _ = lock.Acquire(ctx, "conv-1", "session-b")
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "conv-1", "session-a"))
	ok, _ = lock.Acquire(ctx, "conv-1", "session-b")
	assert.True(t, ok)
}

func TestMemoryLockLeaseExpires(t *testing.T) {
	lock := NewMemoryLock(20 * time.Millisecond)
	ctx := context.Background()

	ok, _ := lock.Acquire(ctx, "conv-1", "session-a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	// A crashed holder self-heals: the expired lease is taken over.
	ok, err := lock.Acquire(ctx, "conv-1", "session-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockRefresh(t *testing.T) {
	lock := NewMemoryLock(time.Minute)
	ctx := context.Background()

	ok, _ := lock.Acquire(ctx, "conv-1", "session-a")
	require.True(t, ok)

	assert.NoError(t, lock.Refresh(ctx, "conv-1", "session-a"))
	assert.ErrorIs(t, lock.Refresh(ctx, "conv-1", "session-b"), ErrLockLost)

	// Refreshing an expired or missing lease re-takes it.
	require.NoError(t, lock.Release(ctx, "conv-1", "session-a"))
	assert.NoError(t, lock.Refresh(ctx, "conv-1", "session-b"))
	ok, _ = lock.Acquire(ctx, "conv-1", "session-a")
	assert.False(t, ok)
}

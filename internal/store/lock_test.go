package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxyhq/dsync/internal/store"
)

func TestLock_AcquireAndReacquire(t *testing.T) {
	db := newTestDB(t)
	lock := store.NewLock(db, time.Minute)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same instance can re-acquire its own unexpired lock.
	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_SecondInstanceFailsClosed(t *testing.T) {
	db := newTestDB(t)
	first := store.NewLock(db, time.Minute)
	second := store.NewLock(db, time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_TakesOverExpiredLock(t *testing.T) {
	db := newTestDB(t)
	first := store.NewLock(db, -time.Second)
	second := store.NewLock(db, time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The first instance's lock is already expired; the second takes over.
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseFreesLock(t *testing.T) {
	db := newTestDB(t)
	first := store.NewLock(db, time.Minute)
	second := store.NewLock(db, time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_RenewRequiresOwnership(t *testing.T) {
	db := newTestDB(t)
	first := store.NewLock(db, time.Minute)
	second := store.NewLock(db, time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, first.Renew(ctx))
	assert.Error(t, second.Renew(ctx))
}

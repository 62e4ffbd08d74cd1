package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSetDelete(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCacheSetNX(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "lock"))
	ok, err = c.SetNX(ctx, "lock", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheCompareAndDeleteKeepsOtherOwnersValue(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	ok, err := c.CompareAndDelete(ctx, "lock", "a")
	require.NoError(t, err)
	assert.False(t, ok, "missing key")

	ok, err = c.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.CompareAndDelete(ctx, "lock", "a")
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	ok, err = c.CompareAndDelete(ctx, "lock", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = c.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrMiss)
}

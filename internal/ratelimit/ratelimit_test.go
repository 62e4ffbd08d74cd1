package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/cache"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string][]time.Time
	err    error
}

func (f *fakeCounter) add(ip string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string][]time.Time{}
	}
	f.counts[ip] = append(f.counts[ip], at)
}

func (f *fakeCounter) CountAnonymousSince(_ context.Context, ip string, since time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, at := range f.counts[ip] {
		if at.After(since) {
			n++
		}
	}
	return n, nil
}

func TestCheckAllowsUpToLimitWithinWindow(t *testing.T) {
	counter := &fakeCounter{}
	limiter := New(counter, nil, Options{Limit: 3, Window: 24 * time.Hour}, zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Check(ctx, "10.0.0.1", now), "request %d", i+1)
		counter.add("10.0.0.1", now)
	}

	err := limiter.Check(ctx, "10.0.0.1", now)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(3), exceeded.Count)
	assert.Equal(t, 3, exceeded.Limit)

	assert.NoError(t, limiter.Check(ctx, "10.0.0.2", now), "other addresses are independent")
}

func TestCheckWindowIsRolling(t *testing.T) {
	counter := &fakeCounter{}
	limiter := New(counter, nil, Options{Limit: 1, Window: 24 * time.Hour}, zap.NewNop())
	start := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	counter.add("ip", start)

	assert.Error(t, limiter.Check(context.Background(), "ip", start.Add(2*time.Hour)), "calendar day changed but window did not")
	assert.NoError(t, limiter.Check(context.Background(), "ip", start.Add(24*time.Hour+time.Second)))
}

func TestCheckDisabledWhenLimitNotPositive(t *testing.T) {
	counter := &fakeCounter{err: errors.New("should not be called")}
	limiter := New(counter, nil, Options{Limit: 0}, zap.NewNop())
	assert.NoError(t, limiter.Check(context.Background(), "ip", time.Now()))
}

func TestCheckPropagatesCounterErrors(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	limiter := New(counter, nil, Options{Limit: 3}, zap.NewNop())

	err := limiter.Check(context.Background(), "ip", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimitExceeded)
}

func TestAcquireIsNoopInBestEffortMode(t *testing.T) {
	limiter := New(&fakeCounter{}, cache.NewMemoryCache(time.Minute), Options{Limit: 3}, zap.NewNop())

	release1, err := limiter.Acquire(context.Background(), "ip")
	require.NoError(t, err)
	release2, err := limiter.Acquire(context.Background(), "ip")
	require.NoError(t, err)
	release1()
	release2()
}

func TestAcquireSerialisesInStrictMode(t *testing.T) {
	locks := cache.NewMemoryCache(time.Minute)
	limiter := New(&fakeCounter{}, locks, Options{Limit: 3, Strict: true, LockTTL: time.Minute, LockWait: 20 * time.Millisecond}, zap.NewNop())
	limiter.pollInterval = time.Millisecond

	release, err := limiter.Acquire(context.Background(), "ip")
	require.NoError(t, err)

	_, err = limiter.Acquire(context.Background(), "ip")
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := limiter.Acquire(context.Background(), "other-ip")
	require.NoError(t, err)
	other()

	release()
	again, err := limiter.Acquire(context.Background(), "ip")
	require.NoError(t, err)
	again()
}

func TestAcquireLateReleaseKeepsSuccessorLock(t *testing.T) {
	locks := cache.NewMemoryCache(time.Minute)
	limiter := New(&fakeCounter{}, locks, Options{Limit: 3, Strict: true, LockTTL: 100 * time.Millisecond, LockWait: 20 * time.Millisecond}, zap.NewNop())
	limiter.pollInterval = time.Millisecond
	ctx := context.Background()

	releaseFirst, err := limiter.Acquire(ctx, "ip")
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	releaseSecond, err := limiter.Acquire(ctx, "ip")
	require.NoError(t, err, "expired lock is free again")

	releaseFirst()

	_, err = limiter.Acquire(ctx, "ip")
	assert.ErrorIs(t, err, ErrLockTimeout, "the second holder still owns the lock")

	releaseSecond()
	releaseThird, err := limiter.Acquire(ctx, "ip")
	require.NoError(t, err)
	releaseThird()
}

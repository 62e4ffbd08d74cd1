// Package ratelimit caps anonymous uploads per client address over a rolling
// window. Counts come from persisted records, so the limit survives restarts
// and is shared by every instance using the same database.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/cache"
)

// ErrRateLimitExceeded matches every *ExceededError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrLockTimeout is returned when strict mode cannot take the address lock.
var ErrLockTimeout = errors.New("timed out waiting for rate limit lock")

// ExceededError carries the number of uploads already counted in the window.
type ExceededError struct {
	Count int64
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("anonymous upload limit reached: %d of %d", e.Count, e.Limit)
}

// Is lets errors.Is match ErrRateLimitExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Counter counts anonymous records for an address.
type Counter interface {
	CountAnonymousSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// Options tunes the limiter. A Limit <= 0 disables limiting.
type Options struct {
	Limit    int
	Window   time.Duration
	Strict   bool
	LockTTL  time.Duration
	// LockWait bounds how long Acquire waits for a busy lock. Defaults to LockTTL.
	LockWait time.Duration
}

// Limiter decides whether an anonymous upload may proceed.
type Limiter struct {
	counter      Counter
	locks        cache.Cache
	opts         Options
	pollInterval time.Duration
	logger       *zap.Logger
}

// New creates a limiter. locks is only used when opts.Strict is set.
func New(counter Counter, locks cache.Cache, opts Options, logger *zap.Logger) *Limiter {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = opts.LockTTL
	}
	return &Limiter{
		counter:      counter,
		locks:        locks,
		opts:         opts,
		pollInterval: 25 * time.Millisecond,
		logger:       logger.Named("ratelimit"),
	}
}

// Check counts anonymous records from ip created within the window ending at
// now and rejects with *ExceededError once the count reaches the limit.
func (l *Limiter) Check(ctx context.Context, ip string, now time.Time) error {
	if l.opts.Limit <= 0 {
		return nil
	}
	count, err := l.counter.CountAnonymousSince(ctx, ip, now.Add(-l.opts.Window))
	if err != nil {
		return fmt.Errorf("count anonymous uploads: %w", err)
	}
	if count >= int64(l.opts.Limit) {
		l.logger.Info("anonymous upload rejected",
			zap.String("ip", ip),
			zap.Int64("count", count),
			zap.Int("limit", l.opts.Limit),
		)
		return &ExceededError{Count: count, Limit: l.opts.Limit}
	}
	return nil
}

// Acquire serialises check-then-insert for ip when strict mode is on. In the
// default best-effort mode it returns immediately. The returned release
// function must always be called.
func (l *Limiter) Acquire(ctx context.Context, ip string) (func(), error) {
	if !l.opts.Strict || l.locks == nil || l.opts.Limit <= 0 {
		return func() {}, nil
	}

	key := "ratelimit:lock:" + ip
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.LockWait)

	for {
		ok, err := l.locks.SetNX(ctx, key, token, l.opts.LockTTL)
		if err != nil {
			return func() {}, fmt.Errorf("acquire rate limit lock: %w", err)
		}
		if ok {
			return func() {
				// A fresh context so the lock is released even if the request was cancelled.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				released, err := l.locks.CompareAndDelete(releaseCtx, key, token)
				if err != nil {
					l.logger.Warn("failed to release rate limit lock", zap.String("ip", ip), zap.Error(err))
					return
				}
				if !released {
					l.logger.Warn("rate limit lock expired before release", zap.String("ip", ip), zap.Duration("lock_ttl", l.opts.LockTTL))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return func() {}, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisLockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultRedisLockOptions() RedisLockOptions {
	return RedisLockOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every API replica, built on the RedLock
// algorithm.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisLockOptions
	log  *zap.Logger
}

func NewRedisLocker(client *redis.Client, opts RedisLockOptions, log *zap.Logger) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultRedisLockOptions().Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = DefaultRedisLockOptions().Tries
	}
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	fnErr := fn(ctx)

	// The store's version check rejects a write made after the lock expired,
	// so a failed release only needs logging.
	ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
	if err != nil {
		l.log.Error("failed to release lock", zap.String("key", key), zap.Error(err))
	} else if !ok {
		l.log.Warn("lock expired before release", zap.String("key", key))
	}

	return fnErr
}

package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another instance")

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	cli      RedisClient
	attempts int
	wait     time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, attempts: 5, wait: 50 * time.Millisecond}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.attempts; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		if err == nil && ok {
			return token, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.wait):
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrLockHeld
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return l.cli.DelIfEquals(ctx, key, token)
}

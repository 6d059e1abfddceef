package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// ErrLockHeld is returned when the key stays locked for every try.
var ErrLockHeld = errors.New("redis: lock is held by another owner")

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	cli   RedisClient
	tries uint64
	wait  time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, tries: 5, wait: 50 * time.Millisecond}
}

// TryLock polls SETNX a few times before giving up with ErrLockHeld.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	backoff := retry.WithMaxRetries(l.tries-1, retry.NewConstant(l.wait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ok {
			return retry.RetryableError(ErrLockHeld)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

const luaUnlock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Unlock releases key only if token still owns it.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.cli.Eval(ctx, luaUnlock, []string{key}, token)
	return err
}

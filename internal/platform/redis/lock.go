package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gift-exchange-backend/internal/common/logger"
)

const lockKeyPrefix = "lock:"

// ErrLockTimeout is returned when the lease could not be taken within the wait budget.
var ErrLockTimeout = errors.New("lock wait timeout")

// Снимаем блокировку только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lease based lock shared by every instance using the same Redis.
// The TTL bounds how long a crashed holder can block others.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
}

func NewLocker(client redis.UniversalClient, ttl, wait time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, wait: wait}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	owner := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, lockKey, owner, l.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to acquire lock: %w", err))
		}
		if !ok {
			return struct{}{}, ErrLockTimeout
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.wait))
	if err != nil {
		return nil, err
	}

	return func() {
		// контекст запроса может быть уже отменён
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, owner).Err(); err != nil {
			logger.Warn().Err(err).Str("key", lockKey).Msg("Failed to release lock")
		}
	}, nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hlsflow/internal/telemetry"

	redis "github.com/go-redis/redis/v8"
	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
)

var (
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrLockNotHeld     = errors.New("lock not held")
)

// Only the holder of the token may delete or extend the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out leased mutual-exclusion locks stored as Redis keys.
type Locker interface {
	Acquire(ctx context.Context, key string, lease, wait time.Duration) (Lock, error)
}

type Lock interface {
	Key() string
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
	// KeepAlive extends the lease every interval until the returned stop
	// function is called.
	KeepAlive(interval time.Duration) (stop func())
}

type RedisLocker struct {
	client        *redis.Client
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, retryInterval time.Duration) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
	}
	return &RedisLocker{client: client, retryInterval: retryInterval}
}

// Acquire polls SET NX PX until it wins or wait elapses. Losing the race
// returns ErrLockUnavailable.
func (l *RedisLocker) Acquire(ctx context.Context, key string, lease, wait time.Duration) (Lock, error) {
	token := shortuuid.New()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			telemetry.Logger.Debug("Lock acquired", zap.String("key", key))
			return &redisLock{client: l.client, key: key, token: token, lease: lease}, nil
		}

		if time.Now().Add(l.retryInterval).After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrLockUnavailable, key, wait)
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	lease  time.Duration
}

func (l *redisLock) Key() string { return l.key }

func (l *redisLock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.lease.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	telemetry.Logger.Debug("Lock released", zap.String("key", l.key))
	return nil
}

func (l *redisLock) KeepAlive(interval time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				err := l.Extend(ctx)
				cancel()
				if err != nil {
					telemetry.Logger.Error("System Error: Failed to extend lock lease", zap.String("key", l.key), zap.Error(err))
					if errors.Is(err, ErrLockNotHeld) {
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

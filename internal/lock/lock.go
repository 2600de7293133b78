package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hostedid/notifier/internal/config"
)

// ErrHeld is returned when another run already holds the lock.
var ErrHeld = errors.New("another notifier run holds the lock")

// Release gives the lock back. It is safe to call after the lock expired.
type Release func(ctx context.Context) error

// Locker guards a batch run against concurrent invocations.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// Noop is the Locker used when locking is disabled.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(ctx context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by a single Redis key with a TTL.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedis connects to Redis and returns a Locker for cfg.Key.
func NewRedis(cfg config.LockConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.Key, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock or returns ErrHeld.
func (r *Redis) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", r.key, err)
		}
		return nil
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/observatory/internal/logger"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
	// LockTTL bounds how long another process may hold the computation lock.
	LockTTL time.Duration
	// PollInterval is how often waiters check for the value while another
	// process computes it.
	PollInterval time.Duration
}

// Redis is a shared cache backed by Redis.
type Redis struct {
	rdb          *goredis.Client
	prefix       string
	lockTTL      time.Duration
	pollInterval time.Duration
	group        singleflight.Group
}

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedis(rdb, opts), nil
}

func newRedis(rdb *goredis.Client, opts RedisOptions) *Redis {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Redis{
		rdb:          rdb,
		prefix:       opts.Prefix,
		lockTTL:      opts.LockTTL,
		pollInterval: opts.PollInterval,
	}
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get returns a stored value.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	v, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return r.rdb.Del(ctx, r.key(key)).Err()
	}
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// ComputeOnce implements Cache. Within a process callers share one flight; across
// processes the flight holder takes a SET NX lock and other holders poll for the
// value until it appears or the lock is released.
func (r *Redis) ComputeOnce(ctx context.Context, key string, fn ComputeFunc) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	v, ok, err := r.Get(ctx, key)
	if err != nil {
		logger.Warn("cache: %v, computing without cache", err)
	}
	if ok {
		return v, true, nil
	}

	res, err := flight(ctx, &r.group, key, func() (result, error) {
		return r.computeLocked(context.WithoutCancel(ctx), key, fn)
	})
	return res.value, res.hit, err
}

func (r *Redis) computeLocked(ctx context.Context, key string, fn ComputeFunc) (result, error) {
	lockKey := r.key("lock:" + key)
	token := uuid.NewString()
	deadline := time.Now().Add(r.lockTTL)

	for {
		acquired, err := r.rdb.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			logger.Warn("cache: lock %s: %v, computing without lock", key, err)
			return r.compute(ctx, key, fn)
		}
		if acquired {
			defer func() {
				if err := unlockScript.Run(ctx, r.rdb, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
					logger.Warn("cache: unlock %s: %v", key, err)
				}
			}()
			if v, ok, _ := r.Get(ctx, key); ok {
				return result{value: v, hit: true}, nil
			}
			return r.compute(ctx, key, fn)
		}

		// another process holds the lock; wait for its value
		select {
		case <-ctx.Done():
			return result{}, ctx.Err()
		case <-time.After(r.pollInterval):
		}
		if v, ok, _ := r.Get(ctx, key); ok {
			return result{value: v, hit: true}, nil
		}
		if time.Now().After(deadline) {
			logger.Warn("cache: lock %s held past %v, computing locally", key, r.lockTTL)
			return r.compute(ctx, key, fn)
		}
	}
}

func (r *Redis) compute(ctx context.Context, key string, fn ComputeFunc) (result, error) {
	v, ttl, err := fn(ctx)
	if err != nil {
		return result{}, err
	}
	if ttl > 0 {
		if err := r.Set(ctx, key, v, ttl); err != nil {
			logger.Warn("cache: store %s: %v", key, err)
		}
	}
	return result{value: v}, nil
}

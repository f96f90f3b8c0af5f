// Package cache provides TTL key-value caches with single-flight computation.
//
// ComputeOnce guarantees at most one concurrent computation per key inside a
// process; RedisCache additionally coordinates across processes with a short
// lock key. A value is only written after its computation completes, so callers
// never observe partial results. Computations run detached from the cancellation
// of the caller that started them; a cancelled caller returns ctx.Err() while the
// others keep waiting.
package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a value and the TTL to store it with. A TTL of zero or
// less returns the value to every waiting caller without storing it.
type ComputeFunc func(ctx context.Context) (value []byte, ttl time.Duration, err error)

// Cache is a byte-valued TTL store with stampede protection.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// ComputeOnce returns the cached value for key, or runs fn exactly once among
	// concurrent callers. hit reports whether the value came from the store.
	ComputeOnce(ctx context.Context, key string, fn ComputeFunc) (value []byte, hit bool, err error)
}

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("cache key must not be empty")

type result struct {
	value []byte
	hit   bool
}

// flight runs fn through group, letting each caller give up on its own context
// while the shared computation continues for the others.
func flight(ctx context.Context, group *singleflight.Group, key string, fn func() (result, error)) (result, error) {
	ch := group.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		return result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return result{}, res.Err
		}
		return res.Val.(result), nil
	}
}

// Nop never stores anything but still collapses concurrent computations.
type Nop struct {
	group singleflight.Group
}

// NewNop returns a cache that only deduplicates in-flight work.
func NewNop() *Nop {
	return &Nop{}
}

func (n *Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (n *Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (n *Nop) ComputeOnce(ctx context.Context, key string, fn ComputeFunc) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	res, err := flight(ctx, &n.group, key, func() (result, error) {
		v, _, err := fn(context.WithoutCancel(ctx))
		return result{value: v}, err
	})
	return res.value, false, err
}

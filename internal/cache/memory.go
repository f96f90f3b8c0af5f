package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// access and by Purge.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a live entry.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

// ComputeOnce implements Cache.
func (m *Memory) ComputeOnce(ctx context.Context, key string, fn ComputeFunc) ([]byte, bool, error) {
	if v, ok, err := m.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	res, err := flight(ctx, &m.group, key, func() (result, error) {
		// a previous flight may have filled the key while this one was queued
		if v, ok, _ := m.Get(ctx, key); ok {
			return result{value: v, hit: true}, nil
		}
		v, ttl, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return result{}, err
		}
		if ttl > 0 {
			_ = m.Set(ctx, key, v, ttl)
		}
		return result{value: v}, nil
	})
	return res.value, res.hit, err
}

// Purge removes expired entries and returns how many were dropped.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

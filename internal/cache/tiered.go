package cache

import (
	"context"
	"time"
)

// TieredCache wraps a shared L2 cache (normally RedisCache, reachable by
// every Gateway replica) with a short-TTL local L1 in front of it, so a
// burst of lookups for the same hot function's endpoint absorbs against
// process memory instead of round-tripping Redis on every request. It
// exists specifically because HostCache's own in-process LRU is each
// replica's private view — TieredCache is what lets a caller that wants a
// plain Cache with cross-replica reach still avoid hammering Redis under
// load, by composing two InMemoryCache/RedisCache instances rather than
// inventing a third locking scheme.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration // how long an entry is trusted in L1 before re-checking L2
}

// NewTieredCache composes l1 in front of l2. l1TTL bounds how long an L2 hit
// is trusted locally before the next Get re-validates against l2; it
// defaults to 10s when zero or negative.
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.l1.Get(ctx, key); err == nil {
		return val, nil
	}

	val, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Re-warm L1 so the next lookup for this key, within l1TTL, stays local.
	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, value, t.l1TTL)
	return t.l2.Set(ctx, key, value, ttl)
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.l1.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}

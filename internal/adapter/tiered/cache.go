// Package tiered layers the in-process project cache over the shared NATS
// bucket so repeated lookups stay local and other instances benefit from
// each other's lookups.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/Strob0t/ledgersync/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2, backfilling L1 on an L2 hit.
// Set and Delete operate on both levels.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire controls how long L2 backfill entries live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. An L1 failure falls through to L2.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	if val, found, l1Err := c.l1.Get(ctx, key); l1Err == nil && found {
		return val, true, nil
	}

	val, found, err := c.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set writes to both levels. L1 is written even when L2 fails.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Join(c.l1.Set(ctx, key, value, ttl), c.l2.Set(ctx, key, value, ttl))
}

// Delete removes from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.l1.Delete(ctx, key), c.l2.Delete(ctx, key))
}

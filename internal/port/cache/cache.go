// Package cache defines the port interface for caching remote lookups.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Implementations may
// evict entries early; a miss is never an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Reserver is implemented by caches that can store a key only if it is
// absent, atomically with respect to every other Reserve on that key.
type Reserver interface {
	// Reserve stores value under key and reports true, or reports false
	// when the key already holds a value.
	Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

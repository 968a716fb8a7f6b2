package cache

import (
	"context"
	"time"
)

// Cache is the tenant-scoped credential cache contract. Invalidation is
// best-effort: a missed Delete self-heals when the entry's TTL elapses.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

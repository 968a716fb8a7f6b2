package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the in-process default, backed by go-cache.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, found := m.c.Get(key)
	if !found {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

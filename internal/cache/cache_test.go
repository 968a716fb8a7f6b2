package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := c.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("get = (%q, %v, %v)", v, found, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Errorf("deleted key still present")
	}
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisCache(rdb)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := c.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("get = (%q, %v, %v)", v, found, err)
	}

	// TTL expiry.
	srv.FastForward(2 * time.Minute)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Errorf("expired key still present")
	}

	if err := c.Set(ctx, "k2", "v2", time.Minute); err != nil {
		t.Fatalf("set k2: %v", err)
	}
	if err := c.Delete(ctx, "k2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k2"); found {
		t.Errorf("deleted key still present")
	}
}

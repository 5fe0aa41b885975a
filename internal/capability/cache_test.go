package capability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return NewRedisCache(client), server
}

func TestSetGet_RoundTrips(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "dev-1:last_score", "0.42", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, ok, err := cache.Get(ctx, "dev-1:last_score")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || val != "0.42" {
		t.Fatalf("expected to read back the set value, got %q %v", val, ok)
	}
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	cache, _ := newTestCache(t)
	_, ok, err := cache.Get(context.Background(), "no-such-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}

func TestDel_RemovesKey(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	cache.Set(ctx, "k", "v", time.Minute)

	if err := cache.Del(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, _ := cache.Get(ctx, "k")
	if ok {
		t.Fatal("expected key to be gone after Del")
	}
}

func TestFlush_WildcardTargetFlushesEverything(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()
	cache.Set(ctx, "a", "1", time.Minute)
	cache.Set(ctx, "b", "2", time.Minute)

	if err := cache.Flush(ctx, "*"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(server.Keys()) != 0 {
		t.Fatalf("expected flush to clear every key, got %v", server.Keys())
	}
}

func TestFlush_NamedTargetDeletesOnlyThatKey(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()
	cache.Set(ctx, "a", "1", time.Minute)
	cache.Set(ctx, "b", "2", time.Minute)

	if err := cache.Flush(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server.Exists("a") {
		t.Fatal("expected target key to be deleted")
	}
	if !server.Exists("b") {
		t.Fatal("expected unrelated key to survive")
	}
}

package cache_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keystone-api/keystone/internal/cache"
	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
)

type countingStats struct {
	hits, misses int
}

func (c *countingStats) CacheHit()  { c.hits++ }
func (c *countingStats) CacheMiss() { c.misses++ }

func newCache(t *testing.T) (*cache.Service, *miniredis.Miniredis, *countingStats) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	stats := &countingStats{}
	client := platformcache.NewClientFromRedis(rdb, nil)
	return cache.NewService(client, nil, stats), mr, stats
}

func downCache() *cache.Service {
	client := platformcache.NewClient(platformcache.Options{Addr: "127.0.0.1:1", MaxAttempts: 1}, nil)
	return cache.NewService(client, nil, nil)
}

func TestSetGetRoundtrip(t *testing.T) {
	svc, mr, stats := newCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if !svc.Set(ctx, "k1", payload{Name: "a", Count: 3}, time.Minute) {
		t.Fatalf("set failed")
	}
	var out payload
	if !svc.GetJSON(ctx, "k1", &out) {
		t.Fatalf("get missed")
	}
	if out.Name != "a" || out.Count != 3 {
		t.Fatalf("roundtrip = %+v", out)
	}
	if ttl := mr.TTL("k1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v, want (0, 1m]", ttl)
	}
	if stats.hits != 1 {
		t.Fatalf("hits = %d, want 1", stats.hits)
	}

	// ttl 0 persists without expiry.
	svc.Set(ctx, "k2", "forever", 0)
	if svc.TTL(ctx, "k2") != -1 {
		t.Fatalf("TTL of persistent key = %d, want -1", svc.TTL(ctx, "k2"))
	}
}

func TestGetDecodesOrFallsBack(t *testing.T) {
	svc, mr, _ := newCache(t)
	ctx := context.Background()

	mr.Set("json", `{"n":1}`)
	v := svc.Get(ctx, "json")
	m, ok := v.(map[string]any)
	if !ok || m["n"] != float64(1) {
		t.Fatalf("json value = %#v", v)
	}

	// Non-JSON content comes back as the raw string.
	mr.Set("raw", "plain text")
	if v := svc.Get(ctx, "raw"); v != "plain text" {
		t.Fatalf("raw value = %#v", v)
	}

	if v := svc.Get(ctx, "missing"); v != nil {
		t.Fatalf("missing key = %#v, want nil", v)
	}
}

func TestDegradedBackendIsInert(t *testing.T) {
	svc := downCache()
	ctx := context.Background()

	if svc.Set(ctx, "k", "v", time.Minute) {
		t.Fatalf("set must report failure when down")
	}
	if v := svc.Get(ctx, "k"); v != nil {
		t.Fatalf("get must return nil when down")
	}
	var dest string
	if svc.GetJSON(ctx, "k", &dest) {
		t.Fatalf("getjson must miss when down")
	}
	if svc.Delete(ctx, "k") {
		t.Fatalf("delete must be a no-op when down")
	}
	if n := svc.DeleteByPattern(ctx, "keystone:*"); n != 0 {
		t.Fatalf("pattern delete when down = %d, want 0", n)
	}
	if svc.Increment(ctx, "k", 1) != nil {
		t.Fatalf("increment must return nil when down")
	}
	if svc.Exists(ctx, "k") {
		t.Fatalf("exists must be false when down")
	}
	if svc.TTL(ctx, "k") != -2 {
		t.Fatalf("ttl must be -2 when down")
	}
}

func TestDeleteByPattern(t *testing.T) {
	svc, _, _ := newCache(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		filter := map[string]any{"search": fmt.Sprintf("t%d", i)}
		svc.Set(ctx, cache.UserListKey(i+1, 20, filter), i, time.Minute)
	}
	svc.Set(ctx, cache.UserKey("u1"), "keep", time.Minute)

	deleted := svc.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindUserList))
	if deleted != 250 {
		t.Fatalf("deleted = %d, want 250", deleted)
	}
	if !svc.Exists(ctx, cache.UserKey("u1")) {
		t.Fatalf("item key outside the pattern must survive")
	}
	// Second sweep finds nothing but does not fail.
	if n := svc.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindUserList)); n != 0 {
		t.Fatalf("second sweep = %d, want 0", n)
	}
}

func TestIncrementDecrement(t *testing.T) {
	svc, _, _ := newCache(t)
	ctx := context.Background()

	n := svc.Increment(ctx, "counter", 5)
	if n == nil || *n != 5 {
		t.Fatalf("increment = %v", n)
	}
	n = svc.Decrement(ctx, "counter", 2)
	if n == nil || *n != 3 {
		t.Fatalf("decrement = %v", n)
	}
}

func TestMGetMSet(t *testing.T) {
	svc, _, _ := newCache(t)
	ctx := context.Background()

	if !svc.MSet(ctx, map[string]any{"a": 1, "b": "two"}, time.Minute) {
		t.Fatalf("mset failed")
	}
	vals := svc.MGet(ctx, "a", "missing", "b")
	if vals[0] != float64(1) {
		t.Fatalf("vals[0] = %#v", vals[0])
	}
	if vals[1] != nil {
		t.Fatalf("vals[1] = %#v, want nil", vals[1])
	}
	if vals[2] != "two" {
		t.Fatalf("vals[2] = %#v", vals[2])
	}
}

func TestFetchReadThrough(t *testing.T) {
	svc, _, stats := newCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]string{"v": "loaded"}, nil
	}

	var out map[string]string
	if err := svc.Fetch(ctx, "f1", time.Minute, &out, loader); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out["v"] != "loaded" || calls != 1 {
		t.Fatalf("first fetch: out=%v calls=%d", out, calls)
	}

	out = nil
	if err := svc.Fetch(ctx, "f1", time.Minute, &out, loader); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out["v"] != "loaded" || calls != 1 {
		t.Fatalf("second fetch must hit cache: calls=%d", calls)
	}
	if stats.hits != 1 || stats.misses != 1 {
		t.Fatalf("stats = %d hits %d misses, want 1/1", stats.hits, stats.misses)
	}
}

func TestFetchLoaderError(t *testing.T) {
	svc, _, _ := newCache(t)
	wantErr := errors.New("store down")

	var out string
	err := svc.Fetch(context.Background(), "f2", time.Minute, &out, func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("fetch error = %v, want %v", err, wantErr)
	}
}

func TestFetchWithBackendDown(t *testing.T) {
	svc := downCache()

	calls := 0
	var out string
	for i := 0; i < 2; i++ {
		if err := svc.Fetch(context.Background(), "f3", time.Minute, &out, func(context.Context) (any, error) {
			calls++
			return "value", nil
		}); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if out != "value" || calls != 2 {
		t.Fatalf("degraded fetch must call the loader every time: calls=%d", calls)
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
)

// Stats receives cache outcome counts. Implemented by observability.Metrics.
type Stats interface {
	CacheHit()
	CacheMiss()
}

// Service is the application cache. Every operation degrades to a no-op when
// the backing store is unreachable: cache is an optimization, never a
// correctness dependency, so no method here returns an error to its caller.
type Service struct {
	client *platformcache.Client
	logger *slog.Logger
	stats  Stats
}

// NewService constructs the cache service. stats may be nil.
func NewService(client *platformcache.Client, logger *slog.Logger, stats Stats) *Service {
	return &Service{client: client, logger: logger, stats: stats}
}

func (s *Service) redis() *redis.Client {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Redis()
}

// Get returns the cached value for key, or nil on miss, backend-down, or
// command failure. JSON payloads are decoded; anything else comes back as the
// raw string.
func (s *Service) Get(ctx context.Context, key string) any {
	rdb := s.redis()
	if rdb == nil {
		return nil
	}
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn("cache get", key, err)
		}
		s.miss()
		return nil
	}
	s.hit()
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// Not JSON; return the stored string as-is.
		return raw
	}
	return decoded
}

// GetJSON decodes the cached value into dest and reports whether it was found.
func (s *Service) GetJSON(ctx context.Context, key string, dest any) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn("cache get", key, err)
		}
		s.miss()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.warn("cache decode", key, err)
		s.miss()
		return false
	}
	s.hit()
	return true
}

// Set stores value under key with the given TTL. ttl 0 means no expiry.
// Returns false when the value could not be stored.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	payload, err := marshalValue(value)
	if err != nil {
		s.warn("cache marshal", key, err)
		return false
	}
	if err := rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		s.warn("cache set", key, err)
		return false
	}
	return true
}

// Delete removes a single key. Returns true when a key was actually deleted.
func (s *Service) Delete(ctx context.Context, key string) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	n, err := rdb.Del(ctx, key).Result()
	if err != nil {
		s.warn("cache delete", key, err)
		return false
	}
	return n > 0
}

// Flush drops every key in the configured database. Meant for operational
// tooling, not request paths.
func (s *Service) Flush(ctx context.Context) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		s.warn("cache flush", "", err)
		return false
	}
	return true
}

// DeleteByPattern removes every key matching the glob and returns the count.
// Uses SCAN rather than KEYS so a large invalidation does not stall the
// backend. Deleting an already-deleted key is a no-op, so concurrent sweeps
// for the same pattern are idempotent.
func (s *Service) DeleteByPattern(ctx context.Context, pattern string) int {
	rdb := s.redis()
	if rdb == nil {
		return 0
	}
	var deleted int
	iter := rdb.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := rdb.Del(ctx, batch...).Result()
		if err != nil {
			s.warn("cache delete batch", pattern, err)
		} else {
			deleted += int(n)
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		s.warn("cache scan", pattern, err)
	}
	if deleted > 0 && s.logger != nil {
		s.logger.Debug("cache invalidated", slog.String("pattern", pattern), slog.Int("deleted", deleted))
	}
	return deleted
}

// Increment adds by to the counter at key. Returns nil when unavailable.
func (s *Service) Increment(ctx context.Context, key string, by int64) *int64 {
	rdb := s.redis()
	if rdb == nil {
		return nil
	}
	n, err := rdb.IncrBy(ctx, key, by).Result()
	if err != nil {
		s.warn("cache incr", key, err)
		return nil
	}
	return &n
}

// Decrement subtracts by from the counter at key. Returns nil when unavailable.
func (s *Service) Decrement(ctx context.Context, key string, by int64) *int64 {
	rdb := s.redis()
	if rdb == nil {
		return nil
	}
	n, err := rdb.DecrBy(ctx, key, by).Result()
	if err != nil {
		s.warn("cache decr", key, err)
		return nil
	}
	return &n
}

// Exists reports whether key is present.
func (s *Service) Exists(ctx context.Context, key string) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		s.warn("cache exists", key, err)
		return false
	}
	return n == 1
}

// TTL returns the remaining lifetime in seconds: -1 for no expiry, -2 when the
// key does not exist or the backend is unavailable.
func (s *Service) TTL(ctx context.Context, key string) int64 {
	rdb := s.redis()
	if rdb == nil {
		return -2
	}
	d, err := rdb.TTL(ctx, key).Result()
	if err != nil {
		s.warn("cache ttl", key, err)
		return -2
	}
	if d < 0 {
		// go-redis passes through the redis sentinels -1 (no expiry) and -2
		// (missing key) untouched.
		return int64(d)
	}
	return int64(d / time.Second)
}

// Expire sets a fresh TTL on an existing key.
func (s *Service) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	rdb := s.redis()
	if rdb == nil {
		return false
	}
	ok, err := rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.warn("cache expire", key, err)
		return false
	}
	return ok
}

// MGet fetches several keys at once; missing and failed entries are nil.
func (s *Service) MGet(ctx context.Context, keys ...string) []any {
	out := make([]any, len(keys))
	rdb := s.redis()
	if rdb == nil || len(keys) == 0 {
		return out
	}
	vals, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		s.warn("cache mget", fmt.Sprintf("%d keys", len(keys)), err)
		return out
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			out[i] = raw
			continue
		}
		out[i] = decoded
	}
	return out
}

// MSet stores several key/value pairs with a shared TTL in one round trip.
func (s *Service) MSet(ctx context.Context, pairs map[string]any, ttl time.Duration) bool {
	rdb := s.redis()
	if rdb == nil || len(pairs) == 0 {
		return rdb != nil
	}
	pipe := rdb.Pipeline()
	for key, value := range pairs {
		payload, err := marshalValue(value)
		if err != nil {
			s.warn("cache marshal", key, err)
			continue
		}
		pipe.Set(ctx, key, payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.warn("cache mset", fmt.Sprintf("%d keys", len(pairs)), err)
		return false
	}
	return true
}

// Fetch loads a cached value into dest, computing and storing it via loader on
// a miss. The loader is the caller's reach into the source of truth; the cache
// itself never is. With the backend down this degrades to calling loader.
func (s *Service) Fetch(ctx context.Context, key string, ttl time.Duration, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if s.GetJSON(ctx, key, dest) {
		return nil
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.Set(ctx, key, json.RawMessage(raw), ttl)
	return json.Unmarshal(raw, dest)
}

func marshalValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Service) warn(op, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(op+" failed", slog.String("key", key), slog.Any("error", err))
}

func (s *Service) hit() {
	if s.stats != nil {
		s.stats.CacheHit()
	}
}

func (s *Service) miss() {
	if s.stats != nil {
		s.stats.CacheMiss()
	}
}

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a single non-clustered Redis
// instance, using a sorted set per key (score = unix-nano timestamp) so
// pruning is a single ZREMRANGEBYSCORE. This is an optional drop-in
// replacement for the default in-memory Store — it does not make the
// gateway itself a multi-node service, it only lets one limiter's
// windows be shared by cooperating processes that front the same
// single-node gateway (e.g. a hot-reloadable sidecar).
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

// NewRedisStore wraps client. ttl bounds how long a key survives with no
// activity (cleanup safety net; the sliding window itself is enforced
// by score-based pruning, not TTL).
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ctx: context.Background(), ttl: ttl}
}

func (s *RedisStore) Prune(key string, cutoff time.Time) int {
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(s.ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	countCmd := pipe.ZCard(s.ctx, key)
	_, _ = pipe.Exec(s.ctx)
	return int(countCmd.Val())
}

func (s *RedisStore) Append(key string, now time.Time) {
	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(s.ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	if s.ttl > 0 {
		pipe.Expire(s.ctx, key, s.ttl)
	}
	_, _ = pipe.Exec(s.ctx)
}

func (s *RedisStore) OldestSince(key string, cutoff time.Time) (time.Time, bool) {
	vals, err := s.client.ZRangeByScore(s.ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff.UnixNano(), 10), Max: "+inf", Count: 1,
	}).Result()
	if err != nil || len(vals) == 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// Snapshot is not efficiently supportable over arbitrary key patterns
// with a single ZCARD family of calls without a known key set; callers
// that need an operator-facing snapshot should track keys separately.
// Returns an empty map — matches the documented limitation rather than
// performing an unbounded KEYS scan in production.
func (s *RedisStore) Snapshot(cutoff time.Time) map[string]int {
	return map[string]int{}
}

func (s *RedisStore) Reset(key string) {
	s.client.Del(s.ctx, key)
}

package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Count     int64
	Limit     int64
	Remaining int64
	ResetIn   time.Duration
}

// Store holds fixed-window counters. Counters reset implicitly once their
// window expires.
type Store interface {
	// CheckAndIncrement admits and counts the call while the counter is below
	// maxAttempts. A denied call does not move the counter.
	CheckAndIncrement(ctx context.Context, key string, maxAttempts int64, window time.Duration) (Result, error)
	// Hit increments unconditionally and returns the new count.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// checkScript implements check-and-increment atomically.
// KEYS[1] = counter key
// ARGV[1] = max attempts
// ARGV[2] = window in milliseconds
// Returns: [allowed (1/0), count, pttl]
var checkScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if current == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// hitScript increments and sets the expiry on the first hit of a window.
var hitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "rl:"}
}

func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, maxAttempts int64, window time.Duration) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	res, err := checkScript.Run(ctx, s.client, []string{s.prefix + key}, maxAttempts, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply %T", ErrStoreUnavailable, res)
	}

	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	ttlMs, _ := vals[2].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}

	return newResult(allowed == 1, count, maxAttempts, time.Duration(ttlMs)*time.Millisecond), nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	n, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func newResult(allowed bool, count, limit int64, resetIn time.Duration) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

var _ Store = (*RedisStore)(nil)

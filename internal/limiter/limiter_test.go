package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestMemoryStore_CheckAndIncrement(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.CheckAndIncrement(ctx, "ip:1", 3, time.Minute)
		if err != nil || !res.Allowed || res.Count != int64(i) {
			t.Fatalf("call %d: unexpected result %+v err=%v", i, res, err)
		}
	}
	res, _ := s.CheckAndIncrement(ctx, "ip:1", 3, time.Minute)
	if res.Allowed || res.Count != 3 || res.Remaining != 0 {
		t.Fatalf("4th call should be denied without counting, got %+v", res)
	}

	now = now.Add(time.Minute)
	res, _ = s.CheckAndIncrement(ctx, "ip:1", 3, time.Minute)
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected counter reset after window, got %+v", res)
	}
}

func TestMemoryStore_LimitFloor(t *testing.T) {
	s := NewMemoryStore()
	res, _ := s.CheckAndIncrement(context.Background(), "k", 0, 0)
	if !res.Allowed || res.Limit != 1 {
		t.Fatalf("expected floor limit of 1, got %+v", res)
	}
}

func TestMemoryStore_HitCountReset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Hit(ctx, "k", time.Minute)
	n, _ := s.Hit(ctx, "k", time.Minute)
	if n != 2 {
		t.Fatalf("expected 2 hits, got %d", n)
	}
	if c, _ := s.Count(ctx, "k"); c != 2 {
		t.Fatalf("expected count 2, got %d", c)
	}
	s.Reset(ctx, "k")
	if c, _ := s.Count(ctx, "k"); c != 0 {
		t.Fatalf("expected count 0 after reset, got %d", c)
	}
}

func TestRedisStore_CheckAndIncrement(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := s.CheckAndIncrement(ctx, "ip:203.0.113.5", 2, time.Minute)
		if err != nil {
			t.Fatalf("CheckAndIncrement: %v", err)
		}
		if !res.Allowed || res.Count != int64(i) {
			t.Fatalf("call %d: unexpected %+v", i, res)
		}
	}
	res, err := s.CheckAndIncrement(ctx, "ip:203.0.113.5", 2, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if res.Allowed {
		t.Fatalf("third call must be denied: %+v", res)
	}
	if res.ResetIn <= 0 || res.ResetIn > time.Minute {
		t.Errorf("unexpected reset duration %v", res.ResetIn)
	}

	mr.FastForward(61 * time.Second)
	res, _ = s.CheckAndIncrement(ctx, "ip:203.0.113.5", 2, time.Minute)
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected reset after expiry, got %+v", res)
	}
}

func TestRedisStore_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.CheckAndIncrement(ctx, "shared", 10, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 10 {
		t.Fatalf("expected exactly 10 admitted, got %d", allowed.Load())
	}
}

func TestRedisStore_HitAndCount(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Hit(ctx, "login:fail:ip:1", 30*time.Minute); err != nil {
			t.Fatalf("Hit: %v", err)
		}
	}
	if n, _ := s.Count(ctx, "login:fail:ip:1"); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if n, _ := s.Count(ctx, "missing"); n != 0 {
		t.Fatalf("expected 0 for missing key, got %d", n)
	}
	if ttl := mr.TTL("rl:login:fail:ip:1"); ttl != 30*time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}
}

func TestRedisStore_UnavailableIsWrapped(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.CheckAndIncrement(context.Background(), "k", 5, time.Minute)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store, used when Redis is not configured
// and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

type entry struct {
	count   int64
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// live returns the entry for key, or a zero entry when the window expired.
func (s *MemoryStore) live(key string, now time.Time) (entry, bool) {
	e, ok := s.items[key]
	if !ok || !now.Before(e.resetAt) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

func (s *MemoryStore) CheckAndIncrement(_ context.Context, key string, maxAttempts int64, window time.Duration) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, now)
	if !ok {
		e = entry{resetAt: now.Add(window)}
	}
	if e.count >= maxAttempts {
		return newResult(false, e.count, maxAttempts, e.resetAt.Sub(now)), nil
	}
	e.count++
	s.items[key] = e
	return newResult(true, e.count, maxAttempts, e.resetAt.Sub(now)), nil
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, now)
	if !ok {
		e = entry{resetAt: now.Add(window)}
	}
	e.count++
	s.items[key] = e
	return e.count, nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.live(key, s.now())
	return e.count, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)

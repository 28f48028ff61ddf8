package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/campusguard/internal/limiter"
)

func newBreaker(t *testing.T) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(limiter.NewRedisStore(client), 3, 30*time.Second), mr
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	cb, mr := newBreaker(t)
	ctx := context.Background()
	boom := errors.New("postgres down")

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, "audit", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	calls := 0
	err := cb.Execute(ctx, "audit", func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "open circuit must not run the action")

	mr.FastForward(31 * time.Second)

	require.NoError(t, cb.Execute(ctx, "audit", func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newBreaker(t)
	ctx := context.Background()
	boom := errors.New("timeout")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, "audit", func() error { return boom })
		_ = cb.Execute(ctx, "audit", func() error { return boom })
		require.NoError(t, cb.Execute(ctx, "audit", func() error { return nil }))
	}
	open, err := cb.Open(ctx, "audit")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestCircuitBreaker_ServicesAreIsolated(t *testing.T) {
	cb := New(limiter.NewMemoryStore(), 1, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, "audit", func() error { return errors.New("fail") })
	assert.ErrorIs(t, cb.Execute(ctx, "audit", func() error { return nil }), ErrCircuitOpen)
	assert.NoError(t, cb.Execute(ctx, "consent", func() error { return nil }))
}

func TestCircuitBreaker_StoreDown(t *testing.T) {
	cb, mr := newBreaker(t)
	mr.Close()

	calls := 0
	err := cb.Execute(context.Background(), "audit", func() error { calls++; return nil })
	assert.ErrorIs(t, err, limiter.ErrStoreUnavailable)
	assert.Zero(t, calls)
}

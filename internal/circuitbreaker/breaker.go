package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/campusguard/internal/limiter"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Store keys:
// cb:{service}:failures -> consecutive failures, expires after timeout
// cb:{service}:open     -> present while the circuit is open

// CircuitBreaker trips after failureThreshold consecutive failures and
// rejects calls for timeout. State lives in a limiter.Store, so every
// replica sharing a Redis sees the same circuit.
type CircuitBreaker struct {
	store            limiter.Store
	failureThreshold int64
	timeout          time.Duration
}

func New(store limiter.Store, failureThreshold int64, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		store:            store,
		failureThreshold: failureThreshold,
		timeout:          timeout,
	}
}

func openKey(service string) string    { return "cb:" + service + ":open" }
func failureKey(service string) string { return "cb:" + service + ":failures" }

// Open reports whether calls to service are currently rejected.
func (cb *CircuitBreaker) Open(ctx context.Context, service string) (bool, error) {
	n, err := cb.store.Count(ctx, openKey(service))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Execute runs action unless the circuit for service is open. A store
// error is returned without running action.
func (cb *CircuitBreaker) Execute(ctx context.Context, service string, action func() error) error {
	open, err := cb.Open(ctx, service)
	if err != nil {
		return err
	}
	if open {
		return ErrCircuitOpen
	}

	opErr := action()
	if opErr == nil {
		// Consecutive failures only.
		_ = cb.store.Reset(ctx, failureKey(service))
		return nil
	}

	failures, err := cb.store.Hit(ctx, failureKey(service), cb.timeout)
	if err == nil && failures >= cb.failureThreshold {
		_, _ = cb.store.Hit(ctx, openKey(service), cb.timeout)
		_ = cb.store.Reset(ctx, failureKey(service))
	}
	return opErr
}

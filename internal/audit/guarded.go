package audit

import (
	"context"

	"go.uber.org/zap"
)

// Breaker runs action unless the named circuit is open.
// *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Execute(ctx context.Context, service string, action func() error) error
}

// GuardedSink writes to primary through a circuit breaker. While the
// circuit is open, or when primary fails, entries go to fallback so the
// audit trail survives a database outage.
type GuardedSink struct {
	primary  Sink
	fallback Sink
	breaker  Breaker
	service  string
	log      *zap.Logger
}

func NewGuardedSink(primary, fallback Sink, b Breaker, log *zap.Logger) *GuardedSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &GuardedSink{primary: primary, fallback: fallback, breaker: b, service: "audit_sink", log: log}
}

func (g *GuardedSink) guard(ctx context.Context, stream string, write func(Sink) error) error {
	err := g.breaker.Execute(ctx, g.service, func() error { return write(g.primary) })
	if err == nil {
		return nil
	}
	g.log.Warn("primary audit sink unavailable, using fallback",
		zap.String("stream", stream),
		zap.Error(err))
	return write(g.fallback)
}

func (g *GuardedSink) WriteActivity(ctx context.Context, e Entry) error {
	return g.guard(ctx, "activity", func(s Sink) error { return s.WriteActivity(ctx, e) })
}

func (g *GuardedSink) WriteFirewall(ctx context.Context, e FirewallEntry) error {
	return g.guard(ctx, "firewall", func(s Sink) error { return s.WriteFirewall(ctx, e) })
}

func (g *GuardedSink) WriteSecurity(ctx context.Context, e SecurityEntry) error {
	return g.guard(ctx, "security", func(s Sink) error { return s.WriteSecurity(ctx, e) })
}

var _ Sink = (*GuardedSink)(nil)

package firewall

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/reliability"
)

// Observer receives decision and fault counts. *metrics.MetricsCollector
// satisfies it.
type Observer interface {
	RecordDecision(allowed bool, layer string)
	RecordFault(layer string)
}

type step struct {
	LayerState
	layer Layer
}

// plan is the compiled form of one configuration snapshot. It is never
// mutated after it is published.
type plan struct {
	version uint64
	steps   []step
	trusted []netip.Prefix
}

// Pipeline runs the enabled layers in order and stops at the first deny.
type Pipeline struct {
	registry *Registry
	recorder audit.FirewallRecorder
	observer Observer
	log      *zap.Logger
	plan     atomic.Pointer[plan]
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline compiles the manager's current snapshot and recompiles on
// every later publish.
func NewPipeline(mgr *config.Manager, reg *Registry, rec audit.FirewallRecorder, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{registry: reg, recorder: rec, log: log}
	for _, o := range opts {
		o(p)
	}
	mgr.Subscribe(p.compile)
	return p
}

func (p *Pipeline) compile(s *config.Snapshot) {
	states := ResolveOrder(s.Firewall)
	next := &plan{version: s.Version, steps: make([]step, 0, len(states))}
	trusted, err := parsePrefixes(s.Firewall.TrustedProxies)
	if err != nil {
		// no proxy is trusted until the list parses
		p.log.Error("invalid trusted_proxies", zap.Uint64("version", s.Version), zap.Error(err))
		trusted = nil
	}
	next.trusted = trusted
	enabled := 0
	for _, st := range states {
		var l Layer
		if st.Enabled {
			l = p.registry.Build(st.Kind, s.Firewall)
			enabled++
		}
		next.steps = append(next.steps, step{LayerState: st, layer: l})
	}
	p.plan.Store(next)
	p.log.Info("firewall pipeline compiled",
		zap.Uint64("version", s.Version),
		zap.Int("layers", len(next.steps)),
		zap.Int("enabled", enabled))
}

// Version is the snapshot version the current plan was built from.
func (p *Pipeline) Version() uint64 {
	return p.plan.Load().version
}

// ClientIP resolves the client address against the current trusted proxy
// list.
func (p *Pipeline) ClientIP(r *http.Request) string {
	return ResolveClientIP(r, p.plan.Load().trusted)
}

// Layers reports the resolved order and flags of the current plan.
func (p *Pipeline) Layers() []LayerState {
	pl := p.plan.Load()
	out := make([]LayerState, len(pl.steps))
	for i, s := range pl.steps {
		out[i] = s.LayerState
	}
	return out
}

// Evaluate runs req through the current plan. On allow it also returns the
// response decorators of the layers that ran. Exactly one firewall audit
// entry is written either way.
func (p *Pipeline) Evaluate(ctx context.Context, req *Request) (Decision, []ResponseDecorator) {
	pl := p.plan.Load()
	var decorators []ResponseDecorator

	for _, s := range pl.steps {
		if !s.Enabled {
			continue
		}
		v := p.run(ctx, s, req)
		if !v.Allowed {
			d := Decision{Layer: s.Kind, Reason: v.Message, StatusCode: v.Status}
			if d.StatusCode == 0 {
				d.StatusCode = DefaultStatus
			}
			if d.Reason == "" {
				d.Reason = DefaultMessage
			}
			p.finish(ctx, req, d)
			return d, nil
		}
		if dec, ok := s.layer.(ResponseDecorator); ok {
			decorators = append(decorators, dec)
		}
	}

	d := Decision{Allowed: true, StatusCode: 200}
	p.finish(ctx, req, d)
	return d, decorators
}

// run invokes one layer and applies its failure strategy to faults.
func (p *Pipeline) run(ctx context.Context, s step, req *Request) Verdict {
	var v Verdict
	err := reliability.Guard(func() error {
		var err error
		v, err = s.layer.Check(ctx, req)
		return err
	})
	if err == nil {
		return v
	}

	strategy := s.Kind.Strategy()
	allowed := reliability.ShouldAllow(strategy, err)
	fields := []zap.Field{
		zap.String("layer", string(s.Kind)),
		zap.String("strategy", string(strategy)),
		zap.Bool("allowed", allowed),
		zap.String("ip", req.IP),
		zap.String("path", req.Path),
		zap.Error(err),
	}
	if errors.Is(err, reliability.ErrPanic) {
		fields = append(fields, zap.Stack("stack"))
	}
	p.log.Error("firewall layer fault", fields...)
	if p.observer != nil {
		p.observer.RecordFault(string(s.Kind))
	}

	if allowed {
		return Allow()
	}
	return Deny(DefaultStatus, DefaultMessage)
}

func (p *Pipeline) finish(ctx context.Context, req *Request, d Decision) {
	if p.observer != nil {
		p.observer.RecordDecision(d.Allowed, string(d.Layer))
	}
	if !d.Allowed {
		p.log.Info("request blocked",
			zap.String("layer", string(d.Layer)),
			zap.String("reason", d.Reason),
			zap.String("ip", req.IP),
			zap.String("method", req.Method),
			zap.String("path", req.Path))
	}
	if p.recorder == nil {
		return
	}

	e := audit.FirewallEntry{
		IP:         req.IP,
		Method:     req.Method,
		Path:       req.Path,
		UserAgent:  req.Header.Get("User-Agent"),
		Outcome:    audit.OutcomeAllowed,
		StatusCode: d.StatusCode,
		Timestamp:  time.Now().UTC(),
	}
	if req.Identity != nil {
		e.UserID = req.Identity.UserID
	}
	if !d.Allowed {
		e.Outcome = audit.OutcomeBlocked
		e.Layer = string(d.Layer)
		e.Reason = d.Reason
	}
	p.recorder.Firewall(ctx, e)
}

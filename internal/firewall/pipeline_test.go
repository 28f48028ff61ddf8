package firewall

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/device"
	"github.com/raakeshmj/campusguard/internal/limiter"
	"github.com/raakeshmj/campusguard/internal/metrics"
)

type stubLayer struct {
	kind    Kind
	verdict Verdict
	err     error
	panics  bool
	calls   atomic.Int32
}

func (l *stubLayer) Kind() Kind { return l.kind }

func (l *stubLayer) Check(context.Context, *Request) (Verdict, error) {
	l.calls.Add(1)
	if l.panics {
		var m map[string]int
		m["boom"]++
	}
	return l.verdict, l.err
}

func allowing(k Kind) *stubLayer { return &stubLayer{kind: k, verdict: Allow()} }

func boolPtr(b bool) *bool { return &b }

// onlyLayers enables exactly the given kinds, in canonical order.
func onlyLayers(kinds ...Kind) []config.LayerSetting {
	on := make(map[Kind]bool)
	for _, k := range kinds {
		on[k] = true
	}
	out := make([]config.LayerSetting, 0, len(Canonical))
	for _, k := range Canonical {
		out = append(out, config.LayerSetting{Name: string(k), Enabled: boolPtr(on[k])})
	}
	return out
}

func stubPipeline(t *testing.T, layers ...*stubLayer) (*Pipeline, *config.Manager, *audit.MemorySink) {
	t.Helper()
	reg := NewRegistry(Deps{}, nil)
	kinds := make([]Kind, 0, len(layers))
	for _, l := range layers {
		l := l
		reg.Register(l.kind, func(config.FirewallConfig, Deps) (Layer, error) { return l, nil })
		kinds = append(kinds, l.kind)
	}
	cfg := config.DefaultFirewallConfig()
	cfg.Layers = onlyLayers(kinds...)
	mgr := config.NewManager(cfg, nil)
	sink := audit.NewMemorySink()
	p := NewPipeline(mgr, reg, audit.NewRecorder(sink, nil), nil)
	return p, mgr, sink
}

func testRequest() *Request {
	r := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	return NewRequest(r, nil)
}

func TestPipeline_ShortCircuitsOnFirstDeny(t *testing.T) {
	ip := allowing(KindIPFilter)
	sql := &stubLayer{kind: KindSQLInjection, verdict: Verdict{}}
	xss := allowing(KindXSSFilter)
	csrf := allowing(KindCSRF)
	p, _, sink := stubPipeline(t, ip, sql, xss, csrf)

	d, decorators := p.Evaluate(context.Background(), testRequest())

	if d.Allowed || d.Layer != KindSQLInjection {
		t.Fatalf("expected deny by sql_injection, got %+v", d)
	}
	if d.StatusCode != http.StatusForbidden || d.Reason != DefaultMessage {
		t.Errorf("expected default status and message, got %d %q", d.StatusCode, d.Reason)
	}
	if decorators != nil {
		t.Error("denied requests carry no decorators")
	}
	if ip.calls.Load() != 1 || sql.calls.Load() != 1 {
		t.Errorf("earlier layers should run once: ip=%d sql=%d", ip.calls.Load(), sql.calls.Load())
	}
	if xss.calls.Load() != 0 || csrf.calls.Load() != 0 {
		t.Errorf("layers after the deny must not run: xss=%d csrf=%d", xss.calls.Load(), csrf.calls.Load())
	}

	entries := sink.Firewall()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one firewall entry, got %d", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeBlocked || entries[0].Layer != string(KindSQLInjection) {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestPipeline_AllowWritesOneEntry(t *testing.T) {
	p, _, sink := stubPipeline(t, allowing(KindIPFilter), allowing(KindCSRF))

	d, _ := p.Evaluate(context.Background(), testRequest())
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	entries := sink.Firewall()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeAllowed {
		t.Fatalf("expected one allowed entry, got %+v", entries)
	}
	if entries[0].Layer != "" {
		t.Errorf("allowed entries name no layer, got %q", entries[0].Layer)
	}
}

func TestPipeline_LayerStatusAndMessage(t *testing.T) {
	p, _, _ := stubPipeline(t, &stubLayer{kind: KindRateLimiter, verdict: Deny(http.StatusTooManyRequests, "slow down")})

	d, _ := p.Evaluate(context.Background(), testRequest())
	if d.StatusCode != http.StatusTooManyRequests || d.Reason != "slow down" {
		t.Fatalf("layer status and message must be kept, got %+v", d)
	}
}

func TestPipeline_FaultStrategies(t *testing.T) {
	boom := errors.New("store down")
	tests := []struct {
		name    string
		layer   *stubLayer
		allowed bool
	}{
		{"non-critical error fails open", &stubLayer{kind: KindRateLimiter, err: boom}, true},
		{"non-critical panic fails open", &stubLayer{kind: KindGeoBlock, panics: true}, true},
		{"sql injection error fails closed", &stubLayer{kind: KindSQLInjection, err: boom}, false},
		{"xss panic fails closed", &stubLayer{kind: KindXSSFilter, panics: true}, false},
		{"csrf error fails closed", &stubLayer{kind: KindCSRF, err: boom}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := allowing(KindDBInjection)
			p, _, sink := stubPipeline(t, tt.layer, after)

			d, _ := p.Evaluate(context.Background(), testRequest())
			if d.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if tt.allowed && after.calls.Load() != 1 {
				t.Error("evaluation should continue past a fail-open fault")
			}
			if !tt.allowed && d.Layer != tt.layer.kind {
				t.Errorf("deny should name the faulting layer, got %q", d.Layer)
			}
			if len(sink.Firewall()) != 1 {
				t.Errorf("expected one entry, got %d", len(sink.Firewall()))
			}
		})
	}
}

func TestPipeline_HotReload(t *testing.T) {
	sql := &stubLayer{kind: KindSQLInjection}
	p, mgr, _ := stubPipeline(t, sql)
	before := p.Version()

	if d, _ := p.Evaluate(context.Background(), testRequest()); d.Allowed {
		t.Fatal("expected deny before reload")
	}

	mgr.UpdateLayers(onlyLayers())
	if p.Version() == before {
		t.Fatal("pipeline should pick up the new snapshot")
	}
	if d, _ := p.Evaluate(context.Background(), testRequest()); !d.Allowed {
		t.Fatalf("expected allow with every layer disabled, got %+v", d)
	}
	if sql.calls.Load() != 1 {
		t.Errorf("disabled layer ran after reload: %d calls", sql.calls.Load())
	}
	if got := len(p.Layers()); got != len(Canonical) {
		t.Errorf("disabled layers stay in the plan, got %d", got)
	}
}

func TestPipeline_UnknownLayerFallsBackToAllow(t *testing.T) {
	reg := NewRegistry(Deps{}, nil)
	cfg := config.DefaultFirewallConfig()
	cfg.Layers = append([]config.LayerSetting{{Name: "honeypot", Enabled: boolPtr(true)}}, onlyLayers()...)
	p := NewPipeline(config.NewManager(cfg, nil), reg, audit.NewRecorder(audit.NewMemorySink(), nil), nil)

	d, _ := p.Evaluate(context.Background(), testRequest())
	if !d.Allowed {
		t.Fatalf("expected fallback allow, got %+v", d)
	}
	layers := p.Layers()
	if layers[0].Kind != "honeypot" || !layers[0].Enabled {
		t.Errorf("configured order should come first, got %+v", layers[0])
	}
}

func TestPipeline_ObserverCounts(t *testing.T) {
	reg := NewRegistry(Deps{}, nil)
	bad := &stubLayer{kind: KindGeoBlock, err: errors.New("lookup failed")}
	deny := &stubLayer{kind: KindBotDetection}
	reg.Register(KindGeoBlock, func(config.FirewallConfig, Deps) (Layer, error) { return bad, nil })
	reg.Register(KindBotDetection, func(config.FirewallConfig, Deps) (Layer, error) { return deny, nil })
	cfg := config.DefaultFirewallConfig()
	cfg.Layers = onlyLayers(KindGeoBlock, KindBotDetection)
	m := metrics.NewCollector(10)
	p := NewPipeline(config.NewManager(cfg, nil), reg, audit.NewRecorder(audit.NewMemorySink(), nil), nil, WithObserver(m))

	p.Evaluate(context.Background(), testRequest())

	s := m.GetStats()
	if s.FaultsByLayer["geo_block"] != 1 || s.BlockedByLayer["bot_detection"] != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
}

func browserRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Accept-Language", "id-ID,id;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip")
	r.RemoteAddr = ip + ":4000"
	return r
}

func TestPipeline_RateLimitScenario(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	mgr := config.NewManager(cfg, nil)
	store := limiter.NewMemoryStore()
	reg := NewRegistry(Deps{
		Store:         store,
		Throttle:      limiter.NewLoginThrottle(store, mgr),
		Geo:           NewHeaderGeoResolver(0),
		Fingerprinter: device.NewFingerprinter(nil),
	}, nil)
	sink := audit.NewMemorySink()
	p := NewPipeline(mgr, reg, audit.NewRecorder(sink, nil), nil)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		d, _ := p.Evaluate(ctx, NewRequest(browserRequest("203.0.113.5"), nil))
		if !d.Allowed {
			t.Fatalf("request %d should pass, got %+v", i, d)
		}
	}

	d, _ := p.Evaluate(ctx, NewRequest(browserRequest("203.0.113.5"), nil))
	if d.Allowed || d.Layer != KindRateLimiter || d.StatusCode != http.StatusForbidden {
		t.Fatalf("request 61 should be denied by the rate limiter with 403, got %+v", d)
	}

	entries := sink.Firewall()
	if len(entries) != 61 {
		t.Fatalf("expected 61 firewall entries, got %d", len(entries))
	}
	last := entries[60]
	if last.Outcome != audit.OutcomeBlocked || last.Layer != "rate_limiter" || last.IP != "203.0.113.5" {
		t.Errorf("unexpected final entry %+v", last)
	}

	// another client is unaffected
	if d, _ := p.Evaluate(ctx, NewRequest(browserRequest("198.51.100.20"), nil)); !d.Allowed {
		t.Errorf("other IPs keep their own window, got %+v", d)
	}
}

func TestPipeline_RateLimitDecorators(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	mgr := config.NewManager(cfg, nil)
	reg := NewRegistry(Deps{Store: limiter.NewMemoryStore()}, nil)
	p := NewPipeline(mgr, reg, audit.NewRecorder(audit.NewMemorySink(), nil), nil)

	req := NewRequest(browserRequest("203.0.113.9"), nil)
	d, decorators := p.Evaluate(context.Background(), req)
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	h := http.Header{}
	for _, dec := range decorators {
		dec.Decorate(req, h)
	}
	if h.Get("X-RateLimit-Limit") != "60" || h.Get("X-RateLimit-Remaining") != "59" || h.Get("X-RateLimit-Burst") != "20" {
		t.Errorf("unexpected rate limit headers %v", h)
	}
	if h.Get("X-Frame-Options") != "DENY" || h.Get("Content-Security-Policy") == "" {
		t.Errorf("security headers missing: %v", h)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS only applies to secure requests")
	}
}

func TestPipeline_ClientIPFollowsTrustedProxies(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	mgr := config.NewManager(cfg, nil)
	p := NewPipeline(mgr, NewRegistry(Deps{}, nil), audit.NewRecorder(audit.NewMemorySink(), nil), nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := p.ClientIP(r); got != "198.51.100.7" {
		t.Fatalf("trusted proxy: got %q", got)
	}

	next := cfg.Clone()
	next.TrustedProxies = []string{"not-a-cidr/99"}
	mgr.Update(next)
	if got := p.ClientIP(r); got != "10.0.0.5" {
		t.Fatalf("an unparsable list must trust no proxy, got %q", got)
	}
}

package firewall

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/device"
	"github.com/raakeshmj/campusguard/internal/limiter"
)

// Deps are the shared collaborators layers may need. Nil members disable
// the checks that depend on them.
type Deps struct {
	Store         limiter.Store
	Throttle      *limiter.LoginThrottle
	Geo           GeoResolver
	Fingerprinter *device.Fingerprinter
}

// Factory builds a layer from one configuration snapshot.
type Factory func(cfg config.FirewallConfig, deps Deps) (Layer, error)

// Registry maps layer kinds to their constructors.
type Registry struct {
	factories map[Kind]Factory
	deps      Deps
	log       *zap.Logger
}

// NewRegistry returns a registry holding every built-in layer.
func NewRegistry(deps Deps, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{factories: make(map[Kind]Factory), deps: deps, log: log}
	r.Register(KindIPFilter, newIPFilter)
	r.Register(KindRateLimiter, newRateLimiter)
	r.Register(KindUserAgent, newUserAgentFilter)
	r.Register(KindGeoBlock, newGeoBlock)
	r.Register(KindBotDetection, newBotDetector)
	r.Register(KindSQLInjection, newSQLInjectionFilter)
	r.Register(KindXSSFilter, newXSSFilter)
	r.Register(KindCSRF, newCSRFProtection)
	r.Register(KindSessionSecurity, newSessionSecurity)
	r.Register(KindTwoFactor, newTwoFactorGate)
	r.Register(KindRequestValidation, newRequestValidator)
	r.Register(KindFileUpload, newFileUploadGuard)
	r.Register(KindInputSanitization, newInputSanitizer)
	r.Register(KindOutputEncoding, newOutputEncoding)
	r.Register(KindCORS, newCORSPolicy)
	r.Register(KindHTTPSEnforcement, newHTTPSEnforcement)
	r.Register(KindCSP, newCSPHeader)
	r.Register(KindHeaderSecurity, newHeaderSecurity)
	r.Register(KindCookieSecurity, newCookieSecurity)
	r.Register(KindDBInjection, newDBInjectionFilter)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// Build constructs the layer for kind. An unregistered kind resolves to a
// logged always-allow layer. A factory that rejects cfg is retried with
// the default settings; if that also fails every Check reports the error.
func (r *Registry) Build(kind Kind, cfg config.FirewallConfig) Layer {
	f, ok := r.factories[kind]
	if !ok {
		r.log.Warn("unknown firewall layer, allowing by default", zap.String("layer", string(kind)))
		return &fallbackLayer{kind: kind, log: r.log}
	}

	l, err := f(cfg, r.deps)
	if err == nil {
		return l
	}
	r.log.Error("firewall layer config rejected, using defaults",
		zap.String("layer", string(kind)), zap.Error(err))

	def := config.DefaultFirewallConfig()
	def.Environment = cfg.Environment
	l, derr := f(def, r.deps)
	if derr == nil {
		return l
	}
	return &brokenLayer{kind: kind, err: fmt.Errorf("build %s: %w", kind, errors.Join(err, derr))}
}

type fallbackLayer struct {
	kind Kind
	log  *zap.Logger
}

func (l *fallbackLayer) Kind() Kind { return l.kind }

func (l *fallbackLayer) Check(_ context.Context, req *Request) (Verdict, error) {
	l.log.Debug("fallback layer allowed request", zap.String("layer", string(l.kind)), zap.String("path", req.Path))
	return Allow(), nil
}

type brokenLayer struct {
	kind Kind
	err  error
}

func (l *brokenLayer) Kind() Kind { return l.kind }

func (l *brokenLayer) Check(context.Context, *Request) (Verdict, error) {
	return Verdict{}, l.err
}

package firewall

import (
	"context"
	"net/http"

	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/reliability"
)

// Kind names a layer in configuration and audit entries.
type Kind string

const (
	KindIPFilter          Kind = "ip_filter"
	KindRateLimiter       Kind = "rate_limiter"
	KindUserAgent         Kind = "user_agent"
	KindGeoBlock          Kind = "geo_block"
	KindBotDetection      Kind = "bot_detection"
	KindSQLInjection      Kind = "sql_injection"
	KindXSSFilter         Kind = "xss_filter"
	KindCSRF              Kind = "csrf"
	KindSessionSecurity   Kind = "session_security"
	KindTwoFactor         Kind = "two_factor"
	KindRequestValidation Kind = "request_validation"
	KindFileUpload        Kind = "file_upload"
	KindInputSanitization Kind = "input_sanitization"
	KindOutputEncoding    Kind = "output_encoding"
	KindCORS              Kind = "cors"
	KindHTTPSEnforcement  Kind = "https_enforcement"
	KindCSP               Kind = "csp"
	KindHeaderSecurity    Kind = "header_security"
	KindCookieSecurity    Kind = "cookie_security"
	KindDBInjection       Kind = "db_injection"
)

// Canonical is the default evaluation order.
var Canonical = []Kind{
	KindIPFilter,
	KindRateLimiter,
	KindUserAgent,
	KindGeoBlock,
	KindBotDetection,
	KindSQLInjection,
	KindXSSFilter,
	KindCSRF,
	KindSessionSecurity,
	KindTwoFactor,
	KindRequestValidation,
	KindFileUpload,
	KindInputSanitization,
	KindOutputEncoding,
	KindCORS,
	KindHTTPSEnforcement,
	KindCSP,
	KindHeaderSecurity,
	KindCookieSecurity,
	KindDBInjection,
}

// Critical layers deny when they fault.
func (k Kind) Critical() bool {
	switch k {
	case KindSQLInjection, KindXSSFilter, KindCSRF:
		return true
	}
	return false
}

func (k Kind) Strategy() reliability.FailureStrategy {
	return reliability.StrategyFor(k.Critical())
}

// defaultEnabled applies when configuration does not mention a layer.
func (k Kind) defaultEnabled(cfg config.FirewallConfig) bool {
	switch k {
	case KindHTTPSEnforcement:
		return cfg.IsProduction()
	case KindGeoBlock:
		return len(cfg.Geo.AllowedCountries) > 0
	}
	return true
}

const (
	DefaultStatus  = http.StatusForbidden
	DefaultMessage = "Access denied by security policy"
)

// Verdict is a layer's answer for one request. A zero Status or Message
// on a deny is filled with the defaults.
type Verdict struct {
	Allowed bool
	Status  int
	Message string
}

func Allow() Verdict { return Verdict{Allowed: true} }

func Deny(status int, message string) Verdict {
	return Verdict{Status: status, Message: message}
}

// Layer is one independent check. Check returns an error only for faults;
// a deliberate rejection is a Verdict with Allowed false.
type Layer interface {
	Kind() Kind
	Check(ctx context.Context, req *Request) (Verdict, error)
}

// ResponseDecorator is implemented by layers that also set response headers.
type ResponseDecorator interface {
	Decorate(req *Request, h http.Header)
}

// Decision is the pipeline's terminal outcome for a request.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Layer      Kind   `json:"layer,omitempty"`
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"status_code"`
}

// LayerState is one entry of the resolved layer order.
type LayerState struct {
	Kind     Kind `json:"name"`
	Enabled  bool `json:"enabled"`
	Critical bool `json:"critical"`
}

// ResolveOrder returns configured layers in file order followed by every
// remaining canonical layer with its default flag. Duplicates keep the
// first occurrence.
func ResolveOrder(cfg config.FirewallConfig) []LayerState {
	seen := make(map[Kind]bool, len(Canonical))
	out := make([]LayerState, 0, len(Canonical)+len(cfg.Layers))
	for _, s := range cfg.Layers {
		k := Kind(s.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		enabled := k.defaultEnabled(cfg)
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		out = append(out, LayerState{Kind: k, Enabled: enabled, Critical: k.Critical()})
	}
	for _, k := range Canonical {
		if seen[k] {
			continue
		}
		out = append(out, LayerState{Kind: k, Enabled: k.defaultEnabled(cfg), Critical: k.Critical()})
	}
	return out
}
